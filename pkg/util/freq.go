package util

import "fmt"

func HzToString(hz float64) string {
	return fmt.Sprintf("%0.4f MHz", hz/1e6)
}
