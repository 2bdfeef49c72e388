//go:build !libbladerf

package libbladerf

import (
	"fmt"

	"github.com/norasector/bladerf/pkg/bladerf"
)

// Opener fails: this binary was built without libbladeRF support.
func Opener() bladerf.Opener {
	return func(params bladerf.OpenParams) (bladerf.Driver, error) {
		return nil, fmt.Errorf("%w: built without the libbladerf tag", bladerf.ErrUnsupported)
	}
}
