//go:build libbladerf

// Package libbladerf binds a bladerf.Driver to libbladeRF. Build with the
// libbladerf tag and libbladeRF 2.x headers installed.
package libbladerf

/*
#cgo LDFLAGS: -lbladeRF
#include <stdlib.h>
#include <libbladeRF.h>
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/norasector/bladerf/pkg/bladerf"
	"github.com/rs/zerolog"
)

var verbosity = map[zerolog.Level]C.bladerf_log_level{
	zerolog.TraceLevel: C.BLADERF_LOG_LEVEL_VERBOSE,
	zerolog.DebugLevel: C.BLADERF_LOG_LEVEL_DEBUG,
	zerolog.InfoLevel:  C.BLADERF_LOG_LEVEL_INFO,
	zerolog.WarnLevel:  C.BLADERF_LOG_LEVEL_WARNING,
	zerolog.ErrorLevel: C.BLADERF_LOG_LEVEL_ERROR,
	zerolog.FatalLevel: C.BLADERF_LOG_LEVEL_CRITICAL,
	zerolog.Disabled:   C.BLADERF_LOG_LEVEL_SILENT,
}

type Driver struct {
	mu  sync.Mutex
	dev *C.struct_bladerf
}

// Opener opens the device matching params.DeviceID, or the first device when
// the identifier is empty.
func Opener() bladerf.Opener {
	return func(params bladerf.OpenParams) (bladerf.Driver, error) {
		return Open(params)
	}
}

func Open(params bladerf.OpenParams) (*Driver, error) {
	if level, ok := verbosity[params.Verbosity]; ok {
		C.bladerf_log_set_verbosity(level)
	}

	var id *C.char
	if params.DeviceID != "" {
		id = C.CString(params.DeviceID)
		defer C.free(unsafe.Pointer(id))
	}

	d := &Driver{}
	if err := check(C.bladerf_open(&d.dev, id)); err != nil {
		return nil, err
	}
	return d, nil
}

func check(status C.int) error {
	switch status {
	case 0:
		return nil
	case C.BLADERF_ERR_TIME_PAST:
		return bladerf.ErrTimePast
	case C.BLADERF_ERR_TIMEOUT:
		return bladerf.ErrTimeout
	case C.BLADERF_ERR_UNSUPPORTED:
		return fmt.Errorf("%w: %s", bladerf.ErrUnsupported, C.GoString(C.bladerf_strerror(status)))
	default:
		return &bladerf.StatusError{Code: int(status), Message: C.GoString(C.bladerf_strerror(status))}
	}
}

func format(f bladerf.SyncConfig) C.bladerf_format {
	if f.Format.Width == 1 {
		if f.Format.Meta {
			return C.BLADERF_FORMAT_SC8_Q7_META
		}
		return C.BLADERF_FORMAT_SC8_Q7
	}
	if f.Format.Meta {
		return C.BLADERF_FORMAT_SC16_Q11_META
	}
	return C.BLADERF_FORMAT_SC16_Q11
}

func millis(d time.Duration) C.uint {
	return C.uint(d / time.Millisecond)
}

func (d *Driver) SyncConfig(cfg bladerf.SyncConfig) error {
	return check(C.bladerf_sync_config(d.dev,
		C.bladerf_channel_layout(cfg.Layout),
		format(cfg),
		C.uint(cfg.NumBuffers),
		C.uint(cfg.BufferSize),
		C.uint(cfg.NumTransfers),
		millis(cfg.Timeout)))
}

func (d *Driver) EnableModule(ch bladerf.Channel, enable bool) error {
	return check(C.bladerf_enable_module(d.dev, C.bladerf_channel(ch), C.bool(enable)))
}

func toC(md *bladerf.Metadata) C.struct_bladerf_metadata {
	var cmd C.struct_bladerf_metadata
	cmd.timestamp = C.bladerf_timestamp(md.Timestamp)
	cmd.flags = C.uint32_t(md.Flags)
	return cmd
}

func fromC(md *bladerf.Metadata, cmd *C.struct_bladerf_metadata) {
	md.Timestamp = uint64(cmd.timestamp)
	md.Status = bladerf.MetaStatus(cmd.status)
	md.ActualCount = int(cmd.actual_count)
}

func (d *Driver) SyncRX(buf []byte, n int, md *bladerf.Metadata, timeout time.Duration) error {
	if n == 0 {
		return nil
	}
	cmd := toC(md)
	err := check(C.bladerf_sync_rx(d.dev, unsafe.Pointer(&buf[0]), C.uint(n), &cmd, millis(timeout)))
	fromC(md, &cmd)
	return err
}

func (d *Driver) SyncTX(buf []byte, n int, md *bladerf.Metadata, timeout time.Duration) error {
	if n == 0 {
		return nil
	}
	cmd := toC(md)
	err := check(C.bladerf_sync_tx(d.dev, unsafe.Pointer(&buf[0]), C.uint(n), &cmd, millis(timeout)))
	fromC(md, &cmd)
	return err
}

func (d *Driver) SetSampleRate(ch bladerf.Channel, rate uint32) (uint32, error) {
	var actual C.bladerf_sample_rate
	if err := check(C.bladerf_set_sample_rate(d.dev, C.bladerf_channel(ch), C.bladerf_sample_rate(rate), &actual)); err != nil {
		return 0, err
	}
	return uint32(actual), nil
}

func (d *Driver) SetBandwidth(ch bladerf.Channel, bw uint32) (uint32, error) {
	var actual C.bladerf_bandwidth
	if err := check(C.bladerf_set_bandwidth(d.dev, C.bladerf_channel(ch), C.bladerf_bandwidth(bw), &actual)); err != nil {
		return 0, err
	}
	return uint32(actual), nil
}

func (d *Driver) SetGain(ch bladerf.Channel, gain int) error {
	return check(C.bladerf_set_gain(d.dev, C.bladerf_channel(ch), C.bladerf_gain(gain)))
}

func (d *Driver) Gain(ch bladerf.Channel) (int, error) {
	var gain C.bladerf_gain
	if err := check(C.bladerf_get_gain(d.dev, C.bladerf_channel(ch), &gain)); err != nil {
		return 0, err
	}
	return int(gain), nil
}

func (d *Driver) GainRange(ch bladerf.Channel) (bladerf.Range, error) {
	var r *C.struct_bladerf_range
	if err := check(C.bladerf_get_gain_range(d.dev, C.bladerf_channel(ch), &r)); err != nil {
		return bladerf.Range{}, err
	}
	scale := float64(r.scale)
	return bladerf.Range{
		Min:  float64(r.min) * scale,
		Max:  float64(r.max) * scale,
		Step: float64(r.step) * scale,
	}, nil
}

func (d *Driver) SetGainMode(ch bladerf.Channel, mode bladerf.GainMode) error {
	m := C.bladerf_gain_mode(C.BLADERF_GAIN_DEFAULT)
	if mode == bladerf.GainModeManual {
		m = C.BLADERF_GAIN_MGC
	}
	return check(C.bladerf_set_gain_mode(d.dev, C.bladerf_channel(ch), m))
}

func (d *Driver) SetFrequency(ch bladerf.Channel, freq uint64) error {
	return check(C.bladerf_set_frequency(d.dev, C.bladerf_channel(ch), C.bladerf_frequency(freq)))
}

func (d *Driver) Frequency(ch bladerf.Channel) (uint64, error) {
	var freq C.bladerf_frequency
	if err := check(C.bladerf_get_frequency(d.dev, C.bladerf_channel(ch), &freq)); err != nil {
		return 0, err
	}
	return uint64(freq), nil
}

func (d *Driver) Timestamp(dir bladerf.Direction) (uint64, error) {
	cdir := C.bladerf_direction(C.BLADERF_RX)
	if dir == bladerf.TX {
		cdir = C.BLADERF_TX
	}
	var ts C.bladerf_timestamp
	if err := check(C.bladerf_get_timestamp(d.dev, cdir, &ts)); err != nil {
		return 0, err
	}
	return uint64(ts), nil
}

func (d *Driver) SetTuningMode(mode bladerf.TuningMode) error {
	m := C.bladerf_tuning_mode(C.BLADERF_TUNING_MODE_HOST)
	if mode == bladerf.TuningModeFPGA {
		m = C.BLADERF_TUNING_MODE_FPGA
	}
	return check(C.bladerf_set_tuning_mode(d.dev, m))
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev != nil {
		C.bladerf_close(d.dev)
		d.dev = nil
	}
	return nil
}
