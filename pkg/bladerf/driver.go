package bladerf

import (
	"fmt"
	"time"

	"github.com/norasector/bladerf/pkg/iq"
	"github.com/rs/zerolog"
)

type Direction int

const (
	RX Direction = iota
	TX
)

func (d Direction) String() string {
	switch d {
	case RX:
		return "rx"
	case TX:
		return "tx"
	default:
		return "unknown"
	}
}

// Channel numbers follow the libbladeRF convention: even numbers are RX,
// odd numbers are TX.
type Channel int

func ChannelRX(idx int) Channel { return Channel(idx << 1) }
func ChannelTX(idx int) Channel { return Channel(idx<<1 | 0x1) }

func channelFor(dir Direction, idx int) Channel {
	if dir == TX {
		return ChannelTX(idx)
	}
	return ChannelRX(idx)
}

func (c Channel) Direction() Direction {
	if c&0x1 == 1 {
		return TX
	}
	return RX
}

func (c Channel) Index() int { return int(c) >> 1 }

func (c Channel) String() string {
	if c.Direction() == TX {
		return fmt.Sprintf("TX%d", c.Index()+1)
	}
	return fmt.Sprintf("RX%d", c.Index()+1)
}

// Layout selects the stream channel layout for the sync interface.
type Layout int

const (
	LayoutRX1 Layout = 0
	LayoutTX1 Layout = 1
	LayoutRX2 Layout = 2
	LayoutTX2 Layout = 3
)

func layoutFor(dir Direction, channels int) Layout {
	switch {
	case dir == RX && channels == 1:
		return LayoutRX1
	case dir == RX:
		return LayoutRX2
	case channels == 1:
		return LayoutTX1
	default:
		return LayoutTX2
	}
}

// Channels returns the number of channels carried by the layout.
func (l Layout) Channels() int {
	if l >= LayoutRX2 {
		return 2
	}
	return 1
}

func (l Layout) Direction() Direction {
	if l&0x1 == 1 {
		return TX
	}
	return RX
}

// MetaFlag values match the libbladeRF metadata flags.
type MetaFlag uint32

const (
	FlagTxBurstStart      MetaFlag = 1 << 0
	FlagTxBurstEnd        MetaFlag = 1 << 1
	FlagTxNow             MetaFlag = 1 << 2
	FlagTxUpdateTimestamp MetaFlag = 1 << 3
	FlagRxNow             MetaFlag = 1 << 31
)

type MetaStatus uint32

const (
	StatusOverrun  MetaStatus = 1 << 0
	StatusUnderrun MetaStatus = 1 << 1
)

// Metadata accompanies a single sync transfer. Flags are set by the caller;
// Timestamp is set by the caller for scheduled TX and by the driver for RX;
// Status and ActualCount are set by the driver.
type Metadata struct {
	Timestamp   uint64
	Flags       MetaFlag
	Status      MetaStatus
	ActualCount int
}

// SyncConfig configures the synchronous transfer interface for one direction.
type SyncConfig struct {
	Layout       Layout
	Format       iq.Format
	NumBuffers   int
	BufferSize   int
	NumTransfers int
	Timeout      time.Duration
}

type GainMode int

const (
	GainModeDefault GainMode = iota
	GainModeManual
)

type TuningMode int

const (
	TuningModeHost TuningMode = iota
	TuningModeFPGA
)

func (m TuningMode) String() string {
	if m == TuningModeFPGA {
		return "fpga"
	}
	return "host"
}

type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Driver is the transport underneath a Session. SyncRX and SyncTX block until
// n samples (summed over all channels of the configured layout) have been
// transferred or the timeout expires. buf holds interleaved wire samples in the
// format passed to SyncConfig.
//
// Drivers return ErrTimePast when a scheduled transmission is late, ErrTimeout
// when a transfer does not complete in time, ErrUnsupported for operations the
// hardware lacks, and a *StatusError for any other driver failure.
type Driver interface {
	SyncConfig(cfg SyncConfig) error
	EnableModule(ch Channel, enable bool) error
	SyncRX(buf []byte, n int, md *Metadata, timeout time.Duration) error
	SyncTX(buf []byte, n int, md *Metadata, timeout time.Duration) error

	SetSampleRate(ch Channel, rate uint32) (uint32, error)
	SetBandwidth(ch Channel, bw uint32) (uint32, error)
	SetGain(ch Channel, gain int) error
	Gain(ch Channel) (int, error)
	GainRange(ch Channel) (Range, error)
	SetGainMode(ch Channel, mode GainMode) error
	SetFrequency(ch Channel, freq uint64) error
	Frequency(ch Channel) (uint64, error)
	Timestamp(dir Direction) (uint64, error)
	SetTuningMode(mode TuningMode) error

	Close() error
}

// OpenParams carries the device arguments a driver needs at open time.
type OpenParams struct {
	DeviceID  string
	Verbosity zerolog.Level
}

// Opener opens a driver for the device named in params.
type Opener func(params OpenParams) (Driver, error)
