package bladerf

import (
	"errors"
	"math"
	"testing"

	"github.com/norasector/bladerf/pkg/iq"
	"github.com/rs/zerolog"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     string
		channels int
		want     Args
		wantErr  bool
	}{{
		"defaults",
		"",
		1,
		Args{TxChannels: 1, RxChannels: 1, Format: iq.SC16Q11, LogLevel: zerolog.Disabled, TuningMode: TuningModeHost},
		false,
	}, {
		"mixed channels sc8",
		"nof_tx_channels=2,nof_rx_channels=1,format=sc8",
		2,
		Args{TxChannels: 2, RxChannels: 1, Format: iq.SC8Q7, LogLevel: zerolog.Disabled, TuningMode: TuningModeHost},
		false,
	}, {
		"channel count above limit falls back",
		"nof_rx_channels=2 nof_tx_channels=0",
		1,
		Args{TxChannels: 1, RxChannels: 1, Format: iq.SC16Q11, LogLevel: zerolog.Disabled, TuningMode: TuningModeHost},
		false,
	}, {
		"all options",
		"device_id=*:serial=f12ce1037830a1b27f3ceeba1f521413,log_level=debug,tuning_mode=fpga,format=sc16,rx_gain=30",
		2,
		Args{TxChannels: 2, RxChannels: 2, Format: iq.SC16Q11, LogLevel: zerolog.DebugLevel,
			DeviceID: "*:serial=f12ce1037830a1b27f3ceeba1f521413", TuningMode: TuningModeFPGA},
		false,
	}, {
		"critical maps to fatal",
		"log_level=critical",
		1,
		Args{TxChannels: 1, RxChannels: 1, Format: iq.SC16Q11, LogLevel: zerolog.FatalLevel, TuningMode: TuningModeHost},
		false,
	},
		{"bad format", "format=sc12", 1, Args{}, true},
		{"bad log level", "log_level=loud", 1, Args{}, true},
		{"bad tuning mode", "tuning_mode=auto", 1, Args{}, true},
		{"bad channel count", "nof_rx_channels=two", 1, Args{}, true},
		{"zero channels", "", 0, Args{}, true},
		{"three channels", "", 3, Args{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.args, tt.channels)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrConfiguration) {
					t.Errorf("ParseArgs() error = %v, want configuration error", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseArgs() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBufferSize(t *testing.T) {
	tests := []struct {
		rate uint32
		want int
	}{
		{1920000, 2048},
		{9999999, 2048},
		{10000000, 3072},
		{30720000, 5120},
		{61440000, 8192},
	}
	for _, tt := range tests {
		if got := bufferSize(tt.rate); got != tt.want {
			t.Errorf("bufferSize(%d) = %d, want %d", tt.rate, got, tt.want)
		}
	}
}

func TestTimestampTicks(t *testing.T) {
	ts := TimestampFromTicks(3_000_000, 2e6)
	if ts.FullSecs != 1 || math.Abs(ts.FracSecs-0.5) > 1e-12 {
		t.Errorf("TimestampFromTicks() = %+v, want {1 0.5}", ts)
	}
	if got := ts.Ticks(2e6); got != 3_000_000 {
		t.Errorf("Ticks() = %d, want 3000000", got)
	}
	if got := TimestampFromTicks(12345, 0); got != (Timestamp{}) {
		t.Errorf("zero rate = %+v, want zero", got)
	}

	next := Timestamp{FullSecs: 10, FracSecs: 0.75}.Add(0.5)
	if next.FullSecs != 11 || math.Abs(next.FracSecs-0.25) > 1e-12 {
		t.Errorf("Add() = %+v, want {11 0.25}", next)
	}
}

func TestChannelNames(t *testing.T) {
	tests := []struct {
		ch   Channel
		want string
		dir  Direction
	}{
		{ChannelRX(0), "RX1", RX},
		{ChannelTX(0), "TX1", TX},
		{ChannelRX(1), "RX2", RX},
		{ChannelTX(1), "TX2", TX},
	}
	for _, tt := range tests {
		if tt.ch.String() != tt.want || tt.ch.Direction() != tt.dir {
			t.Errorf("channel %d = %s/%s, want %s/%s", tt.ch, tt.ch, tt.ch.Direction(), tt.want, tt.dir)
		}
	}
	if layoutFor(TX, 2) != LayoutTX2 || layoutFor(RX, 1) != LayoutRX1 || LayoutRX2.Channels() != 2 {
		t.Errorf("unexpected layout mapping")
	}
}
