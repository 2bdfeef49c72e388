package radio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/norasector/bladerf/pkg/bladerf"
	"github.com/norasector/bladerf/pkg/bladerf/bladerftest"
	"github.com/norasector/turbine-common/types"
	"github.com/rs/zerolog"
)

func openSession(t *testing.T, args string, channels int) (*bladerf.Session, *bladerftest.Driver) {
	t.Helper()
	d := bladerftest.New()
	s, err := bladerf.Open(args, channels, bladerf.WithDriver(d.Opener()), bladerf.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, d
}

func TestRadioDeviceSegments(t *testing.T) {
	s, d := openSession(t, "format=sc8", 2)
	d.RxData = make([]byte, 2*2*8)
	for i := range d.RxData {
		d.RxData[i] = 64
	}

	r, err := NewRadioDevice(s, WithLogger(zerolog.Nop()), WithSegmentSize(8), WithChannel(1), WithGain(20))
	if err != nil {
		t.Fatal(err)
	}

	out := make(chan *types.SegmentComplex64)
	errc := make(chan error, 1)
	go func() { errc <- r.Start(context.Background(), 915000000, 2000000, out) }()

	for want := 1; want <= 3; want++ {
		seg := <-out
		if seg.SegmentNumber != want || len(seg.Data) != 8 {
			t.Fatalf("segment %d: number %d, %d samples", want, seg.SegmentNumber, len(seg.Data))
		}
		if seg.Data[0] != complex(0.5, 0.5) {
			t.Errorf("segment %d sample = %v, want (0.5+0.5i)", want, seg.Data[0])
		}
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := <-errc; err != nil {
		t.Errorf("Start() returned %v after Stop", err)
	}

	if d.Rates[bladerf.ChannelRX(0)] != 2000000 {
		t.Errorf("rx rate = %d", d.Rates[bladerf.ChannelRX(0)])
	}
	if d.Freqs[bladerf.ChannelRX(0)] != 915000000 || d.Freqs[bladerf.ChannelRX(1)] != 915000000 {
		t.Errorf("rx freqs = %v", d.Freqs)
	}
	if d.Gains[bladerf.ChannelRX(1)] != 20 {
		t.Errorf("rx gains = %v", d.Gains)
	}
	if s.Streaming(bladerf.RX) {
		t.Errorf("rx still streaming after Stop")
	}
}

func TestRadioDeviceContextCancel(t *testing.T) {
	s, _ := openSession(t, "", 1)
	r, err := NewRadioDevice(s, WithLogger(zerolog.Nop()), WithSegmentSize(16))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan *types.SegmentComplex64)
	errc := make(chan error, 1)
	go func() { errc <- r.Start(ctx, 100e6, 1e6, out) }()

	<-out
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want context.Canceled", err)
	}
}

func TestRadioDeviceReceiveError(t *testing.T) {
	s, d := openSession(t, "", 1)
	d.Errors["sync_rx"] = &bladerf.StatusError{Code: -1, Message: "usb stall"}

	r, err := NewRadioDevice(s, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	err = r.Start(context.Background(), 100e6, 1e6, make(chan *types.SegmentComplex64))
	if !errors.Is(err, bladerf.ErrTransport) {
		t.Errorf("Start() error = %v, want transport error", err)
	}
}

func TestNewRadioDeviceOptions(t *testing.T) {
	s, _ := openSession(t, "", 1)
	if _, err := NewRadioDevice(s, WithChannel(1)); err == nil {
		t.Errorf("NewRadioDevice() accepted channel 1 on a single channel session")
	}
	if _, err := NewRadioDevice(s, WithSegmentSize(0)); err == nil {
		t.Errorf("NewRadioDevice() accepted an empty segment size")
	}
	r, err := NewRadioDevice(s, WithMaxSampleRate(20e6))
	if err != nil || r.MaxSampleRate() != 20e6 {
		t.Errorf("MaxSampleRate() = %d, %v", r.MaxSampleRate(), err)
	}
}

func TestBeaconSchedulesBursts(t *testing.T) {
	s, d := openSession(t, "", 2)
	if _, err := s.SetTxSampleRate(1e6); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetRxSampleRate(1e6); err != nil {
		t.Fatal(err)
	}

	b, err := NewBeacon(s,
		WithBeaconLogger(zerolog.Nop()),
		WithTone(10e3, 0.25),
		WithBurst(100, 64),
		WithSchedule(10*time.Millisecond, 20*time.Millisecond),
		WithTxChannel(1))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- b.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for b.Bursts() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("beacon did not send two bursts")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	meta := d.TxMeta
	if len(meta) < 4 {
		t.Fatalf("got %d transfers, want at least 4", len(meta))
	}
	want := []bladerf.Metadata{
		{Timestamp: 20000, Flags: bladerf.FlagTxBurstStart},
		{Flags: bladerf.FlagTxBurstEnd},
		{Timestamp: 30000, Flags: bladerf.FlagTxBurstStart},
		{Flags: bladerf.FlagTxBurstEnd},
	}
	for i := range want {
		if meta[i].Timestamp != want[i].Timestamp || meta[i].Flags != want[i].Flags {
			t.Errorf("transfer %d = %+v, want %+v", i, meta[i], want[i])
		}
	}
}

func TestBeaconNeedsRate(t *testing.T) {
	s, _ := openSession(t, "", 1)
	b, err := NewBeacon(s, WithBeaconLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Run(context.Background()); err == nil {
		t.Errorf("Run() without a tx rate succeeded")
	}
	if _, err := NewBeacon(s, WithTone(0, 2)); err == nil {
		t.Errorf("NewBeacon() accepted amplitude 2")
	}
}
