package syncbridge

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/norasector/bladerf/pkg/bladerf"
)

func TestReadAcrossChunks(t *testing.T) {
	b := New(2, 8)
	b.Push([]byte{1, 1, 2, 2})
	b.Push([]byte{3, 3, 4, 4})
	b.Push([]byte{5, 5, 6, 6})

	buf := make([]byte, 6)
	md := bladerf.Metadata{}
	if err := b.Read(buf, 3, &md, time.Second); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(buf, []byte{1, 1, 2, 2, 3, 3}) || md.Timestamp != 0 || md.ActualCount != 3 {
		t.Errorf("first Read() = %v, md %+v", buf, md)
	}

	if err := b.Read(buf, 3, &md, time.Second); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(buf, []byte{4, 4, 5, 5, 6, 6}) || md.Timestamp != 3 || md.Status != 0 {
		t.Errorf("second Read() = %v, md %+v", buf, md)
	}
	if got := b.Timestamp(bladerf.RX); got != 6 {
		t.Errorf("Timestamp(RX) = %d, want 6", got)
	}
}

func TestReadOverrun(t *testing.T) {
	b := New(2, 1)
	b.Push([]byte{1, 1, 2, 2})
	b.Push([]byte{3, 3, 4, 4})

	buf := make([]byte, 4)
	md := bladerf.Metadata{}
	if err := b.Read(buf, 2, &md, time.Second); err != nil {
		t.Fatal(err)
	}
	if md.Status&bladerf.StatusOverrun == 0 {
		t.Errorf("dropped buffer not reported, md %+v", md)
	}

	b.Push([]byte{5, 5, 6, 6})
	if err := b.Read(buf, 2, &md, time.Second); err != nil {
		t.Fatal(err)
	}
	if md.Status != 0 || md.Timestamp != 4 || !bytes.Equal(buf, []byte{5, 5, 6, 6}) {
		t.Errorf("Read() after drop = %v, md %+v", buf, md)
	}
}

func TestReadGap(t *testing.T) {
	b := New(2, 1)
	b.Push([]byte{1, 1})
	b.Push([]byte{2, 2})

	buf := make([]byte, 4)
	md := bladerf.Metadata{}
	done := make(chan error)
	go func() { done <- b.Read(buf, 2, &md, time.Second) }()

	time.Sleep(10 * time.Millisecond)
	b.Push([]byte{3, 3})
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if md.Status&bladerf.StatusOverrun == 0 || !bytes.Equal(buf, []byte{1, 1, 3, 3}) {
		t.Errorf("Read() = %v, md %+v, want overrun", buf, md)
	}
}

func TestReadTimeoutAndClose(t *testing.T) {
	b := New(2, 4)
	md := bladerf.Metadata{}
	if err := b.Read(make([]byte, 8), 4, &md, 5*time.Millisecond); !errors.Is(err, bladerf.ErrTimeout) {
		t.Errorf("Read() error = %v, want ErrTimeout", err)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		b.Close()
	}()
	if err := b.Read(make([]byte, 8), 4, &md, time.Minute); !errors.Is(err, bladerf.ErrClosed) {
		t.Errorf("Read() error = %v, want ErrClosed", err)
	}
	if err := b.Write(make([]byte, 8), 4, &md, time.Minute); !errors.Is(err, bladerf.ErrClosed) {
		t.Errorf("Write() error = %v, want ErrClosed", err)
	}
	b.Close()
}

func TestWriteScheduled(t *testing.T) {
	b := New(2, 4)

	md := bladerf.Metadata{Timestamp: 4, Flags: bladerf.FlagTxBurstStart}
	if err := b.Write([]byte{7, 7, 8, 8}, 2, &md, time.Second); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	out := make([]byte, 16)
	b.Pull(out)
	want := []byte{0, 0, 0, 0, 0, 0, 0, 0, 7, 7, 8, 8, 0, 0, 0, 0}
	if !bytes.Equal(out, want) {
		t.Errorf("Pull() = %v, want %v", out, want)
	}
	if got := b.Timestamp(bladerf.TX); got != 8 {
		t.Errorf("Timestamp(TX) = %d, want 8", got)
	}

	// the burst was left open, so running dry is an underrun
	md = bladerf.Metadata{Flags: bladerf.FlagTxBurstEnd}
	if err := b.Write([]byte{9, 9}, 1, &md, time.Second); err != nil {
		t.Fatal(err)
	}
	if md.Status&bladerf.StatusUnderrun == 0 {
		t.Errorf("underrun not reported, md %+v", md)
	}

	md = bladerf.Metadata{Timestamp: 2, Flags: bladerf.FlagTxBurstStart}
	if err := b.Write([]byte{1, 1}, 1, &md, time.Second); !errors.Is(err, bladerf.ErrTimePast) {
		t.Errorf("Write() in the past error = %v, want ErrTimePast", err)
	}
}

func TestWriteNowAndBurstEnd(t *testing.T) {
	b := New(2, 4)
	b.Pull(make([]byte, 20))

	md := bladerf.Metadata{Flags: bladerf.FlagTxBurstStart | bladerf.FlagTxNow | bladerf.FlagTxBurstEnd}
	if err := b.Write([]byte{1, 2, 3, 4}, 2, &md, time.Second); err != nil {
		t.Fatal(err)
	}
	out := make([]byte, 8)
	b.Pull(out)
	if !bytes.Equal(out, []byte{1, 2, 3, 4, 0, 0, 0, 0}) {
		t.Errorf("Pull() = %v", out)
	}

	md = bladerf.Metadata{}
	if err := b.Write([]byte{5, 5}, 1, &md, time.Second); err != nil {
		t.Fatal(err)
	}
	if md.Status != 0 {
		t.Errorf("closed burst reported underrun, md %+v", md)
	}
}

func TestWriteTimeout(t *testing.T) {
	b := New(2, 1)
	md := bladerf.Metadata{}
	if err := b.Write([]byte{1, 1}, 1, &md, time.Second); err != nil {
		t.Fatal(err)
	}
	if err := b.Write([]byte{2, 2}, 1, &md, 5*time.Millisecond); !errors.Is(err, bladerf.ErrTimeout) {
		t.Errorf("Write() error = %v, want ErrTimeout", err)
	}

	b.Reset()
	if err := b.Write([]byte{3, 3}, 1, &md, 5*time.Millisecond); err != nil {
		t.Errorf("Write() after Reset error = %v", err)
	}
}
