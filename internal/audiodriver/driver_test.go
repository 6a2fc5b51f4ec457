package audiodriver

import (
	"sync/atomic"
	"testing"
	"time"
)

type countingSource struct {
	calls atomic.Int64
}

func (s *countingSource) Render(out []float32, frames int, budget time.Duration) {
	s.calls.Add(1)
	for i := range out {
		out[i] = 0.5
	}
}

func TestHeadlessDriverPullsFromSource(t *testing.T) {
	d, err := New("headless", 44100, 64)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	src := &countingSource{}
	d.SetSource(src)
	d.Start()
	defer d.Close()

	deadline := time.After(500 * time.Millisecond)
	for src.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("headless backend never called Render")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestReadWithNoSourceIsSilent(t *testing.T) {
	d, err := New("headless", 44100, 64)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	buf := make([]byte, 64*channels*4)
	n, err := d.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n != len(buf) {
		t.Fatalf("Read() n = %d, want %d", n, len(buf))
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0 with no source installed", i, b)
		}
	}
}

func TestStartIsIdempotent(t *testing.T) {
	d, err := New("headless", 44100, 64)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	d.Start()
	d.Start() // must not spawn a second pump goroutine or panic on re-close
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
