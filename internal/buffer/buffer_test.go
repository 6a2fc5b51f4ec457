package buffer

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fakeDecoders(calls *int) map[string]decodeFunc {
	return map[string]decodeFunc{
		".stem": func(path string) ([]float32, int, error) {
			*calls++
			return []float32{0.1, -0.1, 0.2, -0.2}, 44100, nil
		},
	}
}

func TestLoadAndGet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.stem")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	calls := 0
	s := NewStore(fakeDecoders(&calls))

	if err := s.Load(100, path, "kick"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	buf, ok := s.Get(100)
	if !ok {
		t.Fatal("Get() after Load() found nothing")
	}
	if !buf.Loaded || buf.Frames() != 2 {
		t.Errorf("unexpected buffer state: %+v", buf)
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.stem")
	os.WriteFile(path, []byte("x"), 0o644)

	calls := 0
	s := NewStore(fakeDecoders(&calls))

	if err := s.Load(1, path, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(1, path, "a"); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("decode called %d times, want 1 (idempotent reload)", calls)
	}
}

func TestLoadMissingFileFailsWithoutStateChange(t *testing.T) {
	var logBuf bytes.Buffer
	log.SetOutput(&logBuf)
	defer log.SetOutput(os.Stderr)

	calls := 0
	s := NewStore(fakeDecoders(&calls))

	missing := filepath.Join(t.TempDir(), "missing.stem")
	err := s.Load(1, missing, "x")
	if !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("Load() error = %v, want ErrFileNotFound", err)
	}
	if _, ok := s.Get(1); ok {
		t.Error("Get() found a buffer after a failed Load()")
	}

	abs, _ := filepath.Abs(missing)
	logged := logBuf.String()
	if !strings.Contains(logged, missing) || !strings.Contains(logged, abs) {
		t.Errorf("log output missing requested/absolute path: %q", logged)
	}
}

func TestFreeRemovesBuffer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.stem")
	os.WriteFile(path, []byte("x"), 0o644)

	calls := 0
	s := NewStore(fakeDecoders(&calls))
	s.Load(1, path, "a")
	s.Free(1)

	if _, ok := s.Get(1); ok {
		t.Error("Get() found buffer after Free()")
	}
}

func TestFreeAllClearsEverything(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.stem")
	os.WriteFile(path, []byte("x"), 0o644)

	calls := 0
	s := NewStore(fakeDecoders(&calls))
	s.Load(1, path, "a")
	s.Load(2, path, "b")
	s.FreeAll()

	if s.Len() != 0 {
		t.Errorf("Len() = %d after FreeAll(), want 0", s.Len())
	}
}

func TestInvalidIDRejected(t *testing.T) {
	s := NewStore(fakeDecoders(new(int)))
	if err := s.Load(-1, "anything", "x"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("Load(-1, ...) error = %v, want ErrInvalidID", err)
	}
}
