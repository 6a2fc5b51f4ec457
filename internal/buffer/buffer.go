// Package buffer implements the Audio Buffer Store: it decodes stem files
// from disk into immutable float32 stereo PCM and hands out read-only
// borrows to the mixing core.
//
// Mutation (load/free) only ever happens on the control context; the audio
// context only ever reads. The store is implemented as a copy-on-write map
// behind an atomic pointer so the audio context's lookups never block on a
// lock held by a concurrent decode.
package buffer

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	// ErrFileNotFound is returned when the requested stem path does not
	// resolve on disk.
	ErrFileNotFound = errors.New("buffer: file not found")
	// ErrDecode is returned when a file exists but cannot be decoded as
	// audio (corrupt or unsupported format).
	ErrDecode = errors.New("buffer: decode failed")
	// ErrInvalidID is returned for a negative buffer id.
	ErrInvalidID = errors.New("buffer: invalid id")
)

// AudioBuffer is an immutable, fully-decoded stereo PCM clip. Once Loaded is
// true its Samples slice is never mutated again.
type AudioBuffer struct {
	ID         int
	Path       string
	Name       string
	SampleRate int
	// Samples is interleaved stereo float32 (L, R, L, R, ...).
	Samples []float32
	Loaded  bool
}

// Frames returns the number of stereo sample pairs in the buffer.
func (b *AudioBuffer) Frames() int {
	if b == nil {
		return 0
	}
	return len(b.Samples) / 2
}

// decodeFunc decodes an audio file at path into interleaved stereo float32
// samples at its native sample rate.
type decodeFunc func(path string) (samples []float32, sampleRate int, err error)

// Store owns every decoded buffer, keyed by buffer_id.
type Store struct {
	snapshot atomic.Pointer[map[int]*AudioBuffer]
	mu       sync.Mutex // serialises load/free on the control context
	decoders map[string]decodeFunc
}

// NewStore constructs an empty buffer store with the given per-extension
// decoders (lower-case extension including the leading dot, e.g. ".wav").
func NewStore(decoders map[string]decodeFunc) *Store {
	s := &Store{decoders: decoders}
	empty := map[int]*AudioBuffer{}
	s.snapshot.Store(&empty)
	return s
}

func (s *Store) current() map[int]*AudioBuffer {
	return *s.snapshot.Load()
}

// Get performs a constant-time, lock-free lookup. Safe to call from the
// audio context.
func (s *Store) Get(id int) (*AudioBuffer, bool) {
	b, ok := s.current()[id]
	return b, ok
}

// Load decodes the file at path and stores it under id, upmixing mono to
// stereo by duplication. It is idempotent: calling Load again with the same
// id and path on an already-loaded buffer does no work. Calling it with the
// same id and a different path replaces the prior contents. Must only be
// called from the control context - decoding never runs on the audio
// context.
func (s *Store) Load(id int, path, name string) error {
	if id < 0 {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.current()[id]; ok && existing.Loaded && existing.Path == path {
		return nil // idempotent: already bound to this path
	}

	abs, absErr := filepath.Abs(path)
	if absErr != nil {
		abs = path
	}

	if _, err := os.Stat(path); err != nil {
		log.Printf("buffer: load failed, requested path=%q absolute=%q: %v", path, abs, err)
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	decode, ok := s.decoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		log.Printf("buffer: load failed, unsupported extension, requested path=%q absolute=%q", path, abs)
		return fmt.Errorf("%w: unsupported extension for %s", ErrDecode, path)
	}

	samples, sampleRate, err := decode(path)
	if err != nil {
		log.Printf("buffer: decode failed, requested path=%q absolute=%q: %v", path, abs, err)
		return fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}

	buf := &AudioBuffer{
		ID:         id,
		Path:       path,
		Name:       name,
		SampleRate: sampleRate,
		Samples:    samples,
		Loaded:     true,
	}
	s.replace(func(m map[int]*AudioBuffer) { m[id] = buf })
	log.Printf("buffer: loaded id=%d name=%q path=%q frames=%d rate=%d", id, name, path, buf.Frames(), sampleRate)
	return nil
}

// Free removes id from the store. Safe to call even if a deck still
// references it - the contract that nothing is PLAYING against a freed
// buffer is enforced by the caller (the OSC router), not here.
func (s *Store) Free(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replace(func(m map[int]*AudioBuffer) { delete(m, id) })
}

// FreeAll clears every buffer from the store.
func (s *Store) FreeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	empty := map[int]*AudioBuffer{}
	s.snapshot.Store(&empty)
}

// replace installs a new snapshot map produced by copying the current one
// and applying mutate. Caller must hold s.mu.
func (s *Store) replace(mutate func(map[int]*AudioBuffer)) {
	old := s.current()
	next := make(map[int]*AudioBuffer, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	mutate(next)
	s.snapshot.Store(&next)
}

// Len reports how many buffers are currently loaded, mostly for
// /get_status replies.
func (s *Store) Len() int {
	return len(s.current())
}
