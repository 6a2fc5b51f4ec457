// Package audiodriver implements the Audio Output Driver: it opens a host
// audio device (or a headless stand-in for tests/CI) at the engine's fixed
// sample rate and pulls mixed chunks from the Mixing Core on the real-time
// audio context.
package audiodriver

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ebitengine/oto/v3"
)

// ErrDeviceFailure is returned when the host audio device cannot be
// opened; this is fatal and the process should exit with a nonzero code.
var ErrDeviceFailure = errors.New("audiodriver: device open failed")

// Source is anything the driver can pull interleaved stereo float32 chunks
// from. *mixer.Mixer satisfies this without audiodriver importing mixer,
// keeping the dependency pointed from the render source to the output
// device rather than the other way around.
type Source interface {
	Render(out []float32, frames int, budget time.Duration)
}

const channels = 2 // stereo, interleaved

// Driver owns the host audio device (or its headless stand-in) and the
// lock-free hand-off to the Source it reads from: an atomic.Pointer swap
// for the hot Read() path plus a mutex reserved for setup/control
// operations only.
type Driver struct {
	backend backend
	player  player

	source    atomic.Pointer[Source]
	sampleBuf []float32

	sampleRate int
	frames     int
	budget     time.Duration

	mu      sync.Mutex
	started bool
}

// backend abstracts the host audio device open/close lifecycle so Driver
// can run against a real device (oto) or a no-op stand-in (headless) without
// a runtime type switch on the hot Read() path - the same "select once at
// construction" discipline as the filter bank's two DSP backends.
type backend interface {
	newPlayer(d *Driver, sampleRate int) (player, error)
}

// player is the minimal oto.Player surface the driver depends on.
type player interface {
	Play()
	Close() error
}

// New opens the named backend ("oto" or "headless") at sampleRate with the
// given callback buffer size in frames. bufferSize should be 1024 by
// default, raised on resource-constrained hosts.
func New(backendName string, sampleRate, bufferSize int) (*Driver, error) {
	d := &Driver{
		sampleRate: sampleRate,
		frames:     bufferSize,
		budget:     time.Duration(float64(bufferSize) / float64(sampleRate) * float64(time.Second)),
		sampleBuf:  make([]float32, bufferSize*channels),
	}

	var be backend
	switch backendName {
	case "headless":
		be = headlessBackend{}
	default:
		be = otoBackend{}
	}
	d.backend = be

	p, err := be.newPlayer(d, sampleRate)
	if err != nil {
		return nil, errJoin(ErrDeviceFailure, err)
	}
	d.player = p
	return d, nil
}

func errJoin(sentinel, cause error) error {
	return &wrappedErr{sentinel: sentinel, cause: cause}
}

type wrappedErr struct {
	sentinel error
	cause    error
}

func (e *wrappedErr) Error() string { return e.sentinel.Error() + ": " + e.cause.Error() }
func (e *wrappedErr) Unwrap() error { return e.sentinel }

// SetSource installs the render source, read lock-free by Read. Safe to
// call from the control context at any time, including before Start.
func (d *Driver) SetSource(s Source) {
	d.source.Store(&s)
}

// Start begins pulling audio from the installed source. Safe to call once;
// subsequent calls are no-ops.
func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.player.Play()
}

// Close stops playback and releases the device.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	if d.player == nil {
		return nil
	}
	return d.player.Close()
}

// Read implements io.Reader for oto.NewPlayer: it is called on oto's
// internal real-time goroutine and must never block, allocate on the
// steady-state path, or take a lock - it only ever does an atomic load plus
// one Render call.
func (d *Driver) Read(p []byte) (int, error) {
	srcPtr := d.source.Load()
	if srcPtr == nil {
		zeroBytes(p)
		return len(p), nil
	}
	src := *srcPtr

	frames := len(p) / (4 * channels)
	if len(d.sampleBuf) < frames*channels {
		d.sampleBuf = make([]float32, frames*channels)
	}
	buf := d.sampleBuf[:frames*channels]

	src.Render(buf, frames, d.budget)

	n := frames * channels * 4
	copy(p, (*[1 << 30]byte)(unsafe.Pointer(&buf[0]))[:n])
	return n, nil
}

func zeroBytes(p []byte) {
	for i := range p {
		p[i] = 0
	}
}

// otoBackend opens a real host audio device via ebitengine/oto.
type otoBackend struct{}

func (otoBackend) newPlayer(d *Driver, sampleRate int) (player, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   time.Duration(float64(d.frames) / float64(sampleRate) * float64(time.Second)),
	})
	if err != nil {
		return nil, err
	}
	<-ready
	return ctx.NewPlayer(d), nil
}

// headlessBackend discards everything it reads, for tests and CI hosts
// without a usable audio device. Mirrors audio_backend_headless.go's
// build-tag stand-in, but selected by flag rather than a build tag so the
// same binary can run either mode.
type headlessBackend struct{}

func (headlessBackend) newPlayer(d *Driver, sampleRate int) (player, error) {
	return &headlessPlayer{driver: d}, nil
}

type headlessPlayer struct {
	driver *Driver
	stop   chan struct{}
	wg     sync.WaitGroup
}

func (p *headlessPlayer) Play() {
	p.stop = make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		buf := make([]byte, p.driver.frames*channels*4)
		ticker := time.NewTicker(p.driver.budget)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.driver.Read(buf)
			}
		}
	}()
}

func (p *headlessPlayer) Close() error {
	if p.stop != nil {
		close(p.stop)
		p.wg.Wait()
	}
	return nil
}
