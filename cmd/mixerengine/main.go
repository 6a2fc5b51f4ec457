// Command mixerengine runs the OSC-controlled four-deck mixing engine: it
// wires the Buffer Store, Filter Bank, Deck State Machine, Tempo Governor,
// Mixing Core, OSC Command Router, and Audio Output Driver together and
// blocks serving OSC until the process is killed.
package main

import (
	"fmt"
	"log"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/crowdstream/mixerengine/internal/audiodriver"
	"github.com/crowdstream/mixerengine/internal/buffer"
	"github.com/crowdstream/mixerengine/internal/clock"
	"github.com/crowdstream/mixerengine/internal/config"
	"github.com/crowdstream/mixerengine/internal/deck"
	"github.com/crowdstream/mixerengine/internal/mixer"
	"github.com/crowdstream/mixerengine/internal/oscrouter"
	"github.com/crowdstream/mixerengine/internal/tempo"
)

const engineSampleRate = 44100.0

func main() {
	var (
		port             = flag.Int("port", 57120, "OSC listen port")
		bufferSize       = flag.Int("buffer-size", 1024, "audio callback size in frames")
		baseBPM          = flag.Float64("bpm", 120, "base BPM for tempo_ratio = current_bpm / base_bpm")
		device           = flag.Int("device", 0, "audio device selector; negative selects the headless backend (tests/CI, no hardware device), any other value opens the host's default output device")
		enableFilters    = flag.Bool("enable-filters", false, "enable the three-band EQ in the mix path")
		optimizedFilters = flag.Bool("optimized-filters", true, "use the block-vectorized filter backend")
		bpmConfigPath    = flag.String("bpm-config", "", "path to a bpm_config.json movement-tempo override file")
		cueA             = flag.String("a", "", "optional stem path to preload and cue on deck A")
		cueB             = flag.String("b", "", "optional stem path to preload and cue on deck B")
		stretchMethod    = flag.String("stretch-method", "playback_rate", "playback_rate|pyrubberband|audiotsm; pyrubberband/audiotsm are not implemented and fall back to playback_rate")
	)
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if *stretchMethod != "playback_rate" {
		log.Printf("mixerengine: stretch method %q is not implemented; falling back to playback_rate (real-time budget, no pitch correction)", *stretchMethod)
	}

	tempoCfg := tempo.DefaultConfig(*baseBPM)
	if *bpmConfigPath != "" {
		cfg, err := config.LoadBPMConfig(*bpmConfigPath, tempoCfg)
		if err != nil {
			log.Printf("mixerengine: --bpm-config %q: %v", *bpmConfigPath, err)
			os.Exit(2)
		}
		tempoCfg = cfg
	}

	store := buffer.NewStore(buffer.DefaultDecoders())

	var decks [4]*deck.Deck
	for i, label := range deck.Labels {
		decks[i] = deck.New(label, engineSampleRate, *optimizedFilters)
		decks[i].Filter.SetEnabled(*enableFilters)
	}

	weights := deck.NewWeights()
	tg := tempo.New(tempoCfg)
	eng := clock.NewReal()
	m := mixer.New(decks, weights, store, tg, eng, engineSampleRate)

	backendName := "oto"
	if *device < 0 {
		backendName = "headless"
	}
	drv, err := audiodriver.New(backendName, engineSampleRate, *bufferSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mixerengine: audio device open failed: %v\n", err)
		os.Exit(1)
	}
	drv.SetSource(m)

	router := oscrouter.New(
		fmt.Sprintf("0.0.0.0:%d", *port),
		"127.0.0.1", *port+1,
		decks, store, weights, tg, m, eng,
		*enableFilters,
	)

	preload(router, "A", *cueA)
	preload(router, "B", *cueB)

	drv.Start()
	log.Printf("mixerengine: listening on OSC port %d, backend=%s (device=%d), buffer=%d frames, base_bpm=%.1f", *port, backendName, *device, *bufferSize, *baseBPM)

	if err := router.Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "mixerengine: OSC server exited: %v\n", err)
		os.Exit(1)
	}
}

// preload implements the --a/--b convenience flags: a direct, in-process
// cue of a path onto a deck at startup, bypassing OSC for the initial load.
func preload(router *oscrouter.Router, label, path string) {
	if path == "" {
		return
	}
	if err := router.CueFromDisk(label, path); err != nil {
		log.Printf("mixerengine: preload %s %q failed: %v", label, path, err)
	}
}
