// Package oscrouter implements the OSC Command Router: a UDP listener that
// dispatches incoming OSC messages to the deck, buffer, filter, and tempo
// components, enforcing the load-before-play and EQ-disabled-bypass
// policies from the wire contract.
package oscrouter

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/crowdstream/mixerengine/internal/buffer"
	"github.com/crowdstream/mixerengine/internal/clock"
	"github.com/crowdstream/mixerengine/internal/deck"
	"github.com/crowdstream/mixerengine/internal/filter"
	"github.com/crowdstream/mixerengine/internal/mixer"
	"github.com/crowdstream/mixerengine/internal/tempo"
)

// pendingLoadWait bounds how long /start_group waits for a deck whose /cue
// triggered an in-flight decode.
const pendingLoadWait = 2 * time.Second

// Router owns the UDP OSC listener and every verb handler. All of its
// handlers run on the control context; none touch the audio path directly,
// they only mutate the shared atomics and locks the mixing core reads.
type Router struct {
	decks   map[string]*deck.Deck
	store   *buffer.Store
	weights *deck.Weights
	tempo   *tempo.Governor
	mixer   *mixer.Mixer
	clock   clock.Clock

	filtersEnabled atomic.Bool

	idMu     sync.Mutex
	idToDeck map[int]string
	nextAuto int

	pendingMu sync.Mutex
	pending   map[string]chan struct{} // deck label -> closed when its in-flight /cue load completes

	loggedMu      sync.Mutex
	loggedUnknown map[string]bool

	server     *osc.Server
	dispatcher *osc.StandardDispatcher
	replyClient *osc.Client
}

// New constructs a Router over the engine's already-built components.
// replyAddr/replyPort address the client /get_status replies are sent to;
// pass "" to disable replies entirely.
func New(listenAddr string, replyAddr string, replyPort int, decks [4]*deck.Deck, store *buffer.Store, weights *deck.Weights, tg *tempo.Governor, m *mixer.Mixer, c clock.Clock, filtersEnabled bool) *Router {
	r := &Router{
		decks:         make(map[string]*deck.Deck, len(decks)),
		store:         store,
		weights:       weights,
		tempo:         tg,
		mixer:         m,
		clock:         c,
		idToDeck:      make(map[int]string),
		pending:       make(map[string]chan struct{}),
		loggedUnknown: make(map[string]bool),
		dispatcher:    osc.NewStandardDispatcher(),
	}
	for _, d := range decks {
		r.decks[d.Label] = d
	}
	r.filtersEnabled.Store(filtersEnabled)
	if replyAddr != "" {
		r.replyClient = osc.NewClient(replyAddr, replyPort)
	}

	r.registerHandlers()
	r.server = &osc.Server{Addr: listenAddr, Dispatcher: r.dispatcher}
	return r
}

// registerHandlers wires every supported verb into the dispatcher, routed
// through r.dispatch so tests can drive handlers without a socket.
func (r *Router) registerHandlers() {
	verbs := []string{
		"/load_buffer", "/free_buffer", "/cue", "/play_stem", "/stop_stem",
		"/stem_volume", "/crossfade_levels", "/start_group",
		"/deck_eq", "/deck_eq_all", "/deck_filter",
		"/set_tempo", "/mixer_cleanup", "/get_status",
		"/dance/head", "/dance/head_movement",
		"/dance/arms", "/dance/arms_movement",
		"/dance/legs", "/dance/legs_movement",
	}
	for _, addr := range verbs {
		addr := addr
		r.dispatcher.AddMsgHandler(addr, func(msg *osc.Message) {
			r.dispatch(msg)
		})
	}
}

// Serve blocks, listening for OSC messages until the process exits or
// the underlying UDP socket errors.
func (r *Router) Serve() error {
	log.Printf("oscrouter: listening on %s", r.server.Addr)
	return r.server.ListenAndServe()
}

// SetFiltersEnabled toggles the performance-mode EQ bypass read by
// /deck_eq, /deck_eq_all, and /deck_filter.
func (r *Router) SetFiltersEnabled(enabled bool) { r.filtersEnabled.Store(enabled) }

// dispatch is the single entry point every verb handler funnels through,
// exercised directly by tests and indirectly by the real UDP listener.
func (r *Router) dispatch(msg *osc.Message) {
	switch msg.Address {
	case "/load_buffer":
		r.handleLoadBuffer(msg)
	case "/free_buffer":
		r.handleFreeBuffer(msg)
	case "/cue":
		r.handleCue(msg)
	case "/play_stem":
		r.handlePlayStem(msg)
	case "/stop_stem":
		r.handleStopStem(msg)
	case "/stem_volume":
		r.handleStemVolume(msg)
	case "/crossfade_levels":
		r.handleCrossfadeLevels(msg)
	case "/start_group":
		r.handleStartGroup(msg)
	case "/deck_eq":
		r.handleDeckEQ(msg)
	case "/deck_eq_all":
		r.handleDeckEQAll(msg)
	case "/deck_filter":
		r.handleDeckFilter(msg)
	case "/set_tempo":
		r.handleSetTempo(msg)
	case "/mixer_cleanup":
		r.handleMixerCleanup(msg)
	case "/get_status":
		r.handleGetStatus(msg)
	case "/dance/head", "/dance/head_movement":
		r.withFloatArg(msg, r.tempo.UpdateHead)
	case "/dance/arms", "/dance/arms_movement":
		r.withFloatArg(msg, r.tempo.UpdateArms)
	case "/dance/legs", "/dance/legs_movement":
		r.withFloatArg(msg, r.tempo.UpdateLegs)
	default:
		r.logUnknownOnce(msg.Address)
	}
}

func (r *Router) logUnknownOnce(addr string) {
	r.loggedMu.Lock()
	defer r.loggedMu.Unlock()
	if r.loggedUnknown[addr] {
		return
	}
	r.loggedUnknown[addr] = true
	log.Printf("oscrouter: unknown address %q, ignoring (further occurrences suppressed)", addr)
}

func (r *Router) withFloatArg(msg *osc.Message, apply func(float64)) {
	v, ok := argFloat64(msg, 0)
	if !ok {
		log.Printf("oscrouter: %s: expected 1 float argument", msg.Address)
		return
	}
	apply(v)
}

// handleLoadBuffer implements `/load_buffer id:int path:str name:str`.
func (r *Router) handleLoadBuffer(msg *osc.Message) {
	id, ok1 := argInt(msg, 0)
	path, ok2 := argString(msg, 1)
	name, ok3 := argString(msg, 2)
	if !ok1 || !ok2 || !ok3 {
		log.Printf("oscrouter: /load_buffer: expected (id:int, path:str, name:str)")
		return
	}
	if err := r.store.Load(id, path, name); err != nil {
		log.Printf("oscrouter: /load_buffer %d %q failed: %v", id, path, err)
		return
	}
	log.Printf("oscrouter: /load_buffer %d %q (%s) ok", id, path, name)
}

// handleFreeBuffer implements `/free_buffer id:int`. Any deck still bound to
// id is forced IDLE first, so a buffer is never freed while a PLAYING deck
// still holds it.
func (r *Router) handleFreeBuffer(msg *osc.Message) {
	id, ok := argInt(msg, 0)
	if !ok {
		log.Printf("oscrouter: /free_buffer: expected (id:int)")
		return
	}

	r.idMu.Lock()
	label, bound := r.idToDeck[id]
	if bound {
		delete(r.idToDeck, id)
	}
	r.idMu.Unlock()

	if bound {
		if d, ok := r.decks[label]; ok {
			d.ForceIdle()
		}
	}
	r.store.Free(id)
}

// handleCue implements `/cue deck:str path:str position:float`, with an
// optional leading explicit id: `/cue deck:str id:int path:str
// position:float`. The id bound to the deck by this call is the only id
// /play_stem will ever honor for that deck.
func (r *Router) handleCue(msg *osc.Message) {
	label, ok := argString(msg, 0)
	if !ok || !r.validDeck(label) {
		log.Printf("oscrouter: /cue: expected a valid deck label as arg 0")
		return
	}

	var id int
	var path string
	var position float64
	switch len(msg.Arguments) {
	case 3:
		p, ok1 := argString(msg, 1)
		pos, ok2 := argFloat64(msg, 2)
		if !ok1 || !ok2 {
			log.Printf("oscrouter: /cue %s: expected (deck, path, position)", label)
			return
		}
		path, position = p, pos
		id = r.autoID(label)
	case 4:
		explicit, ok1 := argInt(msg, 1)
		p, ok2 := argString(msg, 2)
		pos, ok3 := argFloat64(msg, 3)
		if !ok1 || !ok2 || !ok3 {
			log.Printf("oscrouter: /cue %s: expected (deck, id, path, position)", label)
			return
		}
		id, path, position = explicit, p, pos
	default:
		log.Printf("oscrouter: /cue %s: wrong argument count %d", label, len(msg.Arguments))
		return
	}

	d := r.decks[label]
	ready := r.markPending(label)
	if err := r.store.Load(id, path, label); err != nil {
		close(ready)
		log.Printf("oscrouter: /cue %s: failed to load %q: %v", label, path, err)
		return
	}
	close(ready)

	r.idMu.Lock()
	r.idToDeck[id] = label
	r.idMu.Unlock()

	d.Cue(id, int(position*sampleRateHint))
}

// CueFromDisk loads path and cues it onto label directly, without going
// through the OSC wire. Used by the CLI's --a/--b preload flags to seed a
// deck before the OSC router starts accepting commands.
func (r *Router) CueFromDisk(label, path string) error {
	if !r.validDeck(label) {
		return fmt.Errorf("oscrouter: unknown deck %q", label)
	}
	id := r.autoID(label)
	if err := r.store.Load(id, path, label); err != nil {
		return err
	}
	r.idMu.Lock()
	r.idToDeck[id] = label
	r.idMu.Unlock()
	r.decks[label].Cue(id, 0)
	return nil
}

// sampleRateHint converts a /cue position given in seconds to frames. The
// real engine sample rate is fixed per process; using the engine-wide
// constant here avoids plumbing the rate through every handler for a
// single multiply.
const sampleRateHint = 44100.0

// markPending records that label has an in-flight load; the returned
// channel must be closed by the caller once the load finishes (success or
// failure) so a concurrent /start_group's bounded wait can proceed.
func (r *Router) markPending(label string) chan struct{} {
	ch := make(chan struct{})
	r.pendingMu.Lock()
	r.pending[label] = ch
	r.pendingMu.Unlock()
	return ch
}

func (r *Router) waitPending(label string, timeout time.Duration) {
	r.pendingMu.Lock()
	ch, ok := r.pending[label]
	r.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case <-ch:
	case <-time.After(timeout):
		log.Printf("oscrouter: /start_group: timed out waiting for %s's pending load", label)
	}
}

// handlePlayStem implements `/play_stem id:int rate:float vol:float
// loop:int start:float`.
func (r *Router) handlePlayStem(msg *osc.Message) {
	id, ok1 := argInt(msg, 0)
	rate, ok2 := argFloat64(msg, 1)
	vol, ok3 := argFloat64(msg, 2)
	loopArg, ok4 := argInt(msg, 3)
	start, ok5 := argFloat64(msg, 4)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		log.Printf("oscrouter: /play_stem: expected (id:int, rate:float, vol:float, loop:int, start:float)")
		return
	}

	r.idMu.Lock()
	label, bound := r.idToDeck[id]
	r.idMu.Unlock()
	if !bound {
		log.Printf("oscrouter: /play_stem %d: no deck is currently bound to this id, ignoring", id)
		return
	}

	d := r.decks[label]
	if bufID, has := d.BufferID(); !has || bufID != id {
		log.Printf("oscrouter: /play_stem %d: deck %s is no longer cued to this id, ignoring", id, label)
		return
	}
	if buf, ok := r.store.Get(id); !ok || !buf.Loaded {
		log.Printf("oscrouter: /play_stem %d: buffer not loaded, ignoring", id)
		return
	}

	if err := d.Play(rate, vol, loopArg != 0, int(start*sampleRateHint)); err != nil {
		log.Printf("oscrouter: /play_stem %d: %v", id, err)
	}
}

// handleStopStem implements `/stop_stem id:int`.
func (r *Router) handleStopStem(msg *osc.Message) {
	id, ok := argInt(msg, 0)
	if !ok {
		log.Printf("oscrouter: /stop_stem: expected (id:int)")
		return
	}
	r.idMu.Lock()
	label, bound := r.idToDeck[id]
	r.idMu.Unlock()
	if !bound {
		return
	}
	r.decks[label].Stop()
}

// handleStemVolume implements `/stem_volume id:int vol:float`.
func (r *Router) handleStemVolume(msg *osc.Message) {
	id, ok1 := argInt(msg, 0)
	vol, ok2 := argFloat64(msg, 1)
	if !ok1 || !ok2 {
		log.Printf("oscrouter: /stem_volume: expected (id:int, vol:float)")
		return
	}
	r.idMu.Lock()
	label, bound := r.idToDeck[id]
	r.idMu.Unlock()
	if !bound {
		return
	}
	r.decks[label].SetVolume(vol)
}

// handleCrossfadeLevels implements `/crossfade_levels w_A w_B [w_C w_D]`.
func (r *Router) handleCrossfadeLevels(msg *osc.Message) {
	n := len(msg.Arguments)
	if n != 2 && n != 4 {
		log.Printf("oscrouter: /crossfade_levels: expected 2 or 4 float arguments, got %d", n)
		return
	}
	for i, label := range deck.Labels[:n] {
		w, ok := argFloat64(msg, i)
		if !ok {
			log.Printf("oscrouter: /crossfade_levels: argument %d is not a float", i)
			return
		}
		r.weights.Set(label, w)
	}
}

// handleStartGroup implements `/start_group delay:float deck_labels...`.
func (r *Router) handleStartGroup(msg *osc.Message) {
	if len(msg.Arguments) < 2 {
		log.Printf("oscrouter: /start_group: expected (delay:float, deck_labels...)")
		return
	}
	delay, ok := argFloat64(msg, 0)
	if !ok {
		log.Printf("oscrouter: /start_group: arg 0 (delay) is not a float")
		return
	}

	var labels []string
	for i := 1; i < len(msg.Arguments); i++ {
		label, ok := argString(msg, i)
		if !ok || !r.validDeck(label) {
			log.Printf("oscrouter: /start_group: arg %d is not a valid deck label", i)
			return
		}
		labels = append(labels, label)
	}

	for _, label := range labels {
		r.waitPending(label, pendingLoadWait)
	}

	t := r.clock.Now().Add(time.Duration(delay * float64(time.Second)))
	for _, label := range labels {
		r.decks[label].QueueStart(t)
	}
	log.Printf("oscrouter: /start_group scheduled decks %v at +%.3fs", labels, delay)
}

func bandFromString(s string) (filter.Band, bool) {
	switch s {
	case "low":
		return filter.Low, true
	case "mid":
		return filter.Mid, true
	case "high":
		return filter.High, true
	default:
		return 0, false
	}
}

// handleDeckEQ implements `/deck_eq deck:str band:str percent:float`. When
// filters are globally disabled the handler returns before parsing any
// argument, so a burst of automation messages costs O(1) regardless of
// content.
func (r *Router) handleDeckEQ(msg *osc.Message) {
	if !r.filtersEnabled.Load() {
		return
	}
	label, ok1 := argString(msg, 0)
	bandStr, ok2 := argString(msg, 1)
	percent, ok3 := argFloat64(msg, 2)
	if !ok1 || !ok2 || !ok3 || !r.validDeck(label) {
		log.Printf("oscrouter: /deck_eq: expected (deck, band, percent)")
		return
	}
	band, ok := bandFromString(bandStr)
	if !ok {
		log.Printf("oscrouter: /deck_eq %s: unknown band %q", label, bandStr)
		return
	}
	r.decks[label].SetFilterGain(band, filter.GainFromPercent(percent))
}

// handleDeckEQAll implements `/deck_eq_all deck:str low mid high`.
func (r *Router) handleDeckEQAll(msg *osc.Message) {
	if !r.filtersEnabled.Load() {
		return
	}
	label, ok1 := argString(msg, 0)
	low, ok2 := argFloat64(msg, 1)
	mid, ok3 := argFloat64(msg, 2)
	high, ok4 := argFloat64(msg, 3)
	if !ok1 || !ok2 || !ok3 || !ok4 || !r.validDeck(label) {
		log.Printf("oscrouter: /deck_eq_all: expected (deck, low, mid, high)")
		return
	}
	d := r.decks[label]
	d.SetFilterGain(filter.Low, filter.GainFromPercent(low))
	d.SetFilterGain(filter.Mid, filter.GainFromPercent(mid))
	d.SetFilterGain(filter.High, filter.GainFromPercent(high))
}

// handleDeckFilter implements the reserved `/deck_filter deck:str cutoff
// resonance` verb. No resonant filter stage exists in this engine, so this
// is a logged no-op rather than an error, and it honors the same
// disabled-bypass policy as the EQ verbs.
func (r *Router) handleDeckFilter(msg *osc.Message) {
	if !r.filtersEnabled.Load() {
		return
	}
	log.Printf("oscrouter: /deck_filter received (reserved, no-op)")
}

// handleSetTempo implements `/set_tempo bpm:float`, overriding automatic
// governance until the next movement update (the default hold).
func (r *Router) handleSetTempo(msg *osc.Message) {
	bpm, ok := argFloat64(msg, 0)
	if !ok {
		log.Printf("oscrouter: /set_tempo: expected (bpm:float)")
		return
	}
	r.tempo.SetTempo(bpm, 0)
}

// handleMixerCleanup implements `/mixer_cleanup`: stop everything, free
// everything, forget every id binding.
func (r *Router) handleMixerCleanup(msg *osc.Message) {
	for _, d := range r.decks {
		d.ForceIdle()
	}
	r.store.FreeAll()
	r.idMu.Lock()
	r.idToDeck = make(map[int]string)
	r.idMu.Unlock()
	log.Printf("oscrouter: /mixer_cleanup complete")
}

// handleGetStatus implements the optional `/get_status` reply.
func (r *Router) handleGetStatus(msg *osc.Message) {
	reply := osc.NewMessage("/status")
	reply.Append(int32(r.store.Len()))
	for _, label := range deck.Labels {
		d := r.decks[label]
		reply.Append(label)
		reply.Append(d.State().String())
		reply.Append(float32(r.weights.Get(label)))
	}
	if r.replyClient == nil {
		log.Printf("oscrouter: /get_status: buffers=%d", r.store.Len())
		return
	}
	if err := r.replyClient.Send(reply); err != nil {
		log.Printf("oscrouter: /get_status reply failed: %v", err)
	}
}

func (r *Router) validDeck(label string) bool {
	_, ok := r.decks[label]
	return ok
}

// autoID assigns a buffer id when /cue is called without an explicit one:
// 100000 + 1000*deck index + a counter shared by all decks. The 100000
// offset keeps auto-assigned ids clear of small client-supplied explicit
// ids.
func (r *Router) autoID(label string) int {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	r.nextAuto++
	return 100000 + 1000*indexOfLabel(label) + r.nextAuto
}

func indexOfLabel(label string) int {
	for i, l := range deck.Labels {
		if l == label {
			return i
		}
	}
	return 0
}

func argInt(msg *osc.Message, i int) (int, bool) {
	if i >= len(msg.Arguments) {
		return 0, false
	}
	switch v := msg.Arguments[i].(type) {
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float32:
		return int(v), true
	default:
		return 0, false
	}
}

func argFloat64(msg *osc.Message, i int) (float64, bool) {
	if i >= len(msg.Arguments) {
		return 0, false
	}
	switch v := msg.Arguments[i].(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}

func argString(msg *osc.Message, i int) (string, bool) {
	if i >= len(msg.Arguments) {
		return "", false
	}
	v, ok := msg.Arguments[i].(string)
	return v, ok
}
