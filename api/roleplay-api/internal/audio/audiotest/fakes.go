// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package audiotest provides in-memory audio devices that invoke their
// callbacks synchronously, for exercising the engine without hardware.
package audiotest

import (
	"context"
	"sync"
	"time"

	internal_type "github.com/rapidaai/roleplay/api/roleplay-api/internal/type"
)

// =============================================================================
// Microphone
// =============================================================================

type Track struct {
	mu      sync.Mutex
	stopped int
}

func (t *Track) Stop() {
	t.mu.Lock()
	t.stopped++
	t.mu.Unlock()
}

func (t *Track) Stopped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type Stream struct {
	Id    string
	Track *Track
}

func (s *Stream) ID() string                         { return s.Id }
func (s *Stream) Tracks() []internal_type.MediaTrack { return []internal_type.MediaTrack{s.Track} }

type Devices struct {
	mu      sync.Mutex
	Err     error
	streams []*Stream
}

func (d *Devices) GetUserMedia(ctx context.Context) (internal_type.MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	s := &Stream{Id: "stream", Track: &Track{}}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *Devices) SetErr(err error) {
	d.mu.Lock()
	d.Err = err
	d.mu.Unlock()
}

func (d *Devices) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
}

// =============================================================================
// Recorder
// =============================================================================

type Recorder struct {
	mu       sync.Mutex
	mime     string
	chunks   [][]byte
	onData   func([]byte)
	onStop   func()
	started  bool
	stopped  bool
	StopErr  error
	StartErr error
}

func (r *Recorder) MimeType() string { return r.mime }

func (r *Recorder) SetHandlers(onData func([]byte), onStop func()) {
	r.mu.Lock()
	r.onData, r.onStop = onData, onStop
	r.mu.Unlock()
}

func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return r.StartErr
	}
	r.started = true
	return nil
}

// Stop flushes the scripted chunks and fires onStop synchronously.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.StopErr != nil {
		r.mu.Unlock()
		return r.StopErr
	}
	r.stopped = true
	chunks, onData, onStop := r.chunks, r.onData, r.onStop
	r.mu.Unlock()
	for _, c := range chunks {
		if onData != nil {
			onData(c)
		}
	}
	if onStop != nil {
		onStop()
	}
	return nil
}

func (r *Recorder) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

type RecorderRuntime struct {
	mu          sync.Mutex
	Supported   map[string]bool
	DefaultMime string
	// Chunks handed to the next recorder, consumed once.
	Chunks    [][]byte
	recorders []*Recorder
	requested []string
}

func (rt *RecorderRuntime) IsTypeSupported(mimeType string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.Supported[mimeType]
}

func (rt *RecorderRuntime) NewRecorder(stream internal_type.MediaStream, mimeType string) (internal_type.MediaRecorder, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.requested = append(rt.requested, mimeType)
	mime := mimeType
	if mime == "" {
		mime = rt.DefaultMime
	}
	r := &Recorder{mime: mime, chunks: rt.Chunks}
	rt.Chunks = nil
	rt.recorders = append(rt.recorders, r)
	return r, nil
}

func (rt *RecorderRuntime) SetChunks(chunks ...[]byte) {
	rt.mu.Lock()
	rt.Chunks = chunks
	rt.mu.Unlock()
}

func (rt *RecorderRuntime) Recorders() []*Recorder {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]*Recorder(nil), rt.recorders...)
}

func (rt *RecorderRuntime) Requested() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]string(nil), rt.requested...)
}

// =============================================================================
// Playback
// =============================================================================

type Element struct {
	mu        sync.Mutex
	loads     []internal_type.Blob
	playCalls int
	// PlayErrs are returned by successive Play calls; nil entries succeed.
	PlayErrs []error
	// AutoEnd fires onEnded from inside Play, mimicking an instant clip.
	AutoEnd bool
	reject  int
	paused  int
	rewinds int
	volume  float64
	onEnded func()
	onError func(error)
	playing bool
}

func (e *Element) Load(audio internal_type.Blob) error {
	e.mu.Lock()
	e.loads = append(e.loads, audio)
	e.mu.Unlock()
	return nil
}

func (e *Element) Play(ctx context.Context) error {
	e.mu.Lock()
	idx := e.playCalls
	e.playCalls++
	var err error
	if idx < len(e.PlayErrs) {
		err = e.PlayErrs[idx]
	}
	if e.reject > 0 {
		e.reject--
		err = internal_type.ErrPlaybackRejected
	}
	if err == nil {
		e.playing = true
	}
	autoEnd, onEnded := e.AutoEnd, e.onEnded
	e.mu.Unlock()
	if err == nil && autoEnd && onEnded != nil {
		e.End()
	}
	return err
}

func (e *Element) Pause() {
	e.mu.Lock()
	e.paused++
	e.playing = false
	e.mu.Unlock()
}

func (e *Element) Rewind() {
	e.mu.Lock()
	e.rewinds++
	e.mu.Unlock()
}

func (e *Element) SetVolume(v float64) {
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
}

func (e *Element) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *Element) SetHandlers(onEnded func(), onError func(error)) {
	e.mu.Lock()
	e.onEnded, e.onError = onEnded, onError
	e.mu.Unlock()
}

// RejectNext makes the next n Play calls fail.
func (e *Element) RejectNext(n int) {
	e.mu.Lock()
	e.reject = n
	e.mu.Unlock()
}

// End simulates the natural end of playback.
func (e *Element) End() {
	e.mu.Lock()
	e.playing = false
	fn := e.onEnded
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Fail simulates a decode or output error during playback.
func (e *Element) Fail(err error) {
	e.mu.Lock()
	e.playing = false
	fn := e.onError
	e.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (e *Element) PlayCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playCalls
}

func (e *Element) Loads() []internal_type.Blob {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]internal_type.Blob(nil), e.loads...)
}

func (e *Element) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *Element) Paused() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Element) Rewinds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rewinds
}

type Analyser struct {
	mu   sync.Mutex
	Bins []byte
}

func (a *Analyser) FrequencyBinCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Bins)
}

func (a *Analyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	copy(dst, a.Bins)
}

func (a *Analyser) SetLevel(v byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.Bins {
		a.Bins[i] = v
	}
}

type Source struct {
	mu        sync.Mutex
	Element   internal_type.PlaybackElement
	connected int
}

func (s *Source) Connect(internal_type.Analyser) error {
	s.mu.Lock()
	s.connected++
	s.mu.Unlock()
	return nil
}

func (s *Source) Disconnect() {}

type Context struct {
	mu        sync.Mutex
	state     internal_type.AudioContextState
	resumes   int
	analysers []*Analyser
	sources   []*Source
	connected map[internal_type.PlaybackElement]bool
}

func NewContext(state internal_type.AudioContextState) *Context {
	return &Context{state: state, connected: map[internal_type.PlaybackElement]bool{}}
}

func (c *Context) State() internal_type.AudioContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Context) Resume(ctx context.Context) error {
	c.mu.Lock()
	c.resumes++
	c.state = internal_type.AudioContextRunning
	c.mu.Unlock()
	return nil
}

func (c *Context) Close() error {
	c.mu.Lock()
	c.state = internal_type.AudioContextClosed
	c.mu.Unlock()
	return nil
}

func (c *Context) CreateAnalyser() (internal_type.Analyser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := &Analyser{Bins: make([]byte, 64)}
	c.analysers = append(c.analysers, a)
	return a, nil
}

// CreateMediaElementSource fails like the browser when el already has a node.
func (c *Context) CreateMediaElementSource(el internal_type.PlaybackElement) (internal_type.SourceNode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected[el] {
		return nil, internal_type.ErrSourceAlreadyConnected
	}
	c.connected[el] = true
	s := &Source{Element: el}
	c.sources = append(c.sources, s)
	return s, nil
}

func (c *Context) Resumes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumes
}

func (c *Context) Sources() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sources)
}

func (c *Context) Analysers() []*Analyser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Analyser(nil), c.analysers...)
}

type Runtime struct {
	mu           sync.Mutex
	InitialState internal_type.AudioContextState
	// ElementTemplate configures every element the runtime creates.
	AutoEnd  bool
	PlayErrs []error
	contexts []*Context
	elements []*Element
}

func (r *Runtime) NewAudioContext() (internal_type.AudioContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.InitialState
	if state == "" {
		state = internal_type.AudioContextSuspended
	}
	c := NewContext(state)
	r.contexts = append(r.contexts, c)
	return c, nil
}

func (r *Runtime) NewPlaybackElement() (internal_type.PlaybackElement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &Element{AutoEnd: r.AutoEnd, PlayErrs: r.PlayErrs, volume: 1}
	r.elements = append(r.elements, e)
	return e, nil
}

func (r *Runtime) Contexts() []*Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Context(nil), r.contexts...)
}

func (r *Runtime) Elements() []*Element {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Element(nil), r.elements...)
}

// =============================================================================
// Frames
// =============================================================================

// Scheduler queues frame callbacks until Tick runs them.
type Scheduler struct {
	mu      sync.Mutex
	next    internal_type.FrameID
	pending map[internal_type.FrameID]func(time.Time)
}

func NewScheduler() *Scheduler {
	return &Scheduler{pending: map[internal_type.FrameID]func(time.Time){}}
}

func (s *Scheduler) RequestFrame(fn func(time.Time)) internal_type.FrameID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.pending[s.next] = fn
	return s.next
}

func (s *Scheduler) CancelFrame(id internal_type.FrameID) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Tick runs every callback queued before the call.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	fns := s.pending
	s.pending = map[internal_type.FrameID]func(time.Time){}
	s.mu.Unlock()
	now := time.Now()
	for _, fn := range fns {
		fn(now)
	}
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
