// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_device

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	internal_audio "github.com/rapidaai/roleplay/api/roleplay-api/internal/audio"
	internal_type "github.com/rapidaai/roleplay/api/roleplay-api/internal/type"
	"github.com/rapidaai/roleplay/pkg/commons"
)

const (
	analyserBins = 128
	// fallbackBytesPerSecond paces compressed clips whose length can't be decoded.
	fallbackBytesPerSecond = 16000
)

// FileSpeaker is the audio runtime of a headless host: playback elements
// write each played clip to the output directory and report completion
// after the clip's duration; analysers read the energy of the clip at the
// current playback position.
type FileSpeaker struct {
	logger commons.Logger
	dir    string
	seq    atomic.Uint64
}

func NewFileSpeaker(logger commons.Logger, dir string) (*FileSpeaker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create playback directory: %w", err)
	}
	return &FileSpeaker{logger: logger, dir: dir}, nil
}

func (s *FileSpeaker) NewAudioContext() (internal_type.AudioContext, error) {
	return &energyContext{state: internal_type.AudioContextSuspended, connected: map[internal_type.PlaybackElement]bool{}}, nil
}

func (s *FileSpeaker) NewPlaybackElement() (internal_type.PlaybackElement, error) {
	return &fileElement{speaker: s, volume: 1}, nil
}

func (s *FileSpeaker) nextPath(mime string) string {
	return filepath.Join(s.dir, fmt.Sprintf("reply-%04d.%s", s.seq.Add(1), extensionForMime(mime)))
}

func extensionForMime(mime string) string {
	base, _, _ := strings.Cut(strings.ToLower(mime), ";")
	switch strings.TrimSpace(base) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/webm":
		return "webm"
	case "audio/ogg":
		return "ogg"
	case "audio/mp4", "audio/aac":
		return "m4a"
	case "audio/flac":
		return "flac"
	}
	return "bin"
}

// =============================================================================
// Playback element
// =============================================================================

type fileElement struct {
	speaker *FileSpeaker

	mu       sync.Mutex
	clip     internal_type.Blob
	pcm      []byte
	format   internal_audio.WAVFormat
	duration time.Duration
	offset   time.Duration
	started  time.Time
	playing  bool
	volume   float64
	timer    *time.Timer
	onEnded  func()
	onError  func(error)
}

func (e *fileElement) Load(audio internal_type.Blob) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	e.clip = audio
	e.offset = 0
	e.pcm = nil
	if format, pcm, err := internal_audio.DecodeWAV(audio.Data); err == nil {
		e.format, e.pcm = format, pcm
		e.duration = format.Duration(len(pcm))
		return nil
	}
	e.duration = time.Duration(float64(audio.Size()) / fallbackBytesPerSecond * float64(time.Second))
	return nil
}

func (e *fileElement) Play(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.clip.Size() == 0 {
		return fmt.Errorf("%w: nothing loaded", internal_type.ErrPlaybackRejected)
	}
	if e.playing {
		return nil
	}
	// Near-silent clips (the unlock primer) are played but not kept.
	if e.offset == 0 && e.volume > 0.5 {
		path := e.speaker.nextPath(e.clip.MimeType)
		if err := os.WriteFile(path, e.clip.Data, 0o644); err != nil {
			return fmt.Errorf("%w: %v", internal_type.ErrPlaybackRejected, err)
		}
		e.speaker.logger.Debugf("speaker: playing %s (%s)", filepath.Base(path), e.duration)
	}
	e.playing = true
	e.started = time.Now()
	remaining := e.duration - e.offset
	if remaining < 0 {
		remaining = 0
	}
	e.timer = time.AfterFunc(remaining, e.finish)
	return nil
}

func (e *fileElement) finish() {
	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return
	}
	e.playing = false
	e.offset = e.duration
	e.timer = nil
	onEnded := e.onEnded
	e.mu.Unlock()
	if onEnded != nil {
		onEnded()
	}
}

func (e *fileElement) stopLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.playing {
		e.offset += time.Since(e.started)
		e.playing = false
	}
}

func (e *fileElement) Pause() {
	e.mu.Lock()
	e.stopLocked()
	e.mu.Unlock()
}

func (e *fileElement) Rewind() {
	e.mu.Lock()
	e.offset = 0
	if e.playing {
		e.started = time.Now()
	}
	e.mu.Unlock()
}

func (e *fileElement) SetVolume(volume float64) {
	e.mu.Lock()
	e.volume = volume
	e.mu.Unlock()
}

func (e *fileElement) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *fileElement) SetHandlers(onEnded func(), onError func(error)) {
	e.mu.Lock()
	e.onEnded, e.onError = onEnded, onError
	e.mu.Unlock()
}

// window copies the samples around the current playback position.
func (e *fileElement) window(samples int) []int16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playing || len(e.pcm) == 0 {
		return nil
	}
	pos := e.offset + time.Since(e.started)
	frame := int(e.format.Channels) * internal_audio.AudioBytesPerSample
	start := int(pos.Seconds()*float64(e.format.BytesPerSecond())) / frame * frame
	if start >= len(e.pcm) {
		return nil
	}
	end := start + samples*internal_audio.AudioBytesPerSample
	if end > len(e.pcm) {
		end = len(e.pcm)
	}
	out := make([]int16, (end-start)/internal_audio.AudioBytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(e.pcm[start+i*2:]))
	}
	return out
}

// =============================================================================
// Analysis graph
// =============================================================================

type energyContext struct {
	mu        sync.Mutex
	state     internal_type.AudioContextState
	connected map[internal_type.PlaybackElement]bool
}

func (c *energyContext) State() internal_type.AudioContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *energyContext) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == internal_type.AudioContextClosed {
		return fmt.Errorf("audio context closed")
	}
	c.state = internal_type.AudioContextRunning
	return nil
}

func (c *energyContext) Close() error {
	c.mu.Lock()
	c.state = internal_type.AudioContextClosed
	c.mu.Unlock()
	return nil
}

func (c *energyContext) CreateAnalyser() (internal_type.Analyser, error) {
	return &energyAnalyser{bins: analyserBins}, nil
}

func (c *energyContext) CreateMediaElementSource(el internal_type.PlaybackElement) (internal_type.SourceNode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected[el] {
		return nil, internal_type.ErrSourceAlreadyConnected
	}
	fe, ok := el.(*fileElement)
	if !ok {
		return nil, fmt.Errorf("speaker: element was not created by this runtime")
	}
	c.connected[el] = true
	return &elementSource{element: fe}, nil
}

type elementSource struct {
	element  *fileElement
	analyser *energyAnalyser
}

func (s *elementSource) Connect(analyser internal_type.Analyser) error {
	ea, ok := analyser.(*energyAnalyser)
	if !ok {
		return fmt.Errorf("speaker: analyser was not created by this runtime")
	}
	ea.attach(s.element)
	s.analyser = ea
	return nil
}

func (s *elementSource) Disconnect() {
	if s.analyser != nil {
		s.analyser.detach(s.element)
		s.analyser = nil
	}
}

// energyAnalyser approximates a spectrum by splitting the window at the
// playback position into equal segments and reporting each segment's RMS
// on a 0-255 scale.
type energyAnalyser struct {
	bins int

	mu     sync.Mutex
	source *fileElement
}

func (a *energyAnalyser) attach(el *fileElement) {
	a.mu.Lock()
	a.source = el
	a.mu.Unlock()
}

func (a *energyAnalyser) detach(el *fileElement) {
	a.mu.Lock()
	if a.source == el {
		a.source = nil
	}
	a.mu.Unlock()
}

func (a *energyAnalyser) FrequencyBinCount() int { return a.bins }

func (a *energyAnalyser) ByteFrequencyData(dst []byte) {
	for i := range dst {
		dst[i] = 0
	}
	a.mu.Lock()
	source := a.source
	a.mu.Unlock()
	if source == nil {
		return
	}
	samples := source.window(a.bins * 8)
	if len(samples) == 0 {
		return
	}
	per := len(samples) / a.bins
	if per == 0 {
		per = 1
	}
	for bin := 0; bin < len(dst) && bin*per < len(samples); bin++ {
		end := (bin + 1) * per
		if end > len(samples) {
			end = len(samples)
		}
		var sum float64
		for _, s := range samples[bin*per : end] {
			v := float64(s) / math.MaxInt16
			sum += v * v
		}
		rms := math.Sqrt(sum / float64(end-bin*per))
		dst[bin] = byte(math.Min(255, rms*255))
	}
}
