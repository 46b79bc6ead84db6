// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	internal_type "github.com/rapidaai/roleplay/api/roleplay-api/internal/type"
	"github.com/rapidaai/roleplay/pkg/commons"
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("microphone unavailable")
	ErrMicrophoneBusy    = errors.New("microphone already in use")
	ErrHandleReleased    = errors.New("microphone handle already released")
)

const (
	// unlockVolume keeps the priming clip inaudible.
	unlockVolume  = 0.01
	audibleVolume = 1.0
)

// MicrophoneHandle is the exclusive right to the session microphone. It is
// issued by AcquireMicrophone and becomes useless after ReleaseMicrophone.
type MicrophoneHandle struct {
	id         string
	stream     internal_type.MediaStream
	acquiredAt time.Time
	released   bool
}

func (h *MicrophoneHandle) ID() string                        { return h.id }
func (h *MicrophoneHandle) Stream() internal_type.MediaStream { return h.stream }

// ResourceManager owns the microphone stream, the audio graph (context,
// analyser, per-element source nodes) and the single playback element of a
// session. Every accessor is safe for concurrent use.
type ResourceManager struct {
	logger  commons.Logger
	devices internal_type.MediaDevices
	runtime internal_type.AudioRuntime

	mu        sync.Mutex
	mic       *MicrophoneHandle
	acquiring bool
	element   internal_type.PlaybackElement
	audioCtx  internal_type.AudioContext
	analyser  internal_type.Analyser
	sources   map[internal_type.PlaybackElement]internal_type.SourceNode
	clip      internal_type.Blob
}

func NewResourceManager(logger commons.Logger, devices internal_type.MediaDevices, runtime internal_type.AudioRuntime) *ResourceManager {
	return &ResourceManager{
		logger:  logger,
		devices: devices,
		runtime: runtime,
		sources: make(map[internal_type.PlaybackElement]internal_type.SourceNode),
		clip:    internal_type.Blob{Data: SilentClip(), MimeType: MimeTypeWAV},
	}
}

// =============================================================================
// Playback unlock
// =============================================================================

// UnlockPlayback primes the shared element and context from inside a user
// gesture. It creates them on first use, resumes a suspended context and
// plays a near-silent clip. Errors are logged only: some platforms never
// need unlocking.
func (m *ResourceManager) UnlockPlayback(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, err := m.elementLocked()
	if err != nil {
		m.logger.Warnf("audio-unlock: unable to create playback element: %v", err)
		return
	}
	if ac, err := m.contextLocked(); err != nil {
		m.logger.Warnf("audio-unlock: unable to create audio context: %v", err)
	} else if ac.State() == internal_type.AudioContextSuspended {
		if err := ac.Resume(ctx); err != nil {
			m.logger.Warnf("audio-unlock: unable to resume audio context: %v", err)
		}
	}

	el.SetHandlers(nil, nil)
	el.SetVolume(unlockVolume)
	if err := el.Load(m.clip); err != nil {
		m.logger.Warnf("audio-unlock: unable to load priming clip: %v", err)
	} else if err := el.Play(ctx); err != nil {
		m.logger.Debugf("audio-unlock: priming play rejected, continuing: %v", err)
	}
	el.SetVolume(audibleVolume)
}

// PlaybackElement returns the shared element, creating it when needed.
func (m *ResourceManager) PlaybackElement() (internal_type.PlaybackElement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elementLocked()
}

func (m *ResourceManager) elementLocked() (internal_type.PlaybackElement, error) {
	if m.element != nil {
		return m.element, nil
	}
	el, err := m.runtime.NewPlaybackElement()
	if err != nil {
		return nil, err
	}
	m.element = el
	return el, nil
}

func (m *ResourceManager) contextLocked() (internal_type.AudioContext, error) {
	if m.audioCtx != nil && m.audioCtx.State() != internal_type.AudioContextClosed {
		return m.audioCtx, nil
	}
	ac, err := m.runtime.NewAudioContext()
	if err != nil {
		return nil, err
	}
	m.audioCtx = ac
	m.analyser = nil
	m.sources = make(map[internal_type.PlaybackElement]internal_type.SourceNode)
	return ac, nil
}

// =============================================================================
// Visualizer graph
// =============================================================================

// AttachVisualizer connects el to the shared analyser. The analyser is
// created once; a source node is created once per element and reused on
// every later call for the same element.
func (m *ResourceManager) AttachVisualizer(el internal_type.PlaybackElement) (internal_type.Analyser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ac, err := m.contextLocked()
	if err != nil {
		return nil, fmt.Errorf("unable to create audio context: %w", err)
	}
	if m.analyser == nil {
		analyser, err := ac.CreateAnalyser()
		if err != nil {
			return nil, fmt.Errorf("unable to create analyser: %w", err)
		}
		m.analyser = analyser
	}
	if _, ok := m.sources[el]; ok {
		return m.analyser, nil
	}

	source, err := ac.CreateMediaElementSource(el)
	if errors.Is(err, internal_type.ErrSourceAlreadyConnected) {
		m.logger.Debugf("audio-graph: element already connected, reusing existing graph")
		return m.analyser, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to create media element source: %w", err)
	}
	if err := source.Connect(m.analyser); err != nil {
		return nil, fmt.Errorf("unable to connect source to analyser: %w", err)
	}
	m.sources[el] = source
	return m.analyser, nil
}

// =============================================================================
// Microphone
// =============================================================================

// AcquireMicrophone opens the microphone for exactly one owner. While a
// handle is outstanding every other call fails with ErrMicrophoneBusy.
func (m *ResourceManager) AcquireMicrophone(ctx context.Context) (*MicrophoneHandle, error) {
	m.mu.Lock()
	if m.mic != nil || m.acquiring {
		m.mu.Unlock()
		return nil, ErrMicrophoneBusy
	}
	m.acquiring = true
	m.mu.Unlock()

	stream, err := m.devices.GetUserMedia(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquiring = false
	if err != nil {
		return nil, classifyDeviceError(err)
	}
	if ctx.Err() != nil {
		stopTracks(stream)
		return nil, ctx.Err()
	}
	m.mic = &MicrophoneHandle{id: uuid.NewString(), stream: stream, acquiredAt: time.Now()}
	m.logger.Debugf("audio-mic: acquired microphone handle=%s stream=%s", m.mic.id, stream.ID())
	return m.mic, nil
}

// ReleaseMicrophone stops every track of h and frees the microphone.
func (m *ResourceManager) ReleaseMicrophone(h *MicrophoneHandle) error {
	if h == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(h)
}

func (m *ResourceManager) releaseLocked(h *MicrophoneHandle) error {
	if h.released || m.mic != h {
		return ErrHandleReleased
	}
	stopTracks(h.stream)
	h.released = true
	m.mic = nil
	m.logger.Debugf("audio-mic: released microphone handle=%s held=%s", h.id, time.Since(h.acquiredAt))
	return nil
}

// WithMicrophone runs fn while holding the microphone. The handle is
// released on every exit path, panics included.
func (m *ResourceManager) WithMicrophone(ctx context.Context, fn func(ctx context.Context, stream internal_type.MediaStream) error) error {
	h, err := m.AcquireMicrophone(ctx)
	if err != nil {
		return err
	}
	defer m.ReleaseMicrophone(h)
	return fn(ctx, h.stream)
}

// MicrophoneHeld reports whether a handle is outstanding.
func (m *ResourceManager) MicrophoneHeld() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mic != nil
}

// =============================================================================
// Teardown
// =============================================================================

// Reset releases everything the manager owns. The next session starts from
// a fresh element and context.
func (m *ResourceManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mic != nil {
		_ = m.releaseLocked(m.mic)
	}
	if m.element != nil {
		m.element.SetHandlers(nil, nil)
		m.element.Pause()
		m.element = nil
	}
	for _, source := range m.sources {
		source.Disconnect()
	}
	m.sources = make(map[internal_type.PlaybackElement]internal_type.SourceNode)
	m.analyser = nil
	if m.audioCtx != nil {
		if err := m.audioCtx.Close(); err != nil {
			m.logger.Warnf("audio-reset: unable to close audio context: %v", err)
		}
		m.audioCtx = nil
	}
}

func stopTracks(stream internal_type.MediaStream) {
	if stream == nil {
		return
	}
	for _, track := range stream.Tracks() {
		track.Stop()
	}
}

func classifyDeviceError(err error) error {
	switch {
	case errors.Is(err, internal_type.ErrDevicePermissionDenied):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}
