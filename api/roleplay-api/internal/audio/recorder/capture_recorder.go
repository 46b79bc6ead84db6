// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	internal_audio "github.com/rapidaai/roleplay/api/roleplay-api/internal/audio"
	internal_type "github.com/rapidaai/roleplay/api/roleplay-api/internal/type"
	"github.com/rapidaai/roleplay/pkg/commons"
)

type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
	StateFinished  State = "finished"
	StateEmpty     State = "empty"
	StateFailed    State = "failed"
)

var (
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
	ErrNotRecording          = errors.New("recorder is not recording")
	ErrAlreadyStarted        = errors.New("recorder already started")
)

// Capture is the result of one recording attempt.
type Capture struct {
	Audio internal_type.Blob
	// RequestedMimeType is what was asked of the runtime; Audio.MimeType is
	// what it actually produced.
	RequestedMimeType string
	Chunks            int
	Duration          time.Duration
}

// Empty reports a recording in which nothing was captured.
func (c *Capture) Empty() bool { return c == nil || c.Audio.Size() == 0 }

// CaptureRecorder wraps one recording attempt: it owns the microphone from
// Start until Stop or Abort and assembles the captured chunks into one blob.
// A recorder is single use.
type CaptureRecorder struct {
	logger      commons.Logger
	resources   *internal_audio.ResourceManager
	runtime     internal_type.RecorderRuntime
	preferences []string

	mu        sync.Mutex
	state     State
	handle    *internal_audio.MicrophoneHandle
	recorder  internal_type.MediaRecorder
	requested string
	chunks    [][]byte
	startedAt time.Time
	flushed   chan struct{}
	aborted   bool
}

func NewCaptureRecorder(logger commons.Logger, resources *internal_audio.ResourceManager, runtime internal_type.RecorderRuntime, preferences []string) *CaptureRecorder {
	return &CaptureRecorder{
		logger:      logger,
		resources:   resources,
		runtime:     runtime,
		preferences: preferences,
		state:       StateIdle,
		flushed:     make(chan struct{}),
	}
}

// SelectMimeType returns the first preference the runtime supports, or ""
// to let the runtime choose.
func SelectMimeType(runtime internal_type.RecorderRuntime, preferences []string) string {
	for _, mime := range preferences {
		if runtime.IsTypeSupported(mime) {
			return mime
		}
	}
	return ""
}

func (r *CaptureRecorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start acquires the microphone and begins capturing.
func (r *CaptureRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.state = StateRecording
	r.mu.Unlock()

	handle, err := r.resources.AcquireMicrophone(ctx)
	if err != nil {
		r.fail()
		return fmt.Errorf("%w: %w", ErrMicrophoneUnavailable, err)
	}

	mime := SelectMimeType(r.runtime, r.preferences)
	if mime == "" {
		r.logger.Warnf("recorder: none of %v supported, using runtime default", r.preferences)
	}
	recorder, err := r.runtime.NewRecorder(handle.Stream(), mime)
	if err != nil {
		_ = r.resources.ReleaseMicrophone(handle)
		r.fail()
		return fmt.Errorf("unable to create media recorder: %w", err)
	}
	recorder.SetHandlers(r.onData, r.onStop)

	r.mu.Lock()
	if r.aborted {
		r.mu.Unlock()
		_ = r.resources.ReleaseMicrophone(handle)
		return context.Canceled
	}
	r.handle = handle
	r.recorder = recorder
	r.requested = mime
	r.startedAt = time.Now()
	r.mu.Unlock()

	if err := recorder.Start(); err != nil {
		_ = r.resources.ReleaseMicrophone(handle)
		r.fail()
		return fmt.Errorf("unable to start media recorder: %w", err)
	}
	r.logger.Debugf("recorder: started mime=%q negotiated=%q", mime, recorder.MimeType())
	return nil
}

func (r *CaptureRecorder) fail() {
	r.mu.Lock()
	r.state = StateFailed
	r.mu.Unlock()
}

func (r *CaptureRecorder) onData(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted || (r.state != StateRecording && r.state != StateStopping) {
		return
	}
	r.chunks = append(r.chunks, append([]byte(nil), chunk...))
}

func (r *CaptureRecorder) onStop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.flushed:
	default:
		close(r.flushed)
	}
}

// Stop ends the recording, waits for the recorder to flush and returns the
// assembled capture. Zero captured chunks yield an empty capture, not an
// error. The microphone is released on every path.
func (r *CaptureRecorder) Stop(ctx context.Context) (*Capture, error) {
	r.mu.Lock()
	if r.state != StateRecording || r.recorder == nil {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.state = StateStopping
	recorder, handle := r.recorder, r.handle
	r.mu.Unlock()
	defer r.resources.ReleaseMicrophone(handle)

	if err := recorder.Stop(); err != nil {
		r.fail()
		return nil, fmt.Errorf("unable to stop media recorder: %w", err)
	}
	select {
	case <-r.flushed:
	case <-ctx.Done():
		r.fail()
		return nil, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	capture := &Capture{
		RequestedMimeType: r.requested,
		Chunks:            len(r.chunks),
		Duration:          time.Since(r.startedAt),
		Audio:             internal_type.Blob{MimeType: recorder.MimeType()},
	}
	if len(r.chunks) == 0 {
		r.state = StateEmpty
		r.logger.Debugf("recorder: stopped with no audio after %s", capture.Duration)
		return capture, nil
	}
	capture.Audio.Data = bytes.Join(r.chunks, nil)
	r.chunks = nil
	r.state = StateFinished
	r.logger.Debugf("recorder: captured %d bytes in %d chunks mime=%q", capture.Audio.Size(), capture.Chunks, capture.Audio.MimeType)
	return capture, nil
}

// Abort stops recording and discards whatever was captured.
func (r *CaptureRecorder) Abort() {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return
	}
	r.aborted = true
	r.chunks = nil
	r.state = StateEmpty
	recorder, handle := r.recorder, r.handle
	r.mu.Unlock()

	if recorder != nil {
		if err := recorder.Stop(); err != nil {
			r.logger.Warnf("recorder: stop during abort failed: %v", err)
		}
	}
	_ = r.resources.ReleaseMicrophone(handle)
}
