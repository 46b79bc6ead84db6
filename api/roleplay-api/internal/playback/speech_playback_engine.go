// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	internal_audio "github.com/rapidaai/roleplay/api/roleplay-api/internal/audio"
	internal_type "github.com/rapidaai/roleplay/api/roleplay-api/internal/type"
	roleplay_client "github.com/rapidaai/roleplay/pkg/clients/roleplay"
	"github.com/rapidaai/roleplay/pkg/commons"
)

type State string

const (
	StateIdle         State = "idle"
	StateSynthesizing State = "synthesizing"
	StatePlaying      State = "playing"
	StateFailed       State = "failed"
)

var (
	ErrSynthesisFailed = errors.New("speech synthesis failed")
	ErrPlaybackFailed  = errors.New("playback failed")
	ErrPlaybackStopped = errors.New("playback stopped")
	ErrAlreadySpeaking = errors.New("already speaking")
)

// Outcome tells the caller what to do once a reply is over.
type Outcome struct {
	// Terminate asks the caller to end the session. It is set for a final
	// reply whether or not the reply could actually be heard.
	Terminate bool
	// Played is set when the reply was heard to its end.
	Played bool
}

// Synthesizer is the slice of the collaborator client the engine needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, sessionId, text string) (*roleplay_client.SynthesizedAudio, error)
}

// Engine synthesizes agent replies and plays them on the session's shared
// playback element, driving the visualizer while audio plays.
type Engine struct {
	logger     commons.Logger
	synth      Synthesizer
	resources  *internal_audio.ResourceManager
	visualizer *Visualizer
	policy     RetryPolicy
	sessionId  string

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	onState func(State)
}

func NewEngine(logger commons.Logger, synth Synthesizer, resources *internal_audio.ResourceManager, visualizer *Visualizer, sessionId string, policy RetryPolicy) *Engine {
	return &Engine{
		logger:     logger,
		synth:      synth,
		resources:  resources,
		visualizer: visualizer,
		policy:     policy,
		sessionId:  sessionId,
		state:      StateIdle,
	}
}

// OnStateChange registers fn to observe every transition.
func (e *Engine) OnStateChange(fn func(State)) {
	e.mu.Lock()
	e.onState = fn
	e.mu.Unlock()
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	fn := e.onState
	e.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Speak synthesizes text and plays it, blocking until playback ends, fails,
// is stopped or ctx is done.
func (e *Engine) Speak(ctx context.Context, text string, final bool) (Outcome, error) {
	e.mu.Lock()
	if e.state == StateSynthesizing || e.state == StatePlaying {
		e.mu.Unlock()
		return Outcome{}, ErrAlreadySpeaking
	}
	speakCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	e.setState(StateSynthesizing)
	audio, err := e.synth.Synthesize(speakCtx, e.sessionId, text)
	if speakCtx.Err() != nil {
		return e.interrupted(ctx)
	}
	if err != nil {
		e.logger.Errorf("playback: synthesis failed for session %s: %v", e.sessionId, err)
		return e.fail(final, fmt.Errorf("%w: %w", ErrSynthesisFailed, err))
	}

	el, err := e.resources.PlaybackElement()
	if err != nil {
		return e.fail(final, fmt.Errorf("%w: %w", ErrPlaybackFailed, err))
	}
	el.Pause()
	el.Rewind()
	if err := el.Load(internal_type.Blob{Data: audio.Data, MimeType: audio.ContentType}); err != nil {
		return e.fail(final, fmt.Errorf("%w: unable to load audio: %w", ErrPlaybackFailed, err))
	}
	analyser, err := e.resources.AttachVisualizer(el)
	if err != nil {
		e.logger.Warnf("playback: visualizer unavailable, playing without it: %v", err)
	}

	done := make(chan error, 1)
	report := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	el.SetHandlers(func() { report(nil) }, func(err error) { report(err) })
	defer el.SetHandlers(nil, nil)

	err = e.policy.Do(speakCtx, func(ctx context.Context, attempt int) error {
		if err := el.Play(ctx); err != nil {
			e.logger.Warnf("playback: play attempt %d/%d rejected: %v", attempt, e.policy.Attempts, err)
			return err
		}
		return nil
	})
	if speakCtx.Err() != nil {
		el.Pause()
		return e.interrupted(ctx)
	}
	if err != nil {
		return e.fail(final, fmt.Errorf("%w: %w", ErrPlaybackFailed, err))
	}

	e.setState(StatePlaying)
	started := time.Now()
	if analyser != nil {
		e.visualizer.Start(analyser)
	}
	defer e.visualizer.Stop()

	select {
	case err := <-done:
		if err != nil {
			e.logger.Errorf("playback: error after %s: %v", time.Since(started), err)
			return e.fail(final, fmt.Errorf("%w: %w", ErrPlaybackFailed, err))
		}
		e.logger.Debugf("playback: reply finished after %s final=%t", time.Since(started), final)
		e.setState(StateIdle)
		return Outcome{Terminate: final, Played: true}, nil
	case <-speakCtx.Done():
		el.Pause()
		return e.interrupted(ctx)
	}
}

// interrupted distinguishes Stop from the caller's own cancellation.
func (e *Engine) interrupted(ctx context.Context) (Outcome, error) {
	e.setState(StateIdle)
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, ErrPlaybackStopped
}

// fail passes through Failed back to Idle; a final reply still terminates.
func (e *Engine) fail(final bool, err error) (Outcome, error) {
	e.setState(StateFailed)
	e.setState(StateIdle)
	return Outcome{Terminate: final}, err
}

// Stop interrupts Speak, if running, and silences the visualizer.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.visualizer.Stop()
}
