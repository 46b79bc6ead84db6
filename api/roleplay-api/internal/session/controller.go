// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	internal_audio "github.com/rapidaai/roleplay/api/roleplay-api/internal/audio"
	internal_recorder "github.com/rapidaai/roleplay/api/roleplay-api/internal/audio/recorder"
	internal_conversation "github.com/rapidaai/roleplay/api/roleplay-api/internal/conversation"
	internal_events "github.com/rapidaai/roleplay/api/roleplay-api/internal/events"
	internal_playback "github.com/rapidaai/roleplay/api/roleplay-api/internal/playback"
	internal_transcription "github.com/rapidaai/roleplay/api/roleplay-api/internal/transcription"
	internal_type "github.com/rapidaai/roleplay/api/roleplay-api/internal/type"
	"github.com/rapidaai/roleplay/config"
	roleplay_client "github.com/rapidaai/roleplay/pkg/clients/roleplay"
	"github.com/rapidaai/roleplay/pkg/commons"
	"github.com/rapidaai/roleplay/pkg/utils"
)

const (
	persistTimeout       = 30 * time.Second
	StatusRecordingError = "recording failed, try again"
)

// Options tune the conversation script and audio behaviour.
type Options struct {
	Conversation config.ConversationConfig
	Retry        internal_playback.RetryPolicy
	MimeTypes    []string
}

// Dependencies are the collaborators and devices the controller drives.
// Store and Events are optional.
type Dependencies struct {
	Client    roleplay_client.RoleplayServiceClient
	Resources *internal_audio.ResourceManager
	Recorders internal_type.RecorderRuntime
	Frames    internal_type.FrameScheduler
	Store     Store
	Events    internal_events.Publisher
}

// activeSession is everything scoped to one Start. Background steps hold
// on to it and drop their results once it is no longer the live session.
type activeSession struct {
	generation   uint64
	ctx          context.Context
	cancel       context.CancelFunc
	orchestrator *internal_conversation.Orchestrator
	engine       *internal_playback.Engine
}

// Controller owns the session state machine
// Form -> Roleplaying -> Evaluating -> Completed and wires recorder,
// transcription, conversation and playback together for each turn.
type Controller struct {
	logger     commons.Logger
	opts       Options
	deps       Dependencies
	validate   *validator.Validate
	journal    *journal
	bridge     *internal_transcription.Bridge
	visualizer *internal_playback.Visualizer
	amplitude  atomic.Uint64

	mu         sync.Mutex
	state      State
	phase      Phase
	status     string
	errText    string
	starting   bool
	evaluating bool
	generation uint64
	session    *Session
	active     *activeSession
	recorder   *internal_recorder.CaptureRecorder
	result     *Result
}

func NewController(logger commons.Logger, opts Options, deps Dependencies) *Controller {
	if deps.Events == nil {
		deps.Events = internal_events.Nop
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = internal_playback.DefaultRetryPolicy()
	}
	c := &Controller{
		logger:   logger,
		opts:     opts,
		deps:     deps,
		validate: validator.New(),
		journal:  newJournal(logger, deps.Store),
		bridge:   internal_transcription.NewBridge(logger, deps.Client),
		state:    StateForm,
	}
	c.visualizer = internal_playback.NewVisualizer(logger, deps.Frames, c.onAmplitude)
	return c
}

// =============================================================================
// Form -> Roleplaying
// =============================================================================

// Start validates the form, unlocks playback (callers invoke it from the
// user's submit gesture), creates the session with the collaborator and
// moves to Roleplaying. The opening line is fetched and spoken in the
// background.
func (c *Controller) Start(ctx context.Context, form Form) (*Session, error) {
	if err := c.validate.Struct(form); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidForm, err)
	}

	c.mu.Lock()
	if c.starting {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	if c.state == StateRoleplaying || c.state == StateEvaluating {
		c.mu.Unlock()
		return nil, ErrInvalidState
	}
	if c.state == StateCompleted {
		c.discardLocked()
	}
	c.starting = true
	c.setStatusLocked(StatusConnecting, "")
	c.mu.Unlock()

	c.deps.Resources.UnlockPlayback(ctx)

	sessionID := uuid.NewString()
	resp, err := c.deps.Client.StartSession(ctx, &roleplay_client.StartSessionRequest{
		Name:      form.Name,
		Email:     form.Email,
		SessionId: sessionID,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		c.logger.Errorf("session: start failed for %s: %v", form.Email, err)
		c.setStatusLocked("", StatusStartFailed)
		return nil, fmt.Errorf("unable to start session: %w", err)
	}

	c.generation++
	sctx, cancel := context.WithCancel(context.Background())
	a := &activeSession{
		generation:   c.generation,
		ctx:          sctx,
		cancel:       cancel,
		orchestrator: internal_conversation.NewOrchestrator(c.logger, c.deps.Client, sessionID, c.opts.Conversation),
		engine:       internal_playback.NewEngine(c.logger, c.deps.Client, c.deps.Resources, c.visualizer, sessionID, c.opts.Retry),
	}
	a.orchestrator.OnTurn(c.turnObserver(sessionID))
	c.active = a
	c.session = &Session{
		SessionID: sessionID,
		LeadID:    resp.LeadId,
		Name:      form.Name,
		Email:     form.Email,
		CreatedAt: time.Now(),
	}
	c.result = nil
	c.state = StateRoleplaying
	c.phase = PhaseProcessing
	c.setStatusLocked(StatusConnecting, "")
	c.logger.Infof("session: %s started lead=%s generation=%d", sessionID, resp.LeadId, a.generation)

	rec := &SessionRecord{SessionID: sessionID, LeadID: resp.LeadId, Name: form.Name, Email: form.Email, State: string(StateRoleplaying)}
	c.journal.submit(func(ctx context.Context, store Store) error { return store.Save(ctx, rec) })

	utils.Go(sctx, func() {
		reply := a.orchestrator.BeginConversation(sctx)
		if reply.Fallback {
			c.logger.Warnf("session: %s opening with fallback line", sessionID)
		}
		c.syncThread(a)
		c.speak(a, reply.Text, reply.Final)
	})

	s := *c.session
	return &s, nil
}

// =============================================================================
// Roleplaying loop
// =============================================================================

// ToggleRecording starts recording when the session is ready and stops it
// (handing the capture to the turn pipeline) when recording. Any other
// phase is ErrBusy.
func (c *Controller) ToggleRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRoleplaying {
		c.mu.Unlock()
		return ErrInvalidState
	}
	a := c.active
	switch c.phase {
	case PhaseIdle:
		rec := internal_recorder.NewCaptureRecorder(c.logger, c.deps.Resources, c.deps.Recorders, c.opts.MimeTypes)
		c.recorder = rec
		c.phase = PhaseRecording
		c.setStatusLocked(StatusRecording, "")
		c.mu.Unlock()

		c.deps.Resources.UnlockPlayback(ctx)
		if err := rec.Start(a.ctx); err != nil {
			c.logger.Warnf("session: unable to start recording: %v", err)
			c.mu.Lock()
			if c.active == a && c.recorder == rec {
				c.recorder = nil
				c.phase = PhaseIdle
				c.setStatusLocked(StatusReady, StatusMicrophone)
			}
			c.mu.Unlock()
			return err
		}
		return nil

	case PhaseRecording:
		rec := c.recorder
		if rec == nil {
			c.mu.Unlock()
			return ErrBusy
		}
		c.recorder = nil
		c.phase = PhaseProcessing
		c.setStatusLocked(StatusProcessing, "")
		c.mu.Unlock()
		utils.Go(a.ctx, func() { c.processTurn(a, rec) })
		return nil

	default:
		c.mu.Unlock()
		return ErrBusy
	}
}

// RetryExchange re-sends the utterance whose exchange failed.
func (c *Controller) RetryExchange(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRoleplaying {
		c.mu.Unlock()
		return ErrInvalidState
	}
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	a := c.active
	if _, ok := a.orchestrator.Pending(); !ok {
		c.mu.Unlock()
		return internal_conversation.ErrNothingPending
	}
	c.phase = PhaseProcessing
	c.setStatusLocked(StatusProcessing, "")
	c.mu.Unlock()

	utils.Go(a.ctx, func() { c.exchange(a, a.orchestrator.RetryPending) })
	return nil
}

func (c *Controller) processTurn(a *activeSession, rec *internal_recorder.CaptureRecorder) {
	capture, err := rec.Stop(a.ctx)
	if err != nil {
		rec.Abort()
		if a.ctx.Err() != nil {
			return
		}
		c.logger.Errorf("session: recording failed: %v", err)
		c.settle(a, StatusRecordingError)
		return
	}
	if capture.Empty() {
		c.logger.Infof("session: empty recording, nothing to transcribe")
		c.settle(a, StatusNoSpeech)
		return
	}

	text, err := c.bridge.Transcribe(a.ctx, capture.Audio)
	switch {
	case a.ctx.Err() != nil:
		return
	case errors.Is(err, internal_transcription.ErrNoSpeechDetected):
		c.settle(a, StatusNoSpeech)
		return
	case err != nil:
		c.settle(a, StatusTranscription)
		return
	}

	c.exchange(a, func(ctx context.Context) (internal_conversation.Reply, error) {
		return a.orchestrator.SendUtterance(ctx, text)
	})
}

func (c *Controller) exchange(a *activeSession, send func(ctx context.Context) (internal_conversation.Reply, error)) {
	reply, err := send(a.ctx)
	if !c.isLive(a) {
		return
	}
	if err != nil {
		if errors.Is(err, internal_conversation.ErrAgentExchangeFailed) {
			c.settle(a, StatusExchange)
			return
		}
		c.logger.Errorf("session: exchange rejected: %v", err)
		c.settle(a, StatusExchange)
		return
	}
	c.syncThread(a)
	c.speak(a, reply.Text, reply.Final)
}

func (c *Controller) speak(a *activeSession, text string, final bool) {
	c.mu.Lock()
	if !c.isLiveLocked(a) {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseSpeaking
	c.setStatusLocked(StatusSpeaking, "")
	c.mu.Unlock()

	outcome, err := a.engine.Speak(a.ctx, text, final)
	if !c.isLive(a) {
		return
	}
	if outcome.Terminate {
		c.logger.Infof("session: closing line done (played=%t), terminating", outcome.Played)
		if _, endErr := c.end(context.Background(), a); endErr != nil {
			c.logger.Warnf("session: automatic termination: %v", endErr)
		}
		return
	}
	if err != nil && !errors.Is(err, internal_playback.ErrPlaybackStopped) {
		c.settle(a, StatusSynthesis)
		return
	}
	c.settle(a, "")
}

// settle returns a live session to Idle with an optional error line.
func (c *Controller) settle(a *activeSession, errText string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isLiveLocked(a) {
		return
	}
	c.phase = PhaseIdle
	c.setStatusLocked(StatusReady, errText)
}

func (c *Controller) syncThread(a *activeSession) {
	thread := a.orchestrator.ThreadID()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != a || c.session == nil || thread == "" || c.session.AgentThreadID == thread {
		return
	}
	c.session.AgentThreadID = thread
	sessionID := c.session.SessionID
	c.journal.submit(func(ctx context.Context, store Store) error {
		return store.UpdateField(ctx, sessionID, "thread_id", thread)
	})
}

func (c *Controller) isLive(a *activeSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLiveLocked(a)
}

func (c *Controller) isLiveLocked(a *activeSession) bool {
	return c.active == a && c.state == StateRoleplaying && a.ctx.Err() == nil
}

// =============================================================================
// Roleplaying -> Evaluating -> Completed
// =============================================================================

// End stops any recording or playback, releases the audio devices and
// evaluates the transcript so far. On evaluation failure the session stays
// in Evaluating and End may be called again. Persisting the result is
// detached and never affects the outcome.
func (c *Controller) End(ctx context.Context) (*Result, error) {
	return c.end(ctx, nil)
}

func (c *Controller) end(ctx context.Context, from *activeSession) (*Result, error) {
	c.mu.Lock()
	if from != nil && (c.active != from || c.state != StateRoleplaying) {
		c.mu.Unlock()
		return nil, ErrInvalidState
	}
	switch c.state {
	case StateForm:
		c.mu.Unlock()
		return nil, ErrNoSession
	case StateCompleted:
		r := c.result
		c.mu.Unlock()
		return r, nil
	case StateEvaluating:
		if c.evaluating {
			c.mu.Unlock()
			return nil, ErrBusy
		}
	case StateRoleplaying:
		c.stopAudioLocked()
		c.state = StateEvaluating
		c.phase = PhaseNone
		sessionID := c.session.SessionID
		c.journal.submit(func(ctx context.Context, store Store) error {
			return store.Transition(ctx, sessionID, []State{StateRoleplaying}, StateEvaluating)
		})
	}
	c.evaluating = true
	c.setStatusLocked(StatusEvaluating, "")
	a := c.active
	session := *c.session
	turns := a.orchestrator.Transcript()
	c.mu.Unlock()

	transcription := internal_conversation.FormatTranscript(turns)
	c.logger.Infof("session: evaluating %s with %d turns", session.SessionID, len(turns))
	evaluation, err := c.deps.Client.Evaluate(ctx, &roleplay_client.EvaluateRequest{
		Transcription: transcription,
		SessionId:     session.SessionID,
		LeadId:        session.LeadID,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluating = false
	if c.active != a || c.state != StateEvaluating {
		return nil, ErrNoSession
	}
	if err != nil {
		c.logger.Errorf("session: evaluation of %s failed: %v", session.SessionID, err)
		c.setStatusLocked(StatusEvaluating, StatusEvaluateFailed)
		return nil, fmt.Errorf("%w: %w", ErrEvaluationFailed, err)
	}

	c.result = &Result{
		SessionID:     session.SessionID,
		LeadID:        session.LeadID,
		Transcription: transcription,
		Turns:         turns,
		Evaluation:    evaluation,
	}
	c.state = StateCompleted
	c.setStatusLocked(StatusCompleted, "")
	c.deps.Events.Publish(internal_events.Event{
		Type:      internal_events.EventEvaluation,
		SessionID: session.SessionID,
		State:     string(StateCompleted),
		Payload:   evaluation,
	})
	c.journal.submit(func(ctx context.Context, store Store) error {
		return store.Complete(ctx, session.SessionID, transcription, string(evaluation))
	})
	c.persist(*c.result)

	r := *c.result
	return &r, nil
}

// persist stores the result with the collaborator on a detached task.
func (c *Controller) persist(r Result) {
	utils.Go(context.Background(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		err := c.deps.Client.Persist(ctx, &roleplay_client.PersistRequest{
			LeadId:        r.LeadID,
			SessionId:     r.SessionID,
			Evaluation:    r.Evaluation,
			Transcription: r.Transcription,
		})
		if err != nil {
			c.logger.Warnf("session: persisting result of %s failed, ignoring: %v", r.SessionID, err)
			return
		}
		c.logger.Infof("session: result of %s persisted", r.SessionID)
	})
}

// =============================================================================
// Teardown
// =============================================================================

// stopAudioLocked abandons every in-flight step of the live session and
// releases the devices.
func (c *Controller) stopAudioLocked() {
	if c.recorder != nil {
		c.recorder.Abort()
		c.recorder = nil
	}
	if c.active != nil {
		c.active.cancel()
		c.active.engine.Stop()
	}
	c.visualizer.Stop()
	c.deps.Resources.Reset()
}

func (c *Controller) discardLocked() {
	c.active = nil
	c.session = nil
	c.result = nil
	c.state = StateForm
	c.phase = PhaseNone
	c.status = ""
	c.errText = ""
}

// Close tears the session down from any state, releasing microphone,
// playback element, visualizer and audio context.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && (c.state == StateRoleplaying || c.state == StateEvaluating) {
		sessionID := c.session.SessionID
		c.journal.submit(func(ctx context.Context, store Store) error {
			return store.Transition(ctx, sessionID, []State{StateRoleplaying, StateEvaluating}, StateAbandoned)
		})
		c.logger.Infof("session: %s abandoned in %s", sessionID, c.state)
	}
	c.stopAudioLocked()
	c.discardLocked()
	c.publishLocked()
}

// Shutdown closes the session and flushes the journal.
func (c *Controller) Shutdown() {
	c.Close()
	c.journal.close()
}

// =============================================================================
// Observation
// =============================================================================

func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		State:     c.state,
		Phase:     c.phase,
		Status:    c.status,
		Error:     c.errText,
		Amplitude: c.level(),
		CanRecord: c.state == StateRoleplaying && (c.phase == PhaseIdle || c.phase == PhaseRecording),
	}
	if c.session != nil {
		s := *c.session
		v.Session = &s
	}
	if c.active != nil {
		v.Transcript = c.active.orchestrator.Transcript()
		v.Pending, _ = c.active.orchestrator.Pending()
	}
	if c.result != nil {
		v.Evaluation = c.result.Evaluation
	}
	if v.Transcript == nil {
		v.Transcript = []internal_conversation.Turn{}
	}
	return v
}

func (c *Controller) setStatusLocked(status, errText string) {
	c.status = status
	c.errText = errText
	c.publishLocked()
}

func (c *Controller) publishLocked() {
	e := internal_events.Event{
		Type:   internal_events.EventState,
		State:  string(c.state),
		Phase:  string(c.phase),
		Status: c.status,
		Error:  c.errText,
	}
	if c.session != nil {
		e.SessionID = c.session.SessionID
	}
	c.deps.Events.Publish(e)
}

func (c *Controller) turnObserver(sessionID string) func(internal_conversation.Turn) {
	return func(turn internal_conversation.Turn) {
		c.deps.Events.Publish(internal_events.Event{Type: internal_events.EventTurn, SessionID: sessionID, Turn: turn})
		rec := &TurnRecord{SessionID: sessionID, Role: string(turn.Role), Text: turn.Text, SpokenAt: turn.Timestamp}
		c.journal.submit(func(ctx context.Context, store Store) error { return store.AppendTurn(ctx, rec) })
	}
}

func (c *Controller) onAmplitude(level float64) {
	c.amplitude.Store(math.Float64bits(level))
	c.deps.Events.Publish(internal_events.Event{Type: internal_events.EventAmplitude, Amplitude: level})
}

func (c *Controller) level() float64 {
	return math.Float64frombits(c.amplitude.Load())
}

// Evaluation returns the raw evaluation of the completed session.
func (c *Controller) Evaluation() (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return nil, false
	}
	return c.result.Evaluation, true
}
