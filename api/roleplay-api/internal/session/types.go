// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"encoding/json"
	"errors"
	"time"

	internal_conversation "github.com/rapidaai/roleplay/api/roleplay-api/internal/conversation"
)

// State is the top level session state. Completed is terminal.
type State string

const (
	StateForm        State = "form"
	StateRoleplaying State = "roleplaying"
	StateEvaluating  State = "evaluating"
	StateCompleted   State = "completed"
	// StateAbandoned only appears in the journal, for sessions torn down
	// before they completed.
	StateAbandoned State = "abandoned"
)

// Phase subdivides Roleplaying; recording and playback never overlap.
type Phase string

const (
	PhaseNone       Phase = ""
	PhaseIdle       Phase = "idle"
	PhaseRecording  Phase = "recording"
	PhaseProcessing Phase = "processing"
	PhaseSpeaking   Phase = "speaking"
)

// User facing status lines.
const (
	StatusConnecting     = "connecting to the client"
	StatusReady          = "tap to record"
	StatusRecording      = "recording, tap to stop"
	StatusProcessing     = "processing speech"
	StatusSpeaking       = "client is speaking"
	StatusEvaluating     = "evaluating your call"
	StatusCompleted      = "evaluation ready"
	StatusNoSpeech       = "could not understand audio, try again"
	StatusMicrophone     = "microphone unavailable, check permissions"
	StatusTranscription  = "could not transcribe audio, try again"
	StatusExchange       = "the client did not answer, try again"
	StatusSynthesis      = "could not play the client's reply"
	StatusStartFailed    = "could not start the session, try again"
	StatusEvaluateFailed = "evaluation failed, end the call again to retry"

	StatusInvalidForm    = "enter your name and a valid email"
	StatusBusy           = "wait for the client to finish"
	StatusNotAllowed     = "not available right now"
	StatusNoSession      = "start a session first"
	StatusNothingPending = "nothing to retry"
	StatusUnexpected     = "something went wrong, try again"
)

var (
	ErrBusy             = errors.New("session is busy")
	ErrInvalidState     = errors.New("operation not allowed in the current state")
	ErrInvalidForm      = errors.New("invalid session form")
	ErrNoSession        = errors.New("no active session")
	ErrEvaluationFailed = errors.New("evaluation failed")
)

// Form is what the user submits to start a roleplay.
type Form struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"required,email"`
}

// Session identifies one roleplay attempt.
type Session struct {
	SessionID     string    `json:"sessionId"`
	LeadID        string    `json:"leadId"`
	AgentThreadID string    `json:"agentThreadId,omitempty"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Result is the outcome of a completed session.
type Result struct {
	SessionID     string                       `json:"sessionId"`
	LeadID        string                       `json:"leadId"`
	Transcription string                       `json:"transcription"`
	Turns         []internal_conversation.Turn `json:"turns"`
	Evaluation    json.RawMessage              `json:"evaluation"`
}

// View is a snapshot of everything the UI renders.
type View struct {
	Session    *Session                     `json:"session,omitempty"`
	State      State                        `json:"state"`
	Phase      Phase                        `json:"phase,omitempty"`
	Status     string                       `json:"status,omitempty"`
	Error      string                       `json:"error,omitempty"`
	Amplitude  float64                      `json:"amplitude"`
	CanRecord  bool                         `json:"canRecord"`
	Pending    string                       `json:"pendingUtterance,omitempty"`
	Transcript []internal_conversation.Turn `json:"transcript"`
	Evaluation json.RawMessage              `json:"evaluation,omitempty"`
}
