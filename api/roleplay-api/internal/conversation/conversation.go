// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	// RoleClient is the simulated counterpart voiced by the agent.
	RoleClient Role = "client"
	// RoleSeller is the human user practising the sale.
	RoleSeller Role = "seller"
)

// Turn is one utterance of the transcript.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Line renders the turn as "role: text".
func (t Turn) Line() string {
	return fmt.Sprintf("%s: %s", t.Role, t.Text)
}

// Reply is the agent's answer to one exchange.
type Reply struct {
	Text string
	// Final is set when the reply closes the roleplay.
	Final bool
	// Fallback is set when the opening line could not be fetched.
	Fallback bool
	// Resent is set when the utterance was already in the transcript.
	Resent bool
}

var (
	ErrExchangeInFlight    = errors.New("an exchange is already in flight")
	ErrAgentExchangeFailed = errors.New("agent exchange failed")
	ErrEmptyUtterance      = errors.New("utterance is empty")
	ErrNothingPending      = errors.New("no unanswered utterance to retry")
	ErrEmptyReply          = errors.New("agent returned an empty reply")
)

// AgentExchangeError reports a failed exchange; the utterance that
// provoked it stays in the transcript as unanswered.
type AgentExchangeError struct {
	Utterance string
	Message   string
	Err       error
}

func (e *AgentExchangeError) Error() string {
	if e.Message == "" {
		return ErrAgentExchangeFailed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrAgentExchangeFailed, e.Message)
}

func (e *AgentExchangeError) Is(target error) bool { return target == ErrAgentExchangeFailed }
func (e *AgentExchangeError) Unwrap() error        { return e.Err }

// FormatTranscript renders turns as newline separated "role: text" lines.
func FormatTranscript(turns []Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.Line())
	}
	return strings.Join(lines, "\n")
}
