// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_events

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventState      EventType = "state"
	EventAmplitude  EventType = "amplitude"
	EventTurn       EventType = "turn"
	EventEvaluation EventType = "evaluation"
)

// Event is one UI update of the session feed.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	State     string          `json:"state,omitempty"`
	Phase     string          `json:"phase,omitempty"`
	Status    string          `json:"status,omitempty"`
	Error     string          `json:"error,omitempty"`
	Amplitude float64         `json:"amplitude"`
	Turn      interface{}     `json:"turn,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher receives session events. Publish must not block.
type Publisher interface {
	Publish(e Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(e Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// Nop discards every event.
var Nop Publisher = PublisherFunc(func(Event) {})
