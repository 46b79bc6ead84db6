// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_device

import (
	"sync"
	"time"

	internal_type "github.com/rapidaai/roleplay/api/roleplay-api/internal/type"
)

// DefaultFrameInterval approximates a 60Hz display.
const DefaultFrameInterval = 16 * time.Millisecond

// TimerFrameScheduler delivers frame callbacks on a fixed interval.
type TimerFrameScheduler struct {
	interval time.Duration

	mu     sync.Mutex
	next   internal_type.FrameID
	timers map[internal_type.FrameID]*time.Timer
}

func NewTimerFrameScheduler(interval time.Duration) *TimerFrameScheduler {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &TimerFrameScheduler{interval: interval, timers: map[internal_type.FrameID]*time.Timer{}}
}

func (s *TimerFrameScheduler) RequestFrame(fn func(at time.Time)) internal_type.FrameID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := s.next
	s.timers[id] = time.AfterFunc(s.interval, func() {
		s.mu.Lock()
		_, live := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()
		if live {
			fn(time.Now())
		}
	})
	return id
}

func (s *TimerFrameScheduler) CancelFrame(id internal_type.FrameID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending reports callbacks that have been requested but not yet run.
func (s *TimerFrameScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
