// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"context"
	"sync"
	"time"

	"github.com/rapidaai/roleplay/pkg/commons"
)

const journalTimeout = 5 * time.Second

// journal applies store writes in submission order on one background
// worker. Writes are best effort: failures are logged, never returned.
type journal struct {
	logger commons.Logger
	store  Store

	mu     sync.Mutex
	queue  chan func(ctx context.Context) error
	done   chan struct{}
	closed bool
}

func newJournal(logger commons.Logger, store Store) *journal {
	j := &journal{logger: logger, store: store}
	if store == nil {
		return j
	}
	j.queue = make(chan func(ctx context.Context) error, 128)
	j.done = make(chan struct{})
	go j.run()
	return j
}

func (j *journal) run() {
	defer close(j.done)
	for op := range j.queue {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		if err := op(ctx); err != nil {
			j.logger.Warnf("session journal: %v", err)
		}
		cancel()
	}
}

func (j *journal) submit(op func(ctx context.Context, store Store) error) {
	if j.store == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- func(ctx context.Context) error { return op(ctx, j.store) }:
	default:
		j.logger.Warnf("session journal: queue full, dropping write")
	}
}

// close drains pending writes.
func (j *journal) close() {
	if j.store == nil {
		return
	}
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()
	<-j.done
}
