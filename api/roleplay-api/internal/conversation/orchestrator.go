// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rapidaai/roleplay/config"
	roleplay_client "github.com/rapidaai/roleplay/pkg/clients/roleplay"
	"github.com/rapidaai/roleplay/pkg/commons"
	"github.com/rapidaai/roleplay/pkg/utils"
)

// Exchanger is the slice of the collaborator client the orchestrator needs.
type Exchanger interface {
	Exchange(ctx context.Context, in *roleplay_client.ExchangeRequest) (*roleplay_client.ExchangeResponse, error)
}

// Orchestrator holds the transcript and agent thread of one session and
// serialises exchanges with the agent.
type Orchestrator struct {
	logger    commons.Logger
	client    Exchanger
	sessionId string
	script    config.ConversationConfig
	clock     func() time.Time

	mu         sync.Mutex
	transcript []Turn
	threadId   string
	inFlight   bool
	// pending is the index of the seller turn whose exchange failed, -1 if none.
	pending int
	onTurn  func(Turn)
}

func NewOrchestrator(logger commons.Logger, client Exchanger, sessionId string, script config.ConversationConfig) *Orchestrator {
	return &Orchestrator{
		logger:    logger,
		client:    client,
		sessionId: sessionId,
		script:    script,
		clock:     time.Now,
		pending:   -1,
	}
}

// OnTurn registers fn to be called, outside the orchestrator's lock, for
// every turn appended to the transcript.
func (o *Orchestrator) OnTurn(fn func(Turn)) {
	o.mu.Lock()
	o.onTurn = fn
	o.mu.Unlock()
}

// =============================================================================
// Exchanges
// =============================================================================

// BeginConversation asks the agent for its opening line. It never fails:
// when the agent cannot be reached the configured fallback line is used and
// the thread is established by the first real exchange instead.
func (o *Orchestrator) BeginConversation(ctx context.Context) Reply {
	if err := o.acquire(); err != nil {
		o.logger.Warnf("conversation: begin while an exchange is in flight, using fallback opening")
		return Reply{Text: o.script.FallbackOpening, Fallback: true}
	}
	defer o.releaseExchange()

	resp, err := o.client.Exchange(ctx, &roleplay_client.ExchangeRequest{
		Message:   o.script.StartDirective,
		SessionId: o.sessionId,
	})
	if ctx.Err() != nil {
		return Reply{Text: o.script.FallbackOpening, Fallback: true}
	}

	reply := Reply{}
	o.mu.Lock()
	if err != nil || utils.IsEmpty(resp.Response) {
		o.logger.Warnf("conversation: opening line unavailable, falling back: %v", err)
		reply.Text = o.script.FallbackOpening
		reply.Fallback = true
	} else {
		o.threadId = resp.ThreadId
		reply.Text = resp.Response
		reply.Final = o.isCompletion(resp.Response)
		o.logger.Infof("conversation: session %s opened thread %s", o.sessionId, resp.ThreadId)
	}
	turn := o.appendLocked(RoleClient, reply.Text)
	o.mu.Unlock()

	o.notify(turn)
	return reply
}

// SendUtterance appends the seller's utterance and sends it to the agent.
// When the previous exchange failed and text repeats that unanswered
// utterance, it is re-sent without being appended a second time.
func (o *Orchestrator) SendUtterance(ctx context.Context, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyUtterance
	}
	if err := o.acquire(); err != nil {
		return Reply{}, err
	}
	defer o.releaseExchange()

	o.mu.Lock()
	resent := o.pending >= 0 && strings.EqualFold(o.transcript[o.pending].Text, text)
	var appended *Turn
	if !resent {
		if o.pending >= 0 {
			o.logger.Infof("conversation: utterance %q left unanswered, moving on", o.transcript[o.pending].Text)
		}
		turn := o.appendLocked(RoleSeller, text)
		appended = &turn
		o.pending = len(o.transcript) - 1
	}
	o.mu.Unlock()
	if appended != nil {
		o.notify(*appended)
	}

	return o.exchange(ctx, text, resent)
}

// RetryPending re-sends the utterance whose exchange failed.
func (o *Orchestrator) RetryPending(ctx context.Context) (Reply, error) {
	if err := o.acquire(); err != nil {
		return Reply{}, err
	}
	defer o.releaseExchange()

	o.mu.Lock()
	if o.pending < 0 {
		o.mu.Unlock()
		return Reply{}, ErrNothingPending
	}
	text := o.transcript[o.pending].Text
	o.mu.Unlock()
	return o.exchange(ctx, text, true)
}

func (o *Orchestrator) exchange(ctx context.Context, text string, resent bool) (Reply, error) {
	o.mu.Lock()
	req := &roleplay_client.ExchangeRequest{Message: text, SessionId: o.sessionId, ThreadId: o.threadId}
	o.mu.Unlock()

	resp, err := o.client.Exchange(ctx, req)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Reply{}, ctxErr
	}
	if err != nil {
		o.logger.Errorf("conversation: exchange for session %s failed: %v", o.sessionId, err)
		exErr := &AgentExchangeError{Utterance: text, Err: err}
		var collaboratorErr *roleplay_client.CollaboratorError
		if errors.As(err, &collaboratorErr) {
			exErr.Message = collaboratorErr.Message
		}
		return Reply{}, exErr
	}

	o.mu.Lock()
	if resp.ThreadId != "" && resp.ThreadId != o.threadId {
		if o.threadId != "" {
			o.logger.Warnf("conversation: agent switched thread %s -> %s mid-session %s", o.threadId, resp.ThreadId, o.sessionId)
		}
		o.threadId = resp.ThreadId
	}
	if utils.IsEmpty(resp.Response) {
		o.mu.Unlock()
		o.logger.Warnf("conversation: empty reply for session %s, utterance stays pending", o.sessionId)
		return Reply{}, &AgentExchangeError{Utterance: text, Message: "empty reply", Err: ErrEmptyReply}
	}
	o.pending = -1
	reply := Reply{Text: resp.Response, Final: o.isCompletion(resp.Response), Resent: resent}
	turn := o.appendLocked(RoleClient, resp.Response)
	o.mu.Unlock()

	o.notify(turn)
	if reply.Final {
		o.logger.Infof("conversation: completion marker received for session %s", o.sessionId)
	}
	return reply, nil
}

func (o *Orchestrator) acquire() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return ErrExchangeInFlight
	}
	o.inFlight = true
	return nil
}

func (o *Orchestrator) releaseExchange() {
	o.mu.Lock()
	o.inFlight = false
	o.mu.Unlock()
}

func (o *Orchestrator) appendLocked(role Role, text string) Turn {
	turn := Turn{Role: role, Text: text, Timestamp: o.clock()}
	o.transcript = append(o.transcript, turn)
	return turn
}

func (o *Orchestrator) notify(turn Turn) {
	o.mu.Lock()
	fn := o.onTurn
	o.mu.Unlock()
	if fn != nil {
		fn(turn)
	}
}

// isCompletion matches the configured marker case-insensitively.
func (o *Orchestrator) isCompletion(text string) bool {
	marker := strings.TrimSpace(o.script.CompletionMarker)
	return marker != "" && strings.Contains(strings.ToLower(text), strings.ToLower(marker))
}

// =============================================================================
// Accessors
// =============================================================================

// Transcript returns a copy of the turns so far.
func (o *Orchestrator) Transcript() []Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Turn(nil), o.transcript...)
}

func (o *Orchestrator) TranscriptText() string {
	return FormatTranscript(o.Transcript())
}

func (o *Orchestrator) ThreadID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.threadId
}

// Pending returns the unanswered utterance, if any.
func (o *Orchestrator) Pending() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending < 0 {
		return "", false
	}
	return o.transcript[o.pending].Text, true
}
