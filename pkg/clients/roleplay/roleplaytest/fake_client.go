// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package roleplaytest provides a scriptable in-memory RoleplayServiceClient.
package roleplaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	roleplay_client "github.com/rapidaai/roleplay/pkg/clients/roleplay"
)

// Reply is one scripted exchange answer; a non-nil Err fails the call.
type Reply struct {
	Text     string
	ThreadId string
	Err      error
}

// Transcript is one scripted transcription answer.
type Transcript struct {
	Text string
	Err  error
}

// Upload records one transcription request.
type Upload struct {
	FileName    string
	ContentType string
	Size        int
}

// Client answers from scripts and records every request. Unscripted calls
// succeed with neutral values.
type Client struct {
	mu sync.Mutex

	LeadId          string
	StartErr        error
	Replies         []Reply
	Transcripts     []Transcript
	Audio           []byte
	AudioType       string
	SynthesizeErrs  []error
	Evaluation      json.RawMessage
	EvaluateErrs    []error
	PersistErr      error
	ExchangeBlocker chan struct{}

	starts       []roleplay_client.StartSessionRequest
	exchanges    []roleplay_client.ExchangeRequest
	uploads      []Upload
	syntheses    []string
	evaluations  []roleplay_client.EvaluateRequest
	persists     []roleplay_client.PersistRequest
	persistCalls chan roleplay_client.PersistRequest
}

func NewClient() *Client {
	return &Client{
		LeadId:       "lead-1",
		Audio:        []byte("ID3-fake-mp3"),
		AudioType:    "audio/mpeg",
		Evaluation:   json.RawMessage(`{"score":80}`),
		persistCalls: make(chan roleplay_client.PersistRequest, 16),
	}
}

var _ roleplay_client.RoleplayServiceClient = (*Client)(nil)

// FailWith500 builds the error a failing collaborator produces.
func FailWith500(call string) error {
	return &roleplay_client.CollaboratorError{Call: call, Status: 500, Message: "internal error"}
}

func (c *Client) StartSession(ctx context.Context, in *roleplay_client.StartSessionRequest) (*roleplay_client.StartSessionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts = append(c.starts, *in)
	if c.StartErr != nil {
		return nil, c.StartErr
	}
	return &roleplay_client.StartSessionResponse{LeadId: c.LeadId}, nil
}

func (c *Client) Exchange(ctx context.Context, in *roleplay_client.ExchangeRequest) (*roleplay_client.ExchangeResponse, error) {
	c.mu.Lock()
	c.exchanges = append(c.exchanges, *in)
	blocker := c.ExchangeBlocker
	var reply Reply
	if len(c.Replies) > 0 {
		reply = c.Replies[0]
		c.Replies = c.Replies[1:]
	} else {
		reply = Reply{Text: fmt.Sprintf("reply %d", len(c.exchanges)), ThreadId: in.ThreadId}
		if reply.ThreadId == "" {
			reply.ThreadId = "thread-1"
		}
	}
	c.mu.Unlock()

	if blocker != nil {
		select {
		case <-blocker:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &roleplay_client.ExchangeResponse{Response: reply.Text, ThreadId: reply.ThreadId}, nil
}

func (c *Client) Transcribe(ctx context.Context, fileName, contentType string, audio []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.uploads = append(c.uploads, Upload{FileName: fileName, ContentType: contentType, Size: len(audio)})
	if len(c.Transcripts) == 0 {
		return "", nil
	}
	t := c.Transcripts[0]
	c.Transcripts = c.Transcripts[1:]
	return t.Text, t.Err
}

func (c *Client) Synthesize(ctx context.Context, sessionId, text string) (*roleplay_client.SynthesizedAudio, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syntheses = append(c.syntheses, text)
	if len(c.SynthesizeErrs) > 0 {
		err := c.SynthesizeErrs[0]
		c.SynthesizeErrs = c.SynthesizeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &roleplay_client.SynthesizedAudio{Data: c.Audio, ContentType: c.AudioType}, nil
}

func (c *Client) Evaluate(ctx context.Context, in *roleplay_client.EvaluateRequest) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluations = append(c.evaluations, *in)
	if len(c.EvaluateErrs) > 0 {
		err := c.EvaluateErrs[0]
		c.EvaluateErrs = c.EvaluateErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return c.Evaluation, nil
}

func (c *Client) Persist(ctx context.Context, in *roleplay_client.PersistRequest) error {
	c.mu.Lock()
	c.persists = append(c.persists, *in)
	err := c.PersistErr
	c.mu.Unlock()
	select {
	case c.persistCalls <- *in:
	default:
	}
	return err
}

// Script replaces the scripted exchange replies.
func (c *Client) Script(replies ...Reply) {
	c.mu.Lock()
	c.Replies = append([]Reply(nil), replies...)
	c.mu.Unlock()
}

// Block holds every following exchange until the returned release func is
// called or the caller's context ends.
func (c *Client) Block() (release func()) {
	ch := make(chan struct{})
	c.mu.Lock()
	c.ExchangeBlocker = ch
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.ExchangeBlocker = nil
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Hear replaces the scripted transcriptions.
func (c *Client) Hear(texts ...Transcript) {
	c.mu.Lock()
	c.Transcripts = append([]Transcript(nil), texts...)
	c.mu.Unlock()
}

func (c *Client) Starts() []roleplay_client.StartSessionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]roleplay_client.StartSessionRequest(nil), c.starts...)
}

func (c *Client) Exchanges() []roleplay_client.ExchangeRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]roleplay_client.ExchangeRequest(nil), c.exchanges...)
}

func (c *Client) Uploads() []Upload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Upload(nil), c.uploads...)
}

func (c *Client) Syntheses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.syntheses...)
}

func (c *Client) Evaluations() []roleplay_client.EvaluateRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]roleplay_client.EvaluateRequest(nil), c.evaluations...)
}

func (c *Client) Persists() []roleplay_client.PersistRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]roleplay_client.PersistRequest(nil), c.persists...)
}

// PersistCalls delivers every persist request as it is made.
func (c *Client) PersistCalls() <-chan roleplay_client.PersistRequest { return c.persistCalls }
