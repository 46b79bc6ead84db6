// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package roleplay_client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rapidaai/roleplay/config"
	"github.com/rapidaai/roleplay/pkg/commons"
	"github.com/rapidaai/roleplay/pkg/utils"
)

// Call names used in CollaboratorError.
const (
	CallStartSession = "start-session"
	CallExchange     = "exchange"
	CallTranscribe   = "transcribe"
	CallSynthesize   = "synthesize"
	CallEvaluate     = "evaluate"
	CallPersist      = "persist"
)

// ErrMissingEvaluation is returned when the evaluate call answers 2xx without an evaluation.
var ErrMissingEvaluation = errors.New("evaluation missing from response")

// CollaboratorError is a non-2xx answer (or transport failure) from a remote service.
type CollaboratorError struct {
	Call    string
	Status  int
	Message string
	Err     error
}

func (e *CollaboratorError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s failed with status %d: %s", e.Call, e.Status, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Call, e.Message)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

type StartSessionRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	SessionId string `json:"sessionId"`
}

type StartSessionResponse struct {
	LeadId string `json:"leadId"`
}

type ExchangeRequest struct {
	Message   string `json:"message"`
	SessionId string `json:"sessionId"`
	ThreadId  string `json:"threadId,omitempty"`
}

type ExchangeResponse struct {
	Response string `json:"response"`
	ThreadId string `json:"threadId"`
}

type EvaluateRequest struct {
	Transcription string `json:"transcription"`
	SessionId     string `json:"sessionId"`
	LeadId        string `json:"leadId"`
}

type PersistRequest struct {
	LeadId        string          `json:"leadId"`
	SessionId     string          `json:"sessionId"`
	Evaluation    json.RawMessage `json:"evaluation"`
	Transcription string          `json:"transcription"`
}

// SynthesizedAudio is the binary payload of the synthesize call.
type SynthesizedAudio struct {
	Data        []byte
	ContentType string
}

type errorBody struct {
	Error string `json:"error"`
}

type transcribeBody struct {
	Text string `json:"text"`
}

type evaluateBody struct {
	Evaluation json.RawMessage `json:"evaluation"`
}

// RoleplayServiceClient reaches every collaborator of the conversation engine.
type RoleplayServiceClient interface {
	StartSession(ctx context.Context, in *StartSessionRequest) (*StartSessionResponse, error)
	Exchange(ctx context.Context, in *ExchangeRequest) (*ExchangeResponse, error)
	Transcribe(ctx context.Context, fileName, contentType string, audio []byte) (string, error)
	Synthesize(ctx context.Context, sessionId, text string) (*SynthesizedAudio, error)
	Evaluate(ctx context.Context, in *EvaluateRequest) (json.RawMessage, error)
	Persist(ctx context.Context, in *PersistRequest) error
}

type roleplayServiceClient struct {
	cfg    config.CollaboratorConfig
	logger commons.Logger
	client *resty.Client
}

func NewRoleplayServiceClient(cfg config.CollaboratorConfig, env utils.RapidaEnvironment, logger commons.Logger) RoleplayServiceClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout()).
		SetHeader(utils.HEADER_SOURCE_KEY, utils.SOURCE_ROLEPLAY).
		SetHeader(utils.HEADER_ENVIRONMENT_KEY, env.Get())
	if cfg.ApiKey != "" {
		client.SetHeader(utils.HEADER_API_KEY, cfg.ApiKey)
	}
	return &roleplayServiceClient{cfg: cfg, logger: logger, client: client}
}

func (c *roleplayServiceClient) request(ctx context.Context, sessionId string) *resty.Request {
	r := c.client.R().SetContext(ctx)
	if sessionId != "" {
		r.SetHeader(utils.HEADER_SESSION_ID, sessionId)
	}
	return r
}

func (c *roleplayServiceClient) StartSession(ctx context.Context, in *StartSessionRequest) (*StartSessionResponse, error) {
	var out StartSessionResponse
	resp, err := c.request(ctx, in.SessionId).
		SetBody(in).
		Post(c.cfg.StartPath)
	if err := c.check(CallStartSession, resp, err); err != nil {
		return nil, err
	}
	if err := c.decode(CallStartSession, resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *roleplayServiceClient) Exchange(ctx context.Context, in *ExchangeRequest) (*ExchangeResponse, error) {
	var out ExchangeResponse
	resp, err := c.request(ctx, in.SessionId).
		SetBody(in).
		Post(c.cfg.ExchangePath)
	if err := c.check(CallExchange, resp, err); err != nil {
		return nil, err
	}
	if err := c.decode(CallExchange, resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *roleplayServiceClient) Transcribe(ctx context.Context, fileName, contentType string, audio []byte) (string, error) {
	var out transcribeBody
	resp, err := c.request(ctx, "").
		SetMultipartField("file", fileName, contentType, bytes.NewReader(audio)).
		Post(c.cfg.TranscribePath)
	if err := c.check(CallTranscribe, resp, err); err != nil {
		return "", err
	}
	if err := c.decode(CallTranscribe, resp, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (c *roleplayServiceClient) Synthesize(ctx context.Context, sessionId, text string) (*SynthesizedAudio, error) {
	resp, err := c.request(ctx, sessionId).
		SetBody(map[string]string{"text": text}).
		Post(c.cfg.SynthesizePath)
	if err := c.check(CallSynthesize, resp, err); err != nil {
		return nil, err
	}
	body := resp.Body()
	if len(body) == 0 {
		return nil, &CollaboratorError{Call: CallSynthesize, Status: resp.StatusCode(), Message: "empty audio payload"}
	}
	return &SynthesizedAudio{Data: body, ContentType: resp.Header().Get("Content-Type")}, nil
}

func (c *roleplayServiceClient) Evaluate(ctx context.Context, in *EvaluateRequest) (json.RawMessage, error) {
	var out evaluateBody
	resp, err := c.request(ctx, in.SessionId).
		SetBody(in).
		Post(c.cfg.EvaluatePath)
	if err := c.check(CallEvaluate, resp, err); err != nil {
		return nil, err
	}
	if err := c.decode(CallEvaluate, resp, &out); err != nil {
		return nil, err
	}
	if len(out.Evaluation) == 0 || string(out.Evaluation) == "null" {
		return nil, &CollaboratorError{Call: CallEvaluate, Status: resp.StatusCode(), Message: ErrMissingEvaluation.Error(), Err: ErrMissingEvaluation}
	}
	return out.Evaluation, nil
}

func (c *roleplayServiceClient) Persist(ctx context.Context, in *PersistRequest) error {
	resp, err := c.request(ctx, in.SessionId).
		SetBody(in).
		Post(c.cfg.PersistPath)
	return c.check(CallPersist, resp, err)
}

// check turns transport errors and non-2xx answers into a CollaboratorError,
// preferring the {"error": "..."} body the services send.
func (c *roleplayServiceClient) check(call string, resp *resty.Response, err error) error {
	if err != nil {
		c.logger.Errorf("roleplay-client: %s request failed: %v", call, err)
		return &CollaboratorError{Call: call, Message: err.Error(), Err: err}
	}
	if resp.IsSuccess() {
		return nil
	}
	msg := strings.TrimSpace(resp.String())
	var body errorBody
	if jsonErr := json.Unmarshal(resp.Body(), &body); jsonErr == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = resp.Status()
	}
	c.logger.Warnf("roleplay-client: %s returned status %d: %s", call, resp.StatusCode(), msg)
	return &CollaboratorError{Call: call, Status: resp.StatusCode(), Message: msg}
}

func (c *roleplayServiceClient) decode(call string, resp *resty.Response, out interface{}) error {
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		c.logger.Errorf("roleplay-client: unable to decode %s response: %v", call, err)
		return &CollaboratorError{Call: call, Status: resp.StatusCode(), Message: "malformed response", Err: err}
	}
	return nil
}
