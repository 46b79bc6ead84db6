// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package roleplay_session_api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	internal_recorder "github.com/rapidaai/roleplay/api/roleplay-api/internal/audio/recorder"
	internal_conversation "github.com/rapidaai/roleplay/api/roleplay-api/internal/conversation"
	internal_session "github.com/rapidaai/roleplay/api/roleplay-api/internal/session"
	"github.com/rapidaai/roleplay/config"
	roleplay_client "github.com/rapidaai/roleplay/pkg/clients/roleplay"
	"github.com/rapidaai/roleplay/pkg/commons"
)

// Controller is the part of the session controller the HTTP surface drives.
type Controller interface {
	Start(ctx context.Context, form internal_session.Form) (*internal_session.Session, error)
	ToggleRecording(ctx context.Context) error
	RetryExchange(ctx context.Context) error
	End(ctx context.Context) (*internal_session.Result, error)
	Close()
	Snapshot() internal_session.View
}

// EventStream serves live session events over a websocket.
type EventStream interface {
	Serve(w http.ResponseWriter, r *http.Request) error
}

type SessionApi struct {
	cfg        *config.AppConfig
	logger     commons.Logger
	controller Controller
	events     EventStream
}

func NewSessionApi(cfg *config.AppConfig, logger commons.Logger, controller Controller, events EventStream) *SessionApi {
	return &SessionApi{cfg: cfg, logger: logger, controller: controller, events: events}
}

// Start submits the lead form and begins a roleplay.
//
// @Router /v1/session [post]
func (sApi *SessionApi) Start(c *gin.Context) {
	var form internal_session.Form
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, err := sApi.controller.Start(c.Request.Context(), form)
	if err != nil {
		sApi.fail(c, "start", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session, "view": sApi.controller.Snapshot()})
}

// Record toggles the microphone: it starts a take when idle and hands the
// take to the turn pipeline when recording.
//
// @Router /v1/session/record [post]
func (sApi *SessionApi) Record(c *gin.Context) {
	if err := sApi.controller.ToggleRecording(c.Request.Context()); err != nil {
		sApi.fail(c, "record", err)
		return
	}
	c.JSON(http.StatusAccepted, sApi.controller.Snapshot())
}

// Retry re-sends the utterance whose exchange failed.
//
// @Router /v1/session/retry [post]
func (sApi *SessionApi) Retry(c *gin.Context) {
	if err := sApi.controller.RetryExchange(c.Request.Context()); err != nil {
		sApi.fail(c, "retry", err)
		return
	}
	c.JSON(http.StatusAccepted, sApi.controller.Snapshot())
}

// End finishes the call and returns the evaluation.
//
// @Router /v1/session/end [post]
func (sApi *SessionApi) End(c *gin.Context) {
	result, err := sApi.controller.End(c.Request.Context())
	if err != nil {
		sApi.fail(c, "end", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Router /v1/session [get]
func (sApi *SessionApi) Get(c *gin.Context) {
	c.JSON(http.StatusOK, sApi.controller.Snapshot())
}

// Close abandons whatever session is open and releases the devices.
//
// @Router /v1/session [delete]
func (sApi *SessionApi) Close(c *gin.Context) {
	sApi.controller.Close()
	c.Status(http.StatusNoContent)
}

// Events streams state, turn, amplitude and evaluation events.
//
// @Router /v1/session/events [get]
func (sApi *SessionApi) Events(c *gin.Context) {
	if err := sApi.events.Serve(c.Writer, c.Request); err != nil {
		sApi.logger.Warnf("session-api: event stream ended: %v", err)
	}
}

// fail maps controller errors onto status codes and a user facing line.
// Collaborator failures are 502 since the engine itself is healthy. The
// underlying error only goes to the log.
func (sApi *SessionApi) fail(c *gin.Context, op string, err error) {
	status, message := http.StatusInternalServerError, internal_session.StatusUnexpected
	var collaborator *roleplay_client.CollaboratorError
	switch {
	case errors.Is(err, internal_session.ErrInvalidForm):
		status, message = http.StatusBadRequest, internal_session.StatusInvalidForm
	case errors.Is(err, internal_session.ErrBusy):
		status, message = http.StatusConflict, internal_session.StatusBusy
	case errors.Is(err, internal_session.ErrNoSession):
		status, message = http.StatusConflict, internal_session.StatusNoSession
	case errors.Is(err, internal_conversation.ErrNothingPending):
		status, message = http.StatusConflict, internal_session.StatusNothingPending
	case errors.Is(err, internal_session.ErrInvalidState):
		status, message = http.StatusConflict, internal_session.StatusNotAllowed
	case errors.Is(err, internal_recorder.ErrMicrophoneUnavailable):
		status, message = http.StatusServiceUnavailable, internal_session.StatusMicrophone
	case errors.Is(err, internal_session.ErrEvaluationFailed), errors.As(err, &collaborator):
		status, message = http.StatusBadGateway, failedLine(op)
	}
	if status >= http.StatusInternalServerError {
		sApi.logger.Errorf("session-api: %s failed: %v", op, err)
	} else {
		sApi.logger.Debugf("session-api: %s rejected: %v", op, err)
	}
	c.JSON(status, gin.H{"error": message})
}

func failedLine(op string) string {
	switch op {
	case "start":
		return internal_session.StatusStartFailed
	case "end":
		return internal_session.StatusEvaluateFailed
	case "retry":
		return internal_session.StatusExchange
	}
	return internal_session.StatusUnexpected
}
