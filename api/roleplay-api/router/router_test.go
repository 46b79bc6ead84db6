// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package roleplay_routers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	healthCheckApi "github.com/rapidaai/roleplay/api/roleplay-api/api/health"
	internal_audio "github.com/rapidaai/roleplay/api/roleplay-api/internal/audio"
	"github.com/rapidaai/roleplay/api/roleplay-api/internal/audio/audiotest"
	internal_events "github.com/rapidaai/roleplay/api/roleplay-api/internal/events"
	internal_playback "github.com/rapidaai/roleplay/api/roleplay-api/internal/playback"
	internal_session "github.com/rapidaai/roleplay/api/roleplay-api/internal/session"
	internal_type "github.com/rapidaai/roleplay/api/roleplay-api/internal/type"
	"github.com/rapidaai/roleplay/config"
	roleplay_client "github.com/rapidaai/roleplay/pkg/clients/roleplay"
	"github.com/rapidaai/roleplay/pkg/clients/roleplay/roleplaytest"
	"github.com/rapidaai/roleplay/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	engine  *gin.Engine
	client  *roleplaytest.Client
	devices *audiotest.Devices
	hub     *internal_events.Hub
}

func newTestServer(t *testing.T, checks map[string]healthCheckApi.Check) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := commons.NewApplicationLogger(commons.Console(false))
	cfg := &config.AppConfig{Name: "roleplay-api", Version: "test"}

	s := &testServer{
		engine:  gin.New(),
		client:  roleplaytest.NewClient(),
		devices: &audiotest.Devices{},
		hub:     internal_events.NewHub(logger, []string{"*"}),
	}
	recorders := &audiotest.RecorderRuntime{Supported: map[string]bool{"audio/webm": true}, DefaultMime: "audio/webm"}
	recorders.SetChunks([]byte("speech"))
	controller := internal_session.NewController(logger, internal_session.Options{
		Conversation: config.ConversationConfig{
			StartDirective:   "Iniciar simulação",
			FallbackOpening:  "Alô?",
			CompletionMarker: "roleplay finalizado",
		},
		Retry:     internal_playback.RetryPolicy{Attempts: 1, Delay: time.Millisecond},
		MimeTypes: []string{"audio/webm"},
	}, internal_session.Dependencies{
		Client:    s.client,
		Resources: internal_audio.NewResourceManager(logger, s.devices, &audiotest.Runtime{AutoEnd: true}),
		Recorders: recorders,
		Frames:    audiotest.NewScheduler(),
		Events:    s.hub,
	})
	t.Cleanup(func() {
		s.hub.Close()
		controller.Shutdown()
	})

	HealthCheckRoutes(cfg, s.engine, logger, checks)
	SessionRoutes(cfg, s.engine, logger, controller, s.hub)
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) view(t *testing.T) internal_session.View {
	t.Helper()
	w := s.do(t, http.MethodGet, "/v1/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var v internal_session.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func (s *testServer) waitIdle(t *testing.T) internal_session.View {
	t.Helper()
	require.Eventually(t, func() bool {
		v := s.view(t)
		return v.State == internal_session.StateRoleplaying && v.Phase == internal_session.PhaseIdle
	}, 2*time.Second, 5*time.Millisecond)
	return s.view(t)
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

var ana = gin.H{"name": "Ana", "email": "ana@x.com"}

func TestSessionRoutes_FullCall(t *testing.T) {
	s := newTestServer(t, nil)
	s.client.Script(
		roleplaytest.Reply{Text: "Alô?", ThreadId: "th-1"},
		roleplaytest.Reply{Text: "Pode falar.", ThreadId: "th-1"},
	)
	s.client.Hear(roleplaytest.Transcript{Text: "Bom dia"})

	w := s.do(t, http.MethodPost, "/v1/session", ana)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var started struct {
		Session internal_session.Session `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.NotEmpty(t, started.Session.SessionID)
	assert.Equal(t, "lead-1", started.Session.LeadID)

	s.waitIdle(t)
	w = s.do(t, http.MethodPost, "/v1/session/record", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	w = s.do(t, http.MethodPost, "/v1/session/record", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool { return len(s.view(t).Transcript) == 3 }, 2*time.Second, 5*time.Millisecond)
	s.waitIdle(t)

	w = s.do(t, http.MethodPost, "/v1/session/end", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result internal_session.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.JSONEq(t, `{"score":80}`, string(result.Evaluation))
	assert.Contains(t, result.Transcription, "seller: Bom dia")

	v := s.view(t)
	assert.Equal(t, internal_session.StateCompleted, v.State)
	assert.JSONEq(t, `{"score":80}`, string(v.Evaluation))

	w = s.do(t, http.MethodDelete, "/v1/session", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, internal_session.StateForm, s.view(t).State)
}

func TestSessionRoutes_RejectsBadForms(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/v1/session", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid request body", errorOf(t, w))

	w = s.do(t, http.MethodPost, "/v1/session", gin.H{"name": "Ana", "email": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, internal_session.StatusInvalidForm, errorOf(t, w))
	assert.Empty(t, s.client.Starts())
}

func TestSessionRoutes_ConflictsWithoutSession(t *testing.T) {
	s := newTestServer(t, nil)
	for _, path := range []string{"/v1/session/record", "/v1/session/retry", "/v1/session/end"} {
		w := s.do(t, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusConflict, w.Code, path)
		assert.NotEmpty(t, errorOf(t, w), path)
	}
}

func TestSessionRoutes_RetryWithNothingPending(t *testing.T) {
	s := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/v1/session", ana).Code)
	s.waitIdle(t)

	w := s.do(t, http.MethodPost, "/v1/session/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, internal_session.StatusNothingPending, errorOf(t, w))
}

func TestSessionRoutes_CollaboratorFailuresAreBadGateway(t *testing.T) {
	s := newTestServer(t, nil)
	s.client.StartErr = roleplaytest.FailWith500(roleplay_client.CallStartSession)
	w := s.do(t, http.MethodPost, "/v1/session", ana)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, internal_session.StatusStartFailed, errorOf(t, w))
	assert.NotContains(t, w.Body.String(), "internal error")

	s.client.StartErr = nil
	s.client.EvaluateErrs = []error{roleplaytest.FailWith500(roleplay_client.CallEvaluate)}
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/v1/session", ana).Code)
	s.waitIdle(t)

	w = s.do(t, http.MethodPost, "/v1/session/end", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, internal_session.StatusEvaluateFailed, errorOf(t, w))
	assert.Equal(t, internal_session.StateEvaluating, s.view(t).State)

	w = s.do(t, http.MethodPost, "/v1/session/end", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionRoutes_MicrophoneUnavailable(t *testing.T) {
	s := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/v1/session", ana).Code)
	s.waitIdle(t)
	s.devices.SetErr(internal_type.ErrDevicePermissionDenied)

	w := s.do(t, http.MethodPost, "/v1/session/record", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, internal_session.StatusMicrophone, errorOf(t, w))
	assert.NotContains(t, w.Body.String(), "device:")
	v := s.view(t)
	assert.Equal(t, internal_session.PhaseIdle, v.Phase)
	assert.Equal(t, internal_session.StatusMicrophone, v.Error)
}

func TestSessionRoutes_StreamsEvents(t *testing.T) {
	s := newTestServer(t, nil)
	server := httptest.NewServer(s.engine)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/v1/session/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/v1/session", ana).Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	sawTurn := false
	for !sawTurn {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var e internal_events.Event
		require.NoError(t, json.Unmarshal(raw, &e))
		sawTurn = e.Type == internal_events.EventTurn
	}
}

func TestHealthCheckRoutes(t *testing.T) {
	s := newTestServer(t, map[string]healthCheckApi.Check{
		"store": func(ctx context.Context) error { return nil },
	})
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz/", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/readiness/", nil).Code)

	failing := newTestServer(t, map[string]healthCheckApi.Check{
		"store": func(ctx context.Context) error { return errors.New("database is locked") },
	})
	w := failing.do(t, http.MethodGet, "/readiness/", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "database is locked")
}
