// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rapidaai/roleplay/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() commons.Logger {
	logger, _ := commons.NewApplicationLogger(commons.Console(false))
	return logger
}

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r)
	}))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestHub_BroadcastsEvents(t *testing.T) {
	hub := NewHub(newTestLogger(), []string{"*"})
	conn := dial(t, hub)

	hub.Publish(Event{Type: EventState, SessionID: "s-1", State: "roleplaying", Phase: "speaking", Status: "client is speaking"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, EventState, got.Type)
	assert.Equal(t, "speaking", got.Phase)
	assert.False(t, got.Timestamp.IsZero())
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(newTestLogger(), []string{"*"})
	conn := dial(t, hub)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
	hub.Publish(Event{Type: EventAmplitude, Amplitude: 0.5})
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(newTestLogger(), []string{"*"})
	conn := dial(t, hub)

	hub.Close()
	assert.Equal(t, 0, hub.Subscribers())
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_RejectsUnknownOrigins(t *testing.T) {
	hub := NewHub(newTestLogger(), []string{"https://app.example.com"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r)
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, hub.Subscribers())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://app.example.com"}})
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPublisherFunc(t *testing.T) {
	var got []Event
	p := PublisherFunc(func(e Event) { got = append(got, e) })
	p.Publish(Event{Type: EventTurn})
	Nop.Publish(Event{Type: EventTurn})
	assert.Len(t, got, 1)
}
