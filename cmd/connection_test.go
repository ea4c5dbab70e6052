// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danricho/projecta-RS485-reverse-engineering/internal/config"
	"github.com/danricho/projecta-RS485-reverse-engineering/internal/pipeline"
)

// newBridge serves a WebSocket bridge guarded by basic auth admin/secret
// that sends msgs and then holds the connection open until release is closed
func newBridge(t *testing.T, release <-chan struct{}, msgs ...func(*websocket.Conn) error) *httptest.Server {
	t.Helper()
	return serveBridge(t, func(r *http.Request) bool {
		user, pass, ok := r.BasicAuth()
		return ok && user == "admin" && pass == "secret"
	}, release, msgs...)
}

// newOpenBridge is newBridge without authentication
func newOpenBridge(t *testing.T, release <-chan struct{}, msgs ...func(*websocket.Conn) error) *httptest.Server {
	t.Helper()
	return serveBridge(t, func(*http.Request) bool { return true }, release, msgs...)
}

func serveBridge(t *testing.T, authorized func(*http.Request) bool, release <-chan struct{}, msgs ...func(*websocket.Conn) error) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for _, send := range msgs {
			if err := send(c); err != nil {
				return
			}
		}
		<-release
	}))
	t.Cleanup(srv.Close)
	return srv
}

func bridgeURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func binary(b ...byte) func(*websocket.Conn) error {
	return func(c *websocket.Conn) error {
		return c.WriteMessage(websocket.BinaryMessage, b)
	}
}

func text(s string) func(*websocket.Conn) error {
	return func(c *websocket.Conn) error {
		return c.WriteMessage(websocket.TextMessage, []byte(s))
	}
}

func TestWebSocketConnection_ReadAndSilence(t *testing.T) {
	release := make(chan struct{})
	srv := newBridge(t, release, text("hello"), binary(0x01, 0x02, 0x03))

	conn, err := OpenWebSocketConnection(config.BridgeConfig{URL: bridgeURL(srv), Username: "admin"}, "secret", 50*time.Millisecond)
	require.NoError(t, err)
	defer conn.Close()

	// text messages are skipped; a short buffer drains across reads
	buf := make([]byte, 2)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, buf[:n])

	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03}, buf[:n])

	// silence surfaces as an empty read
	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err = conn.Read(buf); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, pipeline.ErrDisconnected)
}

func TestWebSocketConnection_BadPassword(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := newBridge(t, release)

	_, err := OpenWebSocketConnection(config.BridgeConfig{URL: bridgeURL(srv), Username: "admin"}, "wrong", time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestWebSocketConnection_Scheme(t *testing.T) {
	_, err := OpenWebSocketConnection(config.BridgeConfig{URL: "http://localhost:1/"}, "", time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}

func TestConnector_NothingConfigured(t *testing.T) {
	_, _, err := newConnector(config.Default()).Open()
	assert.EqualError(t, err, "either --port or --url must be specified")
}

func TestConnector_BridgeWithoutUsername(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := newOpenBridge(t, release, binary(0xAA))

	cfg := config.Default()
	cfg.Bridge.URL = bridgeURL(srv)
	require.Empty(t, cfg.Bridge.Username)

	c := newConnector(cfg)
	conn, info, err := c.Open()
	require.NoError(t, err)
	defer conn.Close()

	assert.False(t, c.asked, "no password prompt without a username")
	assert.Equal(t, "WebSocket: "+cfg.Bridge.URL, info)

	// the first reads may time out before the message arrives
	buf := make([]byte, 4)
	var n int
	deadline := time.Now().Add(5 * time.Second)
	for n == 0 && time.Now().Before(deadline) {
		n, err = conn.Read(buf)
		require.NoError(t, err)
	}
	assert.Equal(t, []byte{0xAA}, buf[:n])
}
