// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/danricho/projecta-RS485-reverse-engineering/internal/config"
	"github.com/danricho/projecta-RS485-reverse-engineering/internal/pipeline"
)

// Connection is a read-only tap on the bus. Read waits at most the poll
// timeout and returns (0, nil) when the line was silent. A lost transport is
// reported as an error wrapping pipeline.ErrDisconnected.
type Connection interface {
	io.Reader
	io.Closer
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err != nil {
		return n, fmt.Errorf("%w: %v", pipeline.ErrDisconnected, err)
	}
	return n, nil
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// WebSocketConnection wraps a WebSocket bridge that forwards raw bus bytes
// as binary messages
type WebSocketConnection struct {
	conn      *websocket.Conn
	messages  chan []byte
	done      chan struct{}
	err       error // set before messages is closed
	timeout   time.Duration
	buf       []byte
	bufOffset int
}

func newWebSocketConnection(conn *websocket.Conn, timeout time.Duration) *WebSocketConnection {
	w := &WebSocketConnection{
		conn:     conn,
		messages: make(chan []byte, 64),
		done:     make(chan struct{}),
		timeout:  timeout,
	}
	go w.pump()
	return w
}

// pump reads messages in the background. gorilla connections cannot be read
// again after a deadline expires, so silence is detected on the channel.
func (w *WebSocketConnection) pump() {
	defer close(w.messages)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.err = err
			return
		}
		// Only binary messages carry bus bytes
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		select {
		case w.messages <- data:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	// If we have buffered data, return it first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case data, ok := <-w.messages:
		if !ok {
			return 0, fmt.Errorf("%w: %v", pipeline.ErrDisconnected, w.err)
		}
		w.buf = data
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	case <-timer.C:
		return 0, nil
	}
}

func (w *WebSocketConnection) Close() error {
	close(w.done)
	return w.conn.Close()
}

// OpenSerialConnection opens the serial port with a read timeout so that
// silence on the bus surfaces as empty reads
func OpenSerialConnection(opts config.PortOptions, readTimeout time.Duration) (Connection, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(opts.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %v", opts.Port, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %v", opts.Port, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(bridge config.BridgeConfig, password string, readTimeout time.Duration) (Connection, error) {
	// Parse and validate URL
	u, err := url.Parse(bridge.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: bridge.InsecureSkipVerify,
		}
	}

	headers := http.Header{}
	if bridge.Username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(bridge.Username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, bridge.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	return newWebSocketConnection(conn, readTimeout), nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("PMSCOPE_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// connector opens the configured transport. The password is asked for once so
// reconnects do not prompt again.
type connector struct {
	cfg      *config.Config
	password string
	asked    bool
}

func newConnector(cfg *config.Config) *connector {
	return &connector{cfg: cfg}
}

// Open opens either a WebSocket or serial connection based on configuration
func (c *connector) Open() (Connection, string, error) {
	timeout := c.cfg.Framing.PollInterval

	if c.cfg.Bridge.URL != "" {
		if c.cfg.Bridge.Username != "" && !c.asked {
			password, err := GetPassword()
			if err != nil {
				return nil, "", err
			}
			c.password = password
			c.asked = true
		}

		conn, err := OpenWebSocketConnection(c.cfg.Bridge, c.password, timeout)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", c.cfg.Bridge.URL), nil
	}

	if c.cfg.Serial.Port != "" {
		conn, err := OpenSerialConnection(c.cfg.Serial, timeout)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", c.cfg.Serial.Port, c.cfg.Serial.BaudRate), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}
