// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/danricho/projecta-RS485-reverse-engineering/internal/config"
	"github.com/danricho/projecta-RS485-reverse-engineering/pkg/projecta"
)

// Body encodings accepted by HTTPSink
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// ErrNoEndpoint is returned when an HTTP sink is configured without a URL
var ErrNoEndpoint = errors.New("http sink: no endpoint")

var cborMode, _ = cbor.CoreDetEncOptions().EncMode()

// HTTPSink posts the snapshot as a flat name→value map on every change
type HTTPSink struct {
	Client   *http.Client
	Endpoint string
	Format   string
	Retries  int
	Backoff  []time.Duration

	limiter  *rate.Limiter
	variants map[projecta.Variant]bool
	logger   *zap.Logger

	mu      sync.Mutex
	pending *Update // newest throttled update, posted on Close
}

// NewHTTPSink builds an HTTP sink from configuration
func NewHTTPSink(cfg config.HTTPSinkConfig, logger *zap.Logger) (*HTTPSink, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	s := &HTTPSink{
		Client:   &http.Client{Timeout: timeout},
		Endpoint: cfg.Endpoint,
		Format:   strings.ToLower(cfg.Format),
		Retries:  max(cfg.Retries, 0),
		Backoff:  []time.Duration{100 * time.Millisecond, 250 * time.Millisecond, 500 * time.Millisecond, time.Second},
		logger:   logger,
	}
	if s.Format == "" {
		s.Format = FormatJSON
	}

	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	if len(cfg.OnlyVariants) > 0 {
		s.variants = make(map[projecta.Variant]bool)
		for _, name := range cfg.OnlyVariants {
			switch strings.ToUpper(name) {
			case "PMDCS":
				s.variants[projecta.VariantPMDCS] = true
			case "TELEMETRY":
				s.variants[projecta.VariantTelemetry] = true
			default:
				return nil, fmt.Errorf("http sink: unknown variant %q", name)
			}
		}
	}

	return s, nil
}

// Name implements Sink
func (s *HTTPSink) Name() string {
	return "http"
}

// Emit implements Sink. Updates caused by a filtered-out variant are skipped.
// While the rate limit is exhausted only the newest update is kept; the next
// allowed post supersedes it and Close sends it if nothing did.
func (s *HTTPSink) Emit(ctx context.Context, u Update) error {
	if s.variants != nil && !s.variants[u.Variant] {
		return nil
	}

	s.mu.Lock()
	if s.limiter != nil && !s.limiter.Allow() {
		s.pending = &u
		s.mu.Unlock()
		s.logger.Debug("http sink throttled", zap.String("session", u.SessionID))
		return nil
	}
	s.pending = nil
	s.mu.Unlock()

	return s.send(ctx, u)
}

func (s *HTTPSink) send(ctx context.Context, u Update) error {
	body, contentType, err := s.encode(u.Snapshot)
	if err != nil {
		return err
	}

	code, err := s.post(ctx, body, contentType, u.SessionID)
	if err != nil {
		return err
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("http %d", code)
	}
	return nil
}

func (s *HTTPSink) encode(snap projecta.Snapshot) ([]byte, string, error) {
	values := snap.Map()
	switch s.Format {
	case FormatCBOR:
		data, err := cborMode.Marshal(values)
		if err != nil {
			return nil, "", fmt.Errorf("encode cbor: %w", err)
		}
		return data, "application/cbor", nil
	default:
		data, err := json.Marshal(values)
		if err != nil {
			return nil, "", fmt.Errorf("encode json: %w", err)
		}
		return data, "application/json", nil
	}
}

// post sends body, retrying network errors and 5xx responses with backoff
func (s *HTTPSink) post(ctx context.Context, body []byte, contentType, session string) (int, error) {
	var code int
	var lastErr error

	for attempt := 0; attempt <= s.Retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", contentType)
		if session != "" {
			req.Header.Set("X-Session-ID", session)
		}

		resp, err := s.Client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			code = resp.StatusCode
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			// only 5xx is worth retrying
			if code < 500 {
				return code, nil
			}
			lastErr = nil
		}

		if attempt == s.Retries {
			break
		}
		backoff := s.Backoff[min(attempt, len(s.Backoff)-1)]
		s.logger.Debug("http sink retry",
			zap.Int("attempt", attempt+1),
			zap.Int("status", code),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if lastErr != nil {
		return 0, lastErr
	}
	return code, nil
}

// Close implements Sink. A throttled update that was never superseded is
// posted before the connections are released.
func (s *HTTPSink) Close() error {
	defer s.Client.CloseIdleConnections()

	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending == nil {
		return nil
	}
	if err := s.send(context.Background(), *pending); err != nil {
		return fmt.Errorf("http sink: final update: %w", err)
	}
	return nil
}
