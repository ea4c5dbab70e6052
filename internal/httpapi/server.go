// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package httpapi serves the live snapshot, statistics and metrics over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danricho/projecta-RS485-reverse-engineering/internal/chart"
	"github.com/danricho/projecta-RS485-reverse-engineering/internal/config"
	"github.com/danricho/projecta-RS485-reverse-engineering/pkg/projecta"
)

// Status is the live state the API reads from
type Status struct {
	Store     *projecta.Store
	Stats     *projecta.Statistics
	History   *History
	SessionID string

	// connected is flipped by the monitor loop around each connection
	connected atomic.Bool
	source    atomic.Pointer[string]
}

// SetSource records the description of the current transport
func (s *Status) SetSource(desc string) {
	s.source.Store(&desc)
}

// Source returns the last value given to SetSource
func (s *Status) Source() string {
	if p := s.source.Load(); p != nil {
		return *p
	}
	return ""
}

// SetConnected records whether the transport is currently up
func (s *Status) SetConnected(up bool) {
	s.connected.Store(up)
}

// Connected reports the last value given to SetConnected
func (s *Status) Connected() bool {
	return s.connected.Load()
}

// Server wraps the gin router and its http.Server
type Server struct {
	srv *http.Server
}

// New creates the router. metricsHandler may be nil to disable /metrics.
func New(cfg config.HTTPConfig, metricsPath string, metricsHandler http.Handler, status *Status) *Server {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      NewRouter(metricsPath, metricsHandler, status),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Server{srv: srv}
}

// NewRouter registers the API routes
func NewRouter(metricsPath string, metricsHandler http.Handler, status *Status) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if status.Connected() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "disconnected")
	})

	api := r.Group("/api")
	api.GET("/snapshot", func(c *gin.Context) {
		snap := status.Store.Snapshot()
		body := gin.H{
			"session_id": status.SessionID,
			"fields":     snap.Map(),
			"count":      snap.Len(),
			"updated_at": nil,
		}
		if last := status.Stats.Summary().LastChange; !last.IsZero() {
			body["updated_at"] = last.UTC().Format(time.RFC3339Nano)
		}
		c.JSON(http.StatusOK, body)
	})
	api.GET("/snapshot/:field", func(c *gin.Context) {
		f, ok := projecta.LookupField(c.Param("field"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown field"})
			return
		}
		v, set := status.Store.Snapshot().Get(f)
		if !set {
			c.JSON(http.StatusNotFound, gin.H{"error": "not yet received"})
			return
		}
		info := f.Info()
		c.JSON(http.StatusOK, gin.H{
			"name":      info.Name,
			"value":     v,
			"unit":      info.Unit,
			"tentative": info.Tentative,
			"derived":   info.Derived,
		})
	})
	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"session_id": status.SessionID,
			"source":     status.Source(),
			"connected":  status.Connected(),
			"stats":      status.Stats.Summary(),
		})
	})

	r.GET("/chart", func(c *gin.Context) {
		var points []chart.Point
		if status.History != nil {
			points = status.History.Points()
		}
		fields, ok := parseFields(c.Query("fields"))
		if !ok {
			c.String(http.StatusBadRequest, "unknown field in %q", c.Query("fields"))
			return
		}
		var buf bytes.Buffer
		if err := chart.RenderHistory(&buf, "pmscope live", points, fields); err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
	})

	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if metricsHandler != nil {
		r.GET(metricsPath, gin.WrapH(metricsHandler))
	}

	return r
}

// parseFields reads a comma-separated field list; empty selects the defaults
func parseFields(list string) ([]projecta.Field, bool) {
	if strings.TrimSpace(list) == "" {
		return nil, true
	}
	var fields []projecta.Field
	for _, name := range strings.Split(list, ",") {
		f, ok := projecta.LookupField(strings.TrimSpace(name))
		if !ok {
			return nil, false
		}
		fields = append(fields, f)
	}
	return fields, true
}

// Start serves until Shutdown (blocking)
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
