// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Record is one stored snapshot
type Record struct {
	ID        int64
	SessionID string
	Time      time.Time
	Variant   string
	Values    map[string]float64
}

// SQLiteSink stores every snapshot change for later charting
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLiteSink opens (creating if needed) the history database at path
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single writer keeps ":memory:" databases on one connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Name implements Sink
func (s *SQLiteSink) Name() string {
	return "sqlite"
}

// Emit implements Sink
func (s *SQLiteSink) Emit(ctx context.Context, u Update) error {
	payload, err := json.Marshal(u.Snapshot.Map())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (session_id, ts, variant, payload_json) VALUES (?, ?, ?, ?)`,
		u.SessionID, u.Time.UnixMilli(), u.Variant.String(), string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %v", err)
	}
	return nil
}

// History returns up to limit snapshots of a session, oldest first. An empty
// session selects the most recent one; limit <= 0 returns all rows.
func (s *SQLiteSink) History(ctx context.Context, session string, limit int) ([]Record, error) {
	if session == "" {
		latest, err := s.LatestSession(ctx)
		if err != nil {
			return nil, err
		}
		session = latest
	}
	if limit <= 0 {
		limit = -1
	}

	// newest N, then reversed into time order
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, ts, variant, payload_json FROM snapshots
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?`, session, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var ts int64
		var payload string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &ts, &rec.Variant, &payload); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		rec.Time = time.UnixMilli(ts)
		if err := json.Unmarshal([]byte(payload), &rec.Values); err != nil {
			return nil, fmt.Errorf("decode snapshot %d: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// LatestSession returns the session of the most recent snapshot, or "" if
// the database is empty
func (s *SQLiteSink) LatestSession(ctx context.Context) (string, error) {
	var session string
	err := s.db.QueryRowContext(ctx, `SELECT session_id FROM snapshots ORDER BY id DESC LIMIT 1`).Scan(&session)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest session: %w", err)
	}
	return session, nil
}

// Close implements Sink
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
