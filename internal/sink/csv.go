// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/danricho/projecta-RS485-reverse-engineering/pkg/projecta"
)

// CSVHeader returns the header row: timestamp followed by the field columns
func CSVHeader() []string {
	header := make([]string, 0, len(projecta.CSVColumns)+1)
	header = append(header, "timestamp")
	for _, f := range projecta.CSVColumns {
		header = append(header, f.String())
	}
	return header
}

// CSVRow renders one update in column order; unset fields are empty
func CSVRow(u Update) []string {
	row := make([]string, 0, len(projecta.CSVColumns)+1)
	row = append(row, u.Time.Format(projecta.CSVTimestampLayout))
	for _, f := range projecta.CSVColumns {
		if v, ok := u.Snapshot.Get(f); ok {
			row = append(row, f.FormatValue(v))
		} else {
			row = append(row, "")
		}
	}
	return row
}

// CSVSink writes one row per snapshot change
type CSVSink struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSVSink writes rows to w, starting with the header
func NewCSVSink(w io.Writer) (*CSVSink, error) {
	s := &CSVSink{w: csv.NewWriter(w)}
	if err := s.write(CSVHeader()); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenCSVSink appends to the CSV file at path, writing the header when the
// file is new or empty
func OpenCSVSink(path string) (*CSVSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat csv: %w", err)
	}

	s := &CSVSink{w: csv.NewWriter(file), closer: file}
	if info.Size() == 0 {
		if err := s.write(CSVHeader()); err != nil {
			file.Close()
			return nil, err
		}
	}
	return s, nil
}

// Name implements Sink
func (s *CSVSink) Name() string {
	return "csv"
}

// Emit implements Sink
func (s *CSVSink) Emit(_ context.Context, u Update) error {
	return s.write(CSVRow(u))
}

func (s *CSVSink) write(record []string) error {
	if err := s.w.Write(record); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	s.w.Flush()
	return s.w.Error()
}

// Close implements Sink
func (s *CSVSink) Close() error {
	s.w.Flush()
	err := s.w.Error()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
