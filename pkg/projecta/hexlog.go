// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package projecta

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Offline capture format, one frame per line:
//
//	20250518T082319 | 00 1A FF ...
//
// The annotated form written by the offline decoder inserts the frame length
// and appends the decoded fields:
//
//	20250518T082319 | 94 | 00 1A FF ... | battery_voltage=12.5 ...

const logSeparator = " | "

// LogRecord is one captured frame
type LogRecord struct {
	Line      int
	Timestamp time.Time
	Frame     Frame
}

// LogLineError reports a capture line that could not be parsed
type LogLineError struct {
	Line int
	Err  error
}

func (e *LogLineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LogLineError) Unwrap() error {
	return e.Err
}

// ErrMalformedLine is wrapped by every LogLineError
var ErrMalformedLine = errors.New("malformed capture line")

// FormatLogLine renders a frame as a capture line (without newline).
// Timestamps are second resolution, local time, as the capture tools wrote them.
func FormatLogLine(ts time.Time, f Frame) string {
	return ts.Format(LogTimestampLayout) + logSeparator + f.Hex()
}

// FormatAnnotatedLine renders a frame with its length and decoded fields
func FormatAnnotatedLine(ts time.Time, f Frame, fields Fields) string {
	return ts.Format(LogTimestampLayout) + logSeparator +
		fmt.Sprintf("%d", f.Len()) + logSeparator +
		f.Hex() + logSeparator +
		formatFieldList(fields)
}

// ParseLogLine parses a capture line. Annotated lines are accepted: the hex
// column is the last column consisting only of hex byte pairs.
func ParseLogLine(line string) (LogRecord, error) {
	parts := strings.Split(strings.TrimSpace(line), "|")
	if len(parts) < 2 {
		return LogRecord{}, fmt.Errorf("%w: missing separator", ErrMalformedLine)
	}

	tsText := strings.TrimSpace(parts[0])
	ts, err := time.ParseInLocation(LogTimestampLayout, tsText, time.Local)
	if err != nil {
		return LogRecord{}, fmt.Errorf("%w: timestamp %q", ErrMalformedLine, tsText)
	}

	hexText := strings.TrimSpace(parts[1])
	if len(parts) >= 3 {
		// annotated: timestamp | length | hex | fields
		hexText = strings.TrimSpace(parts[2])
	}

	data, err := parseHexBytes(hexText)
	if err != nil {
		return LogRecord{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	return LogRecord{Timestamp: ts, Frame: Frame{data: data}}, nil
}

// parseHexBytes accepts "0A FF 10" (any whitespace) or "0AFF10"
func parseHexBytes(s string) ([]byte, error) {
	compact := strings.Join(strings.Fields(s), "")
	if compact == "" {
		return []byte{}, nil
	}
	data, err := hex.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("hex bytes: %v", err)
	}
	return data, nil
}

// LogReader iterates the records of a capture file, skipping blank lines
type LogReader struct {
	scanner *bufio.Scanner
	line    int
	record  LogRecord
	err     error
}

// maxLogLineLength fits a maximal frame at three characters per byte plus
// the timestamp, length and decoded field columns
const maxLogLineLength = MaxFrameSize*3 + 4096

// NewLogReader reads capture lines from r
func NewLogReader(r io.Reader) *LogReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxLogLineLength)
	return &LogReader{scanner: s}
}

// Next advances to the next record. It returns false at end of input or on
// the first error; check Err afterwards.
func (lr *LogReader) Next() bool {
	if lr.err != nil {
		return false
	}
	for lr.scanner.Scan() {
		lr.line++
		text := lr.scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		rec, err := ParseLogLine(text)
		if err != nil {
			lr.err = &LogLineError{Line: lr.line, Err: err}
			return false
		}
		rec.Line = lr.line
		lr.record = rec
		return true
	}
	lr.err = lr.scanner.Err()
	return false
}

// Record returns the current record
func (lr *LogReader) Record() LogRecord {
	return lr.record
}

// Err returns the first error encountered
func (lr *LogReader) Err() error {
	return lr.err
}

// ReadLog parses an entire capture
func ReadLog(r io.Reader) ([]LogRecord, error) {
	lr := NewLogReader(r)
	var records []LogRecord
	for lr.Next() {
		records = append(records, lr.Record())
	}
	return records, lr.Err()
}
