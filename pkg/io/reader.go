// Package io provides input/output utilities for line-oriented scoring.
package io

import "github.com/hed1ad/flowguard/pkg/detectors"

// LineReader yields candidate records from a text stream.
type LineReader interface {
	// Next returns the next non-blank, trimmed line.
	// It returns io.EOF once the stream is exhausted.
	Next() (string, error)
}

// Writer is the interface for writing detection results.
type Writer interface {
	// WriteVerdict outputs a successful classification.
	WriteVerdict(v detectors.Verdict) error

	// WriteError outputs a record describing why a line could not be scored.
	WriteError(err error) error

	// Close flushes buffered output.
	Close() error
}

// ErrorRecord is the output record for a line that could not be scored.
type ErrorRecord struct {
	Error string `json:"error"`
}
