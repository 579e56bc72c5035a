// Package jsonl writes detection results as one JSON object per line.
package jsonl

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/hed1ad/flowguard/pkg/detectors"
	fgio "github.com/hed1ad/flowguard/pkg/io"
)

// Writer encodes records as compact, newline-terminated JSON.
// Every record is flushed as soon as it is written.
type Writer struct {
	buf *bufio.Writer
	enc *json.Encoder
}

var _ fgio.Writer = (*Writer)(nil)

// NewWriter creates a Writer on w.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &Writer{buf: buf, enc: enc}
}

// WriteVerdict writes a classification record.
func (w *Writer) WriteVerdict(v detectors.Verdict) error {
	return w.write(v)
}

// WriteError writes {"error": err.Error()}.
func (w *Writer) WriteError(err error) error {
	return w.write(fgio.ErrorRecord{Error: err.Error()})
}

func (w *Writer) write(v any) error {
	// Encode appends the trailing newline.
	if err := w.enc.Encode(v); err != nil {
		return err
	}
	return w.buf.Flush()
}

// Close flushes any buffered output. The underlying writer is not closed.
func (w *Writer) Close() error {
	return w.buf.Flush()
}
