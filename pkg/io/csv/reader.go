// Package csv parses comma-separated network flow feature rows.
package csv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// NumFeatures is the number of fields in a flow row.
const NumFeatures = 6

// FeatureNames lists the flow features in row order.
var FeatureNames = [NumFeatures]string{
	"Flow Duration",
	"Total Fwd Packets",
	"Total Backward Packets",
	"Packet Length Mean",
	"Flow IAT Mean",
	"Fwd Flag Count",
}

// FieldCountError reports a row with the wrong number of fields.
type FieldCountError struct {
	Want int
	Got  int
}

func (e *FieldCountError) Error() string {
	return fmt.Sprintf("expected %d features, got %d", e.Want, e.Got)
}

// ParseError reports a field that is not a number.
type ParseError struct {
	// Field is the 1-based field position.
	Field int
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	name := ""
	if e.Field >= 1 && e.Field <= NumFeatures {
		name = " (" + FeatureNames[e.Field-1] + ")"
	}
	return fmt.Sprintf("could not convert field %d%s to float: %q", e.Field, name, e.Value)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseRow splits line on commas and parses exactly want float fields.
// Surrounding whitespace is ignored per field. Every field is parsed before
// the count is checked, so a non-numeric field is always a *ParseError.
func ParseRow(line string, want int) ([]float64, error) {
	fields := strings.Split(line, ",")

	row := make([]float64, len(fields))
	for i, val := range fields {
		val = strings.TrimSpace(val)
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, &ParseError{Field: i + 1, Value: val, Err: err}
		}
		row[i] = f
	}

	if len(row) != want {
		return nil, &FieldCountError{Want: want, Got: len(row)}
	}
	return row, nil
}

// Reader yields trimmed, non-blank lines from a stream.
type Reader struct {
	r    *bufio.Reader
	line int
}

// NewReader creates a Reader over r. Lines may be of any length.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next non-blank line with surrounding whitespace removed.
// It returns io.EOF when the stream is exhausted.
func (r *Reader) Next() (string, error) {
	for {
		raw, err := r.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		if raw == "" && err != nil {
			return "", io.EOF
		}
		r.line++

		if line := strings.TrimSpace(raw); line != "" {
			return line, nil
		}
		if err != nil {
			return "", io.EOF
		}
	}
}

// Line returns the 1-based number of the line last consumed, blanks included.
func (r *Reader) Line() int {
	return r.line
}
