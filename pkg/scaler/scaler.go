// Package scaler provides fitted feature transforms applied before inference.
//
// The parameter layout follows scikit-learn so that fitted scalers can be
// exported from Python without refitting.
package scaler

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
)

// Artifact kinds.
const (
	KindStandard = "standard"
	KindMinMax   = "minmax"
)

var (
	errNotFitted = errors.New("scaler not fitted")
	errEmpty     = errors.New("scaler has no features")
)

// Scaler maps a raw feature vector to a normalized one.
type Scaler interface {
	// Transform returns a new normalized vector.
	Transform(features []float64) ([]float64, error)

	// Dim returns the number of features the scaler was fitted on.
	Dim() int

	// Kind names the artifact type.
	Kind() string

	// Save serializes the scaler to bytes.
	Save() ([]byte, error)

	// Load deserializes a scaler from bytes.
	Load(data []byte) error
}

// StandardParams holds the statistics of a fitted z-score scaler.
type StandardParams struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Standard computes (x - mean) / scale per feature.
type Standard struct {
	p StandardParams
}

// NewStandard creates a Standard scaler. A zero scale is treated as 1,
// which leaves constant features centred but unscaled.
func NewStandard(mean, scale []float64) (*Standard, error) {
	s := &Standard{}
	if err := s.set(StandardParams{Mean: mean, Scale: scale}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Standard) set(p StandardParams) error {
	if len(p.Mean) == 0 {
		return errEmpty
	}
	if len(p.Mean) != len(p.Scale) {
		return fmt.Errorf("mean has %d features, scale has %d", len(p.Mean), len(p.Scale))
	}
	if err := checkFinite("mean", p.Mean); err != nil {
		return err
	}
	if err := checkFinite("scale", p.Scale); err != nil {
		return err
	}

	scale := make([]float64, len(p.Scale))
	for i, v := range p.Scale {
		if v == 0 {
			v = 1
		}
		scale[i] = v
	}
	s.p = StandardParams{Mean: append([]float64(nil), p.Mean...), Scale: scale}
	return nil
}

// Kind returns the artifact kind.
func (s *Standard) Kind() string { return KindStandard }

// Dim returns the number of features.
func (s *Standard) Dim() int { return len(s.p.Mean) }

// Params returns the scaler statistics.
func (s *Standard) Params() StandardParams {
	return StandardParams{
		Mean:  append([]float64(nil), s.p.Mean...),
		Scale: append([]float64(nil), s.p.Scale...),
	}
}

// Transform standardizes features.
func (s *Standard) Transform(features []float64) ([]float64, error) {
	if s.Dim() == 0 {
		return nil, errNotFitted
	}
	if len(features) != s.Dim() {
		return nil, fmt.Errorf("expected %d features, got %d", s.Dim(), len(features))
	}

	out := make([]float64, len(features))
	for i, x := range features {
		out[i] = (x - s.p.Mean[i]) / s.p.Scale[i]
	}
	return out, nil
}

// Save serializes the scaler.
func (s *Standard) Save() ([]byte, error) {
	if s.Dim() == 0 {
		return nil, errNotFitted
	}
	return encode(s.p)
}

// Load deserializes the scaler.
func (s *Standard) Load(data []byte) error {
	var p StandardParams
	if err := decode(data, &p); err != nil {
		return err
	}
	return s.set(p)
}

// MinMaxParams holds a fitted min-max transform as x*Scale + Min.
type MinMaxParams struct {
	Scale []float64 `json:"scale"`
	Min   []float64 `json:"min"`
}

// MinMax rescales each feature linearly into the range it was fitted to.
type MinMax struct {
	p MinMaxParams
}

// NewMinMax creates a MinMax scaler from per-feature scale and offset.
func NewMinMax(scale, offset []float64) (*MinMax, error) {
	m := &MinMax{}
	if err := m.set(MinMaxParams{Scale: scale, Min: offset}); err != nil {
		return nil, err
	}
	return m, nil
}

// MinMaxFromRange builds the scaler mapping [dataMin, dataMax] onto [lo, hi].
func MinMaxFromRange(dataMin, dataMax []float64, lo, hi float64) (*MinMax, error) {
	if len(dataMin) != len(dataMax) {
		return nil, fmt.Errorf("min has %d features, max has %d", len(dataMin), len(dataMax))
	}
	if hi <= lo {
		return nil, errors.New("feature range upper bound must exceed lower bound")
	}

	scale := make([]float64, len(dataMin))
	offset := make([]float64, len(dataMin))
	for i := range dataMin {
		span := dataMax[i] - dataMin[i]
		if span == 0 {
			span = 1
		}
		scale[i] = (hi - lo) / span
		offset[i] = lo - dataMin[i]*scale[i]
	}
	return NewMinMax(scale, offset)
}

func (m *MinMax) set(p MinMaxParams) error {
	if len(p.Scale) == 0 {
		return errEmpty
	}
	if len(p.Scale) != len(p.Min) {
		return fmt.Errorf("scale has %d features, min has %d", len(p.Scale), len(p.Min))
	}
	if err := checkFinite("scale", p.Scale); err != nil {
		return err
	}
	if err := checkFinite("min", p.Min); err != nil {
		return err
	}

	m.p = MinMaxParams{
		Scale: append([]float64(nil), p.Scale...),
		Min:   append([]float64(nil), p.Min...),
	}
	return nil
}

// Kind returns the artifact kind.
func (m *MinMax) Kind() string { return KindMinMax }

// Dim returns the number of features.
func (m *MinMax) Dim() int { return len(m.p.Scale) }

// Params returns the transform parameters.
func (m *MinMax) Params() MinMaxParams {
	return MinMaxParams{
		Scale: append([]float64(nil), m.p.Scale...),
		Min:   append([]float64(nil), m.p.Min...),
	}
}

// Transform rescales features.
func (m *MinMax) Transform(features []float64) ([]float64, error) {
	if m.Dim() == 0 {
		return nil, errNotFitted
	}
	if len(features) != m.Dim() {
		return nil, fmt.Errorf("expected %d features, got %d", m.Dim(), len(features))
	}

	out := make([]float64, len(features))
	for i, x := range features {
		out[i] = x*m.p.Scale[i] + m.p.Min[i]
	}
	return out, nil
}

// Save serializes the scaler.
func (m *MinMax) Save() ([]byte, error) {
	if m.Dim() == 0 {
		return nil, errNotFitted
	}
	return encode(m.p)
}

// Load deserializes the scaler.
func (m *MinMax) Load(data []byte) error {
	var p MinMaxParams
	if err := decode(data, &p); err != nil {
		return err
	}
	return m.set(p)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func checkFinite(name string, v []float64) error {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%s[%d] is not finite", name, i)
		}
	}
	return nil
}
