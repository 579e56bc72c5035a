// Package detectors provides the model abstractions used to classify network flows.
package detectors

import (
	"errors"
	"math"
)

const (
	// LabelAnomaly marks a flow whose anomaly score exceeds AnomalyThreshold.
	LabelAnomaly = "anomaly"
	// LabelBenign marks every other flow.
	LabelBenign = "benign"

	// AnomalyThreshold is the fixed decision boundary. A score equal to it is benign.
	AnomalyThreshold = 0.5

	// AnomalyIndex is the output index holding the anomaly class score
	// for models with more than one output.
	AnomalyIndex = 1
)

var (
	// ErrEmptyOutput is returned when a model produced no scores.
	ErrEmptyOutput = errors.New("model produced no scores")
	// ErrNonFinite is returned when a model produced NaN or Inf.
	ErrNonFinite = errors.New("model produced a non-finite score")
)

// Model maps a normalized feature vector to per-class scores.
type Model interface {
	// Infer returns the model output for a single sample.
	Infer(features []float64) ([]float64, error)

	// InputSize returns the expected feature count, or 0 if unknown.
	InputSize() int
}

// Persistent is implemented by artifacts that can be stored on disk.
type Persistent interface {
	// Kind names the artifact type, e.g. "mlp".
	Kind() string

	// Save serializes the artifact to bytes.
	Save() ([]byte, error)

	// Load deserializes an artifact from bytes.
	Load(data []byte) error
}

// Detector is an unsupervised model that can be fitted on unlabelled samples.
type Detector interface {
	Model
	Persistent

	// Fit trains the detector on historical data.
	// data is a 2D slice where each row is a sample and each column is a feature.
	Fit(data [][]float64) error
}

// Verdict is the classification of a single flow.
type Verdict struct {
	// Label is LabelAnomaly or LabelBenign.
	Label string `json:"label"`
	// Score is the anomaly score the label was derived from.
	Score float64 `json:"score"`
	// Confidence is the highest model output expressed as a percentage.
	Confidence float64 `json:"confidence"`
}

// IsAnomaly reports whether the verdict is an anomaly.
func (v Verdict) IsAnomaly() bool {
	return v.Label == LabelAnomaly
}

// Derive turns a model output vector into a verdict.
//
// With more than one output the anomaly score is outputs[AnomalyIndex],
// otherwise outputs[0].
func Derive(outputs []float64) (Verdict, error) {
	if len(outputs) == 0 {
		return Verdict{}, ErrEmptyOutput
	}

	maxScore := outputs[0]
	for _, o := range outputs {
		if math.IsNaN(o) || math.IsInf(o, 0) {
			return Verdict{}, ErrNonFinite
		}
		if o > maxScore {
			maxScore = o
		}
	}

	score := outputs[0]
	if len(outputs) > 1 {
		score = outputs[AnomalyIndex]
	}

	label := LabelBenign
	if score > AnomalyThreshold {
		label = LabelAnomaly
	}

	return Verdict{
		Label:      label,
		Score:      score,
		Confidence: maxScore * 100,
	}, nil
}
