// Package predictor scores network flow rows with a loaded model and scaler.
package predictor

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hed1ad/flowguard/pkg/artifact"
	"github.com/hed1ad/flowguard/pkg/detectors"
	"github.com/hed1ad/flowguard/pkg/io/csv"
	"github.com/hed1ad/flowguard/pkg/scaler"
)

// Artifact names used in LoadError.
const (
	ArtifactModel  = "model"
	ArtifactScaler = "scaler"
)

// Prediction stages used in PredictionError.
const (
	StageParse = "parse"
	StageScale = "scale"
	StageInfer = "infer"
)

// LoadError reports an artifact that could not be loaded or does not fit.
type LoadError struct {
	Artifact string
	Path     string
	Err      error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to load model/scaler: %s: %v", e.Artifact, e.Err)
	}
	return fmt.Sprintf("failed to load model/scaler: %s %s: %v", e.Artifact, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// PredictionError reports a row that could not be scored.
type PredictionError struct {
	Stage string
	Err   error
}

func (e *PredictionError) Error() string {
	return "prediction error: " + e.Err.Error()
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}

// Predictor owns a model and the scaler fitted alongside it. Both are
// read-only once constructed.
type Predictor struct {
	model  detectors.Model
	scaler scaler.Scaler
	logger *zap.Logger
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithLogger sets the logger used for load diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(p *Predictor) {
		p.logger = l
	}
}

// New loads the model and scaler artifacts. It returns a *LoadError if
// either fails; no predictor is returned in that case.
func New(modelPath, scalerPath string, opts ...Option) (*Predictor, error) {
	model, err := artifact.ReadModel(modelPath)
	if err != nil {
		return nil, &LoadError{Artifact: ArtifactModel, Path: modelPath, Err: err}
	}
	sc, err := artifact.ReadScaler(scalerPath)
	if err != nil {
		return nil, &LoadError{Artifact: ArtifactScaler, Path: scalerPath, Err: err}
	}
	return NewFromArtifacts(model, sc, opts...)
}

// NewFromArtifacts builds a Predictor from artifacts already in memory.
func NewFromArtifacts(model detectors.Model, sc scaler.Scaler, opts ...Option) (*Predictor, error) {
	if model == nil {
		return nil, &LoadError{Artifact: ArtifactModel, Err: errors.New("nil model")}
	}
	if sc == nil {
		return nil, &LoadError{Artifact: ArtifactScaler, Err: errors.New("nil scaler")}
	}
	if sc.Dim() != csv.NumFeatures {
		return nil, &LoadError{
			Artifact: ArtifactScaler,
			Err:      fmt.Errorf("fitted on %d features, expected %d", sc.Dim(), csv.NumFeatures),
		}
	}
	if n := model.InputSize(); n != 0 && n != sc.Dim() {
		return nil, &LoadError{
			Artifact: ArtifactModel,
			Err:      fmt.Errorf("expects %d inputs, scaler produces %d", n, sc.Dim()),
		}
	}

	p := &Predictor{
		model:  model,
		scaler: sc,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger.Info("predictor ready",
		zap.String("model", kindOf(model)),
		zap.String("scaler", sc.Kind()),
		zap.Int("features", sc.Dim()),
	)
	return p, nil
}

// Predict scores one comma-separated row of csv.NumFeatures raw features.
// Every failure is returned as a *PredictionError.
func (p *Predictor) Predict(line string) (detectors.Verdict, error) {
	row, err := csv.ParseRow(line, csv.NumFeatures)
	if err != nil {
		return detectors.Verdict{}, &PredictionError{Stage: StageParse, Err: err}
	}

	scaled, err := p.scaler.Transform(row)
	if err != nil {
		return detectors.Verdict{}, &PredictionError{Stage: StageScale, Err: err}
	}

	outputs, err := p.model.Infer(scaled)
	if err != nil {
		return detectors.Verdict{}, &PredictionError{Stage: StageInfer, Err: err}
	}

	v, err := detectors.Derive(outputs)
	if err != nil {
		return detectors.Verdict{}, &PredictionError{Stage: StageInfer, Err: err}
	}
	return v, nil
}

func kindOf(m detectors.Model) string {
	if p, ok := m.(detectors.Persistent); ok {
		return p.Kind()
	}
	return fmt.Sprintf("%T", m)
}
