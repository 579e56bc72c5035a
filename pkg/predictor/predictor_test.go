package predictor

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hed1ad/flowguard/pkg/artifact"
	"github.com/hed1ad/flowguard/pkg/detectors"
	"github.com/hed1ad/flowguard/pkg/detectors/mlp"
	"github.com/hed1ad/flowguard/pkg/io/csv"
	"github.com/hed1ad/flowguard/pkg/scaler"
)

// fixedModel returns the same outputs for every input.
type fixedModel struct {
	outputs []float64
	err     error
}

func (m fixedModel) Infer([]float64) ([]float64, error) {
	return m.outputs, m.err
}

func (m fixedModel) InputSize() int { return csv.NumFeatures }

func identityScaler(t *testing.T) *scaler.Standard {
	t.Helper()
	s, err := scaler.NewStandard(make([]float64, 6), []float64{1, 1, 1, 1, 1, 1})
	require.NoError(t, err)
	return s
}

func biasNetwork(t *testing.T, biases ...float64) *mlp.Network {
	t.Helper()
	weights := make([][]float64, len(biases))
	for i := range weights {
		weights[i] = make([]float64, csv.NumFeatures)
	}
	n, err := mlp.New(csv.NumFeatures, mlp.Dense(weights, biases, mlp.Linear))
	require.NoError(t, err)
	return n
}

func writeArtifacts(t *testing.T, model detectors.Persistent, sc scaler.Scaler) (string, string) {
	t.Helper()
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.bin")
	scalerPath := filepath.Join(dir, "scaler.bin")
	require.NoError(t, artifact.WriteFile(modelPath, model, artifact.Gob))
	require.NoError(t, artifact.WriteFile(scalerPath, sc, artifact.Gob))
	return modelPath, scalerPath
}

func TestNew(t *testing.T) {
	modelPath, scalerPath := writeArtifacts(t, biasNetwork(t, 0.2, 0.8), identityScaler(t))

	p, err := New(modelPath, scalerPath, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	v, err := p.Predict("120000,10,8,512.5,3000.2,1")
	require.NoError(t, err)
	assert.Equal(t, detectors.LabelAnomaly, v.Label)
	assert.Equal(t, 0.8, v.Score)
	assert.InDelta(t, 80.0, v.Confidence, 1e-9)
}

func TestNewLoadErrors(t *testing.T) {
	modelPath, scalerPath := writeArtifacts(t, biasNetwork(t, 0.2, 0.8), identityScaler(t))
	missing := filepath.Join(t.TempDir(), "missing.bin")
	corrupt := filepath.Join(t.TempDir(), "corrupt.bin")
	require.NoError(t, os.WriteFile(corrupt, []byte("\x13\x37 not an artifact"), 0o644))

	tests := []struct {
		name         string
		modelPath    string
		scalerPath   string
		wantArtifact string
	}{
		{name: "missing model", modelPath: missing, scalerPath: scalerPath, wantArtifact: ArtifactModel},
		{name: "missing scaler", modelPath: modelPath, scalerPath: missing, wantArtifact: ArtifactScaler},
		{name: "corrupt model", modelPath: corrupt, scalerPath: scalerPath, wantArtifact: ArtifactModel},
		{name: "corrupt scaler", modelPath: modelPath, scalerPath: corrupt, wantArtifact: ArtifactScaler},
		{name: "swapped", modelPath: scalerPath, scalerPath: modelPath, wantArtifact: ArtifactModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.modelPath, tt.scalerPath)
			assert.Nil(t, p)

			var loadErr *LoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, tt.wantArtifact, loadErr.Artifact)
			assert.Contains(t, err.Error(), "failed to load model/scaler")
		})
	}
}

func TestNewFromArtifactsDimensions(t *testing.T) {
	small, err := scaler.NewStandard([]float64{0, 0}, []float64{1, 1})
	require.NoError(t, err)
	_, err = NewFromArtifacts(biasNetwork(t, 0.5), small)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ArtifactScaler, loadErr.Artifact)

	narrow, err := mlp.New(3, mlp.Dense([][]float64{{1, 1, 1}}, []float64{0}, mlp.Sigmoid))
	require.NoError(t, err)
	_, err = NewFromArtifacts(narrow, identityScaler(t))
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ArtifactModel, loadErr.Artifact)

	_, err = NewFromArtifacts(nil, identityScaler(t))
	assert.Error(t, err)
}

func TestPredict(t *testing.T) {
	tests := []struct {
		name      string
		outputs   []float64
		line      string
		wantLabel string
		wantScore float64
		wantConf  float64
	}{
		{
			name:      "two class anomaly",
			outputs:   []float64{0.2, 0.8},
			line:      "120000,10,8,512.5,3000.2,1",
			wantLabel: detectors.LabelAnomaly,
			wantScore: 0.8,
			wantConf:  80,
		},
		{
			name:      "two class benign",
			outputs:   []float64{0.95, 0.05},
			line:      "1,1,1,1,1,1",
			wantLabel: detectors.LabelBenign,
			wantScore: 0.05,
			wantConf:  95,
		},
		{
			name:      "single sigmoid output",
			outputs:   []float64{0.51},
			line:      " 1 , 2 , 3 , 4 , 5 , 6 ",
			wantLabel: detectors.LabelAnomaly,
			wantScore: 0.51,
			wantConf:  51,
		},
		{
			name:      "boundary",
			outputs:   []float64{0.5},
			line:      "0,0,0,0,0,0",
			wantLabel: detectors.LabelBenign,
			wantScore: 0.5,
			wantConf:  50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewFromArtifacts(fixedModel{outputs: tt.outputs}, identityScaler(t))
			require.NoError(t, err)

			v, err := p.Predict(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLabel, v.Label)
			assert.Equal(t, tt.wantScore, v.Score)
			assert.InDelta(t, tt.wantConf, v.Confidence, 1e-9)
			assert.GreaterOrEqual(t, v.Confidence, 0.0)
			assert.LessOrEqual(t, v.Confidence, 100.0)
		})
	}
}

func TestPredictErrors(t *testing.T) {
	p, err := NewFromArtifacts(biasNetwork(t, 0.2, 0.8), identityScaler(t))
	require.NoError(t, err)

	t.Run("field count", func(t *testing.T) {
		_, err := p.Predict("1,2,3")
		var predErr *PredictionError
		require.ErrorAs(t, err, &predErr)
		assert.Equal(t, StageParse, predErr.Stage)

		var countErr *csv.FieldCountError
		require.ErrorAs(t, err, &countErr)
		assert.Equal(t, 3, countErr.Got)
		assert.EqualError(t, err, "prediction error: expected 6 features, got 3")
	})

	t.Run("not numeric", func(t *testing.T) {
		_, err := p.Predict("a,b,c,d,e,f")
		var parseErr *csv.ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, 1, parseErr.Field)
		assert.Contains(t, err.Error(), "could not convert")
	})

	t.Run("non numeric with wrong field count", func(t *testing.T) {
		for _, line := range []string{"a,b", "1,2,x", "x"} {
			_, err := p.Predict(line)

			var predErr *PredictionError
			require.ErrorAs(t, err, &predErr, line)
			assert.Equal(t, StageParse, predErr.Stage, line)

			var parseErr *csv.ParseError
			assert.ErrorAs(t, err, &parseErr, line)
			var countErr *csv.FieldCountError
			assert.False(t, errors.As(err, &countErr), line)
		}
	})

	t.Run("inference failure", func(t *testing.T) {
		boom := errors.New("boom")
		p, err := NewFromArtifacts(fixedModel{err: boom}, identityScaler(t))
		require.NoError(t, err)

		_, err = p.Predict("1,2,3,4,5,6")
		var predErr *PredictionError
		require.ErrorAs(t, err, &predErr)
		assert.Equal(t, StageInfer, predErr.Stage)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("non finite output", func(t *testing.T) {
		p, err := NewFromArtifacts(fixedModel{outputs: []float64{math.NaN()}}, identityScaler(t))
		require.NoError(t, err)

		_, err = p.Predict("1,2,3,4,5,6")
		assert.ErrorIs(t, err, detectors.ErrNonFinite)
	})

	t.Run("empty output", func(t *testing.T) {
		p, err := NewFromArtifacts(fixedModel{}, identityScaler(t))
		require.NoError(t, err)

		_, err = p.Predict("1,2,3,4,5,6")
		assert.ErrorIs(t, err, detectors.ErrEmptyOutput)
	})
}

func TestPredictIsStateless(t *testing.T) {
	p, err := NewFromArtifacts(biasNetwork(t, 0.7, 0.3), identityScaler(t))
	require.NoError(t, err)

	first, err := p.Predict("1,2,3,4,5,6")
	require.NoError(t, err)
	_, err = p.Predict("bad")
	require.Error(t, err)
	second, err := p.Predict("1,2,3,4,5,6")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, detectors.LabelBenign, first.Label)
	assert.InDelta(t, 70.0, first.Confidence, 1e-9)
}

func BenchmarkPredict(b *testing.B) {
	s, _ := scaler.NewStandard(make([]float64, 6), []float64{1, 1, 1, 1, 1, 1})
	n, _ := mlp.New(6, mlp.Dense([][]float64{{1, 1, 1, 1, 1, 1}, {-1, -1, -1, -1, -1, -1}}, []float64{0, 0}, mlp.Softmax))
	p, _ := NewFromArtifacts(n, s)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Predict("120000,10,8,512.5,3000.2,1")
	}
}
