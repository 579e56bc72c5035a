package iforest

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/flowguard/pkg/detectors"
)

var _ detectors.Detector = (*IsolationForest)(nil)

func TestNewIsolationForest(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		wantNTrees int
	}{
		{
			name:       "default configuration",
			opts:       nil,
			wantNTrees: 100,
		},
		{
			name:       "custom trees",
			opts:       []Option{WithTrees(50)},
			wantNTrees: 50,
		},
		{
			name:       "multiple options",
			opts:       []Option{WithTrees(200), WithSampleSize(64), WithSeed(123)},
			wantNTrees: 200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.opts...)
			assert.Equal(t, tt.wantNTrees, f.nTrees)
			assert.Equal(t, Kind, f.Kind())
		})
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name    string
		data    [][]float64
		wantErr bool
	}{
		{
			name:    "empty data",
			data:    [][]float64{},
			wantErr: true,
		},
		{
			name:    "ragged rows",
			data:    [][]float64{{1, 2}, {1}},
			wantErr: true,
		},
		{
			name:    "single sample",
			data:    [][]float64{{1.0, 2.0, 3.0}},
			wantErr: false,
		},
		{
			name:    "normal data",
			data:    generateTestData(100, 6),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(WithTrees(10), WithSeed(42))
			err := f.Fit(tt.data)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.True(t, f.trained)
			assert.Len(t, f.trees, f.nTrees)
			assert.Equal(t, len(tt.data[0]), f.InputSize())
		})
	}
}

func TestPredict(t *testing.T) {
	trainData := generateTestData(500, 6)
	f := New(WithTrees(50), WithSampleSize(100), WithSeed(42))
	require.NoError(t, f.Fit(trainData))

	t.Run("predict on normal data", func(t *testing.T) {
		testData := generateTestData(100, 6)
		scores, err := f.Predict(testData)

		require.NoError(t, err)
		assert.Len(t, scores, len(testData))

		for _, score := range scores {
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		}
	})

	t.Run("predict on anomalies", func(t *testing.T) {
		anomalies := [][]float64{
			{1000, 1000, 1000, 1000, 1000, 1000},
			{-500, -500, -500, -500, -500, -500},
		}
		scores, err := f.Predict(anomalies)

		require.NoError(t, err)
		for _, score := range scores {
			assert.Greater(t, score, 0.4, "anomalies should have high scores")
		}
	})

	t.Run("wrong feature count", func(t *testing.T) {
		_, err := f.Predict([][]float64{{1, 2}})
		assert.Error(t, err)
	})

	t.Run("predict before fit", func(t *testing.T) {
		untrained := New()
		_, err := untrained.Predict(trainData)
		assert.Error(t, err)
	})
}

func TestInfer(t *testing.T) {
	trainData := generateTestData(200, 6)
	f := New(WithTrees(20), WithSeed(42))
	require.NoError(t, f.Fit(trainData))

	out, err := f.Infer([]float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.GreaterOrEqual(t, out[0], 0.0)
	assert.LessOrEqual(t, out[0], 1.0)

	v, err := detectors.Derive(out)
	require.NoError(t, err)
	assert.Equal(t, out[0], v.Score)
}

func TestSaveLoad(t *testing.T) {
	trainData := generateTestData(200, 4)
	original := New(WithTrees(30), WithSeed(42))
	require.NoError(t, original.Fit(trainData))

	testData := generateTestData(50, 4)
	originalScores, err := original.Predict(testData)
	require.NoError(t, err)

	data, err := original.Save()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	loaded := New()
	require.NoError(t, loaded.Load(data))
	assert.Equal(t, 4, loaded.InputSize())

	loadedScores, err := loaded.Predict(testData)
	require.NoError(t, err)

	assert.Equal(t, originalScores, loadedScores)
}

func TestSaveBeforeFit(t *testing.T) {
	_, err := New().Save()
	assert.Error(t, err)
}

func TestFromParams(t *testing.T) {
	leaf := &Node{Size: 1}
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{
			name: "valid stump",
			params: Params{
				NFeatures:     2,
				SampleSize:    2,
				AvgPathLength: 1,
				Trees:         []*Node{{Feature: 1, Split: 0.5, Left: leaf, Right: leaf}},
			},
		},
		{
			name:    "no trees",
			params:  Params{NFeatures: 2, AvgPathLength: 1},
			wantErr: true,
		},
		{
			name: "feature out of range",
			params: Params{
				NFeatures:     2,
				AvgPathLength: 1,
				Trees:         []*Node{{Feature: 2, Left: leaf, Right: leaf}},
			},
			wantErr: true,
		},
		{
			name: "single child",
			params: Params{
				NFeatures:     2,
				AvgPathLength: 1,
				Trees:         []*Node{{Feature: 0, Left: leaf}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := FromParams(tt.params)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			// depth 1 on both sides, no remaining path: 2^(-1/1)
			score, err := f.PredictOne([]float64{0, 1})
			require.NoError(t, err)
			assert.InDelta(t, 0.5, score, 1e-12)
		})
	}
}

func BenchmarkFit(b *testing.B) {
	data := generateTestData(10000, 6)
	f := New(WithTrees(100), WithSampleSize(256))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Fit(data)
	}
}

func BenchmarkInfer(b *testing.B) {
	trainData := generateTestData(5000, 6)
	sample := make([]float64, 6)
	for i := range sample {
		sample[i] = rand.Float64()
	}

	f := New(WithTrees(100), WithSampleSize(256))
	f.Fit(trainData)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Infer(sample)
	}
}

func generateTestData(n, features int) [][]float64 {
	data := make([][]float64, n)
	for i := 0; i < n; i++ {
		data[i] = make([]float64, features)
		for j := 0; j < features; j++ {
			data[i][j] = rand.NormFloat64()
		}
	}
	return data
}
