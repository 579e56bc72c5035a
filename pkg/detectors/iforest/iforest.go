// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// Kind is the artifact kind of an IsolationForest.
const Kind = "iforest"

// eulerGamma is the Euler-Mascheroni constant used to approximate H(n).
const eulerGamma = 0.5772156649

var errNotTrained = errors.New("model not trained")

// IsolationForest implements unsupervised anomaly detection using isolation trees.
// As a model it produces a single output, the anomaly score in [0, 1].
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees     int
	sampleSize int
	maxDepth   int
	rng        *rand.Rand

	// Trained model
	nFeatures     int
	trees         []*Node
	avgPathLength float64
	trained       bool
}

// Node is a node of an isolation tree. Leaves have no children.
type Node struct {
	Feature int     `json:"feature,omitempty"`
	Split   float64 `json:"split,omitempty"`
	Left    *Node   `json:"left,omitempty"`
	Right   *Node   `json:"right,omitempty"`
	// Size is the number of training samples that reached a leaf.
	Size int `json:"size,omitempty"`
}

func (n *Node) leaf() bool {
	return n.Left == nil && n.Right == nil
}

// Params is the serializable form of a trained forest.
type Params struct {
	NFeatures     int     `json:"n_features"`
	SampleSize    int     `json:"sample_size"`
	AvgPathLength float64 `json:"avg_path_length"`
	Trees         []*Node `json:"trees"`
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.rng = rand.New(rand.NewSource(seed))
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	f := &IsolationForest{
		nTrees:     100,
		sampleSize: 256,
		rng:        rand.New(rand.NewSource(42)),
	}

	for _, opt := range opts {
		opt(f)
	}

	f.maxDepth = depthFor(f.sampleSize)

	return f
}

// FromParams creates a trained forest from decoded parameters.
func FromParams(p Params) (*IsolationForest, error) {
	f := New()
	if err := f.set(p); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *IsolationForest) set(p Params) error {
	if len(p.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	if p.NFeatures <= 0 {
		return errors.New("feature count must be positive")
	}
	if p.AvgPathLength <= 0 {
		return errors.New("average path length must be positive")
	}
	for i, tree := range p.Trees {
		if err := validate(tree, p.NFeatures); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}

	f.nTrees = len(p.Trees)
	f.sampleSize = p.SampleSize
	f.maxDepth = depthFor(p.SampleSize)
	f.nFeatures = p.NFeatures
	f.avgPathLength = p.AvgPathLength
	f.trees = p.Trees
	f.trained = true
	return nil
}

// validate checks that every split refers to an existing feature.
func validate(n *Node, nFeatures int) error {
	if n == nil {
		return errors.New("nil node")
	}
	if n.leaf() {
		return nil
	}
	if n.Left == nil || n.Right == nil {
		return errors.New("internal node with a single child")
	}
	if n.Feature < 0 || n.Feature >= nFeatures {
		return fmt.Errorf("split feature %d out of range", n.Feature)
	}
	if err := validate(n.Left, nFeatures); err != nil {
		return err
	}
	return validate(n.Right, nFeatures)
}

// Kind returns the artifact kind.
func (f *IsolationForest) Kind() string {
	return Kind
}

// InputSize returns the number of features seen during training.
func (f *IsolationForest) InputSize() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.nFeatures
}

// Fit trains the Isolation Forest on the provided data.
func (f *IsolationForest) Fit(data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(data) == 0 {
		return errors.New("empty training data")
	}

	nSamples := len(data)
	nFeatures := len(data[0])
	for i, row := range data {
		if len(row) != nFeatures {
			return fmt.Errorf("row %d: expected %d features, got %d", i, nFeatures, len(row))
		}
	}

	sampleSize := f.sampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}

	f.trees = make([]*Node, f.nTrees)
	for i := 0; i < f.nTrees; i++ {
		// Sample without replacement
		indices := f.rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = data[idx]
		}

		f.trees[i] = f.buildNode(sample, nFeatures, 0)
	}

	f.nFeatures = nFeatures
	f.avgPathLength = averagePathLength(float64(sampleSize))
	if f.avgPathLength == 0 {
		// A single sample isolates immediately; keep scores defined.
		f.avgPathLength = 1
	}
	f.trained = true

	return nil
}

func (f *IsolationForest) buildNode(data [][]float64, nFeatures, depth int) *Node {
	n := len(data)

	if depth >= f.maxDepth || n <= 1 {
		return &Node{Size: n}
	}

	feature := f.rng.Intn(nFeatures)

	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}

	if minVal == maxVal {
		return &Node{Size: n}
	}

	split := minVal + f.rng.Float64()*(maxVal-minVal)

	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &Node{
		Feature: feature,
		Split:   split,
		Left:    f.buildNode(left, nFeatures, depth+1),
		Right:   f.buildNode(right, nFeatures, depth+1),
	}
}

// Infer returns a single-element output holding the anomaly score.
func (f *IsolationForest) Infer(features []float64) ([]float64, error) {
	score, err := f.PredictOne(features)
	if err != nil {
		return nil, err
	}
	return []float64{score}, nil
}

// Predict returns anomaly scores for the given samples.
func (f *IsolationForest) Predict(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, errNotTrained
	}

	scores := make([]float64, len(data))
	for i, sample := range data {
		score, err := f.predictOne(sample)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		scores[i] = score
	}
	return scores, nil
}

// PredictOne returns the anomaly score for a single sample.
func (f *IsolationForest) PredictOne(sample []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, errNotTrained
	}

	return f.predictOne(sample)
}

func (f *IsolationForest) predictOne(sample []float64) (float64, error) {
	if len(sample) != f.nFeatures {
		return 0, fmt.Errorf("expected %d features, got %d", f.nFeatures, len(sample))
	}

	var totalPath float64
	for _, tree := range f.trees {
		totalPath += pathLength(sample, tree, 0)
	}
	avgPath := totalPath / float64(len(f.trees))

	// s(x, n) = 2^(-E[h(x)] / c(n)); higher is more anomalous.
	return math.Pow(2, -avgPath/f.avgPathLength), nil
}

// pathLength calculates the path length for a sample in a tree.
func pathLength(sample []float64, n *Node, depth int) float64 {
	for !n.leaf() {
		if sample[n.Feature] < n.Split {
			n = n.Left
		} else {
			n = n.Right
		}
		depth++
	}
	// Add the expected remaining depth for the samples sharing this leaf.
	return float64(depth) + averagePathLength(float64(n.Size))
}

// averagePathLength returns c(n) = 2H(n-1) - 2(n-1)/n, the average path
// length of an unsuccessful search in a binary search tree.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
}

func depthFor(sampleSize int) int {
	if sampleSize < 2 {
		return 1
	}
	return int(math.Ceil(math.Log2(float64(sampleSize))))
}

// Params returns the trained forest parameters. Trees are shared, not copied.
func (f *IsolationForest) Params() Params {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return Params{
		NFeatures:     f.nFeatures,
		SampleSize:    f.sampleSize,
		AvgPathLength: f.avgPathLength,
		Trees:         f.trees,
	}
}

// Save serializes the trained model.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	trained := f.trained
	f.mu.RUnlock()

	if !trained {
		return nil, errNotTrained
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f.Params()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (f *IsolationForest) Load(data []byte) error {
	var p Params
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set(p)
}
