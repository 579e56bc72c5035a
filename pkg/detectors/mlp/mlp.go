// Package mlp implements a dense feed-forward neural network classifier.
package mlp

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"sync"
)

// Kind is the artifact kind of a Network.
const Kind = "mlp"

// Activation is the non-linearity applied to a layer's output.
type Activation string

// Supported activations.
const (
	Linear  Activation = "linear"
	ReLU    Activation = "relu"
	Sigmoid Activation = "sigmoid"
	Tanh    Activation = "tanh"
	Softmax Activation = "softmax"
)

var (
	errNoLayers    = errors.New("network has no layers")
	errNotLoaded   = errors.New("network not loaded")
	errInputSize   = errors.New("input size must be positive")
	errEmptyLayer  = errors.New("layer has no units")
	errUnknownAct  = errors.New("unknown activation")
	errShapeBiases = errors.New("biases do not match weight rows")
)

// Layer is a fully connected layer. Weights has one row per output unit
// and one column per input.
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Biases     []float64   `json:"biases"`
	Activation Activation  `json:"activation"`
}

// Params is the serializable form of a Network.
type Params struct {
	InputSize int     `json:"input_size"`
	Layers    []Layer `json:"layers"`
}

// Network is a trained multi-layer perceptron.
type Network struct {
	mu sync.RWMutex

	inputSize int
	layers    []Layer
	loaded    bool
}

// Dense builds a layer from a weight matrix, bias vector and activation.
func Dense(weights [][]float64, biases []float64, act Activation) Layer {
	return Layer{Weights: weights, Biases: biases, Activation: act}
}

// New creates a Network from its parameters after validating layer shapes.
func New(inputSize int, layers ...Layer) (*Network, error) {
	n := &Network{}
	if err := n.set(Params{InputSize: inputSize, Layers: layers}); err != nil {
		return nil, err
	}
	return n, nil
}

// FromParams creates a Network from decoded parameters.
func FromParams(p Params) (*Network, error) {
	return New(p.InputSize, p.Layers...)
}

func (n *Network) set(p Params) error {
	if p.InputSize <= 0 {
		return errInputSize
	}
	if len(p.Layers) == 0 {
		return errNoLayers
	}

	in := p.InputSize
	for i, l := range p.Layers {
		if len(l.Weights) == 0 {
			return fmt.Errorf("layer %d: %w", i, errEmptyLayer)
		}
		if len(l.Biases) != len(l.Weights) {
			return fmt.Errorf("layer %d: %w: %d rows, %d biases", i, errShapeBiases, len(l.Weights), len(l.Biases))
		}
		for j, row := range l.Weights {
			if len(row) != in {
				return fmt.Errorf("layer %d unit %d: expected %d weights, got %d", i, j, in, len(row))
			}
		}
		if !l.Activation.valid() {
			return fmt.Errorf("layer %d: %w %q", i, errUnknownAct, l.Activation)
		}
		in = len(l.Weights)
	}

	n.inputSize = p.InputSize
	n.layers = copyLayers(p.Layers)
	n.loaded = true
	return nil
}

func copyLayers(src []Layer) []Layer {
	layers := make([]Layer, len(src))
	for i, l := range src {
		w := make([][]float64, len(l.Weights))
		for j, row := range l.Weights {
			w[j] = append([]float64(nil), row...)
		}
		layers[i] = Layer{
			Weights:    w,
			Biases:     append([]float64(nil), l.Biases...),
			Activation: l.Activation,
		}
	}
	return layers
}

// Kind returns the artifact kind.
func (n *Network) Kind() string {
	return Kind
}

// InputSize returns the number of features the first layer expects.
func (n *Network) InputSize() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.inputSize
}

// OutputSize returns the number of units in the last layer.
func (n *Network) OutputSize() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if len(n.layers) == 0 {
		return 0
	}
	return len(n.layers[len(n.layers)-1].Weights)
}

// Params returns a copy of the network parameters.
func (n *Network) Params() Params {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return Params{InputSize: n.inputSize, Layers: copyLayers(n.layers)}
}

// Infer runs a forward pass for a single sample.
func (n *Network) Infer(features []float64) ([]float64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if !n.loaded {
		return nil, errNotLoaded
	}
	if len(features) != n.inputSize {
		return nil, fmt.Errorf("expected %d inputs, got %d", n.inputSize, len(features))
	}

	x := features
	for _, l := range n.layers {
		x = l.forward(x)
	}
	return x, nil
}

// forward computes act(W·x + b).
func (l Layer) forward(x []float64) []float64 {
	out := make([]float64, len(l.Weights))
	for i, row := range l.Weights {
		sum := l.Biases[i]
		for j, w := range row {
			sum += w * x[j]
		}
		out[i] = sum
	}
	l.Activation.apply(out)
	return out
}

func (a Activation) valid() bool {
	switch a {
	case Linear, ReLU, Sigmoid, Tanh, Softmax, "":
		return true
	}
	return false
}

// apply transforms v in place. An empty activation is linear.
func (a Activation) apply(v []float64) {
	switch a {
	case ReLU:
		for i, x := range v {
			if x < 0 {
				v[i] = 0
			}
		}
	case Sigmoid:
		for i, x := range v {
			v[i] = 1 / (1 + math.Exp(-x))
		}
	case Tanh:
		for i, x := range v {
			v[i] = math.Tanh(x)
		}
	case Softmax:
		softmax(v)
	}
}

// softmax normalizes v in place, shifted by its maximum for stability.
func softmax(v []float64) {
	maxVal := v[0]
	for _, x := range v[1:] {
		if x > maxVal {
			maxVal = x
		}
	}
	var sum float64
	for i, x := range v {
		v[i] = math.Exp(x - maxVal)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}

// Save serializes the network.
func (n *Network) Save() ([]byte, error) {
	n.mu.RLock()
	loaded := n.loaded
	n.mu.RUnlock()

	if !loaded {
		return nil, errNotLoaded
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(n.Params()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a network and validates its shapes.
func (n *Network) Load(data []byte) error {
	var p Params
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.set(p)
}
