package nn

import (
	"fmt"
	"math"

	"cvaesurgery/tensor"
)

// Softmax applies the softmax function to a tensor.
func Softmax(logits *tensor.Tensor) *tensor.Tensor {
	maxLogit := logits.Data[0]
	for _, v := range logits.Data {
		if v > maxLogit {
			maxLogit = v
		}
	}
	expSum := 0.0
	exps := make([]float64, len(logits.Data))
	for i, v := range logits.Data {
		e := math.Exp(v - maxLogit)
		exps[i] = e
		expSum += e
	}
	softmax := tensor.New(len(logits.Data))
	for i, e := range exps {
		softmax.Data[i] = e / expSum
	}
	return softmax
}

// Argmax returns the index of the largest entry, the first on ties.
func Argmax(t *tensor.Tensor) int {
	best := 0
	for i, v := range t.Data {
		if v > t.Data[best] {
			best = i
		}
	}
	return best
}

// Classifier labels images with the most probable class of a network.
type Classifier struct {
	Net *Sequential
}

// ClassifierFromStore builds a ReLU MLP from layers in order; the last
// layer emits one logit per class.
func ClassifierFromStore(store *Store, naming Naming, layers ...string) (*Classifier, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("classifier needs at least one layer")
	}
	net := &Sequential{}
	prev := -1
	for i, name := range layers {
		l, err := LinearFromStore(store, naming, name)
		if err != nil {
			return nil, err
		}
		if prev >= 0 && l.InDim() != prev {
			return nil, layerErr("load", name, ErrMalformedLayer, "width %d, want %d", l.InDim(), prev)
		}
		prev = l.OutDim()
		net.Layers = append(net.Layers, l)
		if i < len(layers)-1 {
			net.Layers = append(net.Layers, ReLU{})
		}
	}
	return &Classifier{Net: net}, nil
}

// Predict returns the class with the highest softmax probability.
func (c *Classifier) Predict(x *tensor.Tensor) (int, error) {
	logits, err := c.Net.Forward(x)
	if err != nil {
		return 0, err
	}
	if len(logits.Data) == 0 {
		return 0, fmt.Errorf("classifier produced no logits")
	}
	return Argmax(Softmax(logits)), nil
}
