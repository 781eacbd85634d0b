package nn

import (
	"fmt"

	"cvaesurgery/tensor"
)

// Module defines a single layer/unit in the network.
type Module interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// Sequential chains multiple Modules in order.
type Sequential struct {
	Layers []Module
}

// Forward applies each layer in sequence.
func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x
	var err error
	for _, layer := range s.Layers {
		out, err = layer.Forward(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Linear is a fully-connected layer y = Wx + b.
type Linear struct {
	Name string
	W, B *tensor.Tensor
}

// LinearFromStore reads layer's weight and bias from store.
func LinearFromStore(store *Store, naming Naming, layer string) (*Linear, error) {
	w, ok := store.Get(naming.WeightKey(layer))
	if !ok {
		return nil, layerErr("load", layer, ErrMissingLayer, "no %s in store", naming.WeightKey(layer))
	}
	if len(w.Shape) != 2 {
		return nil, layerErr("load", layer, ErrMalformedLayer, "weight shape %v is not 2-D", w.Shape)
	}
	b, ok := store.Get(naming.BiasKey(layer))
	if !ok {
		b = tensor.New(w.Rows())
	}
	if len(b.Shape) != 1 || b.Shape[0] != w.Rows() {
		return nil, layerErr("load", layer, ErrMalformedLayer, "bias shape %v for weight shape %v", b.Shape, w.Shape)
	}
	return &Linear{Name: layer, W: w, B: b}, nil
}

// InDim is the number of inputs the layer consumes.
func (l *Linear) InDim() int { return l.W.Cols() }

// OutDim is the number of neurons.
func (l *Linear) OutDim() int { return l.W.Rows() }

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := tensor.MatVec(l.W, x)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.Name, err)
	}
	return tensor.Add(y, l.B)
}

// ReLU is max(0, x).
type ReLU struct{}

func (ReLU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) { return tensor.ReluPlain(x), nil }

// Sigmoid is the logistic function.
type Sigmoid struct{}

func (Sigmoid) Forward(x *tensor.Tensor) (*tensor.Tensor, error) { return tensor.SigmoidPlain(x), nil }
