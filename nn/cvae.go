package nn

import (
	"fmt"
	"math"

	"cvaesurgery/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// NumClasses is the width of the one-hot class conditioning.
const NumClasses = 10

// CVAE is a OneHotCVAE view over a Store:
//
//	encoder: h = relu(fc2(relu(fc1(x‖c)))); mu = fc31(h); logvar = fc32(h)
//	decoder: x = sigmoid(fc6(relu(fc5(relu(fc4(z‖c))))))
type CVAE struct {
	XDim, ZDim int

	fc1, fc2, fc31, fc32, fc4, fc5, fc6 *Linear
	encoder, decoder                    *Sequential
}

// NewCVAE builds the model from store and checks that consecutive layer
// widths agree, which is what a pruned or expanded store must satisfy
// before it is loaded back.
func NewCVAE(store *Store, naming Naming) (*CVAE, error) {
	m := &CVAE{}
	for _, p := range []struct {
		name string
		dst  **Linear
	}{
		{"fc1", &m.fc1}, {"fc2", &m.fc2}, {"fc31", &m.fc31}, {"fc32", &m.fc32},
		{"fc4", &m.fc4}, {"fc5", &m.fc5}, {"fc6", &m.fc6},
	} {
		l, err := LinearFromStore(store, naming, p.name)
		if err != nil {
			return nil, err
		}
		*p.dst = l
	}

	m.XDim, m.ZDim = m.fc6.OutDim(), m.fc31.OutDim()
	checks := []struct {
		layer     string
		got, want int
	}{
		{"fc1", m.fc1.InDim(), m.XDim + NumClasses},
		{"fc2", m.fc2.InDim(), m.fc1.OutDim()},
		{"fc31", m.fc31.InDim(), m.fc2.OutDim()},
		{"fc32", m.fc32.InDim(), m.fc2.OutDim()},
		{"fc32", m.fc32.OutDim(), m.ZDim},
		{"fc4", m.fc4.InDim(), m.ZDim + NumClasses},
		{"fc5", m.fc5.InDim(), m.fc4.OutDim()},
		{"fc6", m.fc6.InDim(), m.fc5.OutDim()},
	}
	for _, c := range checks {
		if c.got != c.want {
			return nil, layerErr("load", c.layer, ErrMalformedLayer, "width %d, want %d", c.got, c.want)
		}
	}

	m.encoder = &Sequential{Layers: []Module{m.fc1, ReLU{}, m.fc2, ReLU{}}}
	m.decoder = &Sequential{Layers: []Module{m.fc4, ReLU{}, m.fc5, ReLU{}, m.fc6, Sigmoid{}}}
	return m, nil
}

// HiddenDims reports the encoder widths (fc1, fc2) a caller needs to
// rebuild the network around the store.
func (m *CVAE) HiddenDims() (h1, h2 int) {
	return m.fc1.OutDim(), m.fc2.OutDim()
}

// OneHot encodes class as a NumClasses-wide vector.
func OneHot(class int) (*tensor.Tensor, error) {
	if class < 0 || class >= NumClasses {
		return nil, fmt.Errorf("class %d out of range [0, %d)", class, NumClasses)
	}
	c := tensor.New(NumClasses)
	c.Data[class] = 1
	return c, nil
}

// Encode returns the posterior mean and log-variance of x given class.
func (m *CVAE) Encode(x *tensor.Tensor, class int) (mu, logvar *tensor.Tensor, err error) {
	c, err := OneHot(class)
	if err != nil {
		return nil, nil, err
	}
	h, err := m.encoder.Forward(tensor.Concat(x, c))
	if err != nil {
		return nil, nil, err
	}
	if mu, err = m.fc31.Forward(h); err != nil {
		return nil, nil, err
	}
	if logvar, err = m.fc32.Forward(h); err != nil {
		return nil, nil, err
	}
	return mu, logvar, nil
}

// Decode maps a latent z and class to an image in [0, 1]^XDim.
func (m *CVAE) Decode(z *tensor.Tensor, class int) (*tensor.Tensor, error) {
	c, err := OneHot(class)
	if err != nil {
		return nil, err
	}
	return m.decoder.Forward(tensor.Concat(z, c))
}

// Reparameterize draws z = mu + eps*exp(logvar/2) with eps ~ N(0, I).
func Reparameterize(mu, logvar *tensor.Tensor, src rand.Source) *tensor.Tensor {
	eps := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	z := tensor.New(mu.Shape...)
	for i := range z.Data {
		z.Data[i] = mu.Data[i] + eps.Rand()*math.Exp(0.5*logvar.Data[i])
	}
	return z
}

// Sample decodes n latents drawn from the standard normal prior for class.
func (m *CVAE) Sample(class, n int, src rand.Source) ([]*tensor.Tensor, error) {
	prior := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	out := make([]*tensor.Tensor, 0, n)
	for i := 0; i < n; i++ {
		z := tensor.New(m.ZDim)
		for j := range z.Data {
			z.Data[j] = prior.Rand()
		}
		x, err := m.Decode(z, class)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, nil
}
