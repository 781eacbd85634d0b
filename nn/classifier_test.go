package nn

import (
	"testing"

	"cvaesurgery/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoftmaxArgmax(t *testing.T) {
	p := Softmax(tensor.NewWithData([]float64{1, 3, 2}))
	sum := 0.0
	for _, v := range p.Data {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-12)
	assert.Equal(t, 1, Argmax(p))
	assert.Equal(t, 0, Argmax(tensor.NewWithData([]float64{2, 2})))
}

func TestClassifierPredict(t *testing.T) {
	s := NewStore()
	w1, _ := tensor.FromRows([][]float64{{1, 0}, {0, 1}})
	w2, _ := tensor.FromRows([][]float64{{1, 0}, {0, 1}, {0, 0}})
	s.Set("c1.weight", w1)
	s.Set("c1.bias", tensor.New(2))
	s.Set("c2.weight", w2)
	s.Set("c2.bias", tensor.NewWithData([]float64{0, 0, 0.5}))

	c, err := ClassifierFromStore(s, NamingPlain, "c1", "c2")
	require.NoError(t, err)

	got, err := c.Predict(tensor.NewWithData([]float64{1, 0}))
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	got, err = c.Predict(tensor.NewWithData([]float64{-1, 0.2}))
	require.NoError(t, err)
	assert.Equal(t, 2, got, "relu clamps the first unit, bias wins")

	_, err = ClassifierFromStore(s, NamingPlain, "c2", "c1")
	assert.Error(t, err)
	_, err = ClassifierFromStore(s, NamingPlain)
	assert.Error(t, err)
}
