package nn

import (
	"errors"
	"testing"

	"cvaesurgery/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// layerStore holds a single hidden layer "h" whose row i is (norms[i], 0).
func layerStore(t *testing.T, norms, bias []float64) (*Store, *Surgeon) {
	t.Helper()
	rows := make([][]float64, len(norms))
	for i, n := range norms {
		rows[i] = []float64{n, 0}
	}
	w, err := tensor.FromRows(rows)
	require.NoError(t, err)
	s := NewStore()
	s.Set("h.weight", w)
	s.Set("h.bias", tensor.NewWithData(bias))

	topo, err := NewTopology(Node{Name: "h", Role: RoleHidden}, Node{Name: "out", Role: RoleOutput})
	require.NoError(t, err)
	return s, NewSurgeon(topo, NamingPlain)
}

func TestScoresAddBiasMagnitude(t *testing.T) {
	s, sg := layerStore(t, []float64{3, -4}, []float64{-1, 0.5})
	scores, err := sg.Scores(s, "h")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4, 4.5}, scores, 1e-12)
}

func TestDropSet(t *testing.T) {
	s, sg := layerStore(t, []float64{4, 1, 3, 2}, []float64{0, 0, 0, 0})

	drop, err := sg.DropSet(s, "h", 0.5)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, drop, "only scores strictly below the 2nd smallest")

	drop, err = sg.DropSet(s, "h", 0.75)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, drop)

	drop, err = sg.DropSet(s, "h", 0.2)
	require.NoError(t, err)
	assert.Empty(t, drop, "floor(0.2*4) == 0")

	drop, err = sg.DropSet(s, "h", 0.25)
	require.NoError(t, err)
	assert.Empty(t, drop, "nothing is below the minimum")
}

func TestDropSetTiesSurvive(t *testing.T) {
	s, sg := layerStore(t, []float64{1, 1, 2, 3}, []float64{0, 0, 0, 0})
	drop, err := sg.DropSet(s, "h", 0.5)
	require.NoError(t, err)
	assert.Empty(t, drop)
}

func TestDropSetProtectedAndErrors(t *testing.T) {
	s, sg := layerStore(t, []float64{1, 2}, []float64{0, 0})

	drop, err := sg.DropSet(s, "out", 0.9)
	require.NoError(t, err)
	assert.Empty(t, drop, "protected layers are never scored")

	_, err = sg.DropSet(s, "missing", 0.5)
	assert.True(t, errors.Is(err, ErrMissingLayer))

	_, err = sg.DropSet(s, "h", 1.5)
	assert.True(t, errors.Is(err, ErrInvalidFraction))

	s.Set("h.bias", tensor.NewWithData([]float64{0, 0, 0}))
	_, err = sg.DropSet(s, "h", 0.5)
	assert.True(t, errors.Is(err, ErrMalformedLayer))

	s.Delete("h.bias")
	_, err = sg.DropSet(s, "h", 0.5)
	assert.True(t, errors.Is(err, ErrMalformedLayer))
	var le *LayerError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "h", le.Layer)
}
