package nn

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"cvaesurgery/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

var namings = []Naming{NamingPlain, NamingWrapped}

func TestPruneShapeConsistency(t *testing.T) {
	for _, naming := range namings {
		for _, k := range []float64{0.1, 0.34, 0.5, 0.75, 0.9} {
			s := testStore(t, naming, 7)
			out, err := Prune(s, k, naming)
			require.NoError(t, err, "%v k=%v", naming, k)
			checkConsistent(t, out)
		}
	}
}

func TestPruneZeroFractionIsNoop(t *testing.T) {
	for _, naming := range namings {
		s := testStore(t, naming, 3)
		want := testStore(t, NamingPlain, 3)
		out, err := Prune(s, 0, naming)
		require.NoError(t, err)
		assert.True(t, want.Equal(out), naming.String())
	}
}

func TestPruneMonotonic(t *testing.T) {
	prev := map[string]int{}
	for _, k := range []float64{0, 0.2, 0.4, 0.6, 0.8, 1} {
		out, err := Prune(testStore(t, NamingPlain, 11), k, NamingPlain)
		require.NoError(t, err)
		for _, l := range []string{"fc1", "fc2", "fc4", "fc5"} {
			rows := mustGet(t, out, l+".weight").Rows()
			if p, ok := prev[l]; ok && rows > p {
				t.Errorf("k=%v: %s grew from %d to %d rows", k, l, p, rows)
			}
			prev[l] = rows
		}
	}
}

func TestPruneDropsLowestNeuronAndItsColumn(t *testing.T) {
	s := testStore(t, NamingPlain, 5)

	// Make fc1 neuron 3 the least salient by far.
	fc1 := mustGet(t, s, "fc1.weight")
	for j := range fc1.Row(3) {
		fc1.Row(3)[j] *= 1e-3
	}
	mustGet(t, s, "fc1.bias").Data[3] = 0
	orig := s.Clone()

	// floor(0.34*6) = 2: the threshold is the 2nd smallest score, so only
	// the smallest is dropped.
	out, err := Prune(s, 0.34, NamingPlain)
	require.NoError(t, err)
	checkConsistent(t, out)

	w1 := mustGet(t, out, "fc1.weight")
	require.Equal(t, testH1-1, w1.Rows())
	ow1 := mustGet(t, orig, "fc1.weight")
	for i, src := range []int{0, 1, 2, 4, 5} {
		assert.Equal(t, ow1.Row(src), w1.Row(i))
	}

	w2 := mustGet(t, out, "fc2.weight")
	ow2 := mustGet(t, orig, "fc2.weight")
	assert.Equal(t, testH2, w2.Rows(), "floor(0.34*5) = 1 drops nothing")
	for i := 0; i < w2.Rows(); i++ {
		for j, src := range []int{0, 1, 2, 4, 5} {
			assert.Equal(t, ow2.At(i, src), w2.At(i, j))
		}
	}

	// The bottleneck is protected, so nothing propagates into fc4.
	assert.Equal(t, mustGet(t, orig, "fc31.weight").Shape[0], mustGet(t, out, "fc31.weight").Rows())
	assert.True(t, tensor.Equal(mustGet(t, orig, "fc4.weight"), mustGet(t, out, "fc4.weight")))
}

func TestPruneErrors(t *testing.T) {
	s := testStore(t, NamingPlain, 1)
	s.Delete("fc4.weight")
	_, err := Prune(s, 0.5, NamingPlain)
	require.True(t, errors.Is(err, ErrMissingLayer))
	var le *LayerError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "fc4", le.Layer)
	assert.Equal(t, "prune", le.Op)

	_, err = Prune(testStore(t, NamingPlain, 1), 0.5, NamingWrapped)
	assert.True(t, errors.Is(err, ErrMissingLayer), "keys spelled with the other naming")

	_, err = Prune(testStore(t, NamingPlain, 1), -0.1, NamingPlain)
	assert.True(t, errors.Is(err, ErrInvalidFraction))

	bad := testStore(t, NamingPlain, 1)
	bad.Set("fc2.bias", tensor.New(testH2+1))
	_, err = Prune(bad, 0.5, NamingPlain)
	assert.True(t, errors.Is(err, ErrMalformedLayer))
}

func TestExpandShapeConsistency(t *testing.T) {
	for _, naming := range namings {
		for _, e := range []float64{0.1, 0.5, 0.75, 1} {
			s := testStore(t, naming, 9)
			sg := NewSurgeon(CVAETopology(), naming, WithSource(rand.NewSource(1)))
			out, err := sg.Expand(s, e, 0.01)
			require.NoError(t, err, "%v e=%v", naming, e)
			checkConsistent(t, out)
		}
	}
}

func TestExpandAmounts(t *testing.T) {
	s := testStore(t, NamingPlain, 2)
	orig := s.Clone()
	sg := NewSurgeon(CVAETopology(), NamingPlain, WithSource(rand.NewSource(3)))
	out, err := sg.Expand(s, 0.5, 0.01)
	require.NoError(t, err)

	want := map[string][2]int{
		"fc1":  {testH1 + 3, testX + NumClasses},
		"fc2":  {testH2 + 2, testH1 + 3},
		"fc31": {testZ, testH2 + 2},
		"fc32": {testZ, testH2 + 2},
		"fc4":  {testH2 + 2, testZ + NumClasses},
		"fc5":  {testH1 + 3, testH2 + 2},
		"fc6":  {testX, testH1 + 3},
	}
	for l, sh := range want {
		assert.Equal(t, []int{sh[0], sh[1]}, mustGet(t, out, l+".weight").Shape, l)
	}

	// Existing weights keep their positions.
	ow, w := mustGet(t, orig, "fc2.weight"), mustGet(t, out, "fc2.weight")
	for i := 0; i < testH2; i++ {
		for j := 0; j < testH1; j++ {
			assert.Equal(t, ow.At(i, j), w.At(i, j))
		}
	}
	assert.Equal(t, mustGet(t, orig, "fc2.bias").Data, mustGet(t, out, "fc2.bias").Data[:testH2])
}

func TestExpandZeroFractionIsNoop(t *testing.T) {
	for _, naming := range namings {
		out, err := Expand(testStore(t, naming, 4), 0, 0.5, naming)
		require.NoError(t, err)
		assert.True(t, testStore(t, NamingPlain, 4).Equal(out))
	}
}

func TestExpandMonotonicAndDeterministic(t *testing.T) {
	prev := map[string]int{}
	for _, e := range []float64{0, 0.2, 0.4, 0.6, 1} {
		run := func() *Store {
			sg := NewSurgeon(CVAETopology(), NamingPlain, WithSource(rand.NewSource(42)))
			out, err := sg.Expand(testStore(t, NamingPlain, 6), e, 0.1)
			require.NoError(t, err)
			return out
		}
		a, b := run(), run()
		assert.True(t, a.Equal(b), "same seed, same store")
		for _, l := range []string{"fc1", "fc2", "fc4", "fc5"} {
			rows := mustGet(t, a, l+".weight").Rows()
			if p, ok := prev[l]; ok && rows < p {
				t.Errorf("e=%v: %s shrank from %d to %d rows", e, l, p, rows)
			}
			prev[l] = rows
		}
	}
}

// A child with columns beyond its parent's block keeps them at the end.
func TestSurgeryRespectsParentBlock(t *testing.T) {
	topo, err := NewTopology(
		Node{Name: "a", Role: RoleInput, Children: []string{"b"}},
		Node{Name: "b", Role: RoleOutput},
	)
	require.NoError(t, err)

	build := func() *Store {
		s := NewStore()
		aw, _ := tensor.FromRows([][]float64{{1}, {0.1}, {3}, {4}})
		s.Set("a.weight", aw)
		s.Set("a.bias", tensor.New(4))
		bw, _ := tensor.FromRows([][]float64{{1, 2, 3, 4, 8, 9}})
		s.Set("b.weight", bw)
		s.Set("b.bias", tensor.New(1))
		return s
	}

	out, err := NewSurgeon(topo, NamingPlain).Expand(build(), 0.5, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 0, 0, 8, 9}, mustGet(t, out, "b.weight").Data)

	// floor(0.5*4) = 2: threshold is 1, so only neuron 1 (0.1) goes.
	out, err = NewSurgeon(topo, NamingPlain).Prune(build(), 0.5)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 4, 8, 9}, mustGet(t, out, "b.weight").Data)
	assert.Equal(t, []float64{1, 3, 4}, mustGet(t, out, "a.weight").Data)
}

func TestExpandErrors(t *testing.T) {
	_, err := Expand(testStore(t, NamingPlain, 1), 2, 0.01, NamingPlain)
	assert.True(t, errors.Is(err, ErrInvalidFraction))

	_, err = Expand(testStore(t, NamingPlain, 1), 0.5, -1, NamingPlain)
	assert.Error(t, err)

	s := testStore(t, NamingWrapped, 1)
	s.Delete("fc6.0.weight")
	_, err = Expand(s, 0.5, 0.01, NamingWrapped)
	assert.True(t, errors.Is(err, ErrMissingLayer))
}

func TestSurgeonTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sg := NewSurgeon(CVAETopology(), NamingPlain, WithLogger(logger))
	_, err := sg.Prune(testStore(t, NamingPlain, 1), 0.5)
	require.NoError(t, err)
	for _, l := range CVAETopology().Layers() {
		assert.True(t, strings.Contains(buf.String(), "layer="+l+" "), l)
	}
}
