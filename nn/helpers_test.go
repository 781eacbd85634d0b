package nn

import (
	"testing"

	"cvaesurgery/tensor"

	"golang.org/x/exp/rand"
)

// Small OneHotCVAE: x=4, z=2, h1=6, h2=5.
const (
	testX  = 4
	testZ  = 2
	testH1 = 6
	testH2 = 5
)

var testShapes = []struct {
	layer   string
	out, in int
}{
	{"fc1", testH1, testX + NumClasses},
	{"fc2", testH2, testH1},
	{"fc31", testZ, testH2},
	{"fc32", testZ, testH2},
	{"fc4", testH2, testZ + NumClasses},
	{"fc5", testH1, testH2},
	{"fc6", testX, testH1},
}

// testStore fills a CVAE store with uniform values in [-1, 1).
func testStore(t *testing.T, naming Naming, seed uint64) *Store {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	s := NewStore()
	for _, sh := range testShapes {
		w := tensor.New(sh.out, sh.in)
		for i := range w.Data {
			w.Data[i] = 2*rng.Float64() - 1
		}
		b := tensor.New(sh.out)
		for i := range b.Data {
			b.Data[i] = 2*rng.Float64() - 1
		}
		s.Set(naming.WeightKey(sh.layer), w)
		s.Set(naming.BiasKey(sh.layer), b)
	}
	return s
}

func mustGet(t *testing.T, s *Store, key string) *tensor.Tensor {
	t.Helper()
	v, ok := s.Get(key)
	if !ok {
		t.Fatalf("store has no %s (keys %v)", key, s.Keys())
	}
	return v
}

// checkConsistent asserts that every edge of the CVAE lines up after a pass.
func checkConsistent(t *testing.T, s *Store) {
	t.Helper()
	rows := func(l string) int { return mustGet(t, s, l+".weight").Rows() }
	cols := func(l string) int { return mustGet(t, s, l+".weight").Cols() }

	for _, sh := range testShapes {
		if b := mustGet(t, s, sh.layer+".bias"); b.Rows() != rows(sh.layer) {
			t.Errorf("%s bias has %d entries for %d rows", sh.layer, b.Rows(), rows(sh.layer))
		}
	}
	edges := []struct {
		child string
		got   int
		want  int
	}{
		{"fc1", cols("fc1"), testX + NumClasses},
		{"fc2", cols("fc2"), rows("fc1")},
		{"fc31", cols("fc31"), rows("fc2")},
		{"fc32", cols("fc32"), rows("fc2")},
		{"fc4", cols("fc4"), rows("fc31") + NumClasses},
		{"fc5", cols("fc5"), rows("fc4")},
		{"fc6", cols("fc6"), rows("fc5")},
	}
	for _, e := range edges {
		if e.got != e.want {
			t.Errorf("%s has %d input columns, want %d", e.child, e.got, e.want)
		}
	}
	for _, l := range []string{"fc31", "fc32"} {
		if rows(l) != testZ {
			t.Errorf("protected %s has %d rows, want %d", l, rows(l), testZ)
		}
	}
	if rows("fc6") != testX {
		t.Errorf("protected fc6 has %d rows, want %d", rows("fc6"), testX)
	}
}
