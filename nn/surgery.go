package nn

import (
	"fmt"
	"io"
	"log/slog"
	"math"

	"cvaesurgery/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Surgeon prunes and expands the fully-connected layers of a Store along a
// Topology. A pass mutates the store in place; on error the store is left
// partially edited and must be discarded.
type Surgeon struct {
	topo   *Topology
	naming Naming
	logger *slog.Logger
	src    rand.Source
}

// Option configures a Surgeon.
type Option func(*Surgeon)

// WithLogger traces every edited layer at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(s *Surgeon) { s.logger = l }
}

// WithSource draws expansion noise from src instead of the global source.
func WithSource(src rand.Source) Option {
	return func(s *Surgeon) { s.src = src }
}

// NewSurgeon returns a Surgeon for topo reading keys spelled with naming.
func NewSurgeon(topo *Topology, naming Naming, opts ...Option) *Surgeon {
	s := &Surgeon{
		topo:   topo,
		naming: naming,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Prune runs a pruning pass with the CVAE topology.
func Prune(store *Store, k float64, naming Naming) (*Store, error) {
	return NewSurgeon(CVAETopology(), naming).Prune(store, k)
}

// Expand runs an expansion pass with the CVAE topology.
func Expand(store *Store, e, perturbation float64, naming Naming) (*Store, error) {
	return NewSurgeon(CVAETopology(), naming).Expand(store, e, perturbation)
}

// Prune removes the lowest-salience fraction k of every unprotected layer's
// neurons and the matching input columns of each child layer. Drop sets
// propagated to children are computed against the store as it was before
// the pass. Keys are normalized at the end.
func (s *Surgeon) Prune(store *Store, k float64) (*Store, error) {
	if err := checkFraction("prune", k); err != nil {
		return nil, err
	}
	frozen := store.Clone()
	visited := make(map[string]bool)

	for _, layer := range s.topo.Layers() {
		wKey, bKey := s.naming.WeightKey(layer), s.naming.BiasKey(layer)
		w, ok := store.Get(wKey)
		if !ok {
			return nil, layerErr("prune", layer, ErrMissingLayer, "no %s in store", wKey)
		}

		var colDrop []int
		block, pruneCols := 0, false
		if p, ok := s.topo.Parent(layer); ok && visited[p] {
			var err error
			if colDrop, err = s.DropSet(frozen, p, k); err != nil {
				return nil, err
			}
			pw, _ := frozen.Get(s.naming.WeightKey(p))
			block, pruneCols = pw.Rows(), true
		}

		rowDrop, err := s.DropSet(store, layer, k)
		if err != nil {
			return nil, err
		}
		if len(rowDrop) > 0 {
			keep := keepMask(w.Rows(), rowDrop)
			if w, err = tensor.SelectRows(w, keep); err != nil {
				return nil, layerErr("prune", layer, ErrMalformedLayer, "%v", err)
			}
			store.Set(wKey, w)
			if b, ok := store.Get(bKey); ok {
				if b, err = tensor.SelectRows(b, keep); err != nil {
					return nil, layerErr("prune", layer, ErrMalformedLayer, "%v", err)
				}
				store.Set(bKey, b)
			}
		}

		if pruneCols {
			if w.Cols() < block {
				return nil, layerErr("prune", layer, ErrMalformedLayer, "%d input columns cannot hold a parent of %d neurons", w.Cols(), block)
			}
			if len(colDrop) > 0 {
				if w, err = tensor.SelectCols(w, keepMask(w.Cols(), colDrop)); err != nil {
					return nil, layerErr("prune", layer, ErrMalformedLayer, "%v", err)
				}
				store.Set(wKey, w)
			}
		}

		visited[layer] = true
		s.logger.Debug("pruned layer", "layer", layer, "rows_dropped", len(rowDrop), "cols_dropped", len(colDrop), "shape", w.Shape)
	}

	if err := Normalize(store); err != nil {
		return nil, err
	}
	return store, nil
}

// Expand appends floor(e*rows) noisy neurons to every unprotected layer and
// the matching input columns to each child layer, right after the columns
// its parent feeds. New values are drawn from N(0, perturbation^2). Keys are
// normalized at the end.
func (s *Surgeon) Expand(store *Store, e, perturbation float64) (*Store, error) {
	if err := checkFraction("expand", e); err != nil {
		return nil, err
	}
	if perturbation < 0 || math.IsNaN(perturbation) {
		return nil, &LayerError{Op: "expand", Err: fmt.Errorf("perturbation scale %v must be non-negative", perturbation)}
	}
	frozen := store.Clone()
	visited := make(map[string]bool)
	noise := distuv.Normal{Mu: 0, Sigma: perturbation, Src: s.src}

	for _, layer := range s.topo.Layers() {
		wKey, bKey := s.naming.WeightKey(layer), s.naming.BiasKey(layer)
		w, ok := store.Get(wKey)
		if !ok {
			return nil, layerErr("expand", layer, ErrMissingLayer, "no %s in store", wKey)
		}

		block, colGrow := 0, 0
		if p, ok := s.topo.Parent(layer); ok && visited[p] {
			pw, _ := frozen.Get(s.naming.WeightKey(p))
			block = pw.Rows()
			colGrow = growth(s.topo.Role(p), block, e)
		}

		rowGrow := growth(s.topo.Role(layer), w.Rows(), e)
		var err error
		if rowGrow > 0 {
			if w, err = tensor.AppendRows(w, sample(noise, rowGrow, w.Cols())); err != nil {
				return nil, layerErr("expand", layer, ErrMalformedLayer, "%v", err)
			}
			store.Set(wKey, w)
			if b, ok := store.Get(bKey); ok {
				if b, err = tensor.AppendRows(b, sample(noise, rowGrow)); err != nil {
					return nil, layerErr("expand", layer, ErrMalformedLayer, "%v", err)
				}
				store.Set(bKey, b)
			}
		}

		if colGrow > 0 {
			if w.Cols() < block {
				return nil, layerErr("expand", layer, ErrMalformedLayer, "%d input columns cannot hold a parent of %d neurons", w.Cols(), block)
			}
			if w, err = tensor.InsertCols(w, sample(noise, w.Rows(), colGrow), block); err != nil {
				return nil, layerErr("expand", layer, ErrMalformedLayer, "%v", err)
			}
			store.Set(wKey, w)
		}

		visited[layer] = true
		s.logger.Debug("expanded layer", "layer", layer, "rows_added", rowGrow, "cols_added", colGrow, "shape", w.Shape)
	}

	if err := Normalize(store); err != nil {
		return nil, err
	}
	return store, nil
}

// growth is the number of neurons an expansion pass adds to a layer.
func growth(role Role, rows int, e float64) int {
	if role.Protected() {
		return 0
	}
	return int(math.Floor(e * float64(rows)))
}

func sample(dist distuv.Normal, shape ...int) *tensor.Tensor {
	t := tensor.New(shape...)
	for i := range t.Data {
		t.Data[i] = dist.Rand()
	}
	return t
}

func checkFraction(op string, f float64) error {
	if f < 0 || f > 1 || math.IsNaN(f) {
		return &LayerError{Op: op, Err: fmt.Errorf("%w: %v not in [0, 1]", ErrInvalidFraction, f)}
	}
	return nil
}
