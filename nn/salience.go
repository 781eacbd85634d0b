package nn

import (
	"math"
	"sort"

	"cvaesurgery/tensor"
)

// Scores returns the salience of every neuron of layer: the L2 norm of its
// weight row plus the magnitude of its bias.
func (s *Surgeon) Scores(store *Store, layer string) ([]float64, error) {
	w, ok := store.Get(s.naming.WeightKey(layer))
	if !ok {
		return nil, layerErr("rank", layer, ErrMissingLayer, "no %s in store", s.naming.WeightKey(layer))
	}
	if len(w.Shape) != 2 {
		return nil, layerErr("rank", layer, ErrMalformedLayer, "weight shape %v is not 2-D", w.Shape)
	}
	b, ok := store.Get(s.naming.BiasKey(layer))
	if !ok {
		return nil, layerErr("rank", layer, ErrMalformedLayer, "no %s in store", s.naming.BiasKey(layer))
	}
	if len(b.Shape) != 1 || b.Shape[0] != w.Rows() {
		return nil, layerErr("rank", layer, ErrMalformedLayer, "bias shape %v for weight shape %v", b.Shape, w.Shape)
	}
	scores, err := tensor.RowNorms(w)
	if err != nil {
		return nil, layerErr("rank", layer, ErrMalformedLayer, "%v", err)
	}
	for i := range scores {
		scores[i] += math.Abs(b.Data[i])
	}
	return scores, nil
}

// DropSet selects the neurons of layer to remove for prune fraction k, in
// ascending order. With n = floor(k*rows), every neuron scoring strictly
// below the n-th smallest score is selected, so ties at the threshold
// survive. Protected layers always yield an empty set.
func (s *Surgeon) DropSet(store *Store, layer string, k float64) ([]int, error) {
	if err := checkFraction("rank", k); err != nil {
		return nil, err
	}
	if s.topo.Role(layer).Protected() {
		return nil, nil
	}
	scores, err := s.Scores(store, layer)
	if err != nil {
		return nil, err
	}
	n := int(math.Floor(k * float64(len(scores))))
	if n == 0 {
		return nil, nil
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	threshold := sorted[n-1]

	var drop []int
	for i, v := range scores {
		if v < threshold {
			drop = append(drop, i)
		}
	}
	return drop, nil
}

// keepMask is true everywhere except at the drop indices.
func keepMask(n int, drop []int) []bool {
	keep := make([]bool, n)
	for i := range keep {
		keep[i] = true
	}
	for _, i := range drop {
		if i >= 0 && i < n {
			keep[i] = false
		}
	}
	return keep
}
