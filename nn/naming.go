package nn

import (
	"fmt"
	"strings"

	"cvaesurgery/tensor"
)

// wrapperSegment marks a layer wrapped in a single-element sequential container.
const wrapperSegment = ".0."

// Naming selects how layer parameters are spelled in a Store.
type Naming int

const (
	// NamingPlain spells keys "fc1.weight".
	NamingPlain Naming = iota
	// NamingWrapped spells keys "fc1.0.weight".
	NamingWrapped
)

func (n Naming) String() string {
	if n == NamingWrapped {
		return "wrapped"
	}
	return "plain"
}

// ParseNaming accepts "plain"/"wrapped" and the legacy numeric flags
// ("1" wrapped, "2" plain).
func ParseNaming(s string) (Naming, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "2", "":
		return NamingPlain, nil
	case "wrapped", "1":
		return NamingWrapped, nil
	}
	return NamingPlain, fmt.Errorf("unknown naming %q", s)
}

// WeightKey is the store key of layer's weight matrix.
func (n Naming) WeightKey(layer string) string { return n.key(layer, "weight") }

// BiasKey is the store key of layer's bias vector.
func (n Naming) BiasKey(layer string) string { return n.key(layer, "bias") }

func (n Naming) key(layer, param string) string {
	if n == NamingWrapped {
		return layer + wrapperSegment + param
	}
	return layer + "." + param
}

// Normalize rewrites every wrapped key to the plain spelling, keeping order.
// It fails with ErrKeyCollision, leaving s untouched, if two keys would
// end up equal.
func Normalize(s *Store) error {
	renamed := make([]string, len(s.keys))
	seen := make(map[string]string, len(s.keys))
	for i, k := range s.keys {
		nk := strings.ReplaceAll(k, wrapperSegment, ".")
		if prev, dup := seen[nk]; dup {
			return layerErr("normalize", nk, ErrKeyCollision, "%q and %q both map to %q", prev, k, nk)
		}
		seen[nk] = k
		renamed[i] = nk
	}
	params := make(map[string]*tensor.Tensor, len(renamed))
	for i, k := range s.keys {
		params[renamed[i]] = s.params[k]
	}
	s.keys = renamed
	s.params = params
	return nil
}
