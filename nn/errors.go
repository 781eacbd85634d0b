package nn

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingLayer means a layer named by the topology has no weight in the store.
	ErrMissingLayer = errors.New("missing layer")
	// ErrMalformedLayer means a weight/bias pair cannot be scored or edited.
	ErrMalformedLayer = errors.New("malformed layer")
	// ErrKeyCollision means key normalization would produce a duplicate key.
	ErrKeyCollision = errors.New("key collision")
	// ErrInvalidFraction means a prune or expand fraction lies outside [0, 1].
	ErrInvalidFraction = errors.New("invalid fraction")
)

// LayerError records the operation and layer that failed.
type LayerError struct {
	Op    string
	Layer string
	Err   error
}

func (e *LayerError) Error() string {
	if e.Layer == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Layer, e.Err)
}

func (e *LayerError) Unwrap() error { return e.Err }

func layerErr(op, layer string, kind error, format string, args ...interface{}) error {
	return &LayerError{Op: op, Layer: layer, Err: fmt.Errorf("%w: "+format, append([]interface{}{kind}, args...)...)}
}
