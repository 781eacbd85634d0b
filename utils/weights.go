package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cvaesurgery/nn"
	"cvaesurgery/tensor"
)

// WeightData represents serializable weight data for a layer
type WeightData struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// ModelWeights represents all weights in a model
type ModelWeights struct {
	Version string                 `json:"version"`
	Order   []string               `json:"order,omitempty"`
	Layers  map[string]LayerWeight `json:"layers"`
}

// LayerWeight contains weights and bias for a layer
type LayerWeight struct {
	Weight *WeightData `json:"weight,omitempty"`
	Bias   *WeightData `json:"bias,omitempty"`
}

// SaveWeights saves model weights to a JSON file
func SaveWeights(filepath string, weights *ModelWeights) error {
	data, err := json.MarshalIndent(weights, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	return os.WriteFile(filepath, data, 0644)
}

// LoadWeights loads model weights from a JSON file
func LoadWeights(filepath string) (*ModelWeights, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file: %w", err)
	}
	var weights ModelWeights
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	return &weights, nil
}

// TensorToWeightData converts a tensor to serializable weight data
func TensorToWeightData(name string, t *tensor.Tensor) *WeightData {
	return &WeightData{
		Name:  name,
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64{}, t.Data...), // copy
	}
}

// WeightDataToTensor converts weight data back to a tensor
func WeightDataToTensor(wd *WeightData) (*tensor.Tensor, error) {
	n, err := elementCount(wd.Shape)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", wd.Name, err)
	}
	if n != len(wd.Data) {
		return nil, fmt.Errorf("%s: shape %v needs %d values, got %d", wd.Name, wd.Shape, n, len(wd.Data))
	}
	t := tensor.New(wd.Shape...)
	copy(t.Data, wd.Data)
	return t, nil
}

// elementCount is the number of values a checkpoint shape holds. Negative
// dimensions and counts that overflow int are rejected.
func elementCount(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("shape %v has a negative dimension", shape)
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("shape %v is too large", shape)
		}
		n *= d
	}
	return n, nil
}

// splitKey splits "fc1.0.weight" into ("fc1.0", "weight").
func splitKey(key string) (layer, param string, err error) {
	i := strings.LastIndex(key, ".")
	if i <= 0 || i == len(key)-1 {
		return "", "", fmt.Errorf("parameter key %q has no layer prefix", key)
	}
	layer, param = key[:i], key[i+1:]
	if param != "weight" && param != "bias" {
		return "", "", fmt.Errorf("parameter key %q is neither a weight nor a bias", key)
	}
	return layer, param, nil
}

// StoreToWeights groups a parameter store by layer for serialization.
func StoreToWeights(store *nn.Store) (*ModelWeights, error) {
	weights := &ModelWeights{
		Version: "1.0",
		Layers:  make(map[string]LayerWeight),
	}
	for _, key := range store.Keys() {
		layer, param, err := splitKey(key)
		if err != nil {
			return nil, err
		}
		t, _ := store.Get(key)
		lw, seen := weights.Layers[layer]
		if !seen {
			weights.Order = append(weights.Order, layer)
		}
		if param == "weight" {
			lw.Weight = TensorToWeightData(key, t)
		} else {
			lw.Bias = TensorToWeightData(key, t)
		}
		weights.Layers[layer] = lw
	}
	return weights, nil
}

// WeightsToStore rebuilds a parameter store, in Order when present and
// otherwise sorted by layer name.
func WeightsToStore(weights *ModelWeights) (*nn.Store, error) {
	order := weights.Order
	if len(order) == 0 {
		for layer := range weights.Layers {
			order = append(order, layer)
		}
		sort.Strings(order)
	}
	store := nn.NewStore()
	for _, layer := range order {
		lw, ok := weights.Layers[layer]
		if !ok {
			return nil, fmt.Errorf("order lists unknown layer %q", layer)
		}
		for _, p := range []struct {
			param string
			wd    *WeightData
		}{{"weight", lw.Weight}, {"bias", lw.Bias}} {
			if p.wd == nil {
				continue
			}
			t, err := WeightDataToTensor(p.wd)
			if err != nil {
				return nil, err
			}
			store.Set(layer+"."+p.param, t)
		}
	}
	return store, nil
}

// LoadStore reads a checkpoint, safetensors when the extension says so and
// the JSON weights format otherwise.
func LoadStore(path string) (*nn.Store, error) {
	if isSafetensors(path) {
		return LoadSafetensors(path)
	}
	weights, err := LoadWeights(path)
	if err != nil {
		return nil, err
	}
	return WeightsToStore(weights)
}

// SaveStore writes store in the format chosen by the extension of path.
func SaveStore(path string, store *nn.Store) error {
	if isSafetensors(path) {
		return SaveSafetensors(path, store)
	}
	weights, err := StoreToWeights(store)
	if err != nil {
		return err
	}
	return SaveWeights(path, weights)
}

func isSafetensors(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".safetensors")
}
