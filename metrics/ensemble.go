// Package metrics scores regenerated samples with a classifier ensemble and
// keeps the accuracy history of an experiment in CSV files.
package metrics

import (
	"context"
	"fmt"

	"cvaesurgery/nn"
	"cvaesurgery/tensor"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
)

// Predictor labels one image. nn.Classifier is a Predictor.
type Predictor interface {
	Predict(x *tensor.Tensor) (int, error)
}

// Generator draws images of a class. nn.CVAE is a Generator.
type Generator interface {
	Sample(class, n int, src rand.Source) ([]*tensor.Tensor, error)
}

// Sample is a generated image and the class it was conditioned on.
type Sample struct {
	Image *tensor.Tensor
	Label int
}

// Result is the per-class consensus accuracy of one evaluation.
type Result struct {
	// PerClass[c] = agreed(c) / total * len(classes evaluated).
	PerClass   []float64
	Agreed     []int
	Total      int
	Remembered []int
	Forgotten  []int
}

// Ideal is the score of a model that reproduces every remembered class.
func (r *Result) Ideal() float64 { return float64(len(r.Remembered)) }

// Actual sums the scores of the remembered classes.
func (r *Result) Actual() float64 {
	sum := 0.0
	for _, c := range r.Remembered {
		sum += r.PerClass[c]
	}
	return sum
}

// Generate draws n samples for each remembered and forgotten class.
func Generate(gen Generator, remembered, forgotten []int, n int, src rand.Source) ([]Sample, error) {
	var out []Sample
	for _, c := range append(append([]int{}, remembered...), forgotten...) {
		imgs, err := gen.Sample(c, n, src)
		if err != nil {
			return nil, fmt.Errorf("sampling class %d: %w", c, err)
		}
		for _, img := range imgs {
			out = append(out, Sample{Image: img, Label: c})
		}
	}
	return out, nil
}

// Evaluate runs each ensemble member over samples concurrently and tallies
// the consensus votes.
func Evaluate(ctx context.Context, ensemble []Predictor, samples []Sample, remembered, forgotten []int) (*Result, error) {
	if len(ensemble) == 0 {
		return nil, fmt.Errorf("empty ensemble")
	}
	votes := make([][]int, len(ensemble))
	g, ctx := errgroup.WithContext(ctx)
	for m, p := range ensemble {
		m, p := m, p
		g.Go(func() error {
			preds := make([]int, len(samples))
			for i, s := range samples {
				if err := ctx.Err(); err != nil {
					return err
				}
				pred, err := p.Predict(s.Image)
				if err != nil {
					return fmt.Errorf("model %d, sample %d: %w", m, i, err)
				}
				preds[i] = pred
			}
			votes[m] = preds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	labels := make([]int, len(samples))
	for i, s := range samples {
		labels[i] = s.Label
	}
	return Tally(votes, labels, remembered, forgotten)
}

// Tally scores votes[model][sample] against labels. A sample counts for
// its class only when every model predicts exactly that label.
func Tally(votes [][]int, labels []int, remembered, forgotten []int) (*Result, error) {
	for m, v := range votes {
		if len(v) != len(labels) {
			return nil, fmt.Errorf("model %d voted on %d samples, want %d", m, len(v), len(labels))
		}
	}
	res := &Result{
		PerClass:   make([]float64, nn.NumClasses),
		Agreed:     make([]int, nn.NumClasses),
		Total:      len(labels),
		Remembered: append([]int(nil), remembered...),
		Forgotten:  append([]int(nil), forgotten...),
	}
	for _, c := range append(append([]int{}, remembered...), forgotten...) {
		if c < 0 || c >= nn.NumClasses {
			return nil, fmt.Errorf("class %d out of range [0, %d)", c, nn.NumClasses)
		}
	}

	for i, label := range labels {
		if label < 0 || label >= nn.NumClasses {
			return nil, fmt.Errorf("sample %d has label %d", i, label)
		}
		agreed := len(votes) > 0
		for _, v := range votes {
			if v[i] != label {
				agreed = false
				break
			}
		}
		if agreed {
			res.Agreed[label]++
		}
	}

	if res.Total == 0 {
		return res, nil
	}
	classes := float64(len(remembered) + len(forgotten))
	for c, n := range res.Agreed {
		res.PerClass[c] = float64(n) / float64(res.Total) * classes
	}
	return res, nil
}
