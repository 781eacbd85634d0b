// cvae-tally: scores saved ensemble predictions and appends them to the
// experiment's accuracy files
//
// The predictions file has a header row and one row per sample:
//
//	label,model0,model1,...
//	3,3,3
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"cvaesurgery/metrics"
	"cvaesurgery/utils"
)

var (
	predFile   = flag.String("pred", "", "Predictions CSV (label, then one column per model)")
	remembered = flag.String("rem", "", "Remembered classes, e.g. 0,1,2")
	forgotten  = flag.String("forgot", "", "Forgotten classes, e.g. 8")
	accPath    = flag.String("acc", "metrics/acc.csv", "Ideal,Actual history file")
	valuesPath = flag.String("values", "metrics/accuracy_values.csv", "Per-class score history file")
	history    = flag.Bool("history", false, "Print the accuracy history after appending")
)

func main() {
	flag.Parse()
	if *predFile == "" {
		fail(fmt.Errorf("-pred is required"))
	}
	rem, err := utils.ParseClasses(*remembered)
	if err != nil {
		fail(err)
	}
	forg, err := utils.ParseClasses(*forgotten)
	if err != nil {
		fail(err)
	}

	labels, votes, err := readPredictions(*predFile)
	if err != nil {
		fail(err)
	}
	res, err := metrics.Tally(votes, labels, rem, forg)
	if err != nil {
		fail(err)
	}

	fmt.Printf("Samples: %d, models: %d\n", res.Total, len(votes))
	for _, c := range rem {
		fmt.Printf("REM  %d: %.4f\n", c, res.PerClass[c])
	}
	for _, c := range forg {
		fmt.Printf("FORGOT %d: %.4f\n", c, res.PerClass[c])
	}
	fmt.Printf("Accuracy: %.4f / %.4f\n", res.Actual(), res.Ideal())

	if err := metrics.Record(*accPath, *valuesPath, res); err != nil {
		fail(err)
	}
	if *history {
		h, err := metrics.AccuracyHistory(*accPath)
		if err != nil {
			fail(err)
		}
		for i, v := range h {
			fmt.Printf("pass %d: %.4f\n", i, v)
		}
	}
}

// readPredictions returns the labels and votes[model][sample].
func readPredictions(path string) ([]int, [][]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: reading header: %w", path, err)
	}
	if len(header) < 2 {
		return nil, nil, fmt.Errorf("%s: need a label column and at least one model column", path)
	}

	var labels []int
	votes := make([][]int, len(header)-1)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		vals := make([]int, len(rec))
		for i, s := range rec {
			if vals[i], err = strconv.Atoi(s); err != nil {
				return nil, nil, fmt.Errorf("%s: %w", path, err)
			}
		}
		labels = append(labels, vals[0])
		for m := range votes {
			votes[m] = append(votes[m], vals[m+1])
		}
	}
	return labels, votes, nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
