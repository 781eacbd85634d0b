package utils

import (
	"fmt"
	"io"
	"os"
	"time"

	"cvaesurgery/nn"
)

// Verbose controls whether reports are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where reports are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// PassStats summarizes one pruning or expansion pass.
type PassStats struct {
	Mode         string
	Fraction     float64
	Duration     time.Duration
	ParamsBefore int
	ParamsAfter  int
}

// CountParams is the total number of scalars in store.
func CountParams(store *nn.Store) int {
	n := 0
	for _, k := range store.Keys() {
		t, _ := store.Get(k)
		n += len(t.Data)
	}
	return n
}

// PrintShapes lists every parameter and its shape under title.
// Respects the Verbose flag - does nothing if Verbose is false.
func PrintShapes(title string, store *nn.Store) {
	if !Verbose {
		return
	}
	fmt.Fprintf(Output, "%s:\n", title)
	for _, k := range store.Keys() {
		fmt.Fprintf(Output, "Layer %s shape: %s\n", k, store.Shape(k))
	}
}

// PrintPassStats prints the size change and duration of a pass.
func PrintPassStats(stats *PassStats) {
	if !Verbose {
		return
	}
	fmt.Fprintln(Output, "\n=== SURGERY STATISTICS ===")
	fmt.Fprintf(Output, "Mode: %s (fraction %.3f)\n", stats.Mode, stats.Fraction)
	fmt.Fprintf(Output, "Time: %v (%.0fµs)\n", stats.Duration, DurationUS(stats.Duration))
	fmt.Fprintf(Output, "Parameters: %d -> %d", stats.ParamsBefore, stats.ParamsAfter)
	if stats.ParamsBefore > 0 {
		fmt.Fprintf(Output, " (%+.1f%%)", float64(stats.ParamsAfter-stats.ParamsBefore)/float64(stats.ParamsBefore)*100)
	}
	fmt.Fprintln(Output)
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
