package utils

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"
)

func TestDurationUS(t *testing.T) {
	d := 1234*time.Microsecond + 567*time.Nanosecond
	got := DurationUS(d)
	if math.Abs(got-1234.567) > 0.001 {
		t.Fatalf("want 1234.567µs, got %.3f", got)
	}
}

func withOutput(t *testing.T, verbose bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	oldOut, oldVerbose := Output, Verbose
	Output, Verbose = &buf, verbose
	t.Cleanup(func() { Output, Verbose = oldOut, oldVerbose })
	return &buf
}

func TestPrintShapes(t *testing.T) {
	buf := withOutput(t, true)
	PrintShapes("after compression", sampleStore())
	out := buf.String()
	if !strings.HasPrefix(out, "after compression:\n") {
		t.Errorf("missing title: %q", out)
	}
	if !strings.Contains(out, "Layer fc1.0.weight shape: [3 4]\n") {
		t.Errorf("missing fc1 weight line: %q", out)
	}
}

func TestReportsRespectVerbose(t *testing.T) {
	buf := withOutput(t, false)
	PrintShapes("x", sampleStore())
	PrintPassStats(&PassStats{Mode: "prune"})
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestPrintPassStats(t *testing.T) {
	buf := withOutput(t, true)
	if n := CountParams(sampleStore()); n != 12+3+6+2 {
		t.Fatalf("CountParams = %d, want 23", n)
	}
	PrintPassStats(&PassStats{Mode: "prune", Fraction: 0.1, Duration: time.Millisecond, ParamsBefore: 200, ParamsAfter: 150})
	if !strings.Contains(buf.String(), "Parameters: 200 -> 150 (-25.0%)") {
		t.Errorf("unexpected report: %q", buf.String())
	}
}
