package metrics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cvaesurgery/nn"
)

var accuracyHeader = []string{"Ideal", "Actual"}

func classHeader() []string {
	h := make([]string, nn.NumClasses)
	for i := range h {
		h[i] = strconv.Itoa(i)
	}
	return h
}

// AppendAccuracy adds an Ideal,Actual row to path, creating it if needed.
func AppendAccuracy(path string, ideal, actual float64) error {
	return appendRow(path, accuracyHeader, []float64{ideal, actual})
}

// AppendClassValues adds one per-class score row (columns 0..9) to path.
func AppendClassValues(path string, perClass []float64) error {
	if len(perClass) != nn.NumClasses {
		return fmt.Errorf("got %d class values, want %d", len(perClass), nn.NumClasses)
	}
	return appendRow(path, classHeader(), perClass)
}

// Record appends r to both metric files.
func Record(accPath, valuesPath string, r *Result) error {
	if err := AppendAccuracy(accPath, r.Ideal(), r.Actual()); err != nil {
		return err
	}
	return AppendClassValues(valuesPath, r.PerClass)
}

// SpecializedPaths names the metric files of a checkpoint scored without
// surgery: <dir>/<checkpoint name>/specialized_acc.csv and
// specialized_accuracy_vals.csv.
func SpecializedPaths(dir, ckpt string) (accPath, valuesPath string) {
	base := filepath.Base(ckpt)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, base, "specialized_acc.csv"), filepath.Join(dir, base, "specialized_accuracy_vals.csv")
}

// AccuracyHistory returns Actual/Ideal for every row of an accuracy file,
// one entry per surgery pass.
func AccuracyHistory(path string) ([]float64, error) {
	rows, err := readRows(path, accuracyHeader)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(rows))
	for i, r := range rows {
		if r[0] == 0 {
			return nil, fmt.Errorf("%s row %d: ideal is zero", path, i+1)
		}
		out[i] = r[1] / r[0]
	}
	return out, nil
}

// ReadClassValues returns every per-class row of a class values file.
func ReadClassValues(path string) ([][]float64, error) {
	return readRows(path, classHeader())
}

func appendRow(path string, header []string, values []float64) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	fresh := false
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fresh = true
	case err != nil:
		return err
	case info.Size() == 0:
		fresh = true
	default:
		if _, err := readRows(path, header); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(header); err != nil {
			f.Close()
			return err
		}
	}
	record := make([]string, len(values))
	for i, v := range values {
		record[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	if err := w.Write(record); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readRows(path string, header []string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)
	got, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i := range header {
		if got[i] != header[i] {
			return nil, fmt.Errorf("%s: header %v, want %v", path, got, header)
		}
	}

	var rows [][]float64
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		row := make([]float64, len(rec))
		for i, s := range rec {
			if row[i], err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
