package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tensor is a simple n-D array backed by a flat []float64.
type Tensor struct {
	Data  []float64
	Shape []int
}

// New allocates a Tensor of given shape (product of dims = len(Data)).
func New(shape ...int) *Tensor {
	total := 1
	for _, d := range shape {
		total *= d
	}
	return &Tensor{
		Data:  make([]float64, total),
		Shape: append([]int(nil), shape...),
	}
}

// NewWithData creates a 1-D tensor from existing data slice.
func NewWithData(data []float64) *Tensor {
	return &Tensor{
		Data:  append([]float64(nil), data...),
		Shape: []int{len(data)},
	}
}

// FromRows builds a 2-D tensor from equally sized rows.
func FromRows(rows [][]float64) (*Tensor, error) {
	if len(rows) == 0 {
		return New(0, 0), nil
	}
	cols := len(rows[0])
	out := New(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(r), cols)
		}
		copy(out.Data[i*cols:], r)
	}
	return out, nil
}

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Data:  append([]float64(nil), t.Data...),
		Shape: append([]int(nil), t.Shape...),
	}
}

// Rows is the size of the leading dimension.
func (t *Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// Cols is the size of the second dimension of a matrix, 1 for vectors.
func (t *Tensor) Cols() int {
	if len(t.Shape) < 2 {
		return 1
	}
	return t.Shape[1]
}

// Row returns a view of row i of a 2-D tensor.
func (t *Tensor) Row(i int) []float64 {
	c := t.Cols()
	return t.Data[i*c : (i+1)*c]
}

// Equal reports whether a and b have identical shapes and values.
func Equal(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return floats.Equal(a.Data, b.Data)
}

// RowNorms returns the L2 norm of every row of a 2-D tensor.
func RowNorms(t *Tensor) ([]float64, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("RowNorms requires a 2-D tensor, got %v", t.Shape)
	}
	out := make([]float64, t.Rows())
	for i := range out {
		out[i] = floats.Norm(t.Row(i), 2)
	}
	return out, nil
}

// SelectRows keeps the rows (or vector entries) whose mask entry is true.
func SelectRows(t *Tensor, keep []bool) (*Tensor, error) {
	if len(keep) != t.Rows() {
		return nil, fmt.Errorf("row mask has %d entries for %d rows", len(keep), t.Rows())
	}
	c := t.Cols()
	data := make([]float64, 0, len(t.Data))
	n := 0
	for i, k := range keep {
		if !k {
			continue
		}
		data = append(data, t.Data[i*c:(i+1)*c]...)
		n++
	}
	shape := append([]int(nil), t.Shape...)
	shape[0] = n
	return &Tensor{Data: data, Shape: shape}, nil
}

// SelectCols keeps the columns of a 2-D tensor whose mask entry is true.
func SelectCols(t *Tensor, keep []bool) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("SelectCols requires a 2-D tensor, got %v", t.Shape)
	}
	r, c := t.Rows(), t.Cols()
	if len(keep) != c {
		return nil, fmt.Errorf("column mask has %d entries for %d columns", len(keep), c)
	}
	n := 0
	for _, k := range keep {
		if k {
			n++
		}
	}
	out := New(r, n)
	for i := 0; i < r; i++ {
		j2 := 0
		for j, k := range keep {
			if k {
				out.Data[i*n+j2] = t.Data[i*c+j]
				j2++
			}
		}
	}
	return out, nil
}

// AppendRows stacks extra below t. extra must have t's trailing shape.
func AppendRows(t, extra *Tensor) (*Tensor, error) {
	if len(t.Shape) != len(extra.Shape) || t.Cols() != extra.Cols() {
		return nil, fmt.Errorf("cannot append %v below %v", extra.Shape, t.Shape)
	}
	shape := append([]int(nil), t.Shape...)
	shape[0] += extra.Rows()
	data := make([]float64, 0, len(t.Data)+len(extra.Data))
	data = append(data, t.Data...)
	data = append(data, extra.Data...)
	return &Tensor{Data: data, Shape: shape}, nil
}

// InsertCols inserts the columns of extra into a 2-D tensor before column at.
func InsertCols(t, extra *Tensor, at int) (*Tensor, error) {
	if len(t.Shape) != 2 || len(extra.Shape) != 2 || t.Rows() != extra.Rows() {
		return nil, fmt.Errorf("cannot insert %v into %v", extra.Shape, t.Shape)
	}
	r, c, e := t.Rows(), t.Cols(), extra.Cols()
	if at < 0 || at > c {
		return nil, fmt.Errorf("insert position %d out of range for %d columns", at, c)
	}
	out := New(r, c+e)
	w := c + e
	for i := 0; i < r; i++ {
		copy(out.Data[i*w:], t.Data[i*c:i*c+at])
		copy(out.Data[i*w+at:], extra.Data[i*e:(i+1)*e])
		copy(out.Data[i*w+at+e:], t.Data[i*c+at:(i+1)*c])
	}
	return out, nil
}

// Concat joins 1-D tensors end to end.
func Concat(parts ...*Tensor) *Tensor {
	n := 0
	for _, p := range parts {
		n += len(p.Data)
	}
	data := make([]float64, 0, n)
	for _, p := range parts {
		data = append(data, p.Data...)
	}
	return &Tensor{Data: data, Shape: []int{n}}
}

// Add returns a+b (same shape), or error if shapes differ.
func Add(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != len(b.Shape) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
		}
	}
	out := New(a.Shape...)
	floats.AddTo(out.Data, a.Data, b.Data)
	return out, nil
}

// MatVec returns w×x for a 2-D w and 1-D x, or error if dims mismatch.
func MatVec(w, x *Tensor) (*Tensor, error) {
	if len(w.Shape) != 2 || len(x.Shape) != 1 {
		return nil, fmt.Errorf("MatVec requires 2-D and 1-D tensors, got %v and %v", w.Shape, x.Shape)
	}
	r, k := w.Shape[0], w.Shape[1]
	if k != x.Shape[0] {
		return nil, fmt.Errorf("inner dimensions must match: %d vs %d", k, x.Shape[0])
	}
	out := New(r)
	if r == 0 || k == 0 {
		return out, nil
	}
	dst := mat.NewVecDense(r, out.Data)
	dst.MulVec(mat.NewDense(r, k, w.Data), mat.NewVecDense(k, x.Data))
	return out, nil
}

// ReluPlain applies ReLU to each element in a, returns new Tensor.
func ReluPlain(a *Tensor) *Tensor {
	out := New(a.Shape...)
	for i, v := range a.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	return out
}

// SigmoidPlain applies the logistic function to each element in a.
func SigmoidPlain(a *Tensor) *Tensor {
	out := New(a.Shape...)
	for i, v := range a.Data {
		out.Data[i] = 1 / (1 + math.Exp(-v))
	}
	return out
}

// At returns the element at the given indices.
// For a 4D tensor [a, b, c, d], At(i, j, k, l) returns the element at position [i][j][k][l].
func (t *Tensor) At(indices ...int) float64 {
	return t.Data[t.offset("At", indices)]
}

// Set sets the element at the given indices to the given value.
func (t *Tensor) Set(value float64, indices ...int) {
	t.Data[t.offset("Set", indices)] = value
}

func (t *Tensor) offset(op string, indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("%s: expected %d indices, got %d", op, len(t.Shape), len(indices)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("%s: index %d out of bounds for dimension %d (shape: %v)", op, indices[i], i, t.Shape))
		}
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}
	return idx
}
