package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Add returns the elementwise sum of t and other
func (t *Tensor) Add(other *Tensor) (*Tensor, error) {
	if !t.SameShape(other) {
		return nil, fmt.Errorf("%w: add %v and %v", ErrShapeMismatch, t.shape, other.shape)
	}
	out := Zeros(t.shape...)
	for i, v := range t.data {
		out.data[i] = v + other.data[i]
	}
	return out, nil
}

// Mul returns the elementwise (Hadamard) product of t and other
func (t *Tensor) Mul(other *Tensor) (*Tensor, error) {
	if !t.SameShape(other) {
		return nil, fmt.Errorf("%w: mul %v and %v", ErrShapeMismatch, t.shape, other.shape)
	}
	out := Zeros(t.shape...)
	for i, v := range t.data {
		out.data[i] = v * other.data[i]
	}
	return out, nil
}

// AddInPlace adds other into t elementwise
func (t *Tensor) AddInPlace(other *Tensor) error {
	if !t.SameShape(other) {
		return fmt.Errorf("%w: add %v and %v", ErrShapeMismatch, t.shape, other.shape)
	}
	for i, v := range other.data {
		t.data[i] += v
	}
	return nil
}

// MulInPlace multiplies t by other elementwise
func (t *Tensor) MulInPlace(other *Tensor) error {
	if !t.SameShape(other) {
		return fmt.Errorf("%w: mul %v and %v", ErrShapeMismatch, t.shape, other.shape)
	}
	for i, v := range other.data {
		t.data[i] *= v
	}
	return nil
}

// AddRowVector adds a rank-1 vector to every row of the rank-2 tensor t
func (t *Tensor) AddRowVector(v *Tensor) error {
	if len(t.shape) != 2 || len(v.shape) != 1 || v.shape[0] != t.shape[1] {
		return fmt.Errorf("%w: broadcast %v over rows of %v", ErrShapeMismatch, v.shape, t.shape)
	}
	cols := t.shape[1]
	for r := 0; r < t.shape[0]; r++ {
		row := t.data[r*cols : (r+1)*cols]
		for i, x := range v.data {
			row[i] += x
		}
	}
	return nil
}

// MulRowVector multiplies every row of the rank-2 tensor t by a rank-1 vector
func (t *Tensor) MulRowVector(v *Tensor) error {
	if len(t.shape) != 2 || len(v.shape) != 1 || v.shape[0] != t.shape[1] {
		return fmt.Errorf("%w: broadcast %v over rows of %v", ErrShapeMismatch, v.shape, t.shape)
	}
	cols := t.shape[1]
	for r := 0; r < t.shape[0]; r++ {
		row := t.data[r*cols : (r+1)*cols]
		for i, x := range v.data {
			row[i] *= x
		}
	}
	return nil
}

// Scale multiplies every element by s in place
func (t *Tensor) Scale(s float32) {
	for i := range t.data {
		t.data[i] *= s
	}
}

// MatMul returns the matrix product t·other for rank-2 operands
func (t *Tensor) MatMul(other *Tensor) (*Tensor, error) {
	if len(t.shape) != 2 || len(other.shape) != 2 || t.shape[1] != other.shape[0] {
		return nil, fmt.Errorf("%w: matmul %v by %v", ErrShapeMismatch, t.shape, other.shape)
	}
	m, k, n := t.shape[0], t.shape[1], other.shape[1]
	out := Zeros(m, n)
	if m == 0 || n == 0 || k == 0 {
		return out, nil
	}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: t.data},
		blas32.General{Rows: k, Cols: n, Stride: n, Data: other.data},
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: out.data})
	return out, nil
}

// MatMulT returns t·otherᵀ for rank-2 operands without materialising the transpose.
// t is [m, k] and other is [n, k]; the result is [m, n].
func (t *Tensor) MatMulT(other *Tensor) (*Tensor, error) {
	if len(t.shape) != 2 || len(other.shape) != 2 || t.shape[1] != other.shape[1] {
		return nil, fmt.Errorf("%w: matmul %v by transpose of %v", ErrShapeMismatch, t.shape, other.shape)
	}
	m, k, n := t.shape[0], t.shape[1], other.shape[0]
	out := Zeros(m, n)
	if m == 0 || n == 0 || k == 0 {
		return out, nil
	}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: t.data},
		blas32.General{Rows: n, Cols: k, Stride: k, Data: other.data},
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: out.data})
	return out, nil
}

// Transpose returns a new rank-2 tensor with rows and columns swapped
func (t *Tensor) Transpose() (*Tensor, error) {
	if len(t.shape) != 2 {
		return nil, fmt.Errorf("%w: transpose needs rank 2, got %v", ErrShapeMismatch, t.shape)
	}
	rows, cols := t.shape[0], t.shape[1]
	out := Zeros(cols, rows)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out.data[c*rows+r] = t.data[r*cols+c]
		}
	}
	return out, nil
}
