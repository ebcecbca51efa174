package tensor

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrShapeMismatch is returned when operand shapes are incompatible
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrValueCountMismatch is returned when a value slice does not fill a shape exactly
	ErrValueCountMismatch = errors.New("value count mismatch")
)

// Tensor is a dense n-dimensional array of float32 stored in row-major order.
// The length of the backing data always equals the product of the shape.
type Tensor struct {
	shape []int
	data  []float32
}

// Zeros creates a zero-filled tensor. Negative or overflowing shapes panic like make does.
func Zeros(shape ...int) *Tensor {
	return &Tensor{
		shape: cloneShape(shape),
		data:  make([]float32, volume(shape)),
	}
}

// Ones creates a tensor filled with 1.0
func Ones(shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = 1
	}
	return t
}

// FromSlice wraps a copy of values in a tensor of the given shape
func FromSlice(values []float32, shape ...int) (*Tensor, error) {
	n, err := checkedVolume(shape)
	if err != nil {
		return nil, err
	}
	if n != len(values) {
		return nil, fmt.Errorf("%w: %d values for shape %v (%d elements)", ErrValueCountMismatch, len(values), shape, n)
	}
	data := make([]float32, len(values))
	copy(data, values)
	return &Tensor{shape: cloneShape(shape), data: data}, nil
}

// Shape returns the tensor dimensions. The returned slice must not be modified.
func (t *Tensor) Shape() []int {
	return t.shape
}

// Data returns the backing storage in row-major order
func (t *Tensor) Data() []float32 {
	return t.data
}

// Len returns the number of elements
func (t *Tensor) Len() int {
	return len(t.data)
}

// Rank returns the number of dimensions
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Dim returns the size of dimension i
func (t *Tensor) Dim(i int) int {
	return t.shape[i]
}

// Clone returns a deep copy
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	return &Tensor{shape: cloneShape(t.shape), data: data}
}

// Reshape returns a view sharing storage with t under a new shape
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	n, err := checkedVolume(shape)
	if err != nil {
		return nil, err
	}
	if n != len(t.data) {
		return nil, fmt.Errorf("%w: cannot reshape %v into %v", ErrValueCountMismatch, t.shape, shape)
	}
	return &Tensor{shape: cloneShape(shape), data: t.data}, nil
}

// SameShape reports whether t and other have identical dimensions
func (t *Tensor) SameShape(other *Tensor) bool {
	if len(t.shape) != len(other.shape) {
		return false
	}
	for i := range t.shape {
		if t.shape[i] != other.shape[i] {
			return false
		}
	}
	return true
}

// CheckFinite returns an error if any element is NaN or infinite
func (t *Tensor) CheckFinite() error {
	for i, v := range t.data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite value %v at flat index %d", v, i)
		}
	}
	return nil
}

// ArgMax returns the flat index and value of the largest element.
// An empty tensor yields index -1.
func (t *Tensor) ArgMax() (int, float32) {
	best := -1
	var bestVal float32
	for i, v := range t.data {
		if best < 0 || v > bestVal {
			best, bestVal = i, v
		}
	}
	return best, bestVal
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}

func volume(shape []int) int {
	n, err := checkedVolume(shape)
	if err != nil {
		panic("tensor: " + err.Error())
	}
	return n
}

// checkedVolume returns the element count of shape, rejecting negative dimensions
// and products that do not fit in an int.
func checkedVolume(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in shape %v", ErrValueCountMismatch, shape)
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: shape %v overflows the element count", ErrValueCountMismatch, shape)
		}
		n *= d
	}
	return n, nil
}

func cloneShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}
