package tensor

import "fmt"

// Row returns row i of a rank-2 tensor as a rank-1 view sharing storage
func (t *Tensor) Row(i int) (*Tensor, error) {
	return t.Rows(i, i+1, true)
}

// Rows returns rows [start, end) of a rank-2 tensor as a view sharing storage.
// When flatten is true a single row is returned as a rank-1 tensor.
func (t *Tensor) Rows(start, end int, flatten bool) (*Tensor, error) {
	if len(t.shape) != 2 || start < 0 || end > t.shape[0] || start > end {
		return nil, fmt.Errorf("%w: rows [%d, %d) of %v", ErrShapeMismatch, start, end, t.shape)
	}
	cols := t.shape[1]
	data := t.data[start*cols : end*cols : end*cols]
	if flatten && end-start == 1 {
		return &Tensor{shape: []int{cols}, data: data}, nil
	}
	return &Tensor{shape: []int{end - start, cols}, data: data}, nil
}

// SliceCols copies columns [start, end) of a rank-2 tensor into a new tensor
func (t *Tensor) SliceCols(start, end int) (*Tensor, error) {
	if len(t.shape) != 2 || start < 0 || end > t.shape[1] || start > end {
		return nil, fmt.Errorf("%w: cols [%d, %d) of %v", ErrShapeMismatch, start, end, t.shape)
	}
	rows, cols, width := t.shape[0], t.shape[1], end-start
	out := Zeros(rows, width)
	for r := 0; r < rows; r++ {
		copy(out.data[r*width:(r+1)*width], t.data[r*cols+start:r*cols+end])
	}
	return out, nil
}

// SetCols writes src into the columns of t starting at column start
func (t *Tensor) SetCols(start int, src *Tensor) error {
	if len(t.shape) != 2 || len(src.shape) != 2 || src.shape[0] != t.shape[0] ||
		start < 0 || start+src.shape[1] > t.shape[1] {
		return fmt.Errorf("%w: set cols at %d of %v from %v", ErrShapeMismatch, start, t.shape, src.shape)
	}
	rows, cols, width := t.shape[0], t.shape[1], src.shape[1]
	for r := 0; r < rows; r++ {
		copy(t.data[r*cols+start:r*cols+start+width], src.data[r*width:(r+1)*width])
	}
	return nil
}

// AppendRows returns a rank-2 tensor holding the rows of t followed by the rows of other.
// Storage of t is reused when it has spare capacity.
func (t *Tensor) AppendRows(other *Tensor) (*Tensor, error) {
	if len(t.shape) != 2 || len(other.shape) != 2 || t.shape[1] != other.shape[1] {
		return nil, fmt.Errorf("%w: append %v to %v", ErrShapeMismatch, other.shape, t.shape)
	}
	return &Tensor{
		shape: []int{t.shape[0] + other.shape[0], t.shape[1]},
		data:  append(t.data, other.data...),
	}, nil
}

// WithCapacity returns an empty [0, cols] tensor whose storage can grow to rows
// without reallocation. It is used for key/value caches.
func WithCapacity(rows, cols int) *Tensor {
	return &Tensor{shape: []int{0, cols}, data: make([]float32, 0, rows*cols)}
}
