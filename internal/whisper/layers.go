package whisper

import (
	"fmt"
	"math"

	"github.com/Cabrel10/AetherionOS/internal/tensor"
)

const layerNormEps = 1e-5

type linear struct {
	w *tensor.Tensor // [in, out]
	b *tensor.Tensor // [out], nil when the layer has no bias
}

func (l linear) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := x.MatMul(l.w)
	if err != nil {
		return nil, err
	}
	if l.b != nil {
		if err := y.AddRowVector(l.b); err != nil {
			return nil, err
		}
	}
	return y, nil
}

type norm struct {
	w, b *tensor.Tensor
}

// forward normalises each row of x and applies the learned affine transform
func (n norm) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y := x.Clone()
	y.LayerNormRows(layerNormEps)
	if err := y.MulRowVector(n.w); err != nil {
		return nil, err
	}
	if err := y.AddRowVector(n.b); err != nil {
		return nil, err
	}
	return y, nil
}

type mlp struct {
	fc1, fc2 linear
}

func (m mlp) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := m.fc1.forward(x)
	if err != nil {
		return nil, fmt.Errorf("mlp fc1: %w", err)
	}
	h.GELU()
	out, err := m.fc2.forward(h)
	if err != nil {
		return nil, fmt.Errorf("mlp fc2: %w", err)
	}
	return out, nil
}

type attention struct {
	query, key, value, out linear
}

// project computes key and value projections of x
func (a attention) project(x *tensor.Tensor) (k, v *tensor.Tensor, err error) {
	if k, err = a.key.forward(x); err != nil {
		return nil, nil, fmt.Errorf("key projection: %w", err)
	}
	if v, err = a.value.forward(x); err != nil {
		return nil, nil, fmt.Errorf("value projection: %w", err)
	}
	return k, v, nil
}

// mask describes causal masking for query rows. Query row i sits at absolute
// position offset+i and may only see keys at positions <= offset+i.
type mask struct {
	causal bool
	offset int
}

// attend runs multi-head scaled dot-product attention of q [Tq, d] over k, v [Tk, d]
// and returns the output projection.
func (a attention) attend(q, k, v *tensor.Tensor, heads int, m mask) (*tensor.Tensor, error) {
	tq, d := q.Dim(0), q.Dim(1)
	dh := d / heads
	scale := float32(1 / math.Sqrt(float64(dh)))
	negInf := float32(math.Inf(-1))

	merged := tensor.Zeros(tq, d)
	for h := 0; h < heads; h++ {
		qh, err := q.SliceCols(h*dh, (h+1)*dh)
		if err != nil {
			return nil, err
		}
		kh, err := k.SliceCols(h*dh, (h+1)*dh)
		if err != nil {
			return nil, err
		}
		vh, err := v.SliceCols(h*dh, (h+1)*dh)
		if err != nil {
			return nil, err
		}

		scores, err := qh.MatMulT(kh)
		if err != nil {
			return nil, err
		}
		scores.Scale(scale)
		if m.causal {
			tk := scores.Dim(1)
			data := scores.Data()
			for i := 0; i < tq; i++ {
				for j := m.offset + i + 1; j < tk; j++ {
					data[i*tk+j] = negInf
				}
			}
		}
		scores.SoftmaxRows()

		head, err := scores.MatMul(vh)
		if err != nil {
			return nil, err
		}
		if err := merged.SetCols(h*dh, head); err != nil {
			return nil, err
		}
	}

	return a.out.forward(merged)
}

// selfAttend projects x into queries, keys and values and attends over itself
func (a attention) selfAttend(x *tensor.Tensor, heads int) (*tensor.Tensor, error) {
	q, err := a.query.forward(x)
	if err != nil {
		return nil, fmt.Errorf("query projection: %w", err)
	}
	k, v, err := a.project(x)
	if err != nil {
		return nil, err
	}
	return a.attend(q, k, v, heads, mask{})
}

// residual computes x + f(norm(x)) in place on x
func residual(x *tensor.Tensor, n norm, f func(*tensor.Tensor) (*tensor.Tensor, error)) error {
	h, err := n.forward(x)
	if err != nil {
		return err
	}
	out, err := f(h)
	if err != nil {
		return err
	}
	return x.AddInPlace(out)
}
