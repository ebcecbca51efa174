package tensor

import "math"

// ReLU clamps negative elements to zero in place
func (t *Tensor) ReLU() {
	for i, v := range t.data {
		if v < 0 {
			t.data[i] = 0
		}
	}
}

// GELU applies the exact Gaussian error linear unit in place
func (t *Tensor) GELU() {
	for i, v := range t.data {
		x := float64(v)
		t.data[i] = float32(0.5 * x * (1 + math.Erf(x/math.Sqrt2)))
	}
}

// Softmax normalises the entire flat buffer into a probability distribution in place.
// The maximum is subtracted before exponentiation so large inputs do not overflow.
func (t *Tensor) Softmax() {
	softmax(t.data)
}

// LayerNorm normalises the entire flat buffer to zero mean and unit variance in place.
// No learned scale or bias is applied.
func (t *Tensor) LayerNorm(eps float32) {
	layerNorm(t.data, eps)
}

// SoftmaxRows applies Softmax independently to every row of a rank-2 tensor
func (t *Tensor) SoftmaxRows() {
	rows, cols := t.rowsCols()
	for r := 0; r < rows; r++ {
		softmax(t.data[r*cols : (r+1)*cols])
	}
}

// LayerNormRows applies LayerNorm independently to every row of a rank-2 tensor
func (t *Tensor) LayerNormRows(eps float32) {
	rows, cols := t.rowsCols()
	for r := 0; r < rows; r++ {
		layerNorm(t.data[r*cols:(r+1)*cols], eps)
	}
}

func (t *Tensor) rowsCols() (int, int) {
	if len(t.shape) < 2 {
		return 1, len(t.data)
	}
	cols := t.shape[len(t.shape)-1]
	if cols == 0 {
		return 0, 0
	}
	return len(t.data) / cols, cols
}

func softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxVal := x[0]
	for _, v := range x[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float64
	for i, v := range x {
		e := math.Exp(float64(v - maxVal))
		x[i] = float32(e)
		sum += e
	}
	inv := 1 / sum
	for i := range x {
		x[i] = float32(float64(x[i]) * inv)
	}
}

func layerNorm(x []float32, eps float32) {
	if len(x) == 0 {
		return
	}
	var mean float64
	for _, v := range x {
		mean += float64(v)
	}
	mean /= float64(len(x))
	var variance float64
	for _, v := range x {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(x))
	inv := 1 / math.Sqrt(variance+float64(eps))
	for i, v := range x {
		x[i] = float32((float64(v) - mean) * inv)
	}
}
