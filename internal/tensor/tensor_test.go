package tensor

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func approxEqual(a, b, tol float32) bool {
	return float32(math.Abs(float64(a-b))) <= tol
}

func TestZerosAndOnes(t *testing.T) {
	z := Zeros(2, 3)
	if got := z.Shape(); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("Expected shape [2 3], got %v", got)
	}
	if len(z.Data()) != 6 {
		t.Fatalf("Expected 6 elements, got %d", len(z.Data()))
	}
	for i, v := range z.Data() {
		if v != 0 {
			t.Errorf("Zeros element %d = %f, want 0", i, v)
		}
	}

	o := Ones(4)
	for i, v := range o.Data() {
		if v != 1 {
			t.Errorf("Ones element %d = %f, want 1", i, v)
		}
	}
}

func TestFromSlice(t *testing.T) {
	tests := []struct {
		name      string
		values    []float32
		shape     []int
		expectErr bool
	}{
		{name: "exact fill", values: []float32{1, 2, 3, 4, 5, 6}, shape: []int{2, 3}},
		{name: "rank one", values: []float32{1, 2}, shape: []int{2}},
		{name: "too few values", values: []float32{1, 2, 3}, shape: []int{2, 2}, expectErr: true},
		{name: "too many values", values: []float32{1, 2, 3, 4, 5}, shape: []int{2, 2}, expectErr: true},
		{name: "negative dimension", values: []float32{}, shape: []int{-1, 2}, expectErr: true},
		{name: "overflowing shape", values: []float32{}, shape: []int{math.MaxInt/4 + 1, 8}, expectErr: true},
		{name: "overflowing to negative", values: []float32{}, shape: []int{math.MaxInt/2 + 1, 2}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := FromSlice(tt.values, tt.shape...)
			if tt.expectErr {
				if !errors.Is(err, ErrValueCountMismatch) {
					t.Fatalf("Expected ErrValueCountMismatch, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tensor.Len() != len(tt.values) {
				t.Errorf("Expected %d elements, got %d", len(tt.values), tensor.Len())
			}
		})
	}
}

func TestFromSliceCopiesInput(t *testing.T) {
	values := []float32{1, 2}
	tensor, err := FromSlice(values, 2)
	if err != nil {
		t.Fatalf("FromSlice failed: %v", err)
	}
	values[0] = 99
	if tensor.Data()[0] != 1 {
		t.Errorf("Tensor shares storage with caller slice")
	}
}

func TestAddAndMul(t *testing.T) {
	a, _ := FromSlice([]float32{1, 2, 3, 4}, 2, 2)
	b, _ := FromSlice([]float32{5, 6, 7, 8}, 2, 2)

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	for i, want := range []float32{6, 8, 10, 12} {
		if sum.Data()[i] != want {
			t.Errorf("sum[%d] = %f, want %f", i, sum.Data()[i], want)
		}
	}

	prod, err := a.Mul(b)
	if err != nil {
		t.Fatalf("Mul failed: %v", err)
	}
	for i, want := range []float32{5, 12, 21, 32} {
		if prod.Data()[i] != want {
			t.Errorf("prod[%d] = %f, want %f", i, prod.Data()[i], want)
		}
	}
}

func TestElementwiseShapeMismatch(t *testing.T) {
	a := Zeros(2, 3)
	b := Zeros(3, 2)

	if _, err := a.Add(b); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Add: expected ErrShapeMismatch, got %v", err)
	}
	if _, err := a.Mul(b); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Mul: expected ErrShapeMismatch, got %v", err)
	}
	if err := a.AddInPlace(Zeros(6)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("AddInPlace: expected ErrShapeMismatch, got %v", err)
	}
}

func TestMatMul(t *testing.T) {
	a, _ := FromSlice([]float32{1, 2, 3, 4}, 2, 2)
	b, _ := FromSlice([]float32{5, 6, 7, 8}, 2, 2)

	c, err := a.MatMul(b)
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}
	if s := c.Shape(); s[0] != 2 || s[1] != 2 {
		t.Fatalf("Expected shape [2 2], got %v", s)
	}
	for i, want := range []float32{19, 22, 43, 50} {
		if c.Data()[i] != want {
			t.Errorf("c[%d] = %f, want %f", i, c.Data()[i], want)
		}
	}
}

func TestMatMulShapeErrors(t *testing.T) {
	tests := []struct {
		name string
		a, b *Tensor
	}{
		{name: "inner mismatch", a: Zeros(2, 3), b: Zeros(2, 3)},
		{name: "rank one left", a: Zeros(3), b: Zeros(3, 2)},
		{name: "rank three right", a: Zeros(2, 2), b: Zeros(2, 2, 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.a.MatMul(tt.b); !errors.Is(err, ErrShapeMismatch) {
				t.Errorf("Expected ErrShapeMismatch, got %v", err)
			}
		})
	}
}

func naiveMatMul(a, b *Tensor) []float32 {
	m, k, n := a.Dim(0), a.Dim(1), b.Dim(1)
	out := make([]float32, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for p := 0; p < k; p++ {
				sum += a.data[i*k+p] * b.data[p*n+j]
			}
			out[i*n+j] = sum
		}
	}
	return out
}

func randomTensor(rng *rand.Rand, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = rng.Float32()*2 - 1
	}
	return t
}

func TestMatMulMatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := randomTensor(rng, 5, 7)
	b := randomTensor(rng, 7, 3)

	got, err := a.MatMul(b)
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}
	want := naiveMatMul(a, b)
	for i := range want {
		if !approxEqual(got.data[i], want[i], 1e-4) {
			t.Errorf("element %d: got %f, want %f", i, got.data[i], want[i])
		}
	}

	bt, _ := b.Transpose()
	viaT, err := a.MatMulT(bt)
	if err != nil {
		t.Fatalf("MatMulT failed: %v", err)
	}
	for i := range want {
		if !approxEqual(viaT.data[i], want[i], 1e-4) {
			t.Errorf("MatMulT element %d: got %f, want %f", i, viaT.data[i], want[i])
		}
	}
}

func TestMatMulEmptyInner(t *testing.T) {
	c, err := Zeros(2, 0).MatMul(Zeros(0, 3))
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}
	if c.Len() != 6 {
		t.Errorf("Expected 6 zero elements, got %d", c.Len())
	}
}

func TestReLU(t *testing.T) {
	x, _ := FromSlice([]float32{-1, 0, 2}, 3)
	x.ReLU()
	for i, want := range []float32{0, 0, 2} {
		if x.Data()[i] != want {
			t.Errorf("relu[%d] = %f, want %f", i, x.Data()[i], want)
		}
	}
}

func TestSoftmax(t *testing.T) {
	x, _ := FromSlice([]float32{1, 2, 3}, 3)
	x.Softmax()

	var sum float32
	for i, v := range x.Data() {
		if v <= 0 {
			t.Errorf("softmax[%d] = %f, want > 0", i, v)
		}
		sum += v
	}
	if !approxEqual(sum, 1, 1e-6) {
		t.Errorf("softmax sum = %f, want 1", sum)
	}
	if !(x.Data()[2] > x.Data()[1] && x.Data()[1] > x.Data()[0]) {
		t.Errorf("softmax not monotonic: %v", x.Data())
	}
}

func TestSoftmaxWholeBufferAndStability(t *testing.T) {
	x, _ := FromSlice([]float32{1000, 1001, 999, 1000}, 2, 2)
	x.Softmax()

	var sum float32
	for _, v := range x.Data() {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("softmax overflowed: %v", x.Data())
		}
		sum += v
	}
	if !approxEqual(sum, 1, 1e-5) {
		t.Errorf("softmax over whole buffer should sum to 1, got %f", sum)
	}
}

func TestSoftmaxRows(t *testing.T) {
	x, _ := FromSlice([]float32{1, 2, 3, 4}, 2, 2)
	x.SoftmaxRows()
	for r := 0; r < 2; r++ {
		row, _ := x.Row(r)
		var sum float32
		for _, v := range row.Data() {
			sum += v
		}
		if !approxEqual(sum, 1, 1e-6) {
			t.Errorf("row %d sums to %f", r, sum)
		}
	}
}

func TestLayerNorm(t *testing.T) {
	x, _ := FromSlice([]float32{1, 2, 3, 4}, 4)
	x.LayerNorm(1e-5)

	var mean float64
	for _, v := range x.Data() {
		mean += float64(v)
	}
	mean /= 4
	var variance float64
	for _, v := range x.Data() {
		variance += (float64(v) - mean) * (float64(v) - mean)
	}
	variance /= 4

	if math.Abs(mean) > 1e-5 {
		t.Errorf("mean = %f, want ~0", mean)
	}
	if math.Abs(variance-1) > 1e-3 {
		t.Errorf("variance = %f, want ~1", variance)
	}
}

func TestLayerNormConstantInput(t *testing.T) {
	x := Ones(8)
	x.LayerNorm(1e-5)
	for i, v := range x.Data() {
		if v != 0 {
			t.Errorf("element %d = %f, want 0 for constant input", i, v)
		}
	}
}

func TestGELU(t *testing.T) {
	x, _ := FromSlice([]float32{-3, 0, 3}, 3)
	x.GELU()
	if !approxEqual(x.Data()[1], 0, 1e-7) {
		t.Errorf("gelu(0) = %f", x.Data()[1])
	}
	if !approxEqual(x.Data()[2], 2.99595, 1e-4) {
		t.Errorf("gelu(3) = %f", x.Data()[2])
	}
	if !approxEqual(x.Data()[0], -0.00405, 1e-4) {
		t.Errorf("gelu(-3) = %f", x.Data()[0])
	}
}

func TestColumnsAndRows(t *testing.T) {
	x, _ := FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 3)

	cols, err := x.SliceCols(1, 3)
	if err != nil {
		t.Fatalf("SliceCols failed: %v", err)
	}
	for i, want := range []float32{2, 3, 5, 6} {
		if cols.Data()[i] != want {
			t.Errorf("cols[%d] = %f, want %f", i, cols.Data()[i], want)
		}
	}

	dst := Zeros(2, 3)
	if err := dst.SetCols(1, cols); err != nil {
		t.Fatalf("SetCols failed: %v", err)
	}
	for i, want := range []float32{0, 2, 3, 0, 5, 6} {
		if dst.Data()[i] != want {
			t.Errorf("dst[%d] = %f, want %f", i, dst.Data()[i], want)
		}
	}

	row, err := x.Row(1)
	if err != nil {
		t.Fatalf("Row failed: %v", err)
	}
	row.Data()[0] = 40
	if x.Data()[3] != 40 {
		t.Errorf("Row should be a view over the parent storage")
	}

	if _, err := x.Row(2); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for out of range row, got %v", err)
	}
}

func TestAppendRowsGrowsCache(t *testing.T) {
	cache := WithCapacity(4, 2)
	for i := 0; i < 3; i++ {
		step, _ := FromSlice([]float32{float32(i), float32(i)}, 1, 2)
		var err error
		cache, err = cache.AppendRows(step)
		if err != nil {
			t.Fatalf("AppendRows failed: %v", err)
		}
	}
	if cache.Dim(0) != 3 {
		t.Fatalf("Expected 3 rows, got %d", cache.Dim(0))
	}
	if cache.Data()[4] != 2 {
		t.Errorf("Expected last row value 2, got %f", cache.Data()[4])
	}
}

func TestReshapeAndFinite(t *testing.T) {
	x := Zeros(2, 3)
	if _, err := x.Reshape(3, 3); !errors.Is(err, ErrValueCountMismatch) {
		t.Errorf("Expected ErrValueCountMismatch, got %v", err)
	}
	if _, err := Zeros(0).Reshape(math.MaxInt/4+1, 8); !errors.Is(err, ErrValueCountMismatch) {
		t.Errorf("Expected ErrValueCountMismatch for an overflowing shape, got %v", err)
	}
	y, err := x.Reshape(6)
	if err != nil {
		t.Fatalf("Reshape failed: %v", err)
	}
	if err := y.CheckFinite(); err != nil {
		t.Errorf("zeros should be finite: %v", err)
	}
	y.Data()[4] = float32(math.NaN())
	if err := x.CheckFinite(); err == nil {
		t.Errorf("Expected non-finite error after writing NaN through view")
	}

	idx, val := Ones(3).ArgMax()
	if idx != 0 || val != 1 {
		t.Errorf("ArgMax ties should pick the first index, got %d %f", idx, val)
	}
}

func TestVectorArithmetic(t *testing.T) {
	a, _ := FromSlice([]float32{1, 2, 3}, 3)
	b, _ := FromSlice([]float32{4, 5, 6}, 3)
	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	for i, want := range []float32{5, 7, 9} {
		if sum.Data()[i] != want {
			t.Errorf("sum[%d] = %f, want %f", i, sum.Data()[i], want)
		}
	}

	c, _ := FromSlice([]float32{2, 3, 4}, 3)
	d, _ := FromSlice([]float32{5, 6, 7}, 3)
	prod, err := c.Mul(d)
	if err != nil {
		t.Fatalf("Mul failed: %v", err)
	}
	for i, want := range []float32{10, 18, 28} {
		if prod.Data()[i] != want {
			t.Errorf("prod[%d] = %f, want %f", i, prod.Data()[i], want)
		}
	}

	r, _ := FromSlice([]float32{-1, 0, 1, 2}, 4)
	r.ReLU()
	for i, want := range []float32{0, 0, 1, 2} {
		if r.Data()[i] != want {
			t.Errorf("relu[%d] = %f, want %f", i, r.Data()[i], want)
		}
	}

	sq, _ := FromSlice([]float32{1, 2, 3, 4}, 2, 2)
	for i, want := range []float32{1, 2, 3, 4} {
		if sq.Data()[i] != want {
			t.Errorf("data[%d] = %f, want %f", i, sq.Data()[i], want)
		}
	}
	for i, v := range Ones(2, 2).Data() {
		if v != 1 {
			t.Errorf("ones[%d] = %f, want 1", i, v)
		}
	}
}
