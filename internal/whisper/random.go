package whisper

import (
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/Cabrel10/AetherionOS/internal/tensor"
)

// RandomWeights builds a complete, deterministic weight set for cfg. Linear kernels
// are drawn from N(0, 1/fan_in), norms start at identity and biases at zero. The
// result is untrained; it exists for smoke tests and benchmarking the pipeline.
func RandomWeights(cfg Config, seed int64) map[string]*tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	shapes := ExpectedShapes(cfg)
	out := make(map[string]*tensor.Tensor, len(shapes))

	for _, name := range sortedNames(shapes) {
		shape := shapes[name]
		var t *tensor.Tensor
		switch {
		case strings.HasSuffix(name, "ln.weight") || strings.HasSuffix(name, "ln_post.weight"):
			t = tensor.Ones(shape...)
		case strings.HasSuffix(name, ".bias"):
			t = tensor.Zeros(shape...)
		case strings.Contains(name, "embedding"):
			t = tensor.Zeros(shape...)
			fill(rng, t, 0.02)
		default:
			t = tensor.Zeros(shape...)
			fill(rng, t, 1/math.Sqrt(float64(shape[0])))
		}
		out[name] = t
	}
	return out
}

func fill(rng *rand.Rand, t *tensor.Tensor, std float64) {
	data := t.Data()
	for i := range data {
		data[i] = float32(rng.NormFloat64() * std)
	}
}

func sortedNames(shapes map[string][]int) []string {
	names := make([]string, 0, len(shapes))
	for name := range shapes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
