package whisper

import (
	"fmt"

	"github.com/Cabrel10/AetherionOS/internal/tensor"
)

// ExpectedShapes lists every tensor a model with this configuration needs, keyed by name.
// Linear weights are stored [in, out].
func ExpectedShapes(cfg Config) map[string][]int {
	d, ff := cfg.HiddenSize, 4*cfg.HiddenSize
	shapes := map[string][]int{
		"encoder.conv1.weight":           {3 * cfg.MelBins, d},
		"encoder.conv1.bias":             {d},
		"encoder.conv2.weight":           {3 * d, d},
		"encoder.conv2.bias":             {d},
		"encoder.ln_post.weight":         {d},
		"encoder.ln_post.bias":           {d},
		"decoder.token_embedding.weight": {cfg.VocabSize, d},
		"decoder.positional_embedding":   {cfg.TextContext, d},
		"decoder.ln.weight":              {d},
		"decoder.ln.bias":                {d},
	}

	addNorm := func(prefix string) {
		shapes[prefix+".weight"] = []int{d}
		shapes[prefix+".bias"] = []int{d}
	}
	addAttention := func(prefix string) {
		shapes[prefix+".query.weight"] = []int{d, d}
		shapes[prefix+".query.bias"] = []int{d}
		shapes[prefix+".key.weight"] = []int{d, d}
		shapes[prefix+".value.weight"] = []int{d, d}
		shapes[prefix+".value.bias"] = []int{d}
		shapes[prefix+".out.weight"] = []int{d, d}
		shapes[prefix+".out.bias"] = []int{d}
	}
	addMLP := func(prefix string) {
		shapes[prefix+".0.weight"] = []int{d, ff}
		shapes[prefix+".0.bias"] = []int{ff}
		shapes[prefix+".2.weight"] = []int{ff, d}
		shapes[prefix+".2.bias"] = []int{d}
	}

	for i := 0; i < cfg.AudioLayers; i++ {
		p := fmt.Sprintf("encoder.blocks.%d", i)
		addNorm(p + ".attn_ln")
		addAttention(p + ".attn")
		addNorm(p + ".mlp_ln")
		addMLP(p + ".mlp")
	}
	for i := 0; i < cfg.TextLayers; i++ {
		p := fmt.Sprintf("decoder.blocks.%d", i)
		addNorm(p + ".attn_ln")
		addAttention(p + ".attn")
		addNorm(p + ".cross_attn_ln")
		addAttention(p + ".cross_attn")
		addNorm(p + ".mlp_ln")
		addMLP(p + ".mlp")
	}
	return shapes
}

// arena owns the loaded tensors and the resolved layer views into them.
// Nothing writes to it after construction.
type arena struct {
	tensors map[string]*tensor.Tensor
	vocab   *Vocabulary

	conv1, conv2 linear
	encoder      []encoderBlock
	encoderLN    norm

	tokenEmbedding *tensor.Tensor
	positional     *tensor.Tensor
	decoder        []decoderBlock
	decoderLN      norm
}

// newArena checks the tensor table against cfg and resolves named layers.
// Missing tensors are a format problem, disagreeing shapes a shape problem.
func newArena(cfg Config, tensors map[string]*tensor.Tensor, vocab *Vocabulary) (*arena, error) {
	expected := ExpectedShapes(cfg)
	for _, name := range sortedNames(expected) {
		t, ok := tensors[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing tensor %q", ErrWeightFormat, name)
		}
		if !shapeEqual(t.Shape(), expected[name]) {
			return nil, fmt.Errorf("%w: tensor %q has shape %v, want %v", ErrWeightShape, name, t.Shape(), expected[name])
		}
	}

	a := &arena{tensors: tensors, vocab: vocab}
	a.conv1 = a.linear("encoder.conv1", true)
	a.conv2 = a.linear("encoder.conv2", true)
	a.encoderLN = a.norm("encoder.ln_post")
	for i := 0; i < cfg.AudioLayers; i++ {
		p := fmt.Sprintf("encoder.blocks.%d", i)
		a.encoder = append(a.encoder, encoderBlock{
			attnLN: a.norm(p + ".attn_ln"),
			attn:   a.attention(p + ".attn"),
			mlpLN:  a.norm(p + ".mlp_ln"),
			mlp:    a.mlp(p + ".mlp"),
		})
	}

	a.tokenEmbedding = tensors["decoder.token_embedding.weight"]
	a.positional = tensors["decoder.positional_embedding"]
	a.decoderLN = a.norm("decoder.ln")
	for i := 0; i < cfg.TextLayers; i++ {
		p := fmt.Sprintf("decoder.blocks.%d", i)
		a.decoder = append(a.decoder, decoderBlock{
			attnLN:      a.norm(p + ".attn_ln"),
			attn:        a.attention(p + ".attn"),
			crossAttnLN: a.norm(p + ".cross_attn_ln"),
			crossAttn:   a.attention(p + ".cross_attn"),
			mlpLN:       a.norm(p + ".mlp_ln"),
			mlp:         a.mlp(p + ".mlp"),
		})
	}
	return a, nil
}

func (a *arena) linear(prefix string, withBias bool) linear {
	l := linear{w: a.tensors[prefix+".weight"]}
	if withBias {
		l.b = a.tensors[prefix+".bias"]
	}
	return l
}

func (a *arena) norm(prefix string) norm {
	return norm{w: a.tensors[prefix+".weight"], b: a.tensors[prefix+".bias"]}
}

func (a *arena) attention(prefix string) attention {
	return attention{
		query: a.linear(prefix+".query", true),
		key:   a.linear(prefix+".key", false),
		value: a.linear(prefix+".value", true),
		out:   a.linear(prefix+".out", true),
	}
}

func (a *arena) mlp(prefix string) mlp {
	return mlp{fc1: a.linear(prefix+".0", true), fc2: a.linear(prefix+".2", true)}
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
