package whisper

import (
	"fmt"
	"math"

	"github.com/Cabrel10/AetherionOS/internal/tensor"
)

type encoderBlock struct {
	attnLN norm
	attn   attention
	mlpLN  norm
	mlp    mlp
}

func (b encoderBlock) forward(x *tensor.Tensor, heads int) error {
	if err := residual(x, b.attnLN, func(h *tensor.Tensor) (*tensor.Tensor, error) {
		return b.attn.selfAttend(h, heads)
	}); err != nil {
		return fmt.Errorf("self-attention: %w", err)
	}
	if err := residual(x, b.mlpLN, b.mlp.forward); err != nil {
		return fmt.Errorf("mlp: %w", err)
	}
	return nil
}

// encode maps log-mel features [frames, mels] to audio states [ceil(frames/2), d]
func (a *arena) encode(features *tensor.Tensor, cfg Config) (*tensor.Tensor, error) {
	x, err := conv1d(features, a.conv1, 1)
	if err != nil {
		return nil, fmt.Errorf("conv1: %w", err)
	}
	x.GELU()
	if x, err = conv1d(x, a.conv2, 2); err != nil {
		return nil, fmt.Errorf("conv2: %w", err)
	}
	x.GELU()

	if err := x.AddInPlace(sinusoids(x.Dim(0), cfg.HiddenSize)); err != nil {
		return nil, fmt.Errorf("positional embedding: %w", err)
	}

	for i, block := range a.encoder {
		if err := block.forward(x, cfg.Heads); err != nil {
			return nil, fmt.Errorf("encoder block %d: %w", i, err)
		}
	}
	return a.encoderLN.forward(x)
}

// conv1d applies a width-3 convolution with padding 1 as an im2col product.
// The kernel is stored [3*in, out] with row k*in+c holding tap k of input channel c.
func conv1d(x *tensor.Tensor, l linear, stride int) (*tensor.Tensor, error) {
	steps, channels := x.Dim(0), x.Dim(1)
	outLen := (steps-1)/stride + 1

	cols := tensor.Zeros(outLen, 3*channels)
	src, dst := x.Data(), cols.Data()
	for t := 0; t < outLen; t++ {
		for k := 0; k < 3; k++ {
			in := t*stride - 1 + k
			if in < 0 || in >= steps {
				continue
			}
			copy(dst[(t*3+k)*channels:(t*3+k+1)*channels], src[in*channels:(in+1)*channels])
		}
	}
	return l.forward(cols)
}

// sinusoids returns the fixed sine/cosine position table [length, channels]
func sinusoids(length, channels int) *tensor.Tensor {
	half := channels / 2
	increment := math.Log(10000) / float64(half-1)
	out := tensor.Zeros(length, channels)
	data := out.Data()
	for t := 0; t < length; t++ {
		for i := 0; i < half; i++ {
			angle := float64(t) * math.Exp(-increment*float64(i))
			data[t*channels+i] = float32(math.Sin(angle))
			data[t*channels+half+i] = float32(math.Cos(angle))
		}
	}
	return out
}
