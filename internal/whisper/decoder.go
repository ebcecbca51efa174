package whisper

import (
	"fmt"

	"github.com/Cabrel10/AetherionOS/internal/tensor"
)

// DecodeState tracks the progress of one autoregressive decode
type DecodeState int

const (
	// DecodeStart is the state before the prompt has been processed
	DecodeStart DecodeState = iota
	// DecodeDecoding means tokens are being generated
	DecodeDecoding
	// DecodeComplete means EOT was produced or the length bound was reached
	DecodeComplete
	// DecodeAborted means an inference fault stopped decoding
	DecodeAborted
)

func (s DecodeState) String() string {
	switch s {
	case DecodeStart:
		return "start"
	case DecodeDecoding:
		return "decoding"
	case DecodeComplete:
		return "complete"
	case DecodeAborted:
		return "aborted"
	default:
		return fmt.Sprintf("DecodeState(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON and msgpack output
func (s DecodeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText
func (s *DecodeState) UnmarshalText(text []byte) error {
	for _, candidate := range []DecodeState{DecodeStart, DecodeDecoding, DecodeComplete, DecodeAborted} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown decode state %q", text)
}

type decoderBlock struct {
	attnLN      norm
	attn        attention
	crossAttnLN norm
	crossAttn   attention
	mlpLN       norm
	mlp         mlp
}

// layerCache holds the growing self-attention keys/values of one block and the
// cross-attention keys/values computed once from the encoder output.
type layerCache struct {
	k, v           *tensor.Tensor
	crossK, crossV *tensor.Tensor
}

// decoder is the per-call decoding state. It is never shared between calls.
type decoder struct {
	a      *arena
	cfg    Config
	caches []layerCache
	pos    int
}

func (a *arena) newDecoder(cfg Config, audio *tensor.Tensor) (*decoder, error) {
	d := &decoder{a: a, cfg: cfg, caches: make([]layerCache, len(a.decoder))}
	for i, block := range a.decoder {
		k, v, err := block.crossAttn.project(audio)
		if err != nil {
			return nil, fmt.Errorf("decoder block %d cross projection: %w", i, err)
		}
		d.caches[i] = layerCache{
			k:      tensor.WithCapacity(cfg.TextContext, cfg.HiddenSize),
			v:      tensor.WithCapacity(cfg.TextContext, cfg.HiddenSize),
			crossK: k,
			crossV: v,
		}
	}
	return d, nil
}

// step feeds tokens at the next positions and returns the logits [vocab] for the
// position after the last one.
func (d *decoder) step(tokens []int) (*tensor.Tensor, error) {
	n, width := len(tokens), d.cfg.HiddenSize
	if n == 0 {
		return nil, fmt.Errorf("empty decoder step")
	}
	if d.pos+n > d.cfg.TextContext {
		return nil, fmt.Errorf("position %d exceeds text context %d", d.pos+n, d.cfg.TextContext)
	}

	x := tensor.Zeros(n, width)
	xd := x.Data()
	emb, pos := d.a.tokenEmbedding.Data(), d.a.positional.Data()
	for i, tok := range tokens {
		if tok < 0 || tok >= d.cfg.VocabSize {
			return nil, fmt.Errorf("token id %d outside vocabulary", tok)
		}
		row := xd[i*width : (i+1)*width]
		e := emb[tok*width : (tok+1)*width]
		p := pos[(d.pos+i)*width : (d.pos+i+1)*width]
		for j := range row {
			row[j] = e[j] + p[j]
		}
	}

	heads := d.cfg.Heads
	for i, block := range d.a.decoder {
		cache := &d.caches[i]
		err := residual(x, block.attnLN, func(h *tensor.Tensor) (*tensor.Tensor, error) {
			q, err := block.attn.query.forward(h)
			if err != nil {
				return nil, err
			}
			k, v, err := block.attn.project(h)
			if err != nil {
				return nil, err
			}
			if cache.k, err = cache.k.AppendRows(k); err != nil {
				return nil, err
			}
			if cache.v, err = cache.v.AppendRows(v); err != nil {
				return nil, err
			}
			return block.attn.attend(q, cache.k, cache.v, heads, mask{causal: true, offset: d.pos})
		})
		if err != nil {
			return nil, fmt.Errorf("decoder block %d self-attention: %w", i, err)
		}

		err = residual(x, block.crossAttnLN, func(h *tensor.Tensor) (*tensor.Tensor, error) {
			q, err := block.crossAttn.query.forward(h)
			if err != nil {
				return nil, err
			}
			return block.crossAttn.attend(q, cache.crossK, cache.crossV, heads, mask{})
		})
		if err != nil {
			return nil, fmt.Errorf("decoder block %d cross-attention: %w", i, err)
		}

		if err := residual(x, block.mlpLN, block.mlp.forward); err != nil {
			return nil, fmt.Errorf("decoder block %d mlp: %w", i, err)
		}
	}
	d.pos += n

	last, err := x.Rows(n-1, n, false)
	if err != nil {
		return nil, err
	}
	last, err = d.a.decoderLN.forward(last)
	if err != nil {
		return nil, err
	}
	logits, err := last.MatMulT(d.a.tokenEmbedding)
	if err != nil {
		return nil, fmt.Errorf("logits: %w", err)
	}
	return logits.Reshape(d.cfg.VocabSize)
}
