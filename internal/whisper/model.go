package whisper

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/Cabrel10/AetherionOS/internal/tensor"
)

// Result is the outcome of one transcription
type Result struct {
	Text           string        `json:"text"`
	Confidence     float32       `json:"confidence"`
	ProcessingTime time.Duration `json:"processing_time"`
	Tokens         []int         `json:"tokens"`
	State          DecodeState   `json:"state"`
	Frames         int           `json:"frames"`
	Language       string        `json:"language,omitempty"`
	Segments       []Segment     `json:"segments,omitempty"`
}

// Segment is a span of text aligned to the audio by timestamp tokens
type Segment struct {
	Start time.Duration `json:"start" msgpack:"start"`
	End   time.Duration `json:"end" msgpack:"end"`
	Text  string        `json:"text" msgpack:"text"`
}

// Model is a speech-to-text transformer. It is created unloaded; after a successful
// LoadWeights it may be shared by any number of goroutines calling Transcribe.
type Model struct {
	config     Config
	features   *featureExtractor
	weights    atomic.Pointer[arena]
	maxTokens  int
	language   string
	timestamps bool
	logger     *slog.Logger
}

// Option configures a Model
type Option func(*Model)

// WithLogger sets the logger used for load and decode diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMaxTokens bounds the number of generated tokens per call
func WithMaxTokens(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.maxTokens = n
		}
	}
}

// WithLanguage fixes the transcription language of a multilingual model. Without
// it the language is detected from the audio.
func WithLanguage(code string) Option {
	return func(m *Model) {
		m.language = code
	}
}

// WithTimestamps lets the decoder emit timestamp tokens and returns the text split
// into timed segments
func WithTimestamps(enabled bool) Option {
	return func(m *Model) {
		m.timestamps = enabled
	}
}

// New creates an unloaded model holding a copy of cfg
func New(cfg Config, opts ...Option) *Model {
	m := &Model{
		config:    cfg,
		maxTokens: cfg.TextContext / 2,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxTokens < 1 {
		m.maxTokens = 1
	}
	if cfg.MelBins > 0 {
		m.features = newFeatureExtractor(cfg.MelBins)
	}
	m.logger = m.logger.With("component", "whisper")
	return m
}

// Config returns the model configuration
func (m *Model) Config() Config {
	return m.config
}

// MaxTokens returns the generation bound applied to each call
func (m *Model) MaxTokens() int {
	return m.maxTokens
}

// Loaded reports whether weights are available for inference
func (m *Model) Loaded() bool {
	return m.weights.Load() != nil
}

// Vocabulary returns the loaded vocabulary, or nil before weights are loaded
func (m *Model) Vocabulary() *Vocabulary {
	if a := m.weights.Load(); a != nil {
		return a.vocab
	}
	return nil
}

// LoadWeights parses an AETW container and installs its tensors. On failure the
// model is left unloaded, whatever it held before.
func (m *Model) LoadWeights(data []byte) error {
	file, err := DecodeWeights(data)
	if err != nil {
		m.weights.Store(nil)
		return err
	}
	return m.LoadWeightFile(file)
}

// LoadWeightFile installs tensors from an already decoded container
func (m *Model) LoadWeightFile(file *WeightFile) error {
	m.weights.Store(nil)

	if err := m.config.Validate(); err != nil {
		return fmt.Errorf("%w: invalid model configuration: %v", ErrWeightShape, err)
	}
	if file.Vocab != nil && len(file.Vocab) > m.config.VocabSize {
		return fmt.Errorf("%w: vocabulary table has %d entries for %d ids", ErrWeightShape, len(file.Vocab), m.config.VocabSize)
	}

	vocab := NewVocabulary(m.config.VocabSize, file.Vocab)
	if err := m.checkDecodeOptions(vocab.Special()); err != nil {
		return err
	}

	a, err := newArena(m.config, file.Tensors, vocab)
	if err != nil {
		return err
	}
	m.weights.Store(a)

	m.logger.Info("Weights loaded",
		"tensors", len(file.Tensors),
		"vocab_entries", len(a.vocab.tokens),
		"audio_layers", m.config.AudioLayers,
		"text_layers", m.config.TextLayers)
	return nil
}

// checkDecodeOptions rejects options the vocabulary has no tokens for
func (m *Model) checkDecodeOptions(special SpecialTokens) error {
	if m.language != "" {
		if special.Multilingual() {
			if _, ok := special.LanguageToken(m.language); !ok {
				return fmt.Errorf("%w: no token for language %q", ErrWeightShape, m.language)
			}
		} else if !(m.language == "en" && special.HasTimestamps()) {
			return fmt.Errorf("%w: vocabulary of %d ids cannot select language %q", ErrWeightShape, m.config.VocabSize, m.language)
		}
	}
	if m.timestamps && !special.HasTimestamps() {
		return fmt.Errorf("%w: vocabulary of %d ids has no timestamp tokens", ErrWeightShape, m.config.VocabSize)
	}
	return nil
}

// Transcribe converts 16 kHz mono PCM into text. It runs to completion on the
// calling goroutine; callers that need a deadline must enforce it themselves.
func (m *Model) Transcribe(samples []int16) (Result, error) {
	start := time.Now()
	result := Result{State: DecodeStart}

	a := m.weights.Load()
	if a == nil {
		result.State = DecodeAborted
		return result, fmt.Errorf("%w: weights not loaded", ErrInference)
	}

	features, err := m.features.logMel(samples, m.config.MaxFrames())
	if err != nil {
		result.State = DecodeAborted
		return result, err
	}
	result.Frames = features.Dim(0)

	audio, err := a.encode(features, m.config)
	if err != nil {
		result.State = DecodeAborted
		return result, fmt.Errorf("%w: encoder: %v", ErrInference, err)
	}
	if err := audio.CheckFinite(); err != nil {
		result.State = DecodeAborted
		return result, fmt.Errorf("%w: encoder output: %v", ErrInference, err)
	}

	audioLength := time.Duration(len(samples)) * time.Second / SampleRate
	decoded, err := m.decode(a, audio, audioLength, &result.State)
	if err != nil {
		return result, fmt.Errorf("%w: decoder: %v", ErrInference, err)
	}

	special := a.vocab.Special()
	for _, id := range decoded.tokens {
		if !special.IsTimestamp(id) {
			result.Tokens = append(result.Tokens, id)
		}
	}
	result.Text = a.vocab.Decode(result.Tokens)
	result.Confidence = decoded.confidence
	result.Language = decoded.language
	if m.timestamps {
		result.Segments = a.vocab.Segments(decoded.tokens, audioLength)
	}
	result.ProcessingTime = time.Since(start)

	m.logger.Debug("Transcription decoded",
		"frames", result.Frames,
		"tokens", len(result.Tokens),
		"language", result.Language,
		"confidence", result.Confidence,
		"duration", result.ProcessingTime)
	return result, nil
}

// decoded is the raw outcome of one greedy decode
type decoded struct {
	tokens     []int // generated ids, timestamps included, control tokens excluded
	confidence float32
	language   string
}

// maxInitialTimestamp bounds the first timestamp of a segment list
const maxInitialTimestamp = time.Second

// decode runs greedy autoregressive decoding. The confidence is the geometric mean
// of the chosen token probabilities; language detection is not counted in it.
func (m *Model) decode(a *arena, audio *tensor.Tensor, audioLength time.Duration, state *DecodeState) (decoded, error) {
	var out decoded
	dec, err := a.newDecoder(m.config, audio)
	if err != nil {
		*state = DecodeAborted
		return out, err
	}

	special := a.vocab.Special()
	var prompt []int
	switch {
	case special.Multilingual() && m.language != "":
		language, _ := special.LanguageToken(m.language)
		prompt = special.Prompt(language, m.timestamps)
		out.language = m.language
	case special.Multilingual():
		language, err := detectLanguage(dec, special)
		if err != nil {
			*state = DecodeAborted
			return out, err
		}
		// detection already fed SOT
		prompt = special.Prompt(language, m.timestamps)[1:]
		out.language = special.LanguageCode(language)
	default:
		prompt = special.Prompt(-1, m.timestamps)
		if special.HasTimestamps() {
			out.language = "en"
		}
	}

	limit := m.maxTokens
	if room := m.config.TextContext - dec.pos - len(prompt); room < limit {
		limit = room
	}
	if limit < 1 {
		*state = DecodeAborted
		return out, fmt.Errorf("prompt of %d tokens leaves no room in text context %d", dec.pos+len(prompt), m.config.TextContext)
	}

	logits, err := dec.step(prompt)
	if err != nil {
		*state = DecodeAborted
		return out, err
	}
	*state = DecodeDecoding

	rules := timestampRules{
		special:     special,
		enabled:     m.timestamps,
		lastAllowed: special.TimestampBegin + int(audioLength/TimestampStep),
		firstMax:    special.TimestampBegin + int(maxInitialTimestamp/TimestampStep),
	}

	var (
		logProb float64
		picked  int
	)
	for {
		if err := logits.CheckFinite(); err != nil {
			*state = DecodeAborted
			return out, fmt.Errorf("logits at step %d: %v", picked, err)
		}
		rules.apply(logits, out.tokens)
		logits.Softmax()

		id, p := rules.pick(logits)
		logProb += math.Log(float64(p))
		picked++

		if id == special.EOT {
			*state = DecodeComplete
			break
		}
		out.tokens = append(out.tokens, id)
		if len(out.tokens) >= limit {
			*state = DecodeComplete
			break
		}

		if logits, err = dec.step([]int{id}); err != nil {
			*state = DecodeAborted
			return out, err
		}
	}

	out.confidence = confidenceFrom(logProb, picked)
	return out, nil
}

// detectLanguage feeds SOT and returns the most likely language token
func detectLanguage(dec *decoder, special SpecialTokens) (int, error) {
	logits, err := dec.step([]int{special.SOT})
	if err != nil {
		return -1, err
	}
	if err := logits.CheckFinite(); err != nil {
		return -1, fmt.Errorf("language logits: %v", err)
	}
	data := logits.Data()
	best := special.LanguageBegin
	for id := special.LanguageBegin + 1; id < special.LanguageBegin+special.Languages; id++ {
		if data[id] > data[best] {
			best = id
		}
	}
	return best, nil
}

// timestampRules masks logits so greedy decoding only emits text tokens, EOT and,
// when enabled, well-formed timestamp pairs: the first token is a timestamp no
// later than firstMax, timestamps come in pairs around text, never decrease and
// never pass the end of the audio.
type timestampRules struct {
	special     SpecialTokens
	enabled     bool
	lastAllowed int
	firstMax    int
}

func (r timestampRules) apply(logits *tensor.Tensor, generated []int) {
	data := logits.Data()
	negInf := float32(math.Inf(-1))
	mask := func(from, to int) {
		for i := max(from, 0); i < min(to, len(data)); i++ {
			data[i] = negInf
		}
	}

	if !r.enabled {
		mask(r.special.EOT+1, len(data))
		return
	}
	ts := r.special.TimestampBegin
	mask(r.special.EOT+1, ts)

	if len(generated) == 0 {
		mask(0, ts)
		mask(r.firstMax+1, len(data))
		return
	}

	last := generated[len(generated)-1]
	lastWasTimestamp := r.special.IsTimestamp(last)
	penultimateWasTimestamp := len(generated) < 2 || r.special.IsTimestamp(generated[len(generated)-2])
	if lastWasTimestamp {
		if penultimateWasTimestamp {
			mask(ts, len(data))
		} else {
			mask(0, r.special.EOT)
		}
	}

	// a timestamp may repeat only to open the segment right after the one it closed
	for i := len(generated) - 1; i >= 0; i-- {
		if r.special.IsTimestamp(generated[i]) {
			floor := generated[i]
			if !lastWasTimestamp || penultimateWasTimestamp {
				floor++
			}
			mask(ts, floor)
			break
		}
	}
	mask(r.lastAllowed+1, len(data))
}

// pick returns the most probable id. When timestamps are enabled and their total
// probability beats every text token, the best timestamp is chosen instead.
func (r timestampRules) pick(probs *tensor.Tensor) (int, float32) {
	id, p := probs.ArgMax()
	if !r.enabled || r.special.IsTimestamp(id) {
		return id, p
	}
	data := probs.Data()
	var mass float32
	best := -1
	for i := r.special.TimestampBegin; i < len(data); i++ {
		mass += data[i]
		if best < 0 || data[i] > data[best] {
			best = i
		}
	}
	if best >= 0 && data[best] > 0 && mass > p {
		return best, data[best]
	}
	return id, p
}

// confidenceFrom converts a summed log probability into a value in [0, 1]
func confidenceFrom(logProb float64, count int) float32 {
	if count == 0 {
		return 0
	}
	c := math.Exp(logProb / float64(count))
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return float32(c)
}
