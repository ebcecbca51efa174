package whisper

import (
	"strings"
	"time"
	"unicode/utf8"
)

// SpecialTokens are the control token ids of a vocabulary. Every id above EOT is
// a control or timestamp token and never appears in decoded text. Ids a vocabulary
// does not have are -1.
type SpecialTokens struct {
	EOT            int `json:"eot"`
	SOT            int `json:"sot"`
	LanguageBegin  int `json:"language_begin"`
	Languages      int `json:"languages"`
	Translate      int `json:"translate"`
	Transcribe     int `json:"transcribe"`
	NoTimestamps   int `json:"no_timestamps"`
	TimestampBegin int `json:"timestamp_begin"`
}

// TimestampStep is the time resolution of timestamp tokens
const TimestampStep = 20 * time.Millisecond

const (
	englishVocabSize      = 51864
	multilingualVocabSize = 51865
)

// languageCodes lists the language tokens in id order
var languageCodes = strings.Fields(`en zh de es ru ko fr ja pt tr pl ca nl ar sv it id hi fi vi
	he uk el ms cs ro da hu ta no th ur hr bg lt la mi ml cy sk te fa lv bn sr az sl kn et mk
	br eu is hy ne mn bs kk sq sw gl mr pa si km sn yo so af oc ka be tg sd gu am yi lo uz fo
	ht ps tk nn mt sa lb my bo tl mg as tt haw ln ha ba jw su yue`)

// KnownLanguage reports whether code names a language token of the largest
// multilingual vocabulary
func KnownLanguage(code string) bool {
	for _, c := range languageCodes {
		if c == code {
			return true
		}
	}
	return false
}

// specialTokensFor returns the control tokens for a vocabulary size. The 51864
// entry English vocabulary and the multilingual ones (99 languages at 51865, 100
// from 51866) use the published ids; smaller custom vocabularies reserve their
// last two ids and have no language, task or timestamp tokens.
func specialTokensFor(vocabSize int) SpecialTokens {
	switch {
	case vocabSize == englishVocabSize:
		return SpecialTokens{
			EOT: 50256, SOT: 50257,
			LanguageBegin: -1,
			Translate:     50357, Transcribe: 50358,
			NoTimestamps: 50362, TimestampBegin: 50363,
		}
	case vocabSize >= multilingualVocabSize:
		languages := len(languageCodes) - 1
		if vocabSize > multilingualVocabSize {
			languages = len(languageCodes)
		}
		task := 50259 + languages
		return SpecialTokens{
			EOT: 50257, SOT: 50258,
			LanguageBegin: 50259, Languages: languages,
			Translate: task, Transcribe: task + 1,
			NoTimestamps: task + 5, TimestampBegin: task + 6,
		}
	default:
		return SpecialTokens{
			EOT: vocabSize - 2, SOT: vocabSize - 1,
			LanguageBegin: -1, Translate: -1, Transcribe: -1,
			NoTimestamps: -1, TimestampBegin: -1,
		}
	}
}

// Multilingual reports whether the vocabulary has language tokens
func (s SpecialTokens) Multilingual() bool {
	return s.Languages > 0
}

// HasTimestamps reports whether the vocabulary has timestamp tokens
func (s SpecialTokens) HasTimestamps() bool {
	return s.TimestampBegin >= 0
}

// LanguageToken returns the token id for a language code
func (s SpecialTokens) LanguageToken(code string) (int, bool) {
	for i := 0; i < s.Languages; i++ {
		if languageCodes[i] == code {
			return s.LanguageBegin + i, true
		}
	}
	return -1, false
}

// LanguageCode returns the code of a language token, or "" for any other id
func (s SpecialTokens) LanguageCode(id int) string {
	if s.Languages == 0 || id < s.LanguageBegin || id >= s.LanguageBegin+s.Languages {
		return ""
	}
	return languageCodes[id-s.LanguageBegin]
}

// IsTimestamp reports whether id is a timestamp token
func (s SpecialTokens) IsTimestamp(id int) bool {
	return s.TimestampBegin >= 0 && id >= s.TimestampBegin
}

// TimestampAt returns the audio offset a timestamp token stands for
func (s SpecialTokens) TimestampAt(id int) time.Duration {
	return time.Duration(id-s.TimestampBegin) * TimestampStep
}

// Prompt returns the token sequence that starts decoding. language is a token id
// from LanguageToken, or -1 to leave it out. With timestamps the no-timestamps
// token is omitted so the decoder may emit timestamp tokens.
func (s SpecialTokens) Prompt(language int, timestamps bool) []int {
	prompt := []int{s.SOT}
	if language >= 0 {
		prompt = append(prompt, language, s.Transcribe)
	}
	if !timestamps && s.NoTimestamps >= 0 {
		prompt = append(prompt, s.NoTimestamps)
	}
	return prompt
}

// Vocabulary maps token ids to text. Token strings use the byte-level alphabet
// where every byte is represented by a printable rune.
type Vocabulary struct {
	tokens  []string
	special SpecialTokens
}

// byteAlphabet lists the printable rune standing for each byte, in token id order:
// the printable Latin-1 runes first, then the remaining bytes mapped above U+0100.
var byteAlphabet, runeToByte = buildByteAlphabet()

func buildByteAlphabet() ([256]rune, map[rune]byte) {
	var alphabet [256]rune
	var bytesInOrder []int
	printable := func(b int) bool {
		return (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
	}
	for b := 0; b < 256; b++ {
		if printable(b) {
			bytesInOrder = append(bytesInOrder, b)
		}
	}
	for b := 0; b < 256; b++ {
		if !printable(b) {
			bytesInOrder = append(bytesInOrder, b)
		}
	}

	lookup := make(map[rune]byte, 256)
	extra := 0
	for id, b := range bytesInOrder {
		r := rune(b)
		if !printable(b) {
			r = rune(256 + extra)
			extra++
		}
		alphabet[id] = r
		lookup[r] = byte(b)
	}
	return alphabet, lookup
}

// NewVocabulary creates a vocabulary for vocabSize ids. tokens may be nil, in which
// case only the 256 byte-level base tokens have text.
func NewVocabulary(vocabSize int, tokens []string) *Vocabulary {
	if tokens == nil {
		tokens = make([]string, 0, 256)
		for _, r := range byteAlphabet {
			tokens = append(tokens, string(r))
		}
	}
	return &Vocabulary{tokens: tokens, special: specialTokensFor(vocabSize)}
}

// Special returns the control tokens
func (v *Vocabulary) Special() SpecialTokens {
	return v.special
}

// Decode converts token ids to text, skipping control tokens and unknown ids.
// Byte sequences that do not form valid UTF-8 are replaced with U+FFFD.
func (v *Vocabulary) Decode(ids []int) string {
	var raw []byte
	for _, id := range ids {
		if id < 0 || id >= v.special.EOT || id >= len(v.tokens) {
			continue
		}
		for _, r := range v.tokens[id] {
			if b, ok := runeToByte[r]; ok {
				raw = append(raw, b)
			} else {
				raw = utf8.AppendRune(raw, r)
			}
		}
	}
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), "�"))
}

// Segments splits generated ids into timed text spans. A timestamp opens a segment
// and the next one closes it. Text outside a pair spans from the previous segment's
// end to the next timestamp, or to audioLength at the end. Spans without text are
// dropped.
func (v *Vocabulary) Segments(ids []int, audioLength time.Duration) []Segment {
	var (
		segments []Segment
		open     bool
		start    time.Duration
		text     []int
	)
	emit := func(end time.Duration) {
		if body := v.Decode(text); body != "" {
			segments = append(segments, Segment{Start: start, End: max(end, start), Text: body})
		}
		open, start, text = false, end, text[:0]
	}

	for _, id := range ids {
		if !v.special.IsTimestamp(id) {
			text = append(text, id)
			continue
		}
		at := v.special.TimestampAt(id)
		if open || len(text) > 0 {
			emit(at)
			continue
		}
		open, start = true, at
	}
	if open || len(text) > 0 {
		emit(audioLength)
	}
	return segments
}
