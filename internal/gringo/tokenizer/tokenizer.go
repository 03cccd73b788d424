// Package tokenizer counts text in the token units of the generation service.
//
// The counting scheme must match the one the generation service bills and
// limits with, otherwise the context budget is meaningless. It is fixed per
// deployment: changing it leaves stored data valid but changes how much
// history is forwarded.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE scheme of the gpt-3.5/gpt-4 model family.
const DefaultEncoding = "cl100k_base"

// EstimateEncoding selects the character-ratio estimator instead of a BPE
// scheme, for backends whose tokenizer is unknown (e.g. local Ollama models).
const EstimateEncoding = "estimate"

// Tokenizer maps text to a non-negative token count. Implementations are
// deterministic and safe for concurrent use.
type Tokenizer interface {
	Count(text string) int
	// Scheme names the counting scheme, e.g. "cl100k_base".
	Scheme() string
}

var loaderOnce sync.Once

// BPE counts tokens with a tiktoken byte-pair encoding.
type BPE struct {
	scheme string
	enc    *tiktoken.Tiktoken
}

// NewBPE loads the named encoding from the ranks embedded in the binary, so
// no network access happens at runtime.
func NewBPE(encoding string) (*BPE, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load encoding %q: %w", encoding, err)
	}
	return &BPE{scheme: encoding, enc: enc}, nil
}

// Count returns the number of BPE tokens in text. Special-token text is
// counted as ordinary text.
func (b *BPE) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(b.enc.Encode(text, nil, nil))
}

// Scheme returns the encoding name.
func (b *BPE) Scheme() string { return b.scheme }

// CharEstimator approximates token counts at roughly four characters per
// token. It overestimates slightly for English prose, which makes trimming
// err on the side of a smaller context.
type CharEstimator struct{}

const charsPerToken = 4

// Count returns ceil(runes/4).
func (CharEstimator) Count(text string) int {
	n := len([]rune(text))
	return (n + charsPerToken - 1) / charsPerToken
}

// Scheme returns EstimateEncoding.
func (CharEstimator) Scheme() string { return EstimateEncoding }

// New returns the tokenizer for the configured encoding name.
func New(encoding string) (Tokenizer, error) {
	if strings.EqualFold(encoding, EstimateEncoding) {
		return CharEstimator{}, nil
	}
	return NewBPE(encoding)
}
