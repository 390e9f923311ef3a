package estimator

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Heuristic ratios used when a provider has no local tokenizer, or when the
// tokenizer is unavailable.
const (
	AnthropicCharsPerToken = 3.8
	GeminiCharsPerToken    = 3.7
	WordTokenRatio         = 1.3
)

// Encoder counts tokens with a real tokenizer. Implementations may fail; the
// estimator then falls back to a heuristic.
type Encoder interface {
	Count(model, text string) (int, error)
}

// TiktokenEncoder counts OpenAI tokens with BPE encodings loaded on first use.
// Encodings (and load failures) are cached per encoding name.
type TiktokenEncoder struct {
	mu    sync.Mutex
	cache map[string]*encodingSlot
}

type encodingSlot struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func NewTiktokenEncoder() *TiktokenEncoder {
	return &TiktokenEncoder{cache: make(map[string]*encodingSlot)}
}

// encodingModel picks the tiktoken model name for an OpenAI model. An empty
// result means "use cl100k_base directly".
func encodingModel(modelName string) string {
	lower := strings.ToLower(modelName)
	switch {
	case containsAny(lower, []string{"gpt-4.1", "o3", "gpt-4o", "o4-mini"}):
		return "gpt-4"
	case strings.Contains(lower, "gpt-4"):
		return "gpt-4"
	case strings.Contains(lower, "gpt-3.5-turbo"):
		return "gpt-3.5-turbo"
	}
	return ""
}

func (t *TiktokenEncoder) slot(key string) *encodingSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.cache[key]
	if !ok {
		s = &encodingSlot{}
		t.cache[key] = s
	}
	return s
}

func (t *TiktokenEncoder) Count(modelName, text string) (n int, err error) {
	target := encodingModel(modelName)
	key := target
	if key == "" {
		key = "cl100k_base"
	}
	s := t.slot(key)
	s.once.Do(func() {
		if target == "" {
			s.enc, s.err = tiktoken.GetEncoding("cl100k_base")
			return
		}
		s.enc, s.err = tiktoken.EncodingForModel(target)
	})
	if s.err != nil {
		return 0, s.err
	}
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("tiktoken encode: %v", r)
		}
	}()
	return len(s.enc.Encode(text, nil, nil)), nil
}

func wordCount(text string) int { return len(strings.Fields(text)) }

func charRatio(text string, perToken float64) int {
	n := int(float64(utf8.RuneCountInString(text)) / perToken)
	if n < 1 {
		return 1
	}
	return n
}
