// Package tokencount implements the shield's token counter (spec.md §4.1):
// exact BPE counts via tiktoken-go for OpenAI-compatible models, a fast
// char-heuristic for everything else, chat-message overhead accounting, and
// budget-fitting truncation. The encoder-selection pattern (a small map of
// model prefix to *tiktoken.Tiktoken, falling back to a default encoder) is
// grounded on fuchsia74-one-api's relay/adaptor/openai/token.go.
package tokencount

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Message mirrors spec.md §3's chat message shape.
type Message struct {
	Role    string
	Content string
	Name    string
}

// Per-message and priming overhead from spec.md §3: "4 tokens plus role
// tokens plus optional name tokens; priming adds 3 tokens."
const (
	perMessageOverhead = 4
	primingTokens      = 3
)

// Counter counts tokens exactly (BPE, reproducing OpenAI's prompt_tokens for
// OpenAI models) or approximately (a fast char-heuristic), and truncates
// text to a token budget.
type Counter struct {
	mu           sync.Mutex
	encoders     map[string]*tiktoken.Tiktoken
	defaultEnc   *tiktoken.Tiktoken
}

// New constructs a Counter and loads the cl100k_base encoding up front.
// tiktoken-go downloads and caches an encoding's BPE rank file the first time
// that encoding is loaded, so the first New in a process may touch the network.
func New() (*Counter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &Counter{
		encoders:   make(map[string]*tiktoken.Tiktoken),
		defaultEnc: enc,
	}, nil
}

func (c *Counter) encoderFor(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encoders[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil || enc == nil {
		enc = c.defaultEnc
	}
	c.encoders[model] = enc
	return enc
}

// isOpenAIModel reports whether model is one tiktoken-go has a dedicated
// encoding for; non-OpenAI models fall back to the default encoder and per
// spec.md §4.1 are "permitted to approximate with the same encoder
// (documented error ≈10%)".
func isOpenAIModel(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "gpt-") || strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "text-")
}

// CountText returns the exact BPE token count of text under model's encoder.
func (c *Counter) CountText(text, model string) int {
	enc := c.encoderFor(model)
	return len(enc.Encode(text, nil, nil))
}

// Count returns the best available token count for model: exact BPE for
// OpenAI-family models, the char-heuristic Approximate for everything else
// (tiktoken-go has no ranks for non-OpenAI providers, and encoding an
// Anthropic/Google prompt through cl100k_base would misreport its actual
// token cost).
func (c *Counter) Count(text, model string) int {
	if isOpenAIModel(model) {
		return c.CountText(text, model)
	}
	return Approximate(text)
}

// CountChat returns the exact token count of a full chat sequence: each
// message's content tokens plus its per-message overhead (role + optional
// name), plus one priming overhead for the whole sequence.
func (c *Counter) CountChat(messages []Message, model string) int {
	enc := c.encoderFor(model)
	total := primingTokens
	for _, msg := range messages {
		total += perMessageOverhead
		total += len(enc.Encode(msg.Content, nil, nil))
		total += len(enc.Encode(msg.Role, nil, nil))
		if msg.Name != "" {
			total += len(enc.Encode(msg.Name, nil, nil))
		}
	}
	return total
}

// cjkRanges are the CJK code point ranges called out in spec.md §4.1.
var cjkRanges = []struct{ lo, hi rune }{
	{0x4E00, 0x9FFF},
	{0x3040, 0x30FF},
	{0xAC00, 0xD7AF},
}

func isCJK(r rune) bool {
	for _, rg := range cjkRanges {
		if r >= rg.lo && r <= rg.hi {
			return true
		}
	}
	return false
}

// Approximate implements the fast char-heuristic: 4 chars/token for Latin
// text, 1.5 chars/token for CJK code ranges. Mixed-script text is weighted
// by the proportion of CJK runes.
func Approximate(text string) int {
	if text == "" {
		return 0
	}
	var total, cjk int
	for _, r := range text {
		total++
		if isCJK(r) {
			cjk++
		}
	}
	latin := total - cjk
	tokens := float64(latin)/4.0 + float64(cjk)/1.5
	if tokens < 1 && total > 0 {
		tokens = 1
	}
	return int(tokens + 0.5)
}

// Truncated is the result of TruncateToBudget.
type Truncated struct {
	Text       string
	TokensCut  int
}

// TruncateToBudget returns text cut down (from the right) to fit within
// maxTokens under model's exact encoder, plus the number of tokens removed.
func (c *Counter) TruncateToBudget(text, model string, maxTokens int) Truncated {
	if maxTokens <= 0 {
		n := c.CountText(text, model)
		return Truncated{Text: "", TokensCut: n}
	}
	enc := c.encoderFor(model)
	ids := enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return Truncated{Text: text, TokensCut: 0}
	}
	kept := ids[:maxTokens]
	return Truncated{
		Text:      enc.Decode(kept),
		TokensCut: len(ids) - maxTokens,
	}
}
