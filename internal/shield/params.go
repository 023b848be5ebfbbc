package shield

import "github.com/amerfu/llmshield/internal/tokencount"

// Message is the shield's flat chat-message shape; adapters translating
// to/from a provider's multi-part wire format live outside this package.
type Message = tokencount.Message

// Params is the caller-supplied request, before any pipeline stage runs.
type Params struct {
	Messages             []Message
	ModelID              string
	ExpectedOutputTokens int
	Feature              string
}

// lastUserText returns the content of the last message with role "user",
// the prompt text every admission stage reasons about.
func lastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return ""
}

// requestMeta is the orchestrator's per-request metadata (spec.md §3):
// opaque to callers, lives for exactly one request, threaded explicitly
// from TransformParams to WrapGenerate/WrapStream rather than smuggled
// through global state.
type requestMeta struct {
	requestID string
	userID    string

	cacheHit        bool
	cachedText      string
	cacheMatch      string // "exact" | "persistent" | "similarity"
	cacheSimilarity float64
	cacheSavedCost  float64

	originalModel       string
	originalInputTokens int
	tierRouted          bool

	reservedCost float64 // in-flight user-budget reservation, released/settled exactly once
	reservedSet  bool

	contextSavings float64
	routerSavings  float64
	prefixSavings  float64

	prefixMarker string

	prompt string // last user text, post-trim
}

// TransformedParams is the result of TransformParams: the request as it
// will actually be sent to the model, plus the metadata needed to settle it.
type TransformedParams struct {
	Params Params
	meta   *requestMeta
}
