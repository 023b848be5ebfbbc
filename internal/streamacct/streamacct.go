// Package streamacct implements the stream accountant (spec.md §4.10): it
// accumulates a streamed response's output tokens/text and settles the
// request's final usage exactly once, whether the stream completes normally
// or is aborted — settlement must not race a concurrent cancellation.
package streamacct

import (
	"strings"
	"sync"
	"time"

	"github.com/amerfu/llmshield/internal/tokencount"
)

// Usage is the final settled token/cost accounting for a stream.
type Usage struct {
	ModelID      string
	InputTokens  int
	OutputTokens int
	Aborted      bool
	DurationMs   int64
}

// Accountant tracks one in-flight streamed response. Create one per
// streaming request with New; it is not reusable across requests.
type Accountant struct {
	modelID string
	counter *tokencount.Counter
	started time.Time

	mu          sync.Mutex
	inputTokens int
	text        strings.Builder
	settled     bool
	usage       Usage
}

// New constructs an Accountant for a single stream against modelID. counter
// is used to count output tokens from the accumulated chunk text at Finish
// time; it may be nil, in which case OutputTokens is left at 0.
func New(modelID string, counter *tokencount.Counter) *Accountant {
	return &Accountant{modelID: modelID, counter: counter, started: time.Now()}
}

// SetInputTokens records the prompt's input token count, known before the
// first output chunk arrives.
func (a *Accountant) SetInputTokens(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inputTokens = n
}

// AddChunk appends a streamed text chunk to the accumulated response.
func (a *Accountant) AddChunk(chunk string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settled {
		return
	}
	a.text.WriteString(chunk)
}

// GetText returns the text accumulated so far (safe to call before Finish).
func (a *Accountant) GetText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text.String()
}

// Finish settles the stream as successfully completed, counting output
// tokens from the accumulated text. It is idempotent: only the first call
// (whether Finish or Abort) has any effect, so a Finish racing a concurrent
// Abort can never double-settle.
func (a *Accountant) Finish() Usage {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.settled {
		return a.usage
	}
	a.settled = true

	outputTokens := 0
	if a.counter != nil {
		outputTokens = a.counter.CountText(a.text.String(), a.modelID)
	}

	a.usage = Usage{
		ModelID:      a.modelID,
		InputTokens:  a.inputTokens,
		OutputTokens: outputTokens,
		Aborted:      false,
		DurationMs:   time.Since(a.started).Milliseconds(),
	}
	return a.usage
}

// Abort settles the stream as cancelled, counting whatever output tokens
// were accumulated before cancellation. Like Finish, it is idempotent and
// only the first settlement (Finish or Abort) wins.
func (a *Accountant) Abort() Usage {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.settled {
		return a.usage
	}
	a.settled = true

	outputTokens := 0
	if a.counter != nil {
		outputTokens = a.counter.CountText(a.text.String(), a.modelID)
	}

	a.usage = Usage{
		ModelID:      a.modelID,
		InputTokens:  a.inputTokens,
		OutputTokens: outputTokens,
		Aborted:      true,
		DurationMs:   time.Since(a.started).Milliseconds(),
	}
	return a.usage
}

// GetUsage returns the settled usage, and whether settlement has happened
// yet. Before settlement it returns the zero Usage and false.
func (a *Accountant) GetUsage() (Usage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.settled {
		return Usage{}, false
	}
	return a.usage, true
}
