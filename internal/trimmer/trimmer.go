// Package trimmer implements the context trimmer (spec.md §4.5): fits a
// message sequence into an input-token budget, preserving the leading
// system message and the final user turn, evicting intermediate turns
// oldest-first, and truncating the preserved messages right-to-left as a
// last resort.
package trimmer

import "github.com/amerfu/llmshield/internal/tokencount"

// Budget mirrors spec.md §6's context config block.
type Budget struct {
	MaxContextTokens int
	ReservedForOutput int
}

// InputBudget returns the available input-token budget: MaxContextTokens
// minus ReservedForOutput, floored at 0.
func (b Budget) InputBudget() int {
	avail := b.MaxContextTokens - b.ReservedForOutput
	if avail < 0 {
		return 0
	}
	return avail
}

// Result is returned by Trim.
type Result struct {
	Messages     []tokencount.Message
	EvictedTokens int
}

// Trim fits messages into budget.InputBudget() tokens under model's exact
// counter. The first system message (if any) and the last message (assumed
// to be the final user turn) are preserved when at all possible;
// intermediate messages are evicted oldest-to-newest. If the preserved
// messages alone exceed the budget, their content is truncated right-to-left
// (last message truncated first, then the leading system message).
func Trim(counter *tokencount.Counter, messages []tokencount.Message, model string, budget Budget) Result {
	limit := budget.InputBudget()
	original := counter.CountChat(messages, model)

	if original <= limit || len(messages) == 0 {
		return Result{Messages: messages, EvictedTokens: 0}
	}

	sysIdx := -1
	for i, m := range messages {
		if m.Role == "system" {
			sysIdx = i
			break
		}
	}
	lastIdx := len(messages) - 1

	mandatory := map[int]bool{lastIdx: true}
	if sysIdx >= 0 {
		mandatory[sysIdx] = true
	}

	// Candidates to evict, oldest (lowest index) first, excluding mandatory.
	var droppable []int
	for i := range messages {
		if !mandatory[i] {
			droppable = append(droppable, i)
		}
	}

	kept := make(map[int]bool, len(messages))
	for i := range messages {
		kept[i] = true
	}

	fits := func(idxs map[int]bool) bool {
		var seq []tokencount.Message
		for i, m := range messages {
			if idxs[i] {
				seq = append(seq, m)
			}
		}
		return counter.CountChat(seq, model) <= limit
	}

	for _, idx := range droppable {
		if fits(kept) {
			break
		}
		kept[idx] = false
	}

	buildSeq := func(idxs map[int]bool) []tokencount.Message {
		var seq []tokencount.Message
		for i, m := range messages {
			if idxs[i] {
				seq = append(seq, m)
			}
		}
		return seq
	}

	seq := buildSeq(kept)

	if counter.CountChat(seq, model) > limit {
		seq = truncateMandatory(counter, seq, model, limit, lastIdx, sysIdx, kept)
	}

	evicted := original - counter.CountChat(seq, model)
	if evicted < 0 {
		evicted = 0
	}
	return Result{Messages: seq, EvictedTokens: evicted}
}

// truncateMandatory handles the case where even the mandatory messages
// (system + last user turn) exceed the budget: truncate the last message's
// content first (it's usually longer and closer to the token-heavy part of
// the conversation), then the system message, right-to-left.
func truncateMandatory(counter *tokencount.Counter, seq []tokencount.Message, model string, limit int, lastIdx, sysIdx int, kept map[int]bool) []tokencount.Message {
	if len(seq) == 0 {
		return seq
	}

	// Map original indices back onto seq positions by walking kept in order.
	origOrder := make([]int, 0, len(kept))
	for idx, ok := range kept {
		if ok {
			origOrder = append(origOrder, idx)
		}
	}
	sortInts(origOrder)

	lastPos, sysPos := -1, -1
	for p, idx := range origOrder {
		if idx == lastIdx {
			lastPos = p
		}
		if idx == sysIdx {
			sysPos = p
		}
	}

	for budgetExceeded(counter, seq, model, limit) {
		if lastPos >= 0 && len(seq[lastPos].Content) > 0 {
			seq[lastPos].Content = truncateRight(seq[lastPos].Content, 0.9)
			continue
		}
		if sysPos >= 0 && len(seq[sysPos].Content) > 0 {
			seq[sysPos].Content = truncateRight(seq[sysPos].Content, 0.9)
			continue
		}
		break
	}
	return seq
}

func budgetExceeded(counter *tokencount.Counter, seq []tokencount.Message, model string, limit int) bool {
	if counter.CountChat(seq, model) <= limit {
		return false
	}
	total := 0
	for _, m := range seq {
		total += len(m.Content)
	}
	return total > 0
}

// truncateRight cuts a string's content down to frac of its current rune
// length, dropping trailing content.
func truncateRight(s string, frac float64) string {
	r := []rune(s)
	n := int(float64(len(r)) * frac)
	if n >= len(r) {
		n = len(r) - 1
	}
	if n < 0 {
		n = 0
	}
	return string(r[:n])
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
