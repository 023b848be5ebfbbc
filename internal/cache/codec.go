package cache

import (
	"encoding/json"
	"time"
)

func timeFromUnixMs(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// persistedEntry is the wire shape written to the optional Store. Kept
// separate from Entry so the in-memory struct can evolve without touching
// already-persisted records' field order.
type persistedEntry struct {
	NormalizedPrompt string `json:"normalized_prompt"`
	OriginalPrompt   string `json:"original_prompt"`
	Response         string `json:"response"`
	ModelID          string `json:"model_id"`
	InputTokens      int    `json:"input_tokens"`
	OutputTokens     int    `json:"output_tokens"`
	CreatedAtUnixMs  int64  `json:"created_at_unix_ms"`
}

func encodeEntry(e *Entry) ([]byte, bool) {
	p := persistedEntry{
		NormalizedPrompt: e.NormalizedPrompt,
		OriginalPrompt:   e.OriginalPrompt,
		Response:         e.Response,
		ModelID:          e.ModelID,
		InputTokens:      e.InputTokens,
		OutputTokens:     e.OutputTokens,
		CreatedAtUnixMs:  e.CreatedAt.UnixMilli(),
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, false
	}
	return raw, true
}

func decodeEntry(raw []byte) (*Entry, bool) {
	var p persistedEntry
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	return &Entry{
		Key:              HashKey(p.NormalizedPrompt, p.ModelID),
		NormalizedPrompt: p.NormalizedPrompt,
		OriginalPrompt:   p.OriginalPrompt,
		Response:         p.Response,
		ModelID:          p.ModelID,
		InputTokens:      p.InputTokens,
		OutputTokens:     p.OutputTokens,
		CreatedAt:        timeFromUnixMs(p.CreatedAtUnixMs),
	}, true
}
