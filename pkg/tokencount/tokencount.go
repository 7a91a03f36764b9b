// Package tokencount implements the context-window accounting exposed by
// the agent's /context endpoint and attached to run responses.
package tokencount

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// modelContextTokens maps known model families to their context windows.
var modelContextTokens = map[string]int{
	"gpt-5.2": 400000,
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// Context reports token usage against a model's context window.
type Context struct {
	MaxTokens       int     `json:"maxTokens"`
	UsedTokens      int     `json:"usedTokens"`
	RemainingTokens int     `json:"remainingTokens"`
	RemainingRatio  float64 `json:"remainingRatio"`
}

// Counter counts tokens with the encoding for one model.
type Counter struct {
	encoding *tiktoken.Tiktoken
}

// ForModel returns a counter for the model. Unknown models fall back to
// the o200k_base encoding, then cl100k_base. A counter is always usable;
// with no encoding at all it estimates four characters per token.
func ForModel(model string) *Counter {
	normalized := normalizeModel(model)

	cacheMu.RLock()
	cached, ok := encodingCache[normalized]
	cacheMu.RUnlock()
	if ok {
		return &Counter{encoding: cached}
	}

	var encoding *tiktoken.Tiktoken
	var err error
	if normalized != "" {
		encoding, err = tiktoken.EncodingForModel(normalized)
	}
	if normalized == "" || err != nil {
		encoding, err = tiktoken.GetEncoding("o200k_base")
		if err != nil {
			encoding, _ = tiktoken.GetEncoding("cl100k_base")
		}
	}

	cacheMu.Lock()
	encodingCache[normalized] = encoding
	cacheMu.Unlock()

	return &Counter{encoding: encoding}
}

// Count returns the token count for text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c == nil || c.encoding == nil {
		return max(1, len(text)/4)
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// WindowTokens resolves the context window size for a model. A positive
// override wins; otherwise the model table is consulted with a prefix
// match. Unknown models report 0.
func WindowTokens(model string, override int) int {
	if override > 0 {
		return override
	}
	normalized := normalizeModel(model)
	if normalized == "" {
		return 0
	}
	if tokens, ok := modelContextTokens[normalized]; ok {
		return tokens
	}
	for family, tokens := range modelContextTokens {
		if strings.HasPrefix(normalized, family) {
			return tokens
		}
	}
	return 0
}

// Calculate sums tokens over the instructions, the input payload, and any
// extra chunks, and reports usage against the model's window.
func Calculate(model string, override int, instructions string, input any, extraChunks []string) Context {
	var chunks []string
	if strings.TrimSpace(instructions) != "" {
		chunks = append(chunks, instructions)
	}
	chunks = append(chunks, ExtractTextChunks(input)...)
	for _, chunk := range extraChunks {
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	counter := ForModel(model)
	used := 0
	for _, chunk := range chunks {
		used += counter.Count(chunk)
	}

	maxTokens := WindowTokens(model, override)
	remaining := 0
	ratio := 0.0
	if maxTokens > 0 {
		remaining = max(maxTokens-used, 0)
		ratio = float64(remaining) / float64(maxTokens)
	}

	return Context{
		MaxTokens:       maxTokens,
		UsedTokens:      used,
		RemainingTokens: remaining,
		RemainingRatio:  ratio,
	}
}

// ExtractTextChunks pulls countable text out of a run input payload: a
// plain string, a list of message items with string or block content, or
// any other JSON-shaped value (stringified).
func ExtractTextChunks(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []any:
		var chunks []string
		for _, item := range v {
			switch it := item.(type) {
			case string:
				chunks = append(chunks, it)
			case map[string]any:
				chunks = append(chunks, contentChunks(it)...)
			default:
				chunks = append(chunks, stringify(item))
			}
		}
		return chunks
	case map[string]any:
		return contentChunks(v)
	default:
		return []string{stringify(value)}
	}
}

func contentChunks(item map[string]any) []string {
	switch content := item["content"].(type) {
	case string:
		return []string{content}
	case []any:
		var chunks []string
		for _, part := range content {
			switch p := part.(type) {
			case string:
				chunks = append(chunks, p)
			case map[string]any:
				if text, ok := p["text"].(string); ok {
					chunks = append(chunks, text)
				} else {
					chunks = append(chunks, stringify(p))
				}
			default:
				chunks = append(chunks, stringify(part))
			}
		}
		return chunks
	default:
		return []string{stringify(item)}
	}
}

func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(raw)
}

func normalizeModel(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}
