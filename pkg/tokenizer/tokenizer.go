// Package tokenizer provides token counting for extracted page content, so
// the calling orchestrator can budget LLM context before forwarding
// payloads.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding is the BPE encoding used for counting. cl100k_base matches the
// models the orchestrator targets.
const Encoding = "cl100k_base"

// Counter counts tokens. A nil Counter is valid and counts zero, so callers
// can treat it as an optional capability.
type Counter struct {
	encoding *tiktoken.Tiktoken
}

// New creates a counter. Loading the encoding may fetch the BPE ranks on
// first use.
func New() (*Counter, error) {
	encoding, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", Encoding, err)
	}
	return &Counter{encoding: encoding}, nil
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if c == nil || c.encoding == nil {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}
