// Package llm defines the completion boundary Replay uses to summarize
// harvested page text. The surface is a single blocking call: Replay never
// streams and never manages conversation state.
package llm

import "context"

// Provider produces a completion for a prompt.
type Provider interface {
	// Complete sends the prompt and returns the model's full response.
	Complete(ctx context.Context, system, prompt string) (string, error)

	// Model returns the model name in use.
	Model() string
}
