// Package llm defines the inference provider contract and its backend
// implementations. The backend is chosen once at startup from configuration
// and injected into the ledger service; nothing downstream branches on
// provider names.
package llm

import "context"

// Provider generates a model response for a fully assembled prompt. The
// call may block for seconds to minutes; implementations must honor the
// context deadline.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
