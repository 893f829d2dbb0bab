// Package assembler builds the exact text sent to inference. The piece
// order (instructions, retrieved context, history, user prompt) is a
// deployment policy: changing it changes inference quality but never
// affects ledger correctness, since only the raw user prompt and response
// are hashed.
package assembler

import (
	"fmt"
	"strings"

	"github.com/attestra/ledgerd/internal/store"
)

// Assembler holds the fixed instruction preamble. It is built once at
// startup and never mutated.
type Assembler struct {
	instructions string
}

func New(instructions string) *Assembler {
	return &Assembler{instructions: instructions}
}

// Assemble concatenates the non-empty pieces in fixed order, separated by
// blank lines. history is rendered in the order given and never mutated.
func (a *Assembler) Assemble(userPrompt string, history []store.HistoryEntry, retrievedContext string) string {
	var pieces []string

	if a.instructions != "" {
		pieces = append(pieces, a.instructions)
	}
	if retrievedContext != "" {
		pieces = append(pieces, "Relevant context:\n"+retrievedContext)
	}
	if h := RenderHistory(history); h != "" {
		pieces = append(pieces, "Conversation so far:\n"+h)
	}
	pieces = append(pieces, "User: "+userPrompt)

	return strings.Join(pieces, "\n\n")
}

// RenderHistory formats prior turns as labeled user/assistant pairs, one
// pair per turn, ascending.
func RenderHistory(history []store.HistoryEntry) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	for i, e := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "User: %s\nAssistant: %s", e.UserPrompt, e.Response)
	}
	return b.String()
}
