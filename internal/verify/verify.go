// Package verify replays stored turns and recomputes their hashes to detect
// tampering or corruption after the fact. It only reads; it never touches
// the live submission path.
package verify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/attestra/ledgerd/internal/hashing"
	"github.com/attestra/ledgerd/internal/store"
)

// TurnSource is the read-only store slice the verifier scans.
type TurnSource interface {
	AllTurnsOrdered(ctx context.Context, conversationID string) ([]store.Turn, error)
}

// Report aggregates a verification run. A mismatch is a normal reportable
// outcome, never an error.
type Report struct {
	Valid                 bool `json:"valid"`
	TotalTurns            int  `json:"total_turns"`
	InvalidTurns          int  `json:"invalid_turns"`
	ConversationsVerified int  `json:"conversations_verified"`
}

type Verifier struct {
	source TurnSource
	logger *slog.Logger
}

func New(source TurnSource, logger *slog.Logger) *Verifier {
	return &Verifier{source: source, logger: logger}
}

// Verify checks one conversation, or every conversation when conversationID
// is empty. An empty ledger is vacuously valid.
//
// The chain hash is recomputed from the *stored* content hash, and the
// running previous hash always advances to the stored chain hash, so a
// single corrupted turn is reported exactly once instead of invalidating
// every turn after it.
func (v *Verifier) Verify(ctx context.Context, conversationID string) (Report, error) {
	turns, err := v.source.AllTurnsOrdered(ctx, conversationID)
	if err != nil {
		return Report{}, fmt.Errorf("load turns: %w", err)
	}

	report := Report{Valid: true, TotalTurns: len(turns)}

	currentConv := ""
	prevChainHash := ""
	for _, t := range turns {
		if t.ConversationID != currentConv {
			currentConv = t.ConversationID
			prevChainHash = ""
			report.ConversationsVerified++
		}

		contentOK := hashing.ContentHash(t.TurnIndex, t.UserPrompt, t.Response, t.MachineState) == t.ContentHash
		chainOK := hashing.Link(t.ContentHash, prevChainHash) == t.ChainHash

		if !contentOK || !chainOK {
			report.InvalidTurns++
			v.logger.Warn("turn failed verification",
				"conversation_id", t.ConversationID,
				"turn_index", t.TurnIndex,
				"content_ok", contentOK,
				"chain_ok", chainOK,
			)
		}

		prevChainHash = t.ChainHash
	}

	report.Valid = report.InvalidTurns == 0
	return report, nil
}
