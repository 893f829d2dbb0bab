// Package ledger orchestrates turn submission: context assembly, inference,
// hashing, and the atomic append. It is the only writer of turns.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/attestra/ledgerd/internal/assembler"
	"github.com/attestra/ledgerd/internal/events"
	"github.com/attestra/ledgerd/internal/hashing"
	"github.com/attestra/ledgerd/internal/llm"
	"github.com/attestra/ledgerd/internal/store"
)

var (
	// ErrInference marks a provider or timeout failure. Nothing was
	// written; the caller may retry the same submission.
	ErrInference = errors.New("inference failed")
	// ErrBadModelOutput marks a response whose machine state could not be
	// parsed. Nothing was written; not retried automatically.
	ErrBadModelOutput = errors.New("invalid model output")
)

// TurnStore is the slice of the turn store the service writes through.
type TurnStore interface {
	AppendWithChain(ctx context.Context, conversationID string, turnIndex int, build func(prevChainHash string) (store.Turn, error)) (store.Turn, error)
	History(ctx context.Context, conversationID string, limit int) ([]store.HistoryEntry, error)
}

// Retriever fetches optional external context. Implementations are
// soft-failing: they return "" rather than an error.
type Retriever interface {
	Search(ctx context.Context, query string) string
}

// EventPublisher receives turn-recorded notifications. May be nil.
type EventPublisher interface {
	Publish(subject string, data any) error
}

type Service struct {
	store            TurnStore
	provider         llm.Provider
	retriever        Retriever
	assembler        *assembler.Assembler
	publisher        EventPublisher
	logger           *slog.Logger
	inferenceTimeout time.Duration
	historyLimit     int
}

func New(s TurnStore, provider llm.Provider, retriever Retriever, asm *assembler.Assembler, publisher EventPublisher, inferenceTimeout time.Duration, historyLimit int, logger *slog.Logger) *Service {
	return &Service{
		store:            s,
		provider:         provider,
		retriever:        retriever,
		assembler:        asm,
		publisher:        publisher,
		logger:           logger,
		inferenceTimeout: inferenceTimeout,
		historyLimit:     historyLimit,
	}
}

// SubmitRequest is one logical submission. TurnIndex is the last turn the
// caller has seen for the conversation (0 for a fresh one); the new turn is
// recorded at TurnIndex+1.
type SubmitRequest struct {
	ConversationID string
	TurnIndex      int
	UserPrompt     string
	IncludeHistory bool
}

// TimingTrace records when the submission started, when inference returned,
// and the total elapsed time.
type TimingTrace struct {
	RequestStart   time.Time `json:"request_start"`
	InferenceStart time.Time `json:"inference_start"`
	ResponseEnd    time.Time `json:"response_end"`
	DurationMS     int64     `json:"duration_ms"`
}

type TurnResult struct {
	ConversationID string          `json:"conversation_id"`
	TurnIndex      int             `json:"turn_index"`
	Response       string          `json:"response"`
	MachineState   json.RawMessage `json:"machine_state"`
	ChainHash      string          `json:"chain_hash"`
	Trace          TimingTrace     `json:"trace"`
}

// SubmitTurn runs one submission end to end. Exactly one turn row exists
// after success; zero rows exist after any failure.
func (s *Service) SubmitTurn(ctx context.Context, req SubmitRequest) (*TurnResult, error) {
	start := time.Now().UTC()

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	var history []store.HistoryEntry
	if req.IncludeHistory {
		h, err := s.store.History(ctx, conversationID, s.historyLimit)
		if err != nil {
			return nil, fmt.Errorf("fetch history: %w", err)
		}
		history = h
	}

	retrieved := s.retriever.Search(ctx, req.UserPrompt)

	fullPrompt := s.assembler.Assemble(req.UserPrompt, history, retrieved)

	inferStart := time.Now().UTC()
	inferCtx, cancel := context.WithTimeout(ctx, s.inferenceTimeout)
	defer cancel()
	response, err := s.provider.Generate(inferCtx, fullPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	inferEnd := time.Now().UTC()

	machineState, err := parseMachineState(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadModelOutput, err)
	}

	newIndex := req.TurnIndex + 1
	turn, err := s.store.AppendWithChain(ctx, conversationID, newIndex, func(prevChainHash string) (store.Turn, error) {
		contentHash := hashing.ContentHash(newIndex, req.UserPrompt, response, machineState)
		t := store.Turn{
			ConversationID: conversationID,
			TurnIndex:      newIndex,
			UserPrompt:     req.UserPrompt,
			FullPrompt:     &fullPrompt,
			Response:       response,
			MachineState:   machineState,
			ContentHash:    contentHash,
			ChainHash:      hashing.Link(contentHash, prevChainHash),
			CreatedAt:      time.Now().UTC(),
		}
		if retrieved != "" {
			t.RetrievedContext = &retrieved
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("turn recorded",
		"conversation_id", conversationID,
		"turn_index", turn.TurnIndex,
		"chain_hash", turn.ChainHash,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if s.publisher != nil {
		if err := s.publisher.Publish(events.SubjectTurnRecorded, events.TurnRecorded{
			ConversationID: conversationID,
			TurnIndex:      turn.TurnIndex,
			ChainHash:      turn.ChainHash,
			RecordedAt:     turn.CreatedAt.Format(time.RFC3339),
		}); err != nil {
			s.logger.Warn("failed to publish turn event", "error", err)
		}
	}

	end := time.Now().UTC()
	return &TurnResult{
		ConversationID: conversationID,
		TurnIndex:      turn.TurnIndex,
		Response:       response,
		MachineState:   json.RawMessage(machineState),
		ChainHash:      turn.ChainHash,
		Trace: TimingTrace{
			RequestStart:   start,
			InferenceStart: inferStart,
			ResponseEnd:    inferEnd,
			DurationMS:     end.Sub(start).Milliseconds(),
		},
	}, nil
}

// parseMachineState parses the model response as a JSON object and returns
// its canonical serialization. encoding/json sorts map keys, so the result
// is deterministic regardless of the key order the model produced.
func parseMachineState(response string) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(response), &fields); err != nil {
		return "", fmt.Errorf("parse response as JSON object: %w", err)
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("reserialize machine state: %w", err)
	}
	return string(b), nil
}
