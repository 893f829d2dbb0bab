package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConflict is returned when an append loses a write race or declares an
// out-of-sequence turn index. The caller must re-fetch the conversation's
// current tail and resubmit.
var ErrConflict = errors.New("turn conflict")

// Turn is one immutable ledger entry. Rows are never updated or deleted.
type Turn struct {
	ConversationID   string    `json:"conversation_id"`
	TurnIndex        int       `json:"turn_index"`
	UserPrompt       string    `json:"user_prompt"`
	FullPrompt       *string   `json:"full_prompt,omitempty"`
	Response         string    `json:"response"`
	MachineState     string    `json:"machine_state"`
	RetrievedContext *string   `json:"retrieved_context,omitempty"`
	ContentHash      string    `json:"content_hash"`
	ChainHash        string    `json:"chain_hash"`
	CreatedAt        time.Time `json:"created_at"`
}

// HistoryEntry is the slice of a turn used for prompt context.
type HistoryEntry struct {
	TurnIndex  int
	UserPrompt string
	Response   string
}

const insertTurn = `
	INSERT INTO turns (conversation_id, turn_index, user_prompt, full_prompt,
	                   response, machine_state, retrieved_context,
	                   content_hash, chain_hash, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// insertTurnSequenced only inserts when the turn extends the conversation's
// gapless 1..N sequence. The predicate and the insert are one statement, so
// the index check cannot race the write.
const insertTurnSequenced = `
	INSERT INTO turns (conversation_id, turn_index, user_prompt, full_prompt,
	                   response, machine_state, retrieved_context,
	                   content_hash, chain_hash, created_at)
	SELECT $1::text, $2::int, $3::text, $4::text, $5::text, $6::text, $7::text,
	       $8::text, $9::text, $10::timestamptz
	WHERE $2::int = (SELECT COALESCE(MAX(turn_index), 0) + 1 FROM turns
	                 WHERE conversation_id = $1::text)`

// Append inserts a single turn outside of any chain coordination. The turn
// index must be exactly one past the conversation's current highest;
// duplicates and gaps both fail with ErrConflict. Callers that need the
// previous chain hash read and the insert to be atomic must use
// AppendWithChain instead.
func (s *Store) Append(ctx context.Context, t Turn) error {
	tag, err := s.pool.Exec(ctx, insertTurnSequenced,
		t.ConversationID, t.TurnIndex, t.UserPrompt, t.FullPrompt,
		t.Response, t.MachineState, t.RetrievedContext,
		t.ContentHash, t.ChainHash, t.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: turn %d already exists in conversation %s", ErrConflict, t.TurnIndex, t.ConversationID)
	}
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: turn %d is out of sequence for conversation %s", ErrConflict, t.TurnIndex, t.ConversationID)
	}
	return nil
}

// AppendWithChain reads the conversation's last chain hash and appends the
// turn produced by build in one transaction. The tail row is locked FOR
// UPDATE, so two concurrent submissions to the same conversation serialize
// here: the second waits, then either sees the advanced tail and fails its
// index check, or hits the primary key and gets ErrConflict. No two turns
// can ever be derived from the same previous chain hash.
//
// build receives the previous chain hash ("" for a fresh conversation) and
// returns the fully hashed turn to insert.
func (s *Store) AppendWithChain(ctx context.Context, conversationID string, turnIndex int, build func(prevChainHash string) (Turn, error)) (Turn, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Turn{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var lastIndex int
	var prevChainHash string
	err = tx.QueryRow(ctx, `
		SELECT turn_index, chain_hash FROM turns
		WHERE conversation_id = $1
		ORDER BY turn_index DESC LIMIT 1
		FOR UPDATE`,
		conversationID,
	).Scan(&lastIndex, &prevChainHash)
	if errors.Is(err, pgx.ErrNoRows) {
		lastIndex, prevChainHash = 0, ""
	} else if err != nil {
		return Turn{}, fmt.Errorf("read last chain hash: %w", err)
	}

	if turnIndex != lastIndex+1 {
		return Turn{}, fmt.Errorf("%w: conversation %s is at turn %d, cannot append turn %d", ErrConflict, conversationID, lastIndex, turnIndex)
	}

	turn, err := build(prevChainHash)
	if err != nil {
		return Turn{}, err
	}

	_, err = tx.Exec(ctx, insertTurn,
		turn.ConversationID, turn.TurnIndex, turn.UserPrompt, turn.FullPrompt,
		turn.Response, turn.MachineState, turn.RetrievedContext,
		turn.ContentHash, turn.ChainHash, turn.CreatedAt,
	)
	if isUniqueViolation(err) {
		return Turn{}, fmt.Errorf("%w: turn %d already exists in conversation %s", ErrConflict, turn.TurnIndex, turn.ConversationID)
	}
	if err != nil {
		return Turn{}, fmt.Errorf("insert turn: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Turn{}, fmt.Errorf("commit: %w", err)
	}
	return turn, nil
}

// LastChainHash returns the chain hash of the conversation's highest turn,
// or "" if the conversation has no turns.
func (s *Store) LastChainHash(ctx context.Context, conversationID string) (string, error) {
	var h string
	err := s.pool.QueryRow(ctx, `
		SELECT chain_hash FROM turns
		WHERE conversation_id = $1
		ORDER BY turn_index DESC LIMIT 1`,
		conversationID,
	).Scan(&h)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last chain hash: %w", err)
	}
	return h, nil
}

// History returns prompt context for a conversation in ascending turn order.
// A positive limit returns only the most recent limit turns, still ascending.
func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]HistoryEntry, error) {
	q := `
		SELECT turn_index, user_prompt, response FROM turns
		WHERE conversation_id = $1
		ORDER BY turn_index ASC`
	args := []any{conversationID}
	if limit > 0 {
		q = `
		SELECT turn_index, user_prompt, response FROM (
			SELECT turn_index, user_prompt, response FROM turns
			WHERE conversation_id = $1
			ORDER BY turn_index DESC LIMIT $2
		) tail
		ORDER BY turn_index ASC`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.TurnIndex, &e.UserPrompt, &e.Response); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AllTurnsOrdered returns full turn records ascending by
// (conversation_id, turn_index). An empty conversationID means every
// conversation in the ledger. This is the Verifier's read path.
func (s *Store) AllTurnsOrdered(ctx context.Context, conversationID string) ([]Turn, error) {
	q := `
		SELECT conversation_id, turn_index, user_prompt, full_prompt,
		       response, machine_state, retrieved_context,
		       content_hash, chain_hash, created_at
		FROM turns
		ORDER BY conversation_id ASC, turn_index ASC`
	args := []any{}
	if conversationID != "" {
		q = `
		SELECT conversation_id, turn_index, user_prompt, full_prompt,
		       response, machine_state, retrieved_context,
		       content_hash, chain_hash, created_at
		FROM turns
		WHERE conversation_id = $1
		ORDER BY turn_index ASC`
		args = append(args, conversationID)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(
			&t.ConversationID, &t.TurnIndex, &t.UserPrompt, &t.FullPrompt,
			&t.Response, &t.MachineState, &t.RetrievedContext,
			&t.ContentHash, &t.ChainHash, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
