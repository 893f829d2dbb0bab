package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/attestra/ledgerd/internal/ledger"
	"github.com/attestra/ledgerd/internal/store"
)

type submitRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	TurnIndex      int    `json:"turn_index"`
	UserPrompt     string `json:"user_prompt"`
	IncludeHistory bool   `json:"include_history,omitempty"`
}

type submitResponse struct {
	ConversationID     string             `json:"conversation_id"`
	TurnIndex          int                `json:"turn_index"`
	StructuredResponse json.RawMessage    `json:"structured_response"`
	ChainHash          string             `json:"chain_hash"`
	Trace              ledger.TimingTrace `json:"trace"`
}

// submitTurn handles POST /api/v1/turns. turn_index in the request is the
// last turn the caller has seen; the recorded turn lands at turn_index+1.
func (s *Server) submitTurn(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}
	if req.UserPrompt == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "user_prompt is required")
		return
	}
	if req.TurnIndex < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "turn_index must not be negative")
		return
	}

	result, err := s.submitter.SubmitTurn(r.Context(), ledger.SubmitRequest{
		ConversationID: req.ConversationID,
		TurnIndex:      req.TurnIndex,
		UserPrompt:     req.UserPrompt,
		IncludeHistory: req.IncludeHistory,
	})
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitResponse{
		ConversationID:     result.ConversationID,
		TurnIndex:          result.TurnIndex,
		StructuredResponse: result.MachineState,
		ChainHash:          result.ChainHash,
		Trace:              result.Trace,
	})
}

// writeSubmitError maps ledger failures to the stable error classification.
// Every failure here means zero rows were written.
func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, ledger.ErrBadModelOutput):
		writeError(w, http.StatusUnprocessableEntity, "invalid_model_output", err.Error())
	case errors.Is(err, ledger.ErrInference):
		writeError(w, http.StatusBadGateway, "inference_failed", err.Error())
	default:
		s.logger.Error("submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "submission failed")
	}
}

func (s *Server) verifyAll(w http.ResponseWriter, r *http.Request) {
	s.runVerify(w, r, "")
}

func (s *Server) verifyConversation(w http.ResponseWriter, r *http.Request) {
	s.runVerify(w, r, chi.URLParam(r, "conversationID"))
}

func (s *Server) runVerify(w http.ResponseWriter, r *http.Request, conversationID string) {
	report, err := s.checker.Verify(r.Context(), conversationID)
	if err != nil {
		s.logger.Error("verification failed to run", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "verification failed to run")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type turnsResponse struct {
	ConversationID string       `json:"conversation_id"`
	Count          int          `json:"count"`
	Turns          []store.Turn `json:"turns"`
}

// listTurns handles GET /api/v1/conversations/{conversationID}/turns, a
// read-only audit view of the ledger.
func (s *Server) listTurns(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	turns, err := s.turns.AllTurnsOrdered(r.Context(), conversationID)
	if err != nil {
		s.logger.Error("failed to list turns", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list turns")
		return
	}
	if turns == nil {
		turns = []store.Turn{}
	}
	writeJSON(w, http.StatusOK, turnsResponse{
		ConversationID: conversationID,
		Count:          len(turns),
		Turns:          turns,
	})
}
