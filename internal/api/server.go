package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/attestra/ledgerd/internal/ledger"
	"github.com/attestra/ledgerd/internal/store"
	"github.com/attestra/ledgerd/internal/verify"
)

// Submitter is the ledger service's write entry point.
type Submitter interface {
	SubmitTurn(ctx context.Context, req ledger.SubmitRequest) (*ledger.TurnResult, error)
}

// Checker runs ledger verification.
type Checker interface {
	Verify(ctx context.Context, conversationID string) (verify.Report, error)
}

// TurnReader lists stored turns for auditing.
type TurnReader interface {
	AllTurnsOrdered(ctx context.Context, conversationID string) ([]store.Turn, error)
}

type Server struct {
	router    *chi.Mux
	srv       *http.Server
	submitter Submitter
	checker   Checker
	turns     TurnReader
	logger    *slog.Logger
}

func NewServer(port int, submitter Submitter, checker Checker, turns TurnReader, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		srv:       &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: router},
		submitter: submitter,
		checker:   checker,
		turns:     turns,
		logger:    logger,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/turns", s.submitTurn)
		r.Get("/verify", s.verifyAll)
		r.Get("/verify/{conversationID}", s.verifyConversation)
		r.Get("/conversations/{conversationID}/turns", s.listTurns)
	})

	return s
}

func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}
