package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"payment-router/internal/models"
	"payment-router/internal/queue"
	"payment-router/internal/telemetry"
)

const defaultDeadLetterLimit = 100

// Payments is the core boundary the HTTP layer drives.
type Payments interface {
	Enqueue(ctx context.Context, req models.PaymentRequest) error
	Summary(ctx context.Context, from, to *time.Time) (models.Summary, error)
	Purge(ctx context.Context) error
	DeadLetters(ctx context.Context, limit int64) ([]queue.DeadLetter, error)
}

// Server wires HTTP handlers for the payment API.
type Server struct {
	payments Payments
	logger   *zap.Logger
}

// New constructs the API server.
func New(payments Payments, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{payments: payments, logger: logger}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogging(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/payments", s.handleEnqueue)
	r.Get("/payments-summary", s.handleSummary)
	r.Post("/purge-payments", s.handlePurge)
	r.Get("/dead-letters", s.handleDeadLetters)
	return r
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	err := s.payments.Enqueue(r.Context(), req)
	switch {
	case errors.Is(err, models.ErrMissingCorrelationID), errors.Is(err, models.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("enqueue failed", zap.String("correlation_id", req.CorrelationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type totalsResponse struct {
	TotalRequests int64       `json:"totalRequests"`
	TotalAmount   json.Number `json:"totalAmount"`
}

type summaryResponse struct {
	Default  totalsResponse `json:"default"`
	Fallback totalsResponse `json:"fallback"`
}

func toTotalsResponse(t models.PartitionTotals) totalsResponse {
	return totalsResponse{TotalRequests: t.Count, TotalAmount: json.Number(t.Total.StringFixed(2))}
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	from, err := parseBound(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	to, err := parseBound(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}

	summary, err := s.payments.Summary(r.Context(), from, to)
	if err != nil {
		s.logger.Error("summary failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "summary failed")
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		Default:  toTotalsResponse(summary.Default),
		Fallback: toTotalsResponse(summary.Fallback),
	})
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if err := s.payments.Purge(r.Context()); err != nil {
		s.logger.Error("purge failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "purge failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "All payments purged."})
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := int64(defaultDeadLetterLimit)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	items, err := s.payments.DeadLetters(r.Context(), limit)
	if err != nil {
		s.logger.Error("read dead letters failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read dead letters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// parseBound accepts RFC 3339 timestamps, with or without fractional seconds.
// An empty value is an open bound.
func parseBound(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
