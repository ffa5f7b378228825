package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carbonview/cbam-cli/internal/model"
)

// chatHandler, priceHandler and calcHandler are the narrow capabilities the
// HTTP API needs from the app environment.
type chatHandler interface {
	Handle(ctx context.Context, sessionID, query string) (*model.ConversationTurn, error)
}

type priceHandler interface {
	Current(ctx context.Context) model.PriceQuote
}

type calcHandler interface {
	Calculate(input model.CalculationInput, quote *model.PriceQuote) (*model.CalculationResult, error)
}

// newRouter builds the API: chat, direct calculation, price and health.
func newRouter(chat chatHandler, prices priceHandler, calculator calcHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/v1/price", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, prices.Current(req.Context()))
	})

	r.Post("/v1/chat", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			SessionID string `json:"session_id"`
			Query     string `json:"query"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Query == "" {
			writeError(w, http.StatusBadRequest, "query is required")
			return
		}
		if body.SessionID == "" {
			body.SessionID = uuid.NewString()
		}

		turn, err := chat.Handle(req.Context(), body.SessionID, body.Query)
		if err != nil {
			zap.L().Error("chat turn failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "turn processing failed")
			return
		}
		writeJSON(w, http.StatusOK, turn)
	})

	r.Post("/v1/calculate", func(w http.ResponseWriter, req *http.Request) {
		var input model.CalculationInput
		if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		quote := prices.Current(req.Context())
		result, err := calculator.Calculate(input, &quote)
		if err != nil {
			var upe *model.UnresolvedParameterError
			if errors.As(err, &upe) {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
					"error": upe.Error(),
					"field": upe.Field,
				})
				return
			}
			zap.L().Error("calculation failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "calculation failed")
			return
		}
		result.ID = uuid.NewString()
		writeJSON(w, http.StatusOK, result)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// signalFreeContext returns a fresh context with the given timeout, detached
// from the already-cancelled signal context, for use during shutdown.
func signalFreeContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
