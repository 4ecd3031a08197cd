package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/drafts"
	"server/internal/queue"
)

// App bundles the services the HTTP layer dispatches into.
type App struct {
	Queue  *queue.Service
	Drafts *drafts.Service
	Docs   domain.DocumentStore
	Log    zerolog.Logger
}

func NewApp(q *queue.Service, d *drafts.Service, docs domain.DocumentStore, log zerolog.Logger) *App {
	return &App{Queue: q, Drafts: d, Docs: docs, Log: log}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// error maps domain sentinels onto HTTP codes with a uniform body shape.
func (a *App) error(w http.ResponseWriter, err error) {
	code, label := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code, label = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrValidation):
		code, label = http.StatusBadRequest, "validation_error"
	case errors.Is(err, domain.ErrInvalidTransition):
		code, label = http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrStorage):
		code, label = http.StatusInternalServerError, "storage_failure"
	}
	if code == http.StatusInternalServerError {
		a.Log.Error().Err(err).Msg("request failed")
	}
	a.json(w, code, map[string]string{"error": label, "message": err.Error()})
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.json(w, http.StatusBadRequest, map[string]string{
			"error":   "validation_error",
			"message": "invalid JSON body",
		})
		return false
	}
	return true
}
