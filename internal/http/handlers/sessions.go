package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// EnsureSessionDocument bootstraps the session's site document. The wizard
// calls it once when a session starts; repeats are harmless.
func (a *App) EnsureSessionDocument(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if err := a.Docs.EnsureDocument(r.Context(), sessionID); err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"session_id": sessionID, "ok": true})
}

func (a *App) GetSessionDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := a.Docs.GetDocument(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, doc)
}

func (a *App) DeleteSessionDocument(w http.ResponseWriter, r *http.Request) {
	if err := a.Docs.DeleteDocument(r.Context(), chi.URLParam(r, "sessionId")); err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"ok": true})
}
