package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type saveDraftBody struct {
	Role     string `json:"role"`
	Filename string `json:"filename"`
	// Image carries the encoded payload: a data URL or bare base64.
	Image string `json:"image"`
}

func (a *App) SaveImageDraft(w http.ResponseWriter, r *http.Request) {
	var body saveDraftBody
	if !a.decode(w, r, &body) {
		return
	}
	res, err := a.Drafts.SaveDraft(r.Context(), chi.URLParam(r, "id"), body.Role, body.Filename, body.Image)
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

func (a *App) GetImageDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := a.Drafts.GetDrafts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"images_draft": drafts})
}

func (a *App) DeleteImageDraft(w http.ResponseWriter, r *http.Request) {
	res, err := a.Drafts.DeleteDraft(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "role"))
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"ok":             true,
		"images_draft":   res.Drafts,
		"images_version": res.Version,
	})
}
