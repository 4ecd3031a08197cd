package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/middleware"
	"server/internal/queue"
)

type createRequestBody struct {
	CustomerID    string             `json:"customer_id"`
	SessionID     string             `json:"session_id"`
	RequestType   domain.RequestType `json:"request_type"`
	BusinessType  string             `json:"business_type"`
	Priority      domain.Priority    `json:"priority"`
	RequestData   map[string]any     `json:"request_data"`
	EstimatedCost float64            `json:"estimated_cost"`
}

func (a *App) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if !a.decode(w, r, &body) {
		return
	}
	req, err := a.Queue.Create(r.Context(), queue.CreateInput{
		CustomerID:    body.CustomerID,
		SessionID:     body.SessionID,
		Type:          body.RequestType,
		BusinessType:  body.BusinessType,
		Priority:      body.Priority,
		RequestData:   body.RequestData,
		EstimatedCost: body.EstimatedCost,
	})
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusCreated, req)
}

func (a *App) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := a.Queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, req)
}

func (a *App) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.RequestFilter{
		Status:       domain.RequestStatus(q.Get("status")),
		Type:         domain.RequestType(q.Get("request_type")),
		AdminID:      q.Get("admin_id"),
		BusinessType: q.Get("business_type"),
		Priority:     domain.Priority(q.Get("priority")),
	}
	if from, ok := parseTime(q.Get("from")); ok {
		filter.From = &from
	}
	if to, ok := parseTime(q.Get("to")); ok {
		filter.To = &to
	}
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	result, err := a.Queue.List(r.Context(), filter, page, limit)
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, result)
}

func (a *App) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Queue.Stats(r.Context())
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, stats)
}

func (a *App) OverdueRequests(w http.ResponseWriter, r *http.Request) {
	items, err := a.Queue.Overdue(r.Context())
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) RequestsByAdmin(w http.ResponseWriter, r *http.Request) {
	items, err := a.Queue.ByAdmin(r.Context(), chi.URLParam(r, "adminId"))
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) AssignRequest(w http.ResponseWriter, r *http.Request) {
	req, err := a.Queue.Assign(r.Context(), chi.URLParam(r, "id"), middleware.AdminIDFromContext(r.Context()))
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, req)
}

func (a *App) StartRequest(w http.ResponseWriter, r *http.Request) {
	req, err := a.Queue.Start(r.Context(), chi.URLParam(r, "id"), middleware.AdminIDFromContext(r.Context()))
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, req)
}

type completeRequestBody struct {
	GeneratedContent map[string]any `json:"generated_content"`
	Notes            string         `json:"notes"`
	ActualCost       *float64       `json:"actual_cost"`
}

func (a *App) CompleteRequest(w http.ResponseWriter, r *http.Request) {
	var body completeRequestBody
	if !a.decode(w, r, &body) {
		return
	}
	req, err := a.Queue.Complete(r.Context(), chi.URLParam(r, "id"),
		middleware.AdminIDFromContext(r.Context()), body.GeneratedContent, body.Notes, body.ActualCost)
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, req)
}

func (a *App) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	req, err := a.Queue.Reject(r.Context(), chi.URLParam(r, "id"),
		middleware.AdminIDFromContext(r.Context()), body.Reason)
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, req)
}

func (a *App) CancelRequest(w http.ResponseWriter, r *http.Request) {
	req, err := a.Queue.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, req)
}

func (a *App) FailRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	req, err := a.Queue.MarkFailed(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, req)
}

type patchRequestBody struct {
	Priority      *domain.Priority    `json:"priority"`
	Notes         *string             `json:"notes"`
	ErrorMessage  *string             `json:"error_message"`
	EstimatedCost *float64            `json:"estimated_cost"`
	RequestType   *domain.RequestType `json:"request_type"`
}

func (a *App) PatchRequest(w http.ResponseWriter, r *http.Request) {
	var body patchRequestBody
	if !a.decode(w, r, &body) {
		return
	}
	req, err := a.Queue.Update(r.Context(), chi.URLParam(r, "id"), domain.RequestPatch{
		Priority:      body.Priority,
		Notes:         body.Notes,
		ErrorMessage:  body.ErrorMessage,
		EstimatedCost: body.EstimatedCost,
		Type:          body.RequestType,
	})
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, req)
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
