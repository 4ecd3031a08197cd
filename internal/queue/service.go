// Package queue is the request orchestrator: it owns the lifecycle state
// machine and every read over the operator queue. Transition guards are
// enforced by the repository's conditional writes; this layer validates
// input, sequences the post-completion merge, and emits lifecycle events.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/events"
)

// Merger folds a completed request's payload into the site document.
type Merger interface {
	Apply(ctx context.Context, req *domain.Request) error
}

// EventSink receives lifecycle notifications. Implementations must not fail
// the caller; publishing is fire-and-forget.
type EventSink interface {
	Publish(ctx context.Context, key string, data any)
}

// Service orchestrates the request queue.
type Service struct {
	repo   domain.RequestRepository
	merger Merger
	events EventSink
	logger zerolog.Logger
}

// NewService constructs the orchestrator. events may be nil.
func NewService(repo domain.RequestRepository, merger Merger, events EventSink, logger zerolog.Logger) *Service {
	return &Service{repo: repo, merger: merger, events: events, logger: logger}
}

// CreateInput carries the fields a customer supplies when opening a request.
type CreateInput struct {
	CustomerID    string
	SessionID     string
	Type          domain.RequestType
	BusinessType  string
	Priority      domain.Priority
	RequestData   map[string]any
	EstimatedCost float64
}

// Create persists a new PENDING request.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Request, error) {
	if input.CustomerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrValidation)
	}
	if input.Type == "" {
		return nil, fmt.Errorf("%w: request type is required", domain.ErrValidation)
	}
	if input.Priority == "" {
		input.Priority = domain.PriorityNormal
	}
	if !input.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", domain.ErrValidation, input.Priority)
	}
	if input.RequestData == nil {
		input.RequestData = map[string]any{}
	}

	req := &domain.Request{
		ID:            uuid.NewString(),
		CustomerID:    input.CustomerID,
		SessionID:     input.SessionID,
		Type:          input.Type,
		BusinessType:  input.BusinessType,
		Priority:      input.Priority,
		RequestData:   input.RequestData,
		EstimatedCost: input.EstimatedCost,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}
	s.logger.Info().Str("request_id", req.ID).Str("type", string(req.Type)).Msg("request created")
	return req, nil
}

// Get fetches one request.
func (s *Service) Get(ctx context.Context, id string) (*domain.Request, error) {
	return s.repo.GetByID(ctx, id)
}

// Page is one slice of the queue listing.
type Page struct {
	Items      []domain.Request `json:"items"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	TotalPages int              `json:"total_pages"`
}

// List returns the queue, newest first, filtered and paginated.
func (s *Service) List(ctx context.Context, filter domain.RequestFilter, page, limit int) (*Page, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, filter.Status)
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	items, total, err := s.repo.List(ctx, filter, page, limit)
	if err != nil {
		return nil, err
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &Page{Items: items, Total: total, Page: page, Limit: limit, TotalPages: totalPages}, nil
}

// Stats aggregates queue counts and completion metrics.
func (s *Service) Stats(ctx context.Context) (*domain.QueueStats, error) {
	return s.repo.Stats(ctx)
}

// Overdue returns PENDING requests older than the overdue threshold, oldest
// first. Read-only reporting: nothing here transitions state.
func (s *Service) Overdue(ctx context.Context) ([]domain.Request, error) {
	return s.repo.ListOverdue(ctx, time.Now().Add(-domain.OverdueAfter))
}

// ByAdmin returns every request the admin owns or owned, newest first.
func (s *Service) ByAdmin(ctx context.Context, adminID string) ([]domain.Request, error) {
	if adminID == "" {
		return nil, fmt.Errorf("%w: admin id is required", domain.ErrValidation)
	}
	return s.repo.ListByAdmin(ctx, adminID)
}

// Assign claims a PENDING request for an admin.
func (s *Service) Assign(ctx context.Context, id, adminID string) (*domain.Request, error) {
	if adminID == "" {
		return nil, fmt.Errorf("%w: admin id is required", domain.ErrValidation)
	}
	req, err := s.repo.Assign(ctx, id, adminID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.KeyRequestAssigned, req)
	return req, nil
}

// Start moves an assigned request into processing for its owner.
func (s *Service) Start(ctx context.Context, id, adminID string) (*domain.Request, error) {
	if adminID == "" {
		return nil, fmt.Errorf("%w: admin id is required", domain.ErrValidation)
	}
	req, err := s.repo.Start(ctx, id, adminID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.KeyRequestStarted, req)
	return req, nil
}

// Complete finishes a processing request with the generated payload, then
// merges it into the site document. The merge is strictly best-effort: once
// the status write commits, the operator's work is saved and a merge failure
// only surfaces through logs and the merge_failed event.
func (s *Service) Complete(ctx context.Context, id, adminID string, content map[string]any, notes string, actualCost *float64) (*domain.Request, error) {
	if adminID == "" {
		return nil, fmt.Errorf("%w: admin id is required", domain.ErrValidation)
	}
	if content == nil {
		return nil, fmt.Errorf("%w: generated content is required", domain.ErrValidation)
	}
	req, err := s.repo.Complete(ctx, id, adminID, content, notes, actualCost)
	if err != nil {
		return nil, err
	}

	if mergeErr := s.merger.Apply(ctx, req); mergeErr != nil {
		s.logger.Error().Err(mergeErr).
			Str("request_id", req.ID).
			Str("session_id", req.SessionID).
			Msg("post-completion merge failed")
		s.publish(ctx, events.KeyMergeFailed, map[string]any{
			"request_id": req.ID,
			"session_id": req.SessionID,
			"error":      mergeErr.Error(),
		})
	}

	s.publish(ctx, events.KeyRequestCompleted, req)
	return req, nil
}

// Reject terminates an owned request with a reason.
func (s *Service) Reject(ctx context.Context, id, adminID, reason string) (*domain.Request, error) {
	if adminID == "" {
		return nil, fmt.Errorf("%w: admin id is required", domain.ErrValidation)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", domain.ErrValidation)
	}
	req, err := s.repo.Reject(ctx, id, adminID, reason)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.KeyRequestRejected, req)
	return req, nil
}

// Cancel terminates any non-terminal request.
func (s *Service) Cancel(ctx context.Context, id string) (*domain.Request, error) {
	req, err := s.repo.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.KeyRequestCancelled, req)
	return req, nil
}

// MarkFailed terminates any non-terminal request and bumps its retry count.
func (s *Service) MarkFailed(ctx context.Context, id, reason string) (*domain.Request, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: failure reason is required", domain.ErrValidation)
	}
	req, err := s.repo.MarkFailed(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.KeyRequestFailed, req)
	return req, nil
}

// Update applies an administrative field patch. Status is not patchable:
// lifecycle changes go through the transition methods above.
func (s *Service) Update(ctx context.Context, id string, patch domain.RequestPatch) (*domain.Request, error) {
	if patch.Priority != nil && !patch.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", domain.ErrValidation, *patch.Priority)
	}
	return s.repo.Update(ctx, id, patch)
}

func (s *Service) publish(ctx context.Context, key string, data any) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, key, data)
}
