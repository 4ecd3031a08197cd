package repo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"server/internal/domain"
)

// RequestRepositoryMem is an in-memory domain.RequestRepository with the same
// transition semantics as the PostgreSQL implementation: every guard check
// and its mutation happen atomically under one lock, mirroring the
// conditional UPDATE. It backs tests and storage-free local runs.
type RequestRepositoryMem struct {
	mu       sync.Mutex
	requests map[string]*domain.Request
}

// NewMemoryRequestRepository creates an empty in-memory repository.
func NewMemoryRequestRepository() *RequestRepositoryMem {
	return &RequestRepositoryMem{requests: make(map[string]*domain.Request)}
}

func cloneRequest(req *domain.Request) *domain.Request {
	out := *req
	if req.RequestData != nil {
		out.RequestData = make(map[string]any, len(req.RequestData))
		for k, v := range req.RequestData {
			out.RequestData[k] = v
		}
	}
	if req.GeneratedContent != nil {
		out.GeneratedContent = make(map[string]any, len(req.GeneratedContent))
		for k, v := range req.GeneratedContent {
			out.GeneratedContent[k] = v
		}
	}
	if req.ImagesDraft != nil {
		out.ImagesDraft = make(map[string]domain.ImageSlot, len(req.ImagesDraft))
		for k, v := range req.ImagesDraft {
			out.ImagesDraft[k] = v
		}
	}
	return &out
}

// Create inserts a new PENDING request.
func (r *RequestRepositoryMem) Create(_ context.Context, req *domain.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	req.Status = domain.StatusPending
	req.CreatedAt = now
	req.UpdatedAt = now
	r.requests[req.ID] = cloneRequest(req)
	return nil
}

// Seed stores a request exactly as given, timestamps included. Test fixtures
// use it to backdate records; production code goes through Create.
func (r *RequestRepositoryMem) Seed(req *domain.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ID] = cloneRequest(req)
}

// GetByID fetches a request by its identifier.
func (r *RequestRepositoryMem) GetByID(_ context.Context, id string) (*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRequest(req), nil
}

func matches(req *domain.Request, f domain.RequestFilter) bool {
	if f.Status != "" && req.Status != f.Status {
		return false
	}
	if f.Type != "" && req.Type != f.Type {
		return false
	}
	if f.AdminID != "" && req.AdminID != f.AdminID {
		return false
	}
	if f.BusinessType != "" && req.BusinessType != f.BusinessType {
		return false
	}
	if f.Priority != "" && req.Priority != f.Priority {
		return false
	}
	if f.From != nil && req.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && req.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// List returns one page, newest first, plus the unpaged total.
func (r *RequestRepositoryMem) List(_ context.Context, filter domain.RequestFilter, page, limit int) ([]domain.Request, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []domain.Request
	for _, req := range r.requests {
		if matches(req, filter) {
			all = append(all, *cloneRequest(req))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	start := (page - 1) * limit
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

// Stats aggregates per-status counts plus completion metrics.
func (r *RequestRepositoryMem) Stats(_ context.Context) (*domain.QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &domain.QueueStats{ByStatus: make(map[domain.RequestStatus]int64)}
	var durSum, durCount int64
	for _, req := range r.requests {
		stats.ByStatus[req.Status]++
		stats.Total++
		if req.Status == domain.StatusCompleted {
			stats.TotalRevenue += req.ActualCost
			if req.ProcessingDuration != nil {
				durSum += *req.ProcessingDuration
				durCount++
			}
		}
	}
	if durCount > 0 {
		stats.AverageProcessingTime = int64(math.Round(float64(durSum) / float64(durCount)))
	}
	return stats, nil
}

// ListOverdue returns PENDING requests created before the cutoff, oldest first.
func (r *RequestRepositoryMem) ListOverdue(_ context.Context, cutoff time.Time) ([]domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Request
	for _, req := range r.requests {
		if req.Status == domain.StatusPending && req.CreatedAt.Before(cutoff) {
			out = append(out, *cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListByAdmin returns every request the admin owns or owned, newest first.
func (r *RequestRepositoryMem) ListByAdmin(_ context.Context, adminID string) ([]domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Request
	for _, req := range r.requests {
		if req.AdminID == adminID {
			out = append(out, *cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Update applies an administrative field patch.
func (r *RequestRepositoryMem) Update(_ context.Context, id string, patch domain.RequestPatch) (*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if patch.Priority != nil {
		req.Priority = *patch.Priority
	}
	if patch.Notes != nil {
		req.Notes = *patch.Notes
	}
	if patch.ErrorMessage != nil {
		req.ErrorMessage = *patch.ErrorMessage
	}
	if patch.EstimatedCost != nil {
		req.EstimatedCost = *patch.EstimatedCost
	}
	if patch.Type != nil {
		req.Type = *patch.Type
	}
	req.UpdatedAt = time.Now()
	return cloneRequest(req), nil
}

// Assign moves PENDING → ASSIGNED atomically.
func (r *RequestRepositoryMem) Assign(_ context.Context, id, adminID string) (*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if req.Status != domain.StatusPending {
		return nil, domain.ErrInvalidTransition
	}
	now := time.Now()
	req.Status = domain.StatusAssigned
	req.AdminID = adminID
	req.AssignedAt = &now
	req.UpdatedAt = now
	return cloneRequest(req), nil
}

// Start moves ASSIGNED → PROCESSING for the owning admin.
func (r *RequestRepositoryMem) Start(_ context.Context, id, adminID string) (*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if req.Status != domain.StatusAssigned || req.AdminID != adminID {
		return nil, domain.ErrInvalidTransition
	}
	now := time.Now()
	req.Status = domain.StatusProcessing
	req.StartedAt = &now
	req.UpdatedAt = now
	return cloneRequest(req), nil
}

// Complete moves PROCESSING → COMPLETED for the owning admin.
func (r *RequestRepositoryMem) Complete(_ context.Context, id, adminID string, content map[string]any, notes string, actualCost *float64) (*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if req.Status != domain.StatusProcessing || req.AdminID != adminID {
		return nil, domain.ErrInvalidTransition
	}
	now := time.Now()
	req.Status = domain.StatusCompleted
	req.GeneratedContent = content
	if notes != "" {
		req.Notes = notes
	}
	if actualCost != nil {
		req.ActualCost = *actualCost
	}
	req.CompletedAt = &now
	if req.StartedAt != nil {
		dur := int64(math.Floor(now.Sub(*req.StartedAt).Seconds()))
		req.ProcessingDuration = &dur
	}
	req.UpdatedAt = now
	return cloneRequest(req), nil
}

// Reject terminates an owned request with a reason.
func (r *RequestRepositoryMem) Reject(_ context.Context, id, adminID, reason string) (*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if req.AdminID != adminID || (req.Status != domain.StatusAssigned && req.Status != domain.StatusProcessing) {
		return nil, domain.ErrInvalidTransition
	}
	now := time.Now()
	req.Status = domain.StatusRejected
	req.ErrorMessage = reason
	req.CompletedAt = &now
	req.UpdatedAt = now
	return cloneRequest(req), nil
}

// Cancel terminates any non-terminal request.
func (r *RequestRepositoryMem) Cancel(_ context.Context, id string) (*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if req.Status.Terminal() {
		return nil, domain.ErrInvalidTransition
	}
	now := time.Now()
	req.Status = domain.StatusCancelled
	req.CompletedAt = &now
	req.UpdatedAt = now
	return cloneRequest(req), nil
}

// MarkFailed terminates any non-terminal request and bumps retryCount.
func (r *RequestRepositoryMem) MarkFailed(_ context.Context, id, reason string) (*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if req.Status.Terminal() {
		return nil, domain.ErrInvalidTransition
	}
	now := time.Now()
	req.Status = domain.StatusFailed
	req.ErrorMessage = reason
	req.RetryCount++
	req.CompletedAt = &now
	req.UpdatedAt = now
	return cloneRequest(req), nil
}

// SaveDraftSlot upserts one role and bumps the version, atomically.
func (r *RequestRepositoryMem) SaveDraftSlot(_ context.Context, id, role string, slot domain.ImageSlot) (*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if req.ImagesDraft == nil {
		req.ImagesDraft = make(map[string]domain.ImageSlot)
	}
	req.ImagesDraft[role] = slot
	req.ImagesVersion++
	req.UpdatedAt = time.Now()
	return cloneRequest(req), nil
}

// DeleteDraftSlot removes one role and bumps the version, atomically.
func (r *RequestRepositoryMem) DeleteDraftSlot(_ context.Context, id, role string) (*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(req.ImagesDraft, role)
	req.ImagesVersion++
	req.UpdatedAt = time.Now()
	return cloneRequest(req), nil
}

var _ domain.RequestRepository = (*RequestRepositoryMem)(nil)
