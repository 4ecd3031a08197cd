package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// requestCols is the canonical select list. Cost columns are cast so pgx
// scans them straight into float64.
const requestCols = `id, customer_id, session_id, type, business_type, status, priority, admin_id,
request_data, generated_content, notes, images_draft, images_version,
estimated_cost::float8, actual_cost::float8, processing_duration, retry_count, error_message,
created_at, updated_at, assigned_at, started_at, completed_at`

// RequestRepositoryPG implements domain.RequestRepository on PostgreSQL.
// Every lifecycle transition is one conditional UPDATE whose WHERE clause
// carries the guard, so a transition either wins the row or reports
// ErrInvalidTransition; there is no read-then-write window.
type RequestRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewRequestRepository creates a request repository backed by PostgreSQL.
func NewRequestRepository(pool *pgxpool.Pool) *RequestRepositoryPG {
	return &RequestRepositoryPG{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*domain.Request, error) {
	var req domain.Request
	err := row.Scan(
		&req.ID,
		&req.CustomerID,
		&req.SessionID,
		&req.Type,
		&req.BusinessType,
		&req.Status,
		&req.Priority,
		&req.AdminID,
		&req.RequestData,
		&req.GeneratedContent,
		&req.Notes,
		&req.ImagesDraft,
		&req.ImagesVersion,
		&req.EstimatedCost,
		&req.ActualCost,
		&req.ProcessingDuration,
		&req.RetryCount,
		&req.ErrorMessage,
		&req.CreatedAt,
		&req.UpdatedAt,
		&req.AssignedAt,
		&req.StartedAt,
		&req.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// Create inserts a new PENDING request.
func (r *RequestRepositoryPG) Create(ctx context.Context, req *domain.Request) error {
	query := `
INSERT INTO requests (id, customer_id, session_id, type, business_type, status, priority, request_data, estimated_cost)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, query,
		req.ID,
		req.CustomerID,
		req.SessionID,
		req.Type,
		req.BusinessType,
		domain.StatusPending,
		req.Priority,
		req.RequestData,
		req.EstimatedCost,
	)
	if err := row.Scan(&req.CreatedAt, &req.UpdatedAt); err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Status = domain.StatusPending
	return nil
}

// GetByID fetches a request by its identifier.
func (r *RequestRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestCols+` FROM requests WHERE id = $1;`, id)
	return scanRequest(row)
}

// List returns one page of the queue, newest first, plus the unpaged total.
func (r *RequestRepositoryPG) List(ctx context.Context, filter domain.RequestFilter, page, limit int) ([]domain.Request, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	where, args := buildFilter(filter)

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM requests`+where+`;`, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf(`SELECT %s FROM requests%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d;`,
		requestCols, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	items, err := collectRequests(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func buildFilter(filter domain.RequestFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Type != "" {
		add("type = $%d", filter.Type)
	}
	if filter.AdminID != "" {
		add("admin_id = $%d", filter.AdminID)
	}
	if filter.BusinessType != "" {
		add("business_type = $%d", filter.BusinessType)
	}
	if filter.Priority != "" {
		add("priority = $%d", filter.Priority)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func collectRequests(rows pgx.Rows) ([]domain.Request, error) {
	var items []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Stats aggregates per-status counts plus completion metrics.
func (r *RequestRepositoryPG) Stats(ctx context.Context) (*domain.QueueStats, error) {
	stats := &domain.QueueStats{ByStatus: make(map[domain.RequestStatus]int64)}

	rows, err := r.pool.Query(ctx, `SELECT status, count(*) FROM requests GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("stats counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status domain.RequestStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	query := `
SELECT
  coalesce((SELECT round(avg(processing_duration)) FROM requests
            WHERE status = 'COMPLETED' AND processing_duration IS NOT NULL), 0)::bigint,
  coalesce((SELECT sum(actual_cost) FROM requests WHERE status = 'COMPLETED'), 0)::float8;
`
	if err := r.pool.QueryRow(ctx, query).Scan(&stats.AverageProcessingTime, &stats.TotalRevenue); err != nil {
		return nil, fmt.Errorf("stats aggregates: %w", err)
	}
	return stats, nil
}

// ListOverdue returns PENDING requests created before the cutoff, oldest first.
func (r *RequestRepositoryPG) ListOverdue(ctx context.Context, cutoff time.Time) ([]domain.Request, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+requestCols+` FROM requests WHERE status = 'PENDING' AND created_at < $1 ORDER BY created_at ASC;`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("list overdue: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// ListByAdmin returns every request the admin owns or owned, newest first.
func (r *RequestRepositoryPG) ListByAdmin(ctx context.Context, adminID string) ([]domain.Request, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+requestCols+` FROM requests WHERE admin_id = $1 ORDER BY created_at DESC;`,
		adminID)
	if err != nil {
		return nil, fmt.Errorf("list by admin: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// Update applies an administrative field patch. Status and lifecycle
// timestamps are not patchable here.
func (r *RequestRepositoryPG) Update(ctx context.Context, id string, patch domain.RequestPatch) (*domain.Request, error) {
	sets := []string{"updated_at = now()"}
	args := []any{id}
	set := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Priority != nil {
		set("priority", *patch.Priority)
	}
	if patch.Notes != nil {
		set("notes", *patch.Notes)
	}
	if patch.ErrorMessage != nil {
		set("error_message", *patch.ErrorMessage)
	}
	if patch.EstimatedCost != nil {
		set("estimated_cost", *patch.EstimatedCost)
	}
	if patch.Type != nil {
		set("type", *patch.Type)
	}

	query := fmt.Sprintf(`UPDATE requests SET %s WHERE id = $1 RETURNING %s;`,
		strings.Join(sets, ", "), requestCols)
	return scanRequest(r.pool.QueryRow(ctx, query, args...))
}

// Assign moves PENDING → ASSIGNED. The status guard lives in the WHERE
// clause: two racing assigns cannot both match the PENDING row.
func (r *RequestRepositoryPG) Assign(ctx context.Context, id, adminID string) (*domain.Request, error) {
	query := `
UPDATE requests
SET status = 'ASSIGNED', admin_id = $2, assigned_at = now(), updated_at = now()
WHERE id = $1 AND status = 'PENDING'
RETURNING ` + requestCols + `;`
	req, err := scanRequest(r.pool.QueryRow(ctx, query, id, adminID))
	if err != nil {
		return nil, r.transitionErr(ctx, id, err)
	}
	return req, nil
}

// Start moves ASSIGNED → PROCESSING for the owning admin.
func (r *RequestRepositoryPG) Start(ctx context.Context, id, adminID string) (*domain.Request, error) {
	query := `
UPDATE requests
SET status = 'PROCESSING', started_at = now(), updated_at = now()
WHERE id = $1 AND status = 'ASSIGNED' AND admin_id = $2
RETURNING ` + requestCols + `;`
	req, err := scanRequest(r.pool.QueryRow(ctx, query, id, adminID))
	if err != nil {
		return nil, r.transitionErr(ctx, id, err)
	}
	return req, nil
}

// Complete moves PROCESSING → COMPLETED for the owning admin, storing the
// generated payload and the whole-second processing duration.
func (r *RequestRepositoryPG) Complete(ctx context.Context, id, adminID string, content map[string]any, notes string, actualCost *float64) (*domain.Request, error) {
	payload, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal generated content: %w", err)
	}
	query := `
UPDATE requests
SET status = 'COMPLETED',
    generated_content = $3::jsonb,
    notes = CASE WHEN $4 <> '' THEN $4 ELSE notes END,
    actual_cost = coalesce($5, actual_cost),
    completed_at = now(),
    processing_duration = floor(extract(epoch FROM (now() - started_at)))::bigint,
    updated_at = now()
WHERE id = $1 AND status = 'PROCESSING' AND admin_id = $2
RETURNING ` + requestCols + `;`
	req, err := scanRequest(r.pool.QueryRow(ctx, query, id, adminID, payload, notes, actualCost))
	if err != nil {
		return nil, r.transitionErr(ctx, id, err)
	}
	return req, nil
}

// Reject terminates an owned request with a reason.
func (r *RequestRepositoryPG) Reject(ctx context.Context, id, adminID, reason string) (*domain.Request, error) {
	query := `
UPDATE requests
SET status = 'REJECTED', error_message = $3, completed_at = now(), updated_at = now()
WHERE id = $1 AND admin_id = $2 AND status IN ('ASSIGNED', 'PROCESSING')
RETURNING ` + requestCols + `;`
	req, err := scanRequest(r.pool.QueryRow(ctx, query, id, adminID, reason))
	if err != nil {
		return nil, r.transitionErr(ctx, id, err)
	}
	return req, nil
}

// Cancel terminates any non-terminal request.
func (r *RequestRepositoryPG) Cancel(ctx context.Context, id string) (*domain.Request, error) {
	query := `
UPDATE requests
SET status = 'CANCELLED', completed_at = now(), updated_at = now()
WHERE id = $1 AND status IN ('PENDING', 'ASSIGNED', 'PROCESSING')
RETURNING ` + requestCols + `;`
	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, r.transitionErr(ctx, id, err)
	}
	return req, nil
}

// MarkFailed terminates any non-terminal request and bumps retryCount.
func (r *RequestRepositoryPG) MarkFailed(ctx context.Context, id, reason string) (*domain.Request, error) {
	query := `
UPDATE requests
SET status = 'FAILED', error_message = $2, retry_count = retry_count + 1,
    completed_at = now(), updated_at = now()
WHERE id = $1 AND status IN ('PENDING', 'ASSIGNED', 'PROCESSING')
RETURNING ` + requestCols + `;`
	req, err := scanRequest(r.pool.QueryRow(ctx, query, id, reason))
	if err != nil {
		return nil, r.transitionErr(ctx, id, err)
	}
	return req, nil
}

// SaveDraftSlot upserts one role in the draft map. The version bump is an
// arithmetic increment inside the statement, so concurrent saves for
// different roles each move the counter by exactly one.
func (r *RequestRepositoryPG) SaveDraftSlot(ctx context.Context, id, role string, slot domain.ImageSlot) (*domain.Request, error) {
	slotJSON, err := json.Marshal(slot)
	if err != nil {
		return nil, fmt.Errorf("marshal image slot: %w", err)
	}
	query := `
UPDATE requests
SET images_draft = jsonb_set(coalesce(images_draft, '{}'::jsonb), ARRAY[$2::text], $3::jsonb, true),
    images_version = images_version + 1,
    updated_at = now()
WHERE id = $1
RETURNING ` + requestCols + `;`
	return scanRequest(r.pool.QueryRow(ctx, query, id, role, slotJSON))
}

// DeleteDraftSlot removes one role. Removing an absent role still succeeds
// and still bumps the version; callers treat the counter as a change signal,
// not a lock.
func (r *RequestRepositoryPG) DeleteDraftSlot(ctx context.Context, id, role string) (*domain.Request, error) {
	query := `
UPDATE requests
SET images_draft = coalesce(images_draft, '{}'::jsonb) - $2::text,
    images_version = images_version + 1,
    updated_at = now()
WHERE id = $1
RETURNING ` + requestCols + `;`
	return scanRequest(r.pool.QueryRow(ctx, query, id, role))
}

// transitionErr distinguishes a missing row from a guard miss after a
// conditional update matched nothing.
func (r *RequestRepositoryPG) transitionErr(ctx context.Context, id string, err error) error {
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return getErr
	}
	return domain.ErrInvalidTransition
}

var _ domain.RequestRepository = (*RequestRepositoryPG)(nil)
