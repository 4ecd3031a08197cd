package domain

import (
	"context"
	"encoding/json"
	"time"
)

// RequestRepository persists queue requests. All lifecycle transitions are
// implemented as single conditional writes (status checked in the same
// statement that mutates it) so two racing callers cannot both win.
type RequestRepository interface {
	Create(ctx context.Context, req *Request) error
	GetByID(ctx context.Context, id string) (*Request, error)
	List(ctx context.Context, filter RequestFilter, page, limit int) ([]Request, int64, error)
	Stats(ctx context.Context) (*QueueStats, error)
	// ListOverdue returns PENDING requests created before the cutoff,
	// oldest first.
	ListOverdue(ctx context.Context, cutoff time.Time) ([]Request, error)
	ListByAdmin(ctx context.Context, adminID string) ([]Request, error)
	Update(ctx context.Context, id string, patch RequestPatch) (*Request, error)

	// Assign moves PENDING → ASSIGNED and records the owner.
	Assign(ctx context.Context, id, adminID string) (*Request, error)
	// Start moves ASSIGNED → PROCESSING for the owning admin.
	Start(ctx context.Context, id, adminID string) (*Request, error)
	// Complete moves PROCESSING → COMPLETED for the owning admin, storing
	// the generated payload and the whole-second processing duration.
	Complete(ctx context.Context, id, adminID string, content map[string]any, notes string, actualCost *float64) (*Request, error)
	// Reject terminates an owned request (ASSIGNED or PROCESSING) with a
	// reason.
	Reject(ctx context.Context, id, adminID, reason string) (*Request, error)
	// Cancel terminates any non-terminal request.
	Cancel(ctx context.Context, id string) (*Request, error)
	// MarkFailed terminates any non-terminal request and bumps retryCount.
	MarkFailed(ctx context.Context, id, reason string) (*Request, error)

	// SaveDraftSlot upserts one role in the draft map. The images version
	// is bumped with an arithmetic increment in the same statement; it is a
	// change signal for downstream caches, not an optimistic lock.
	SaveDraftSlot(ctx context.Context, id, role string, slot ImageSlot) (*Request, error)
	// DeleteDraftSlot removes one role, bumping the version identically.
	// Deleting an absent role still succeeds and still bumps the version.
	DeleteDraftSlot(ctx context.Context, id, role string) (*Request, error)
}

// DocumentStore holds the per-session site document. The document is shared
// with the customer-facing editor, so writers touch single sections and
// never rewrite the document wholesale.
type DocumentStore interface {
	// EnsureDocument creates an empty document for the session if none
	// exists yet.
	EnsureDocument(ctx context.Context, sessionID string) error
	Exists(ctx context.Context, sessionID string) (bool, error)
	// GetSection returns the raw JSON for one section, or nil when unset.
	GetSection(ctx context.Context, sessionID, section string) (json.RawMessage, error)
	// SetSection overwrites exactly one section.
	SetSection(ctx context.Context, sessionID, section string, data json.RawMessage) error
	// GetDocument returns all populated sections keyed by name.
	GetDocument(ctx context.Context, sessionID string) (map[string]json.RawMessage, error)
	DeleteDocument(ctx context.Context, sessionID string) error
}

// BlobStore persists binary artifacts under a scope partition and returns a
// stable, publicly dereferenceable reference.
type BlobStore interface {
	Save(ctx context.Context, scope, filename string, data []byte, contentType string) (string, error)
	// Cleanup removes everything under the scope. Best effort: failures are
	// the implementation's to log, not the caller's to handle.
	Cleanup(ctx context.Context, scope string)
}
