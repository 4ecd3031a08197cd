// Package drafts manages the per-request map of uploaded-but-not-finalized
// images. Uploads are validated before anything is persisted, and every
// successful mutation moves the request's images version by exactly one.
package drafts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/storage"
)

// Service implements the image draft operations.
type Service struct {
	repo   domain.RequestRepository
	blobs  domain.BlobStore
	logger zerolog.Logger
}

// NewService constructs a draft service.
func NewService(repo domain.RequestRepository, blobs domain.BlobStore, logger zerolog.Logger) *Service {
	return &Service{repo: repo, blobs: blobs, logger: logger}
}

// Result is returned by SaveDraft: the written slot plus the full draft map
// so clients can refresh their view in one round trip.
type Result struct {
	Slot    domain.ImageSlot            `json:"image"`
	Drafts  map[string]domain.ImageSlot `json:"images_draft"`
	Version int64                       `json:"images_version"`
}

// SaveDraft validates and persists one image upload, then upserts its role in
// the request's draft map. Validation happens strictly before any write, so a
// rejected payload leaves both storage and the draft map untouched.
func (s *Service) SaveDraft(ctx context.Context, requestID, role, filename, payload string) (*Result, error) {
	if role == "" {
		return nil, fmt.Errorf("%w: role is required", domain.ErrValidation)
	}
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	data, contentType, err := storage.DecodeImagePayload(payload)
	if err != nil {
		return nil, err
	}
	name := storage.SanitizeFilename(filename, contentType)

	ref, err := s.blobs.Save(ctx, req.StorageScope(), role+"_"+name, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: persist draft %s: %v", domain.ErrStorage, role, err)
	}

	slot := domain.ImageSlot{URL: ref, Filename: name, UpdatedAt: time.Now().UTC()}
	updated, err := s.repo.SaveDraftSlot(ctx, requestID, role, slot)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("request_id", requestID).
		Str("role", role).
		Int64("images_version", updated.ImagesVersion).
		Msg("draft image saved")

	return &Result{
		Slot:    updated.ImagesDraft[role],
		Drafts:  draftsOrEmpty(updated),
		Version: updated.ImagesVersion,
	}, nil
}

// GetDrafts returns the request's current draft map, empty if none.
func (s *Service) GetDrafts(ctx context.Context, requestID string) (map[string]domain.ImageSlot, error) {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return draftsOrEmpty(req), nil
}

// DeleteDraft removes one role from the draft map. Removing an absent role
// still succeeds; the version moves either way.
func (s *Service) DeleteDraft(ctx context.Context, requestID, role string) (*Result, error) {
	if role == "" {
		return nil, fmt.Errorf("%w: role is required", domain.ErrValidation)
	}
	updated, err := s.repo.DeleteDraftSlot(ctx, requestID, role)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("request_id", requestID).
		Str("role", role).
		Int64("images_version", updated.ImagesVersion).
		Msg("draft image removed")
	return &Result{Drafts: draftsOrEmpty(updated), Version: updated.ImagesVersion}, nil
}

func draftsOrEmpty(req *domain.Request) map[string]domain.ImageSlot {
	if req.ImagesDraft == nil {
		return map[string]domain.ImageSlot{}
	}
	return req.ImagesDraft
}
