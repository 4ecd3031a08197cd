// Package merge folds a completed request's generated payload into the
// session's site document. Content arrives incrementally across many
// requests, so every rule errs on the side of keeping what is already there.
package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"server/internal/domain"
	"server/internal/storage"
)

// sectionOrder fixes the iteration order over the strategy table.
var sectionOrder = []string{
	domain.SectionHero,
	domain.SectionAbout,
	domain.SectionSEO,
	domain.SectionServices,
	domain.SectionTestimonials,
	domain.SectionFAQ,
	domain.SectionBlog,
	domain.SectionImages,
}

// Engine applies type-aware merge rules onto the document store.
type Engine struct {
	docs   domain.DocumentStore
	blobs  domain.BlobStore
	logger zerolog.Logger
}

// NewEngine constructs a merge engine.
func NewEngine(docs domain.DocumentStore, blobs domain.BlobStore, logger zerolog.Logger) *Engine {
	return &Engine{docs: docs, blobs: blobs, logger: logger}
}

// Apply merges the request's generated content into its session document.
// Requests without a session are a no-op. Errors are reported so the caller
// can log and signal retry machinery, but the request's COMPLETED status is
// already committed by the time this runs and is never rolled back.
func (e *Engine) Apply(ctx context.Context, req *domain.Request) error {
	if req.SessionID == "" || len(req.GeneratedContent) == 0 {
		return nil
	}

	exists, err := e.docs.Exists(ctx, req.SessionID)
	if err != nil {
		return fmt.Errorf("%w: check document %s: %v", domain.ErrPartialMerge, req.SessionID, err)
	}
	if !exists {
		return fmt.Errorf("%w: document for session %s: %v", domain.ErrPartialMerge, req.SessionID, domain.ErrNotFound)
	}

	if req.Type == domain.RequestTypeImages {
		if err := e.mergeImageMap(ctx, req, req.GeneratedContent); err != nil {
			return err
		}
		return nil
	}
	// A typed request owns exactly one section; stray keys in its payload
	// must not leak into the document. Untyped payloads (content, custom)
	// take the generic walk.
	if section, ok := domain.SectionForType[req.Type]; ok {
		if value, present := req.GeneratedContent[section]; present {
			return e.mergeSections(ctx, req, map[string]any{section: value})
		}
	}
	return e.mergeSections(ctx, req, req.GeneratedContent)
}

// mergeSections walks the known section names in the payload and applies each
// section's rule. Keys outside the known set are ignored.
func (e *Engine) mergeSections(ctx context.Context, req *domain.Request, payload map[string]any) error {
	var failed []string
	for _, section := range sectionOrder {
		value, ok := payload[section]
		if !ok {
			continue
		}
		var err error
		switch domain.SectionRules[section] {
		case domain.MergeReplace:
			err = e.replaceSection(ctx, req.SessionID, section, value)
		case domain.MergeReplaceIfNonEmpty:
			err = e.replaceListSection(ctx, req.SessionID, section, value)
		case domain.MergeUnionByRole:
			roles, isMap := value.(map[string]any)
			if !isMap {
				e.logger.Warn().Str("request_id", req.ID).Msg("images payload is not a role map, skipping")
				continue
			}
			err = e.mergeImageMap(ctx, req, roles)
		}
		if err != nil {
			e.logger.Error().Err(err).
				Str("request_id", req.ID).
				Str("session_id", req.SessionID).
				Str("section", section).
				Msg("section merge failed")
			failed = append(failed, section)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: sections %v", domain.ErrPartialMerge, failed)
	}
	return nil
}

// replaceSection overwrites a scalar/object section when the incoming value
// is present and non-empty; empty input leaves the destination untouched.
func (e *Engine) replaceSection(ctx context.Context, sessionID, section string, value any) error {
	if isEmpty(value) {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", section, err)
	}
	return e.docs.SetSection(ctx, sessionID, section, data)
}

// replaceListSection overwrites a list section only when the incoming list
// has elements. A later completion that omits the list, or sends it empty,
// must never wipe out work from an earlier one.
func (e *Engine) replaceListSection(ctx context.Context, sessionID, section string, value any) error {
	if section == domain.SectionBlog {
		// blog nests its list: {"articles": [...]}
		obj, ok := value.(map[string]any)
		if !ok {
			return nil
		}
		articles, ok := obj["articles"].([]any)
		if !ok || len(articles) == 0 {
			return nil
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return fmt.Errorf("marshal blog: %w", err)
		}
		return e.docs.SetSection(ctx, sessionID, section, data)
	}

	list, ok := value.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", section, err)
	}
	return e.docs.SetSection(ctx, sessionID, section, data)
}

// mergeImageMap unions role → reference entries into document.images. Inline
// binary data is persisted first; entries that are neither a reference nor
// decodable image data are skipped. Persisting runs concurrently per role,
// the document write itself is a single section update.
func (e *Engine) mergeImageMap(ctx context.Context, req *domain.Request, roles map[string]any) error {
	refs := make(map[string]string, len(roles))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for role, raw := range roles {
		entry, ok := raw.(map[string]any)
		if !ok {
			e.logger.Warn().Str("request_id", req.ID).Str("role", role).Msg("image entry malformed, skipping")
			continue
		}
		data, _ := entry["data"].(string)
		if data == "" {
			e.logger.Warn().Str("request_id", req.ID).Str("role", role).Msg("image entry has no data, skipping")
			continue
		}
		filename, _ := entry["filename"].(string)

		role := role
		g.Go(func() error {
			ref, err := e.resolveImageRef(gctx, req, role, filename, data)
			if err != nil {
				return err
			}
			if ref == "" {
				return nil
			}
			mu.Lock()
			refs[role] = ref
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: persist images: %v", domain.ErrPartialMerge, err)
	}
	if len(refs) == 0 {
		return nil
	}

	current, err := e.docs.GetSection(ctx, req.SessionID, domain.SectionImages)
	if err != nil {
		return fmt.Errorf("%w: read images section: %v", domain.ErrPartialMerge, err)
	}
	images := make(map[string]string)
	if len(current) > 0 {
		if err := json.Unmarshal(current, &images); err != nil {
			return fmt.Errorf("%w: decode images section: %v", domain.ErrPartialMerge, err)
		}
	}
	for role, ref := range refs {
		images[role] = ref
	}
	data, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}
	if err := e.docs.SetSection(ctx, req.SessionID, domain.SectionImages, data); err != nil {
		return fmt.Errorf("%w: write images section: %v", domain.ErrPartialMerge, err)
	}
	return nil
}

// resolveImageRef uploads inline payloads and passes persisted references
// through unchanged. Decoding is attempted first: base64 of a JPEG starts
// with "/9j/", so a prefix check alone would misread inline JPEG data as a
// rooted path. Entries that neither decode nor look like a reference are
// skipped with an empty ref; a storage write failure aborts the merge.
func (e *Engine) resolveImageRef(ctx context.Context, req *domain.Request, role, filename, data string) (string, error) {
	decoded, contentType, err := storage.DecodeImagePayload(data)
	if err != nil {
		if storage.IsReference(data) {
			return data, nil
		}
		e.logger.Warn().Err(err).Str("request_id", req.ID).Str("role", role).Msg("image payload invalid, skipping")
		return "", nil
	}
	name := storage.SanitizeFilename(filename, contentType)
	ref, err := e.blobs.Save(ctx, req.StorageScope(), role+"_"+name, decoded, contentType)
	if err != nil {
		return "", fmt.Errorf("save %s: %w", role, err)
	}
	return ref, nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}
