package drafts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/adapter/repo"
	"server/internal/domain"
)

type fakeBlobStore struct {
	mu    sync.Mutex
	saved map[string][]byte
	err   error
}

func (f *fakeBlobStore) Save(_ context.Context, scope, filename string, data []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string][]byte)
	}
	key := scope + "/" + filename
	f.saved[key] = data
	return "/static/" + key, nil
}

func (f *fakeBlobStore) Cleanup(_ context.Context, _ string) {}

var pngSig = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

func pngPayload(extra int) string {
	data := append(append([]byte{}, pngSig...), make([]byte, extra)...)
	return base64.StdEncoding.EncodeToString(data)
}

func seedRequest(t *testing.T, requests *repo.RequestRepositoryMem, id string) {
	t.Helper()
	requests.Seed(&domain.Request{
		ID:         id,
		CustomerID: "cust-1",
		SessionID:  "sess-1",
		Type:       domain.RequestTypeImages,
		Status:     domain.StatusProcessing,
		Priority:   domain.PriorityNormal,
		AdminID:    "admin-a",
		CreatedAt:  time.Now(),
	})
}

func newTestService(t *testing.T) (*Service, *repo.RequestRepositoryMem, *fakeBlobStore) {
	t.Helper()
	requests := repo.NewMemoryRequestRepository()
	blobs := &fakeBlobStore{}
	return NewService(requests, blobs, zerolog.Nop()), requests, blobs
}

func TestSaveDraftUpsertsAndBumpsVersion(t *testing.T) {
	svc, requests, blobs := newTestService(t)
	ctx := context.Background()
	seedRequest(t, requests, "req-1")

	res, err := svc.SaveDraft(ctx, "req-1", "hero", "banner.png", pngPayload(64))
	if err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	if res.Version != 1 {
		t.Fatalf("version = %d, want 1", res.Version)
	}
	if res.Slot.URL == "" || !strings.HasSuffix(res.Slot.Filename, ".png") {
		t.Fatalf("slot not populated: %+v", res.Slot)
	}
	if len(blobs.saved) != 1 {
		t.Fatalf("blob count = %d, want 1", len(blobs.saved))
	}

	// same role again: one slot, version moves again
	res, err = svc.SaveDraft(ctx, "req-1", "hero", "banner2.png", pngPayload(64))
	if err != nil {
		t.Fatalf("SaveDraft overwrite: %v", err)
	}
	if res.Version != 2 {
		t.Fatalf("version = %d, want 2", res.Version)
	}
	if len(res.Drafts) != 1 {
		t.Fatalf("drafts = %d roles, want 1", len(res.Drafts))
	}
}

func TestSaveDraftConcurrentRolesCountEveryWrite(t *testing.T) {
	svc, requests, _ := newTestService(t)
	ctx := context.Background()
	seedRequest(t, requests, "req-1")

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.SaveDraft(ctx, "req-1", fmt.Sprintf("slot-%d", i), "img.png", pngPayload(16))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("SaveDraft: %v", err)
		}
	}

	drafts, err := svc.GetDrafts(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetDrafts: %v", err)
	}
	if len(drafts) != n {
		t.Fatalf("drafts = %d roles, want %d", len(drafts), n)
	}
	req, err := requests.GetByID(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if req.ImagesVersion != n {
		t.Fatalf("version = %d, want %d", req.ImagesVersion, n)
	}
}

func TestSaveDraftRejectsOversizePayload(t *testing.T) {
	svc, requests, blobs := newTestService(t)
	ctx := context.Background()
	seedRequest(t, requests, "req-1")

	_, err := svc.SaveDraft(ctx, "req-1", "hero", "huge.png", pngPayload(10<<20))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for oversize payload, got %v", err)
	}
	if len(blobs.saved) != 0 {
		t.Fatal("rejected payload reached storage")
	}
	req, _ := requests.GetByID(ctx, "req-1")
	if req.ImagesVersion != 0 || len(req.ImagesDraft) != 0 {
		t.Fatalf("rejected payload mutated draft state: version=%d drafts=%d", req.ImagesVersion, len(req.ImagesDraft))
	}
}

func TestSaveDraftRejectsNonImage(t *testing.T) {
	svc, requests, _ := newTestService(t)
	ctx := context.Background()
	seedRequest(t, requests, "req-1")

	payload := base64.StdEncoding.EncodeToString([]byte("<html>not an image</html>"))
	if _, err := svc.SaveDraft(ctx, "req-1", "hero", "page.html", payload); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for non-image, got %v", err)
	}
}

func TestSaveDraftValidation(t *testing.T) {
	svc, requests, _ := newTestService(t)
	ctx := context.Background()
	seedRequest(t, requests, "req-1")

	if _, err := svc.SaveDraft(ctx, "req-1", "", "a.png", pngPayload(8)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty role, got %v", err)
	}
	if _, err := svc.SaveDraft(ctx, "missing", "hero", "a.png", pngPayload(8)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown request, got %v", err)
	}
}

func TestSaveDraftStorageFailure(t *testing.T) {
	svc, requests, blobs := newTestService(t)
	blobs.err = errors.New("disk full")
	ctx := context.Background()
	seedRequest(t, requests, "req-1")

	_, err := svc.SaveDraft(ctx, "req-1", "hero", "a.png", pngPayload(8))
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	req, _ := requests.GetByID(ctx, "req-1")
	if req.ImagesVersion != 0 {
		t.Fatalf("failed save moved version to %d", req.ImagesVersion)
	}
}

func TestDeleteDraft(t *testing.T) {
	svc, requests, _ := newTestService(t)
	ctx := context.Background()
	seedRequest(t, requests, "req-1")

	if _, err := svc.SaveDraft(ctx, "req-1", "hero", "a.png", pngPayload(8)); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}

	res, err := svc.DeleteDraft(ctx, "req-1", "hero")
	if err != nil {
		t.Fatalf("DeleteDraft: %v", err)
	}
	if len(res.Drafts) != 0 {
		t.Fatalf("drafts = %d roles after delete, want 0", len(res.Drafts))
	}
	if res.Version != 2 {
		t.Fatalf("version = %d, want 2", res.Version)
	}

	// deleting an absent role still succeeds and moves the version
	res, err = svc.DeleteDraft(ctx, "req-1", "ghost")
	if err != nil {
		t.Fatalf("DeleteDraft absent role: %v", err)
	}
	if res.Version != 3 {
		t.Fatalf("version = %d, want 3", res.Version)
	}

	if _, err := svc.DeleteDraft(ctx, "req-1", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty role, got %v", err)
	}
	if _, err := svc.DeleteDraft(ctx, "missing", "hero"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
