package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/events"
)

type recordingMerger struct {
	mu      sync.Mutex
	applied []*domain.Request
	err     error
}

func (m *recordingMerger) Apply(_ context.Context, req *domain.Request) error {
	m.mu.Lock()
	m.applied = append(m.applied, req)
	m.mu.Unlock()
	return m.err
}

type recordingSink struct {
	mu   sync.Mutex
	keys []string
}

func (s *recordingSink) Publish(_ context.Context, key string, _ any) {
	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.mu.Unlock()
}

func (s *recordingSink) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k == key {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T) (*Service, *repo.RequestRepositoryMem, *recordingMerger, *recordingSink) {
	t.Helper()
	requests := repo.NewMemoryRequestRepository()
	merger := &recordingMerger{}
	sink := &recordingSink{}
	return NewService(requests, merger, sink, zerolog.Nop()), requests, merger, sink
}

func createRequest(t *testing.T, svc *Service, reqType domain.RequestType) *domain.Request {
	t.Helper()
	req, err := svc.Create(context.Background(), CreateInput{
		CustomerID:   "cust-1",
		SessionID:    "sess-1",
		Type:         reqType,
		BusinessType: "barbershop",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return req
}

func TestCreateDefaults(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	req := createRequest(t, svc, domain.RequestTypeServices)
	if req.Status != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING", req.Status)
	}
	if req.Priority != domain.PriorityNormal {
		t.Fatalf("priority = %s, want normal", req.Priority)
	}
	if req.ID == "" {
		t.Fatal("id not generated")
	}
}

func TestCreateRequiresIdentity(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), CreateInput{Type: domain.RequestTypeContent})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing customer, got %v", err)
	}
	_, err = svc.Create(context.Background(), CreateInput{CustomerID: "c"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing type, got %v", err)
	}
}

func TestAssignOnlyFromPending(t *testing.T) {
	svc, _, _, sink := newTestService(t)
	ctx := context.Background()
	req := createRequest(t, svc, domain.RequestTypeContent)

	assigned, err := svc.Assign(ctx, req.ID, "admin-a")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if assigned.Status != domain.StatusAssigned || assigned.AdminID != "admin-a" {
		t.Fatalf("assign result: status=%s admin=%s", assigned.Status, assigned.AdminID)
	}
	if assigned.AssignedAt == nil {
		t.Fatal("assignedAt not set")
	}
	if !sink.has(events.KeyRequestAssigned) {
		t.Fatal("assigned event not published")
	}

	_, err = svc.Assign(ctx, req.ID, "admin-b")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second assign: expected ErrInvalidTransition, got %v", err)
	}

	current, err := svc.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if current.Status != domain.StatusAssigned || current.AdminID != "admin-a" {
		t.Fatalf("record changed by failed assign: status=%s admin=%s", current.Status, current.AdminID)
	}
}

func TestAssignRaceHasSingleWinner(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	req := createRequest(t, svc, domain.RequestTypeContent)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Assign(ctx, req.ID, fmt.Sprintf("admin-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var wins int
	for err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("assign winners = %d, want exactly 1", wins)
	}
}

func TestStartRequiresOwnership(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	req := createRequest(t, svc, domain.RequestTypeContent)

	if _, err := svc.Start(ctx, req.ID, "admin-a"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("start before assign: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := svc.Assign(ctx, req.ID, "admin-a"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := svc.Start(ctx, req.ID, "admin-b"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("start by wrong admin: expected ErrInvalidTransition, got %v", err)
	}

	started, err := svc.Start(ctx, req.ID, "admin-a")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Status != domain.StatusProcessing || started.StartedAt == nil {
		t.Fatalf("start result: status=%s startedAt=%v", started.Status, started.StartedAt)
	}
}

func TestCompleteLifecycle(t *testing.T) {
	svc, _, merger, sink := newTestService(t)
	ctx := context.Background()
	req := createRequest(t, svc, domain.RequestTypeServices)

	if _, err := svc.Assign(ctx, req.ID, "admin-a"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := svc.Start(ctx, req.ID, "admin-a"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cost := 12.5
	content := map[string]any{"services": []any{map[string]any{"name": "cut"}}}
	done, err := svc.Complete(ctx, req.ID, "admin-a", content, "all set", &cost)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", done.Status)
	}
	if done.CompletedAt == nil || done.ProcessingDuration == nil {
		t.Fatalf("completion fields missing: completedAt=%v duration=%v", done.CompletedAt, done.ProcessingDuration)
	}
	if done.ActualCost != cost {
		t.Fatalf("actualCost = %v, want %v", done.ActualCost, cost)
	}
	if len(merger.applied) != 1 || merger.applied[0].ID != req.ID {
		t.Fatalf("merge engine not invoked with completed request")
	}
	if !sink.has(events.KeyRequestCompleted) {
		t.Fatal("completed event not published")
	}

	if _, err := svc.Complete(ctx, req.ID, "admin-a", content, "", nil); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second complete: expected ErrInvalidTransition, got %v", err)
	}
}

func TestCompleteSurvivesMergeFailure(t *testing.T) {
	svc, _, merger, sink := newTestService(t)
	merger.err = fmt.Errorf("%w: document missing", domain.ErrPartialMerge)
	ctx := context.Background()
	req := createRequest(t, svc, domain.RequestTypeContent)

	if _, err := svc.Assign(ctx, req.ID, "admin-a"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := svc.Start(ctx, req.ID, "admin-a"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done, err := svc.Complete(ctx, req.ID, "admin-a", map[string]any{"hero": map[string]any{"title": "x"}}, "", nil)
	if err != nil {
		t.Fatalf("Complete must not fail on merge error, got %v", err)
	}
	if done.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED despite merge failure", done.Status)
	}
	if !sink.has(events.KeyMergeFailed) {
		t.Fatal("merge_failed event not published")
	}
}

func TestCompleteRequiresContent(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	req := createRequest(t, svc, domain.RequestTypeContent)
	if _, err := svc.Assign(ctx, req.ID, "admin-a"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := svc.Start(ctx, req.ID, "admin-a"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := svc.Complete(ctx, req.ID, "admin-a", nil, "", nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for nil content, got %v", err)
	}

	// validation happens before the status write
	current, _ := svc.Get(ctx, req.ID)
	if current.Status != domain.StatusProcessing {
		t.Fatalf("status = %s, want PROCESSING untouched", current.Status)
	}
}

func TestRejectRequiresOwnerAndReason(t *testing.T) {
	svc, _, _, sink := newTestService(t)
	ctx := context.Background()
	req := createRequest(t, svc, domain.RequestTypeContent)

	if _, err := svc.Reject(ctx, req.ID, "admin-a", "nope"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("reject unowned: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := svc.Assign(ctx, req.ID, "admin-a"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := svc.Reject(ctx, req.ID, "admin-a", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("reject without reason: expected ErrValidation, got %v", err)
	}
	if _, err := svc.Reject(ctx, req.ID, "admin-b", "mine?"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("reject by non-owner: expected ErrInvalidTransition, got %v", err)
	}

	rejected, err := svc.Reject(ctx, req.ID, "admin-a", "cannot fulfill")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != domain.StatusRejected || rejected.ErrorMessage != "cannot fulfill" || rejected.CompletedAt == nil {
		t.Fatalf("reject result: %+v", rejected)
	}
	if !sink.has(events.KeyRequestRejected) {
		t.Fatal("rejected event not published")
	}
}

func TestCancelAndFail(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	req := createRequest(t, svc, domain.RequestTypeContent)
	cancelled, err := svc.Cancel(ctx, req.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", cancelled.Status)
	}
	if _, err := svc.Cancel(ctx, req.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("cancel terminal: expected ErrInvalidTransition, got %v", err)
	}

	other := createRequest(t, svc, domain.RequestTypeContent)
	failed, err := svc.MarkFailed(ctx, other.ID, "generation blew up")
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if failed.Status != domain.StatusFailed || failed.RetryCount != 1 || failed.ErrorMessage != "generation blew up" {
		t.Fatalf("fail result: %+v", failed)
	}
}

func TestUpdateCannotTouchStatus(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	req := createRequest(t, svc, domain.RequestTypeContent)

	prio := domain.PriorityUrgent
	notes := "customer called twice"
	updated, err := svc.Update(ctx, req.ID, domain.RequestPatch{Priority: &prio, Notes: &notes})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Priority != domain.PriorityUrgent || updated.Notes != notes {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if updated.Status != domain.StatusPending {
		t.Fatalf("status changed by patch: %s", updated.Status)
	}

	bad := domain.Priority("asap")
	if _, err := svc.Update(ctx, req.ID, domain.RequestPatch{Priority: &bad}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for bad priority, got %v", err)
	}
}

func TestStatsFixture(t *testing.T) {
	svc, requests, _, _ := newTestService(t)
	ctx := context.Background()

	var seq int
	seed := func(status domain.RequestStatus, duration *int64, cost float64) {
		seq++
		req := &domain.Request{
			ID:                 fmt.Sprintf("req-%d", seq),
			CustomerID:         "c",
			Type:               domain.RequestTypeContent,
			Status:             status,
			Priority:           domain.PriorityNormal,
			ActualCost:         cost,
			ProcessingDuration: duration,
			CreatedAt:          time.Now(),
		}
		requests.Seed(req)
	}
	dur := func(v int64) *int64 { return &v }

	for i := 0; i < 3; i++ {
		seed(domain.StatusPending, nil, 0)
	}
	seed(domain.StatusAssigned, nil, 0)
	seed(domain.StatusAssigned, nil, 0)
	seed(domain.StatusProcessing, nil, 0)
	seed(domain.StatusCompleted, dur(100), 10)
	seed(domain.StatusCompleted, dur(200), 20)
	seed(domain.StatusCompleted, dur(330), 30)
	seed(domain.StatusRejected, nil, 999) // rejected revenue must not count

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 10 {
		t.Fatalf("total = %d, want 10", stats.Total)
	}
	want := map[domain.RequestStatus]int64{
		domain.StatusPending:    3,
		domain.StatusAssigned:   2,
		domain.StatusProcessing: 1,
		domain.StatusCompleted:  3,
		domain.StatusRejected:   1,
	}
	for status, count := range want {
		if stats.ByStatus[status] != count {
			t.Errorf("count[%s] = %d, want %d", status, stats.ByStatus[status], count)
		}
	}
	if stats.AverageProcessingTime != 210 {
		t.Errorf("averageProcessingTime = %d, want 210", stats.AverageProcessingTime)
	}
	if stats.TotalRevenue != 60 {
		t.Errorf("totalRevenue = %v, want 60", stats.TotalRevenue)
	}
}

func TestOverdueOnlyOldPending(t *testing.T) {
	svc, requests, _, _ := newTestService(t)
	ctx := context.Background()

	requests.Seed(&domain.Request{
		ID: "old-pending", CustomerID: "c", Type: domain.RequestTypeContent,
		Status: domain.StatusPending, Priority: domain.PriorityNormal,
		CreatedAt: time.Now().Add(-25 * time.Hour),
	})
	requests.Seed(&domain.Request{
		ID: "older-pending", CustomerID: "c", Type: domain.RequestTypeContent,
		Status: domain.StatusPending, Priority: domain.PriorityNormal,
		CreatedAt: time.Now().Add(-48 * time.Hour),
	})
	requests.Seed(&domain.Request{
		ID: "old-completed", CustomerID: "c", Type: domain.RequestTypeContent,
		Status: domain.StatusCompleted, Priority: domain.PriorityNormal,
		CreatedAt: time.Now().Add(-48 * time.Hour),
	})
	requests.Seed(&domain.Request{
		ID: "fresh-pending", CustomerID: "c", Type: domain.RequestTypeContent,
		Status: domain.StatusPending, Priority: domain.PriorityNormal,
		CreatedAt: time.Now().Add(-time.Hour),
	})

	overdue, err := svc.Overdue(ctx)
	if err != nil {
		t.Fatalf("Overdue: %v", err)
	}
	if len(overdue) != 2 {
		t.Fatalf("overdue count = %d, want 2", len(overdue))
	}
	if overdue[0].ID != "older-pending" || overdue[1].ID != "old-pending" {
		t.Fatalf("overdue order wrong: %s, %s", overdue[0].ID, overdue[1].ID)
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		req := createRequest(t, svc, domain.RequestTypeContent)
		if i < 2 {
			if _, err := svc.Assign(ctx, req.ID, "admin-a"); err != nil {
				t.Fatalf("Assign: %v", err)
			}
		}
	}

	page, err := svc.List(ctx, domain.RequestFilter{Status: domain.StatusPending}, 1, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 3 {
		t.Fatalf("total = %d, want 3", page.Total)
	}
	if len(page.Items) != 2 {
		t.Fatalf("page size = %d, want 2", len(page.Items))
	}
	if page.TotalPages != 2 {
		t.Fatalf("totalPages = %d, want 2", page.TotalPages)
	}

	if _, err := svc.List(ctx, domain.RequestFilter{Status: "LIMBO"}, 1, 10); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown status filter, got %v", err)
	}
}

func TestByAdminIncludesTerminalWork(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	first := createRequest(t, svc, domain.RequestTypeContent)
	if _, err := svc.Assign(ctx, first.ID, "admin-a"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := svc.Reject(ctx, first.ID, "admin-a", "out of scope"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	second := createRequest(t, svc, domain.RequestTypeContent)
	if _, err := svc.Assign(ctx, second.ID, "admin-a"); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	mine, err := svc.ByAdmin(ctx, "admin-a")
	if err != nil {
		t.Fatalf("ByAdmin: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("byAdmin count = %d, want 2", len(mine))
	}
}
