package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"example.com/kennelboard/internal/auth"
	"example.com/kennelboard/internal/domain"
	"example.com/kennelboard/internal/persistence/memory"
)

func newTestHandler() (*Handler, *memory.Repository, *recordingCache) {
	repo := memory.NewRepository()
	repo.AddEntity(domain.Entity{
		ID:         "dog-1",
		FacilityID: "facility-1",
		Name:       "Rex",
		ProgramID:  "program-1",
	})
	boards := &recordingCache{}
	service := domain.NewService(repo)
	return NewHandler(service, boards), repo, boards
}

func withClaims(req *http.Request, scopes ...string) *http.Request {
	scopeSet := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		scopeSet[s] = struct{}{}
	}
	claims := &auth.Claims{
		Subject:    "staff-1",
		FacilityID: "facility-1",
		Scopes:     scopeSet,
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func TestTransitionSuccess(t *testing.T) {
	handler, repo, boards := newTestHandler()

	body := strings.NewReader(`{"type_code":"play","notes":"zoomies"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/entities/dog-1/transition", body)
	req = withClaims(req, auth.ScopeBoardWrite)

	rr := httptest.NewRecorder()
	handler.transition(rr, req, "dog-1")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp TransitionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Unchanged {
		t.Fatal("expected unchanged=false for a fresh transition")
	}
	if resp.Instance.TypeCode != "play" {
		t.Fatalf("unexpected type code %s", resp.Instance.TypeCode)
	}
	if resp.Instance.EndedAt != nil {
		t.Fatal("new instance must be open")
	}
	if repo.OpenCount("dog-1") != 1 {
		t.Fatalf("expected one open instance got %d", repo.OpenCount("dog-1"))
	}
	if boards.invalidations("facility-1") != 1 {
		t.Fatalf("expected one cache invalidation got %d", boards.invalidations("facility-1"))
	}
}

func TestTransitionSameTypeSkipsInvalidation(t *testing.T) {
	handler, _, boards := newTestHandler()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/entities/dog-1/transition",
			strings.NewReader(`{"type_code":"feeding"}`))
		req = withClaims(req, auth.ScopeBoardWrite)
		rr := httptest.NewRecorder()
		handler.transition(rr, req, "dog-1")
		if rr.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200 got %d: %s", i, rr.Code, rr.Body.String())
		}
		if i == 1 {
			var resp TransitionResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if !resp.Unchanged {
				t.Fatal("expected unchanged=true on re-drop")
			}
		}
	}

	if boards.invalidations("facility-1") != 1 {
		t.Fatalf("no-op transition must not invalidate, got %d", boards.invalidations("facility-1"))
	}
}

func TestTransitionErrorMapping(t *testing.T) {
	handler, _, _ := newTestHandler()

	cases := []struct {
		name     string
		entityID string
		body     string
		want     int
	}{
		{"unknown type", "dog-1", `{"type_code":"napping"}`, http.StatusUnprocessableEntity},
		{"unknown entity", "dog-404", `{"type_code":"play"}`, http.StatusNotFound},
		{"missing type code", "dog-1", `{}`, http.StatusBadRequest},
		{"malformed body", "dog-1", `{`, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/entities/"+tc.entityID+"/transition",
				strings.NewReader(tc.body))
			req = withClaims(req, auth.ScopeBoardWrite)
			rr := httptest.NewRecorder()
			handler.transition(rr, req, tc.entityID)
			if rr.Code != tc.want {
				t.Fatalf("expected %d got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestTransitionRequiresWriteScope(t *testing.T) {
	handler, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/entities/dog-1/transition",
		strings.NewReader(`{"type_code":"play"}`))
	req = withClaims(req, auth.ScopeBoardRead)

	rr := httptest.NewRecorder()
	handler.transition(rr, req, "dog-1")

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestEndActivityMovesToKennel(t *testing.T) {
	handler, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/entities/dog-1/transition",
		strings.NewReader(`{"type_code":"walk"}`))
	req = withClaims(req, auth.ScopeBoardWrite)
	rr := httptest.NewRecorder()
	handler.transition(rr, req, "dog-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("setup transition failed: %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/entities/dog-1/end", nil)
	req = withClaims(req, auth.ScopeBoardWrite)
	rr = httptest.NewRecorder()
	handler.endActivity(rr, req, "dog-1")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp TransitionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Instance.TypeCode != domain.RestTypeCode {
		t.Fatalf("expected %s got %s", domain.RestTypeCode, resp.Instance.TypeCode)
	}
}

func TestBoardCachesSnapshot(t *testing.T) {
	handler, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/v1/board", nil)
	req = withClaims(req, auth.ScopeBoardRead)
	rr := httptest.NewRecorder()
	handler.board(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var first BoardResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &first); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if first.FromCache {
		t.Fatal("first read must build the board")
	}
	if len(first.Columns) != len(domain.BuiltinTypes()) {
		t.Fatalf("expected %d columns got %d", len(domain.BuiltinTypes()), len(first.Columns))
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/board", nil)
	req = withClaims(req, auth.ScopeBoardRead)
	rr = httptest.NewRecorder()
	handler.board(rr, req)

	var second BoardResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &second); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !second.FromCache {
		t.Fatal("second read should come from the cache")
	}
}

func TestBoardRescoresCachedTimers(t *testing.T) {
	handler, _, boards := newTestHandler()

	// A snapshot classified before the card crossed its warning
	// threshold is still sitting in the cache.
	stale := &domain.BoardSnapshot{
		FacilityID: "facility-1",
		Columns: []domain.BoardColumn{
			{
				Type: domain.ActivityTypeDefinition{Code: "play", Label: "Play Yard", WarningMinutes: 45, MaxMinutes: 60, ShowOnBoard: true},
				Entities: []domain.EntitySummary{
					{EntityID: "dog-1", Name: "Rex", TypeCode: "play", StartedAt: time.Now().UTC().Add(-50 * time.Minute), Timer: domain.TimerNormal},
				},
			},
		},
		GeneratedAt: time.Now().UTC().Add(-10 * time.Minute),
	}
	if err := boards.Set(context.Background(), stale); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/board", nil)
	req = withClaims(req, auth.ScopeBoardRead)
	rr := httptest.NewRecorder()
	handler.board(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp BoardResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.FromCache {
		t.Fatal("expected the cached snapshot to be served")
	}
	if got := resp.Columns[0].Entities[0].Timer; got != string(domain.TimerWarning) {
		t.Fatalf("expected cached card rescored to warning, got %q", got)
	}
}

func TestActivityTypesReturnsMergedCatalog(t *testing.T) {
	handler, repo, _ := newTestHandler()
	repo.SetTypeConfig("facility-1", domain.FacilityTypeConfig{
		Customs: []domain.ActivityTypeDefinition{
			{Code: "swim", Label: "Swimming", MaxMinutes: 40, WarningMinutes: 25, ShowOnBoard: true},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/activity-types", nil)
	req = withClaims(req, auth.ScopeBoardRead)
	rr := httptest.NewRecorder()
	handler.activityTypes(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp ActivityTypesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Types) != len(domain.BuiltinTypes())+1 {
		t.Fatalf("expected %d types got %d", len(domain.BuiltinTypes())+1, len(resp.Types))
	}
	last := resp.Types[len(resp.Types)-1]
	if last.Code != "swim" || !last.IsCustom {
		t.Fatalf("expected trailing custom swim, got %+v", last)
	}
}

func TestTimelinePaginates(t *testing.T) {
	handler, _, _ := newTestHandler()

	codes := []string{"play", "walk", "feeding"}
	for _, code := range codes {
		req := httptest.NewRequest(http.MethodPost, "/v1/entities/dog-1/transition",
			strings.NewReader(`{"type_code":"`+code+`"}`))
		req = withClaims(req, auth.ScopeBoardWrite)
		rr := httptest.NewRecorder()
		handler.transition(rr, req, "dog-1")
		if rr.Code != http.StatusOK {
			t.Fatalf("setup transition %s failed: %d", code, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/entities/dog-1/timeline?limit=2", nil)
	req = withClaims(req, auth.ScopeBoardRead)
	rr := httptest.NewRecorder()
	handler.timeline(rr, req, "dog-1")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var page TimelineResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items got %d", len(page.Items))
	}
	if page.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/entities/dog-1/timeline?limit=2&cursor="+url.QueryEscape(page.NextCursor), nil)
	req = withClaims(req, auth.ScopeBoardRead)
	rr = httptest.NewRecorder()
	handler.timeline(rr, req, "dog-1")

	var rest TimelineResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &rest); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(rest.Items) != 1 {
		t.Fatalf("expected 1 remaining item got %d", len(rest.Items))
	}
	if rest.Items[0].TypeCode != "play" {
		t.Fatalf("expected oldest item last, got %s", rest.Items[0].TypeCode)
	}
}

func TestRoutesRejectMissingClaims(t *testing.T) {
	handler, _, _ := newTestHandler()
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/board", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

// recordingCache counts invalidations per facility and stores at most
// one snapshot, mirroring the Redis cache contract.
type recordingCache struct {
	mu          sync.Mutex
	snapshots   map[string]*domain.BoardSnapshot
	invalidated map[string]int
}

func (c *recordingCache) Get(_ context.Context, facilityID string) (*domain.BoardSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snapshots[facilityID]
	return snap, ok, nil
}

func (c *recordingCache) Set(_ context.Context, snap *domain.BoardSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshots == nil {
		c.snapshots = make(map[string]*domain.BoardSnapshot)
	}
	c.snapshots[snap.FacilityID] = snap
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context, facilityID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invalidated == nil {
		c.invalidated = make(map[string]int)
	}
	c.invalidated[facilityID]++
	delete(c.snapshots, facilityID)
	return nil
}

func (c *recordingCache) invalidations(facilityID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidated[facilityID]
}
