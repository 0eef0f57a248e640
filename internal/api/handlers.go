// Package api exposes HTTP handlers for the facility board service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/kennelboard/internal/auth"
	"example.com/kennelboard/internal/cache"
	"example.com/kennelboard/internal/domain"
	"example.com/kennelboard/internal/observability"
	"example.com/kennelboard/internal/persistence"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	boards  cache.BoardCache
}

// NewHandler builds a Handler. A nil board cache disables caching.
func NewHandler(service *domain.Service, boards cache.BoardCache) *Handler {
	if boards == nil {
		boards = cache.Noop{}
	}
	return &Handler{service: service, boards: boards}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/board", h.board)
	mux.HandleFunc("/v1/activity-types", h.activityTypes)
	mux.HandleFunc("/v1/entities/", h.entitySubresource)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) entitySubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/entities/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing entity id")
		return
	}
	entityID, action := parts[0], parts[1]

	switch {
	case action == "transition" && r.Method == http.MethodPost:
		h.transition(w, r, entityID)
	case action == "end" && r.Method == http.MethodPost:
		h.endActivity(w, r, entityID)
	case action == "timeline" && r.Method == http.MethodGet:
		h.timeline(w, r, entityID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, entityID string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeBoardWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope board:write required")
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.TypeCode) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "type_code is required")
		return
	}

	inst, unchanged, err := h.service.Transition(r.Context(), domain.TransitionInput{
		FacilityID:  claims.FacilityID,
		EntityID:    entityID,
		TypeCode:    req.TypeCode,
		PerformedBy: claims.Subject,
		Notes:       req.Notes,
	})
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}

	if unchanged {
		observability.RecordTransition(observability.TransitionNoop)
	} else {
		observability.RecordTransition(observability.TransitionApplied)
		// Stale cache self-corrects at TTL, so invalidation failures do
		// not fail the request.
		_ = h.boards.Invalidate(r.Context(), claims.FacilityID)
	}

	writeJSON(w, http.StatusOK, TransitionResponse{
		Instance:  toInstanceView(*inst),
		Unchanged: unchanged,
	})
}

func (h *Handler) endActivity(w http.ResponseWriter, r *http.Request, entityID string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeBoardWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope board:write required")
		return
	}

	inst, unchanged, err := h.service.EndActivity(r.Context(), claims.FacilityID, entityID, claims.Subject)
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}

	if unchanged {
		observability.RecordTransition(observability.TransitionNoop)
	} else {
		observability.RecordTransition(observability.TransitionApplied)
		_ = h.boards.Invalidate(r.Context(), claims.FacilityID)
	}

	writeJSON(w, http.StatusOK, TransitionResponse{
		Instance:  toInstanceView(*inst),
		Unchanged: unchanged,
	})
}

func (h *Handler) writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrEntityNotFound):
		observability.RecordTransition(observability.TransitionRejected)
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrUnknownActivityType), errors.Is(err, domain.ErrNoActiveProgram):
		observability.RecordTransition(observability.TransitionRejected)
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrConflict):
		observability.RecordTransition(observability.TransitionConflict)
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		observability.RecordTransition(observability.TransitionError)
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func (h *Handler) board(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeBoardRead) && !claims.HasScope(auth.ScopeBoardWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope board:read required")
		return
	}

	if snap, hit, err := h.boards.Get(r.Context(), claims.FacilityID); err == nil && hit {
		// Timer states were classified when the snapshot was built, so
		// rescore against the current clock before serving.
		snap.RefreshTimers(time.Now().UTC())
		writeJSON(w, http.StatusOK, toBoardView(snap, true))
		return
	}

	start := time.Now()
	snap, err := h.service.CurrentBoard(r.Context(), claims.FacilityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	observability.ObserveBoardBuild(time.Since(start))

	_ = h.boards.Set(r.Context(), snap)
	writeJSON(w, http.StatusOK, toBoardView(snap, false))
}

func (h *Handler) activityTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeBoardRead) && !claims.HasScope(auth.ScopeBoardWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope board:read required")
		return
	}

	reg, err := h.service.Registry(r.Context(), claims.FacilityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	types := reg.Types()
	views := make([]ActivityTypeView, 0, len(types))
	for _, def := range types {
		views = append(views, toActivityTypeView(def))
	}
	writeJSON(w, http.StatusOK, ActivityTypesResponse{Types: views})
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request, entityID string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeBoardRead) && !claims.HasScope(auth.ScopeBoardWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope board:read required")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	instances, next, err := h.service.EntityTimeline(r.Context(), claims.FacilityID, entityID, cursor, limit)
	if err != nil {
		if errors.Is(err, domain.ErrEntityNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "entity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]InstanceView, 0, len(instances))
	for _, inst := range instances {
		items = append(items, toInstanceView(inst))
	}
	writeJSON(w, http.StatusOK, TimelineResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

// TransitionRequest is the payload for POST /v1/entities/{id}/transition.
type TransitionRequest struct {
	TypeCode string `json:"type_code"`
	Notes    string `json:"notes,omitempty"`
}

// TransitionResponse returns the now-open instance. Unchanged marks the
// idempotent re-drop case where no rows were written.
type TransitionResponse struct {
	Instance  InstanceView `json:"instance"`
	Unchanged bool         `json:"unchanged"`
}

// InstanceView exposes one activity log row.
type InstanceView struct {
	InstanceID  string     `json:"instance_id"`
	EntityID    string     `json:"entity_id"`
	ProgramID   string     `json:"program_id"`
	TypeCode    string     `json:"type_code"`
	PerformedBy string     `json:"performed_by"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// ActivityTypeView exposes one merged catalog entry.
type ActivityTypeView struct {
	Code           string `json:"code"`
	Label          string `json:"label"`
	Icon           string `json:"icon"`
	Color          string `json:"color"`
	MaxMinutes     int    `json:"max_minutes"`
	WarningMinutes int    `json:"warning_minutes"`
	ShowOnBoard    bool   `json:"show_on_board"`
	IsCustom       bool   `json:"is_custom"`
	SortOrder      int    `json:"sort_order"`
}

// ActivityTypesResponse packages the resolved catalog.
type ActivityTypesResponse struct {
	Types []ActivityTypeView `json:"types"`
}

// BoardCardView is one entity on the board.
type BoardCardView struct {
	EntityID   string    `json:"entity_id"`
	Name       string    `json:"name"`
	PhotoURL   string    `json:"photo_url,omitempty"`
	InstanceID string    `json:"instance_id"`
	StartedAt  time.Time `json:"started_at"`
	Timer      string    `json:"timer"`
}

// BoardColumnView is one board column with its cards.
type BoardColumnView struct {
	Type     ActivityTypeView `json:"type"`
	Entities []BoardCardView  `json:"entities"`
}

// BoardResponse is the full board projection.
type BoardResponse struct {
	FacilityID  string            `json:"facility_id"`
	Columns     []BoardColumnView `json:"columns"`
	GeneratedAt time.Time         `json:"generated_at"`
	FromCache   bool              `json:"from_cache"`
}

// TimelineResponse packages timeline results.
type TimelineResponse struct {
	Items      []InstanceView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func toInstanceView(inst domain.ActivityInstance) InstanceView {
	return InstanceView{
		InstanceID:  inst.ID,
		EntityID:    inst.EntityID,
		ProgramID:   inst.ProgramID,
		TypeCode:    inst.TypeCode,
		PerformedBy: inst.PerformedBy,
		StartedAt:   inst.StartedAt,
		EndedAt:     inst.EndedAt,
		Notes:       inst.Notes,
	}
}

func toActivityTypeView(def domain.ActivityTypeDefinition) ActivityTypeView {
	return ActivityTypeView{
		Code:           def.Code,
		Label:          def.Label,
		Icon:           def.Icon,
		Color:          def.Color,
		MaxMinutes:     def.MaxMinutes,
		WarningMinutes: def.WarningMinutes,
		ShowOnBoard:    def.ShowOnBoard,
		IsCustom:       def.IsCustom,
		SortOrder:      def.SortOrder,
	}
}

func toBoardView(snap *domain.BoardSnapshot, fromCache bool) BoardResponse {
	columns := make([]BoardColumnView, 0, len(snap.Columns))
	for _, col := range snap.Columns {
		cards := make([]BoardCardView, 0, len(col.Entities))
		for _, e := range col.Entities {
			cards = append(cards, BoardCardView{
				EntityID:   e.EntityID,
				Name:       e.Name,
				PhotoURL:   e.PhotoURL,
				InstanceID: e.InstanceID,
				StartedAt:  e.StartedAt,
				Timer:      string(e.Timer),
			})
		}
		columns = append(columns, BoardColumnView{Type: toActivityTypeView(col.Type), Entities: cards})
	}
	return BoardResponse{
		FacilityID:  snap.FacilityID,
		Columns:     columns,
		GeneratedAt: snap.GeneratedAt,
		FromCache:   fromCache,
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
