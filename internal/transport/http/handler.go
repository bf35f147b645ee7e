package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cwrk-planet/code-room/internal/assist"
	"github.com/cwrk-planet/code-room/internal/domain"
	"github.com/cwrk-planet/code-room/internal/service"
	"github.com/cwrk-planet/code-room/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

const (
	maxFixBody   = 2 << 20
	checkTimeout = 2 * time.Second
)

type Fixer interface {
	FixCode(ctx context.Context, req assist.FixRequest) (assist.Fix, error)
}

type Toolchains interface {
	Available() map[domain.Language]bool
}

type ConnCounter interface {
	Connections() int
}

// Check is a named readiness check, e.g. a database ping.
type Check func(ctx context.Context) error

type Deps struct {
	Rooms      *service.RoomService
	Chat       *service.ChatService
	Runs       *service.RunService
	Sessions   ConnCounter
	Toolchains Toolchains
	Assist     Fixer
	Checks     map[string]Check
}

type Handler struct {
	Deps
	validate *validator.Validate
	started  time.Time
}

func NewHandler(d Deps) *Handler {
	return &Handler{Deps: d, validate: validator.New(), started: time.Now()}
}

// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// GET /readyz
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ok", Checks: make(map[string]string, len(h.Checks))}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, check := range h.Checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()

			res := "ok"
			if err := check(ctx); err != nil {
				res = err.Error()
			}
			mu.Lock()
			resp.Checks[name] = res
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	status := http.StatusOK
	if lo.SomeBy(lo.Values(resp.Checks), func(v string) bool { return v != "ok" }) {
		status = http.StatusServiceUnavailable
		resp.Status = "degraded"
	}
	writeJSON(w, status, resp)
}

// GET /api/stats
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{
		Rooms:       h.Rooms.Count(),
		ChatMembers: h.Chat.Count(),
		Toolchains:  map[string]bool{},
		Uptime:      time.Since(h.started).Round(time.Second).String(),
		Process:     processStats(),
		Host:        hostStats(),
	}
	if h.Sessions != nil {
		resp.Connections = h.Sessions.Connections()
	}
	if h.Toolchains != nil {
		resp.Toolchains = lo.MapKeys(h.Toolchains.Available(), func(_ bool, l domain.Language) string { return string(l) })
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/rooms
func (h *Handler) ListRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RoomsListResponse{Items: h.Rooms.List()})
}

// GET /api/rooms/{id}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rm, ok := h.Rooms.Get(id)
	if !ok {
		writeError(w, fmt.Errorf("room %q: %w", id, domain.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// GET /api/rooms/{id}/runs?limit=&cursor=
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrInvalidInput))
			return
		}
		limit = n
	}

	runs, next, err := h.Runs.History(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		if ToHTTP(err) == http.StatusInternalServerError {
			logger.FromContext(r.Context()).Error("handler.ListRuns", "err", err)
		}
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []domain.RunRecord{}
	}
	writeJSON(w, http.StatusOK, RunsListResponse{Items: runs, NextCursor: next})
}

// POST /ai/fix-code
func (h *Handler) FixCode(w http.ResponseWriter, r *http.Request) {
	var req assist.FixRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFixBody)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid json", domain.ErrInvalidInput))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := lo.Map(verrs, func(fe validator.FieldError, _ int) string { return fe.Field() })
			err = fmt.Errorf("%w: missing %v", domain.ErrInvalidInput, fields)
		}
		writeError(w, err)
		return
	}

	fix, err := h.Assist.FixCode(r.Context(), req)
	if err != nil {
		logger.FromContext(r.Context()).Warn("handler.FixCode", "language", req.Language, "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fix)
}
