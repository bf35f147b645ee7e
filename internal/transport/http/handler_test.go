package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cwrk-planet/code-room/internal/assist"
	"github.com/cwrk-planet/code-room/internal/domain"
	"github.com/cwrk-planet/code-room/internal/mocks"
	"github.com/cwrk-planet/code-room/internal/service"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeFixer struct {
	fix assist.Fix
	err error
	got assist.FixRequest
}

func (f *fakeFixer) FixCode(_ context.Context, req assist.FixRequest) (assist.Fix, error) {
	f.got = req
	return f.fix, f.err
}

type fakeTools map[domain.Language]bool

func (f fakeTools) Available() map[domain.Language]bool { return f }

type fakeSessions int

func (f fakeSessions) Connections() int { return int(f) }

func newTestRouter(t *testing.T, d Deps) http.Handler {
	t.Helper()
	if d.Rooms == nil {
		d.Rooms = service.NewRoomService(service.RoomOptions{})
	}
	if d.Chat == nil {
		d.Chat = service.NewChatService()
	}
	if d.Runs == nil {
		d.Runs = service.NewRunService(nil, nil, nil)
	}
	if d.Assist == nil {
		d.Assist = &fakeFixer{}
	}
	ws := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }
	return NewRouter(NewHandler(d), ws, nil)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestRouter(t, Deps{}), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestWebsocketRouteIsMounted(t *testing.T) {
	rec := do(t, newTestRouter(t, Deps{}), http.MethodGet, "/ws", "")
	require.Equal(t, http.StatusTeapot, rec.Code)
}

func TestReadyz(t *testing.T) {
	h := newTestRouter(t, Deps{Checks: map[string]Check{
		"postgres": func(context.Context) error { return nil },
	}})
	rec := do(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[ReadyResponse](t, rec)
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, "ok", resp.Checks["postgres"])

	h = newTestRouter(t, Deps{Checks: map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}})
	rec = do(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp = decodeBody[ReadyResponse](t, rec)
	require.Equal(t, "degraded", resp.Status)
	require.Equal(t, "connection refused", resp.Checks["redis"])
}

func TestRooms(t *testing.T) {
	rooms := service.NewRoomService(service.RoomOptions{})
	rooms.Join("r1", "alice")
	rooms.SetCode("r1", "print(1)")
	h := newTestRouter(t, Deps{Rooms: rooms})

	rec := do(t, h, http.MethodGet, "/api/rooms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[RoomsListResponse](t, rec)
	require.Len(t, list.Items, 1)
	require.Equal(t, "r1", list.Items[0].ID)

	rec = do(t, h, http.MethodGet, "/api/rooms/r1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rm := decodeBody[domain.Room](t, rec)
	require.Equal(t, "print(1)", rm.Code)
	require.Equal(t, []string{"alice"}, rm.Participants)

	rec = do(t, h, http.MethodGet, "/api/rooms/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns_AuditDisabled(t *testing.T) {
	rec := do(t, newTestRouter(t, Deps{}), http.MethodGet, "/api/rooms/r1/runs", "")
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestListRuns(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRunStore(ctrl)
	store.EXPECT().History(gomock.Any(), "r1", "abc", 5).
		Return([]domain.RunRecord{{ID: "x", RoomID: "r1", Kind: domain.RunOK}}, "def", nil)
	store.EXPECT().History(gomock.Any(), "r1", "bad", 0).
		Return(nil, "", fmt.Errorf("%w: invalid cursor", domain.ErrInvalidInput))

	h := newTestRouter(t, Deps{Runs: service.NewRunService(nil, nil, store)})

	rec := do(t, h, http.MethodGet, "/api/rooms/r1/runs?limit=5&cursor=abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[RunsListResponse](t, rec)
	require.Len(t, resp.Items, 1)
	require.Equal(t, "def", resp.NextCursor)

	rec = do(t, h, http.MethodGet, "/api/rooms/r1/runs?cursor=bad", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/rooms/r1/runs?limit=many", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	rooms := service.NewRoomService(service.RoomOptions{})
	rooms.Join("r1", "alice")
	chat := service.NewChatService()
	chat.Join("c1", "alice", "r1")
	chat.Join("c2", "bob", "r1")

	h := newTestRouter(t, Deps{
		Rooms:      rooms,
		Chat:       chat,
		Sessions:   fakeSessions(3),
		Toolchains: fakeTools{domain.LangPython: true, domain.LangJava: false},
	})
	rec := do(t, h, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[StatsResponse](t, rec)
	require.Equal(t, 1, resp.Rooms)
	require.Equal(t, 2, resp.ChatMembers)
	require.Equal(t, 3, resp.Connections)
	require.Equal(t, map[string]bool{"python": true, "java": false}, resp.Toolchains)
}

func TestFixCode(t *testing.T) {
	f := &fakeFixer{fix: assist.Fix{Explanation: "typo", FixedCode: "print(1)"}}
	h := newTestRouter(t, Deps{Assist: f})

	rec := do(t, h, http.MethodPost, "/ai/fix-code", `{"code":"print(1","error":"SyntaxError","language":"python"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	fix := decodeBody[assist.Fix](t, rec)
	require.Equal(t, "print(1)", fix.FixedCode)
	require.Equal(t, "SyntaxError", f.got.Error)

	// the response keeps the field names clients expect
	require.Contains(t, rec.Body.String(), `"fixedCode"`)
}

func TestFixCode_BadRequests(t *testing.T) {
	h := newTestRouter(t, Deps{})

	rec := do(t, h, http.MethodPost, "/ai/fix-code", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/ai/fix-code", `{"error":"boom"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Code")
}

func TestFixCode_UpstreamFailures(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrAssistUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: status 500: boom", domain.ErrAssistUpstream), http.StatusBadGateway},
	}
	for _, tc := range cases {
		err, want := tc.err, tc.want
		h := newTestRouter(t, Deps{Assist: &fakeFixer{err: err}})
		rec := do(t, h, http.MethodPost, "/ai/fix-code", `{"code":"x","language":"java"}`)
		require.Equal(t, want, rec.Code, err.Error())
		resp := decodeBody[ErrorResponse](t, rec)
		require.NotEmpty(t, resp.Error)
	}
}

func TestToHTTP(t *testing.T) {
	require.Equal(t, http.StatusTooManyRequests, ToHTTP(domain.ErrRateLimited))
	require.Equal(t, http.StatusInternalServerError, ToHTTP(errors.New("other")))
}
