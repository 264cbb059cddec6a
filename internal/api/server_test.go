package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatroom/internal/room"
	"chatroom/pkg/types"
)

const testSecret = "s3cret"

// fakeRoom returns canned results and records the last call.
type fakeRoom struct {
	mu       sync.Mutex
	calls    []string
	lastArgs []interface{}
	err      error
	history  []types.Message
}

func (f *fakeRoom) record(name string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	f.lastArgs = args
	return f.err
}

func (f *fakeRoom) History(ctx context.Context, after int64) ([]types.Message, error) {
	return f.history, f.record("History", after)
}

func (f *fakeRoom) Thread(ctx context.Context, id string) ([]types.Message, error) {
	return []types.Message{{ID: "r1", ReplyTo: id}}, f.record("Thread", id)
}

func (f *fakeRoom) Announce(ctx context.Context, text string) (int, error) {
	return 3, f.record("Announce", text)
}

func (f *fakeRoom) Warn(ctx context.Context, identity, text string) (int, error) {
	return 1, f.record("Warn", identity, text)
}

func (f *fakeRoom) PropagateDisplayName(ctx context.Context, identity, name string) (int, error) {
	return 2, f.record("PropagateDisplayName", identity, name)
}

func (f *fakeRoom) PropagateDeletion(ctx context.Context, id, parentID string) error {
	return f.record("PropagateDeletion", id, parentID)
}

func (f *fakeRoom) AdminAudit(ctx context.Context) ([]types.ThreadView, error) {
	return []types.ThreadView{{Message: types.Message{ID: "m1"}, Replies: []types.Message{}}}, f.record("AdminAudit")
}

func (f *fakeRoom) AdminDeleteMessage(ctx context.Context, id, actor string) (*types.ThreadView, error) {
	return &types.ThreadView{Message: types.Message{ID: id, Deleted: true, DeletedBy: actor}}, f.record("AdminDeleteMessage", id, actor)
}

func (f *fakeRoom) AdminDeleteReply(ctx context.Context, id, actor string) (*types.Message, error) {
	return &types.Message{ID: id, Deleted: true}, f.record("AdminDeleteReply", id, actor)
}

func (f *fakeRoom) AdminEdit(ctx context.Context, id, content string) (*types.Message, error) {
	return &types.Message{ID: id, Content: content}, f.record("AdminEdit", id, content)
}

func (f *fakeRoom) Stats() room.Stats {
	return room.Stats{Online: 4}
}

func (f *fakeRoom) last() (string, []interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return "", nil
	}
	return f.calls[len(f.calls)-1], f.lastArgs
}

type fakePinger map[string]error

func (p fakePinger) Ping(context.Context) map[string]error { return p }

func newTestServer(rm Room, storage Pinger, cfg Config) *Server {
	if cfg.InternalSecret == "" {
		cfg.InternalSecret = testSecret
	}
	return NewServer(rm, storage, nil, cfg, zerolog.Nop())
}

func do(t *testing.T, s http.Handler, method, path, body string, internal bool) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if internal {
		req.Header.Set(internalSecretHeader, testSecret)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	var resp response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestServer_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		s := newTestServer(&fakeRoom{}, fakePinger{"primary:pebble": nil, "secondary:redis": nil}, Config{})
		w, resp := do(t, s, http.MethodGet, "/health", "", false)
		assert.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, "healthy", data["status"])
		assert.EqualValues(t, 4, data["online"])
	})
	t.Run("secondary down degrades", func(t *testing.T) {
		s := newTestServer(&fakeRoom{}, fakePinger{"primary:pebble": nil, "secondary:redis": errors.New("refused")}, Config{})
		w, resp := do(t, s, http.MethodGet, "/health", "", false)
		assert.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, "degraded", data["status"])
		assert.Equal(t, "refused", data["storage"].(map[string]interface{})["secondary:redis"])
	})
	t.Run("primary down is unhealthy", func(t *testing.T) {
		s := newTestServer(&fakeRoom{}, fakePinger{"primary:pebble": errors.New("closed"), "secondary:redis": nil}, Config{})
		w, _ := do(t, s, http.MethodGet, "/health", "", false)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestServer_History(t *testing.T) {
	rm := &fakeRoom{history: []types.Message{{ID: "a", Content: "hi"}}}
	s := newTestServer(rm, nil, Config{})

	w, resp := do(t, s, http.MethodGet, "/api/history?after=1700000000000", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	name, args := rm.last()
	assert.Equal(t, "History", name)
	assert.Equal(t, []interface{}{int64(1700000000000)}, args)
	messages := resp.Data.(map[string]interface{})["messages"].([]interface{})
	assert.Len(t, messages, 1)

	w, resp = do(t, s, http.MethodGet, "/api/history?after=yesterday", "", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "invalid_request", resp.Error.Code)
}

func TestServer_ThreadNotFound(t *testing.T) {
	rm := &fakeRoom{err: room.ErrNotFound}
	s := newTestServer(rm, nil, Config{})

	w, resp := do(t, s, http.MethodGet, "/api/thread/missing", "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestServer_InternalRoutesRequireSecret(t *testing.T) {
	rm := &fakeRoom{}
	s := newTestServer(rm, nil, Config{})

	routes := []struct{ method, path, body string }{
		{http.MethodPost, "/api/announce", `{"message":"hi"}`},
		{http.MethodPost, "/api/warn", `{"walletAddress":"0xa","message":"hi"}`},
		{http.MethodPost, "/api/displayname", `{"walletAddress":"0xa","displayName":"A"}`},
		{http.MethodPost, "/api/deletion", `{"id":"m1"}`},
		{http.MethodGet, "/api/admin/messages", ""},
		{http.MethodDelete, "/api/admin/messages/m1", ""},
		{http.MethodPut, "/api/admin/messages/m1", `{"content":"x"}`},
		{http.MethodDelete, "/api/admin/replies/r1", ""},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w, resp := do(t, s, rt.method, rt.path, rt.body, false)
			assert.Equal(t, http.StatusForbidden, w.Code)
			assert.Equal(t, "forbidden", resp.Error.Code)

			req := httptest.NewRequest(rt.method, rt.path, strings.NewReader(rt.body))
			req.Header.Set(internalSecretHeader, "wrong")
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusForbidden, rec.Code)

			w, _ = do(t, s, rt.method, rt.path, rt.body, true)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
	rm.mu.Lock()
	assert.Len(t, rm.calls, len(routes), "refused requests never reach the room")
	rm.mu.Unlock()
}

func TestServer_UnsetSecretLocksInternalRoutes(t *testing.T) {
	s := NewServer(&fakeRoom{}, nil, nil, Config{}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/api/admin/messages", nil)
	req.Header.Set(internalSecretHeader, "")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServer_ModerationArguments(t *testing.T) {
	rm := &fakeRoom{}
	s := newTestServer(rm, nil, Config{})

	req := httptest.NewRequest(http.MethodDelete, "/api/admin/messages/m42", nil)
	req.Header.Set(internalSecretHeader, testSecret)
	req.Header.Set("X-Admin-Identity", "mod@example.com")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	name, args := rm.last()
	assert.Equal(t, "AdminDeleteMessage", name)
	assert.Equal(t, []interface{}{"m42", "mod@example.com"}, args)

	w, resp := do(t, s, http.MethodPut, "/api/admin/messages/m42", `{"content":"fixed"}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fixed", resp.Data.(map[string]interface{})["content"])

	w, resp = do(t, s, http.MethodPost, "/api/announce", `{"message":"maintenance"}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, resp.Data.(map[string]interface{})["delivered"])
}

func TestServer_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{room.ErrValidation, http.StatusBadRequest},
		{room.ErrMissingIdentity, http.StatusBadRequest},
		{room.ErrNotFound, http.StatusNotFound},
		{room.ErrNotRunning, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			s := newTestServer(&fakeRoom{err: tc.err}, nil, Config{})
			w, resp := do(t, s, http.MethodPost, "/api/announce", `{"message":"x"}`, true)
			assert.Equal(t, tc.want, w.Code)
			assert.False(t, resp.Success)
		})
	}
}

func TestServer_InvalidBody(t *testing.T) {
	s := newTestServer(&fakeRoom{}, nil, Config{})
	w, resp := do(t, s, http.MethodPost, "/api/warn", `{not json`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", resp.Error.Code)
}

func TestServer_RateLimitPerIP(t *testing.T) {
	s := newTestServer(&fakeRoom{}, nil, Config{RateLimit: 1, RateBurst: 2})

	get := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
		req.RemoteAddr = ip + ":5555"
		w := httptest.NewRecorder()
		s.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, get("10.0.0.1"))
	assert.Equal(t, http.StatusOK, get("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, get("10.0.0.1"))
	assert.Equal(t, http.StatusOK, get("10.0.0.2"), "buckets are per client")

	// health and metrics are not throttled
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		s.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s := newTestServer(&fakeRoom{}, nil, Config{})
	do(t, s, http.MethodGet, "/api/history", "", false)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chatroom_http_requests_total")
}

func TestServer_MountsWebSocketHandler(t *testing.T) {
	hit := false
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusUnauthorized)
	})
	s := NewServer(&fakeRoom{}, nil, ws, Config{}, zerolog.Nop())
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.True(t, hit)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	s := newTestServer(&fakeRoom{}, nil, Config{CORSOrigins: []string{"https://chat.example.com"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/history", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, "https://chat.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}
