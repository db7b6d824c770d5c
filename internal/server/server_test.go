package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zjregee/threadchat/internal/config"
	"github.com/zjregee/threadchat/internal/models"
	"github.com/zjregee/threadchat/internal/service"
	"github.com/zjregee/threadchat/internal/service/storage"
)

type replierFunc func(ctx context.Context, content string, history []*models.Turn) (string, error)

func (f replierFunc) Reply(ctx context.Context, content string, history []*models.Turn) (string, error) {
	return f(ctx, content, history)
}

type testEnv struct {
	handler http.Handler
	store   *storage.BoltStore
	fail    *atomic.Bool
}

func newTestEnv(t *testing.T, origins ...string) *testEnv {
	t.Helper()

	store, err := storage.OpenBolt(filepath.Join(t.TempDir(), "threads.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fail := &atomic.Bool{}
	replier := replierFunc(func(_ context.Context, content string, _ []*models.Turn) (string, error) {
		if fail.Load() {
			return "", errors.New("model offline")
		}
		return "re: " + content, nil
	})

	svc := service.NewThreadService(store, replier, zaptest.NewLogger(t))
	cfg := config.Default().Server
	cfg.AllowedOrigins = origins

	return &testEnv{
		handler: SetupRoutes(svc, cfg, zaptest.NewLogger(t)),
		store:   store,
		fail:    fail,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestThreadLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/threads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/threads/t1", `{"content":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	appended := decode[turnsResponse](t, rec)
	assert.Equal(t, "t1", appended.ThreadID)
	require.Len(t, appended.Turns, 2)
	assert.Equal(t, models.RoleUser, appended.Turns[0].Role)
	assert.Equal(t, "re: Hello", appended.Turns[1].Content)

	rec = env.do(t, http.MethodGet, "/api/threads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summaries := decode[[]models.ThreadSummary](t, rec)
	require.Len(t, summaries, 1)
	assert.Equal(t, "t1", summaries[0].ThreadID)
	assert.Equal(t, "Hello", summaries[0].Title)

	rec = env.do(t, http.MethodGet, "/api/threads/t1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	turns := decode[[]models.Turn](t, rec)
	require.Len(t, turns, 2)
	assert.Equal(t, "Hello", turns[0].Content)

	rec = env.do(t, http.MethodDelete, "/api/threads/t1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"threadId":"t1","deleted":true}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/threads/t1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, models.CodeNotFound, decode[errorResponse](t, rec).Code)
}

func TestAppendTurnErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   models.ErrorCode
	}{
		{name: "empty content", path: "/api/threads/t1", body: `{"content":"   "}`, status: http.StatusBadRequest, code: models.CodeInvalidInput},
		{name: "missing body", path: "/api/threads/t1", body: "", status: http.StatusBadRequest, code: models.CodeInvalidInput},
		{name: "malformed body", path: "/api/threads/t1", body: `{"content":`, status: http.StatusBadRequest, code: models.CodeInvalidInput},
		{name: "bad role", path: "/api/threads/t1", body: `{"role":"system","content":"x"}`, status: http.StatusBadRequest, code: models.CodeInvalidInput},
		{name: "id with space", path: "/api/threads/a%20b", body: `{"content":"x"}`, status: http.StatusBadRequest, code: models.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[errorResponse](t, rec).Code)
		})
	}

	rec := env.do(t, http.MethodGet, "/api/threads", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestReplyFailureAndRegenerate(t *testing.T) {
	env := newTestEnv(t)
	env.fail.Store(true)

	rec := env.do(t, http.MethodPost, "/api/threads/t1", `{"content":"Hello"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	failure := decode[errorResponse](t, rec)
	assert.Equal(t, models.CodeReplyFailed, failure.Code)
	assert.Equal(t, "t1", failure.ThreadID)
	require.Len(t, failure.Turns, 1)
	assert.Equal(t, "Hello", failure.Turns[0].Content)
	assert.NotContains(t, failure.Error, "model offline")

	rec = env.do(t, http.MethodPost, "/api/threads/t1/reply", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	env.fail.Store(false)
	rec = env.do(t, http.MethodPost, "/api/threads/t1/reply", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	regenerated := decode[turnsResponse](t, rec)
	require.Len(t, regenerated.Turns, 2)
	assert.Equal(t, models.RoleAssistant, regenerated.Turns[1].Role)

	rec = env.do(t, http.MethodPost, "/api/threads/t1/reply", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/threads/missing/reply", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssistantRoleAppend(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/threads/t1", `{"role":"assistant","content":"Welcome"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[turnsResponse](t, rec)
	require.Len(t, resp.Turns, 1)
	assert.Equal(t, models.RoleAssistant, resp.Turns[0].Role)
}

func TestDeleteMissing(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/api/threads/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, models.CodeNotFound, decode[errorResponse](t, rec).Code)
}

func TestStoreUnavailable(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Close())

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/threads", ""},
		{http.MethodGet, "/api/threads/t1", ""},
		{http.MethodPost, "/api/threads/t1", `{"content":"Hello"}`},
		{http.MethodDelete, "/api/threads/t1", ""},
	} {
		rec := env.do(t, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "%s %s", tc.method, tc.path)
		resp := decode[errorResponse](t, rec)
		assert.Equal(t, models.CodeUnavailable, resp.Code)
		assert.NotContains(t, resp.Error, "database not open")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPatch, "/api/threads/t1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, "https://chat.example.com", "not a url")

	t.Run("allowed origin", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/threads", "", "Origin", "https://chat.example.com")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "https://chat.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
		assert.Contains(t, rec.Header().Values("Vary"), "Origin")
	})

	t.Run("origin match ignores case", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/threads", "", "Origin", "HTTPS://Chat.Example.com")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("disallowed origin", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/threads", "", "Origin", "https://evil.example.com")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight allowed", func(t *testing.T) {
		rec := env.do(t, http.MethodOptions, "/api/threads/t1", "",
			"Origin", "https://chat.example.com",
			"Access-Control-Request-Method", http.MethodDelete,
		)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete)
	})

	t.Run("preflight disallowed", func(t *testing.T) {
		rec := env.do(t, http.MethodOptions, "/api/threads/t1", "", "Origin", "https://evil.example.com")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("no origin header", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/threads", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestCORSAllowAll(t *testing.T) {
	env := newTestEnv(t, "*")

	rec := env.do(t, http.MethodGet, "/api/threads", "", "Origin", "http://anything.test:3000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://anything.test:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverPanics(t *testing.T) {
	handler := recoverPanics(zaptest.NewLogger(t), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, models.CodeInternal, decode[errorResponse](t, rec).Code)
}
