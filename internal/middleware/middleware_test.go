package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/carecover/internal/metrics"
	"github.com/paiban/carecover/pkg/access"
	"github.com/paiban/carecover/pkg/logger"
)

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	code, _ := body["code"].(string)
	return code
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", seen)
}

func TestCaller(t *testing.T) {
	var got access.Caller
	h := Caller("/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = CallerFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/gaps", nil)
	req.Header.Set(HeaderCallerID, "u-1")
	req.Header.Set(HeaderCallerRole, "BCBA")
	req.Header.Set(HeaderCallerLocations, "loc-1, loc-2")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", got.ID)
	assert.Equal(t, access.RoleBCBA, got.Role)
	assert.True(t, got.Caps.Has(access.CapAutoAssign))
	assert.Equal(t, []string{"loc-1", "loc-2"}, got.LocationIDs)
	assert.False(t, got.InLocation("loc-3"))

	// 缺少机构范围时不授予任何机构
	req = httptest.NewRequest(http.MethodGet, "/api/v1/gaps", nil)
	req.Header.Set(HeaderCallerID, "u-2")
	req.Header.Set(HeaderCallerRole, "scheduler")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Empty(t, got.LocationIDs)
	assert.False(t, got.AllLocations)
	assert.False(t, got.InLocation("loc-1"))

	// 通配符不限机构
	req.Header.Set(HeaderCallerLocations, "*")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, got.AllLocations)
	assert.True(t, got.InLocation("loc-1"))

	tests := []struct {
		name string
		id   string
		role string
	}{
		{"缺少身份", "", "admin"},
		{"缺少角色", "u-1", ""},
		{"未知角色", "u-1", "janitor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/gaps", nil)
			req.Header.Set(HeaderCallerID, tt.id)
			req.Header.Set(HeaderCallerRole, tt.role)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "UNAUTHORIZED", decodeCode(t, rec))
		})
	}

	// 跳过的路径不要求身份
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	h := Chain(okHandler(t), Caller(), rl.Middleware)

	send := func(id string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/x", nil)
		req.Header.Set(HeaderCallerID, id)
		req.Header.Set(HeaderCallerRole, "viewer")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("u-1"))
	assert.Equal(t, http.StatusOK, send("u-1"))
	assert.Equal(t, http.StatusTooManyRequests, send("u-1"))
	// 每个调用方独立计数
	assert.Equal(t, http.StatusOK, send("u-2"))
}

func TestRecovery(t *testing.T) {
	h := Recovery(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeCode(t, rec))
}

func TestLoggingRecordsMetrics(t *testing.T) {
	m := metrics.New()
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), RequestID, Logging(logger.Nop(), m), SecurityHeaders)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	metricsRec := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, metricsRec.Body.String(), `carecover_http_requests_total{method="GET",path="/version",status="418"} 1`)
}
