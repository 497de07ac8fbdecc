package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/promptforge"
	"github.com/promptforge/promptforge/provider/mock"
	"github.com/promptforge/promptforge/quota"
)

func newTestHandler(t *testing.T, opts ...promptforge.Option) http.Handler {
	t.Helper()
	base := []promptforge.Option{
		promptforge.WithLedger(quota.New(quota.NewMemoryStore(), quota.WithLimits(quota.Limits{Free: 2, Pro: 100}))),
	}
	svc, err := promptforge.New(mock.New(), append(base, opts...)...)
	require.NoError(t, err)
	return NewHandler(svc).Routes()
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func generateBody(requestID string) map[string]any {
	return map[string]any{
		"input":        "write a product launch announcement",
		"framework_id": "RACEF",
		"user_id":      "alice",
		"account_type": "free",
		"request_id":   requestID,
	}
}

func TestGenerateSuccess(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(t, h, "/api/v1/prompts/generate", generateBody("req-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result promptforge.GenerateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "Hello from mock provider", result.Output)
	assert.Equal(t, "RACEF", result.FrameworkUsed)
	assert.NotEmpty(t, result.VersionID)
}

func TestGenerateQuotaExceededBody(t *testing.T) {
	h := newTestHandler(t)

	for i, id := range []string{"req-1", "req-2"} {
		rec := postJSON(t, h, "/api/v1/prompts/generate", generateBody(id))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := postJSON(t, h, "/api/v1/prompts/generate", generateBody("req-3"))
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Quota   struct {
			Used      int    `json:"used"`
			Total     int    `json:"total"`
			ResetTime string `json:"reset_time"`
		} `json:"quota"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "QUOTA_EXCEEDED", body.Code)
	assert.Equal(t, 2, body.Quota.Used)
	assert.Equal(t, 2, body.Quota.Total)
	assert.NotEmpty(t, body.Quota.ResetTime)
}

func TestGenerateShortInputRejected(t *testing.T) {
	h := newTestHandler(t)

	body := generateBody("req-1")
	body["input"] = "too short"
	rec := postJSON(t, h, "/api/v1/prompts/generate", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_REQUEST")
}

func TestGenerateUpstreamRejectedPassesStatus(t *testing.T) {
	p := mock.New(mock.WithError(&promptforge.UpstreamError{
		Kind:   promptforge.UpstreamRejected,
		Status: http.StatusUnauthorized,
		Detail: "invalid api key",
	}))
	svc, err := promptforge.New(p,
		promptforge.WithLedger(quota.New(quota.NewMemoryStore())),
	)
	require.NoError(t, err)
	h := NewHandler(svc).Routes()

	rec := postJSON(t, h, "/api/v1/prompts/generate", generateBody("req-1"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UPSTREAM_REJECTED")
}

func TestMatchReturnsFrameworks(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(t, h, "/api/v1/frameworks/match", map[string]any{
		"input": "help me brainstorm product ideas",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Frameworks []promptforge.FrameworkCandidate `json:"frameworks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Frameworks)
	assert.Equal(t, "RACEF", resp.Frameworks[0].ID)
}

func TestQuotaEndpoint(t *testing.T) {
	h := newTestHandler(t)

	postJSON(t, h, "/api/v1/prompts/generate", generateBody("req-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quota?user_id=alice&account_type=free", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status promptforge.QuotaStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.Used)
	assert.Equal(t, 2, status.Limit)
	assert.True(t, status.CanGenerate)
}

func TestVersionsEndpoint(t *testing.T) {
	h := newTestHandler(t)

	postJSON(t, h, "/api/v1/prompts/generate", generateBody("req-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/versions?user_id=alice", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// The default service discards history but the endpoint still answers
	// with a well-formed empty list.
	assert.True(t, strings.Contains(rec.Body.String(), `"versions"`))
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	h := CORS([]string{"http://localhost:3000"}, newTestHandler(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/quota", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	h := CORS([]string{"http://localhost:3000"}, newTestHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
