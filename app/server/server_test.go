package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"wellbot/app/deps"
	"wellbot/app/middleware"
	"wellbot/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type silentAgent struct{}

func (silentAgent) GenerateAnswer(context.Context, string, string) (string, error) {
	return "", nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Driver = "memory"
	cfg.Embedding.Dimensions = 4

	d, err := deps.Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return NewServer(d, silentAgent{})
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t)

	for path, want := range map[string]int{
		"/check/healthy":           http.StatusOK,
		"/check/ready":             http.StatusOK,
		"/api/v1/config/retrieval": http.StatusOK,
		"/api/v1/documents":        http.StatusOK,
		"/api/v1/unknown":          http.StatusNotFound,
	} {
		resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "wellbot_retrieval_duration_seconds")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "req-42", resp.Header.Get(middleware.RequestIDHeader))

	resp, err = s.App().Test(httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil), -1)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
}
