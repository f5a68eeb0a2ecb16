package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nebutra/billing-service/pkg/config"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error {
	return f.err
}

func TestHealthLive(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	resp := httptest.NewRecorder()
	HealthLive(cfg)(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "test", resp.Header().Get("X-Billing-Env"))
	assert.Contains(t, resp.Body.String(), `"live"`)
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	cases := []struct {
		name   string
		db     fakePinger
		redis  *fakePinger
		status int
		body   string
	}{
		{name: "db only", status: http.StatusOK, body: `"redis":"disabled"`},
		{name: "db and redis", redis: &fakePinger{}, status: http.StatusOK, body: `"redis":"ok"`},
		{name: "db down", db: fakePinger{err: errors.New("refused")}, status: http.StatusServiceUnavailable, body: "DEPENDENCY_ERROR"},
		{name: "redis down", redis: &fakePinger{err: errors.New("timeout")}, status: http.StatusServiceUnavailable, body: "dependency unavailable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var handler http.HandlerFunc
			if tc.redis != nil {
				handler = HealthReady(cfg, nil, tc.db, *tc.redis)
			} else {
				handler = HealthReady(cfg, nil, tc.db, nil)
			}
			resp := httptest.NewRecorder()
			handler(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			assert.Equal(t, tc.status, resp.Code)
			assert.Contains(t, resp.Body.String(), tc.body)
		})
	}
}
