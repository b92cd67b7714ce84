// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/concord-chat/concord/internal/config"
	"github.com/concord-chat/concord/internal/hub"
	"github.com/concord-chat/concord/internal/logging"
	"github.com/concord-chat/concord/internal/metrics"
	"github.com/concord-chat/concord/internal/realtime"
	"github.com/concord-chat/concord/internal/session"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(ctx context.Context) error {
	return p.err
}

type stubVerifier struct{}

func (stubVerifier) Verify(ctx context.Context, token string) (realtime.Identity, error) {
	return realtime.Identity{}, errors.New("not wired in this test")
}

func newTestRouter(t *testing.T, pinger Pinger, security config.SecurityConfig) http.Handler {
	t.Helper()
	h := hub.New(4, nil)
	collector := metrics.NewCollector()
	orch := realtime.NewOrchestrator(h, nil, nil, realtime.NewTypingCache(3*time.Second), collector, 0)
	handler := NewHandler(h, orch, stubVerifier{}, collector, pinger, session.DefaultConfig(), nil)
	return NewRouter(handler, security)
}

func defaultSecurity() config.SecurityConfig {
	return config.SecurityConfig{
		RateLimitDisabled: true,
		CORSOrigins:       []string{"*"},
	}
}

func TestHealthLive(t *testing.T) {
	router := newTestRouter(t, stubPinger{}, defaultSecurity())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestHealthReadyReflectsDatabase(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"healthy", nil, http.StatusOK},
		{"database down", errors.New("locked"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, stubPinger{err: tt.err}, defaultSecurity())

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
		})
	}
}

func TestRealtimeMetricsSnapshot(t *testing.T) {
	router := newTestRouter(t, stubPinger{}, defaultSecurity())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/realtime/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap struct {
		TotalConnections  int64   `json:"total_connections"`
		ActiveConnections int64   `json:"active_connections"`
		MessagesPerSecond float64 `json:"messages_per_second"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding %s: %v", rec.Body.Bytes(), err)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	router := newTestRouter(t, stubPinger{}, defaultSecurity())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "concord_") {
		t.Error("gateway metrics missing from exposition")
	}
}

func TestRateLimitAppliesToAPIRoutes(t *testing.T) {
	security := config.SecurityConfig{
		RateLimitReqs:   2,
		RateLimitWindow: time.Minute,
		CORSOrigins:     []string{"*"},
	}
	router := newTestRouter(t, stubPinger{}, security)

	var last int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil)
		req.RemoteAddr = "10.1.2.3:4567"
		router.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", last)
	}
}

func TestWebSocketUpgradeThroughRouter(t *testing.T) {
	router := newTestRouter(t, stubPinger{}, defaultSecurity())
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var env struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatal(err)
	}
	if env.Op != "HELLO" {
		t.Errorf("first frame op = %q, want HELLO", env.Op)
	}
}

func TestOriginChecker(t *testing.T) {
	newReq := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	if originChecker(nil) != nil {
		t.Error("empty list should keep the same-host default")
	}

	wildcard := originChecker([]string{"*"})
	if !wildcard(newReq("https://evil.example")) {
		t.Error("wildcard rejected an origin")
	}

	strict := originChecker([]string{"https://app.concord.chat"})
	if !strict(newReq("https://app.concord.chat")) {
		t.Error("allowed origin rejected")
	}
	if strict(newReq("https://evil.example")) {
		t.Error("unknown origin accepted")
	}
	if !strict(newReq("")) {
		t.Error("non-browser client without Origin rejected")
	}
}
