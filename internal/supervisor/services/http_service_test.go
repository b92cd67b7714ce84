// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type mockServer struct {
	listenErr    error
	shutdownSeen atomic.Bool
	release      chan struct{}
}

func newMockServer(listenErr error) *mockServer {
	return &mockServer{listenErr: listenErr, release: make(chan struct{})}
}

func (m *mockServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.release
	return errors.New("http: Server closed")
}

func (m *mockServer) Shutdown(ctx context.Context) error {
	m.shutdownSeen.Store(true)
	close(m.release)
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	srv := newMockServer(nil)
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	if !srv.shutdownSeen.Load() {
		t.Error("Shutdown never called")
	}
}

func TestHTTPServiceSurfacesListenFailure(t *testing.T) {
	srv := newMockServer(errors.New("bind: address already in use"))
	svc := NewHTTPServerService(srv, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, srv.listenErr) {
		t.Errorf("err = %v, want wrapped listen failure", err)
	}
}

type fakeHub struct {
	served atomic.Bool
}

func (f *fakeHub) RunWithContext(ctx context.Context) error {
	f.served.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

func TestHubServiceDelegates(t *testing.T) {
	h := &fakeHub{}
	svc := NewHubService(h)

	if svc.String() != "gateway-hub" {
		t.Errorf("name = %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("hub service did not stop")
	}
	if !h.served.Load() {
		t.Error("RunWithContext never reached")
	}
}
