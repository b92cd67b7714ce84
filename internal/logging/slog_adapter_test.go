// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSlogHandlerWritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	slogger := NewSlogLogger()
	slogger.Info("service started", "service", "hub", "restarts", int64(2))

	out := buf.String()
	if !strings.Contains(out, "service started") {
		t.Fatalf("missing message: %q", out)
	}
	if !strings.Contains(out, `"service":"hub"`) {
		t.Errorf("missing string attr: %q", out)
	}
	if !strings.Contains(out, `"restarts":2`) {
		t.Errorf("missing int attr: %q", out)
	}
}

func TestSlogHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	slogger := slog.New(NewSlogHandler().WithGroup("svc").WithAttrs([]slog.Attr{
		slog.String("layer", "messaging"),
	}))
	slogger.Warn("restarting", "name", "typing-sweeper")

	out := buf.String()
	if !strings.Contains(out, `"svc.layer":"messaging"`) {
		t.Errorf("missing pre-configured attr: %q", out)
	}
	if !strings.Contains(out, `"svc.name":"typing-sweeper"`) {
		t.Errorf("missing grouped attr: %q", out)
	}
}
