package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestAdapterWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "creaturectl", "debug")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a := NewAdapter(logger)
	a.Error("registry operation failed", "operation", "breed", "error", errors.New("not owner"), "entity_id", 7)
	out := buf.String()
	for _, want := range []string{"registry operation failed", "operation=breed", "not owner", "entity_id=7", "app=creaturectl"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "test", "warn")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a := NewAdapter(logger)
	a.Debug("hidden")
	a.Info("hidden too")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}
	a.Warn("shown", "dangling")
	if !strings.Contains(buf.String(), "shown") || !strings.Contains(buf.String(), "!BADKEY") {
		t.Fatalf("expected warn line with dangling key, got %q", buf.String())
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(nil, "x", "loud"); err == nil {
		t.Fatalf("expected error")
	}
}
