package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestExecutedOnFreshStore(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	done, err := s.ExecutedOn("TQQQ", time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("executed on: %v", err)
	}
	if done {
		t.Fatalf("fresh store must report not executed")
	}
}

func TestMarkExecutedGuardsTheDay(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	day := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	if err := s.MarkExecuted("TQQQ", day); err != nil {
		t.Fatalf("mark executed: %v", err)
	}
	done, err := s.ExecutedOn("TQQQ", day)
	if err != nil || !done {
		t.Fatalf("expected guard for same day: done=%v err=%v", done, err)
	}
	next, err := s.ExecutedOn("TQQQ", day.Add(24*time.Hour))
	if err != nil || next {
		t.Fatalf("guard must clear on the next trading date: done=%v err=%v", next, err)
	}
}

func TestGuardSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	if err := newTestStore(t, dir).MarkExecuted("TQQQ", day); err != nil {
		t.Fatalf("mark executed: %v", err)
	}
	done, err := newTestStore(t, dir).ExecutedOn("TQQQ", day)
	if err != nil || !done {
		t.Fatalf("expected guard to survive a restart: done=%v err=%v", done, err)
	}
}

func TestGuardIsPerSymbol(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	day := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	if err := s.MarkExecuted("TQQQ", day); err != nil {
		t.Fatalf("mark executed: %v", err)
	}
	done, err := s.ExecutedOn("SOXL", day)
	if err != nil || done {
		t.Fatalf("guard must not leak across symbols: done=%v err=%v", done, err)
	}
}

func TestStateFileFormat(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	if err := newTestStore(t, dir).MarkExecuted("TQQQ", day); err != nil {
		t.Fatalf("mark executed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "tqqq_state.json"))
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	if !strings.Contains(string(data), `"last_execution_date":"2026-03-02"`) {
		t.Fatalf("unexpected state payload: %s", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "tqqq_state.json.tmp")); !os.IsNotExist(err) {
		t.Fatalf("temp file must not be left behind")
	}
}

func TestCorruptStateFileSurfacesError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tqqq_state.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	s := newTestStore(t, dir)
	if _, err := s.ExecutedOn("TQQQ", time.Now()); err == nil {
		t.Fatalf("expected error for corrupt state file")
	}
}
