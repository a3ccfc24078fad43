package capture

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestNewStoreEmptyDirIsNoop(t *testing.T) {
	s, err := NewStore("  ")
	if err != nil || s != nil {
		t.Fatalf("expected nil store, got %v %v", s, err)
	}
	if err := s.SaveUtterance("s", "u", []byte("x"), 1); err != nil {
		t.Fatalf("nil store SaveUtterance: %v", err)
	}
	if err := s.Annotate("u", map[string]interface{}{"k": 1}); err != nil {
		t.Fatalf("nil store Annotate: %v", err)
	}
}

func TestSaveAndAnnotate(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.SaveUtterance("sess-1", "utt-1", []byte("RIFFdata"), 1.6); err != nil {
		t.Fatalf("SaveUtterance: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "utt_utt-1.wav")); err != nil {
		t.Fatalf("wav not written: %v", err)
	}
	if err := s.Annotate("utt-1", map[string]interface{}{"transcript": "hello"}); err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "utt_utt-1.json"))
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	var sc map[string]interface{}
	if err := json.Unmarshal(b, &sc); err != nil {
		t.Fatalf("sidecar JSON: %v", err)
	}
	if sc["transcript"] != "hello" || sc["session_id"] != "sess-1" || sc["duration_s"] != 1.6 {
		t.Fatalf("unexpected sidecar: %v", sc)
	}
	if _, err := os.Stat(filepath.Join(dir, "utt_utt-1.json.tmp")); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind")
	}
}

func TestAnnotateMissing(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	if err := s.Annotate("nope", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByIDScansRenamedSidecars(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	_ = os.WriteFile(filepath.Join(dir, "renamed.json"), []byte(`{"utterance_id":"abc"}`), 0o644)
	if got := s.FindByID("abc"); got != filepath.Join(dir, "renamed.json") {
		t.Fatalf("FindByID: got %q", got)
	}
}

func TestCleanRetentionAndMaxFiles(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	now := time.Now()
	for i, id := range []string{"a", "b", "c", "d"} {
		if err := s.SaveUtterance("s", id, []byte("w"), 1); err != nil {
			t.Fatalf("SaveUtterance: %v", err)
		}
		// a is oldest
		mod := now.Add(-time.Duration(4-i) * time.Hour)
		_ = os.Chtimes(filepath.Join(dir, "utt_"+id+".json"), mod, mod)
	}
	// a (4h) and b (3h) are past a 150m retention
	removed := s.Clean(now, 150*time.Minute, 0)
	if removed != 2 {
		t.Fatalf("retention: want 2 removed, got %d", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "utt_a.wav")); !os.IsNotExist(err) {
		t.Fatalf("wav of expired pair not removed")
	}
	removed = s.Clean(now, 0, 1)
	if removed != 1 {
		t.Fatalf("max files: want 1 removed, got %d", removed)
	}
	if s.FindByID("d") == "" || s.FindByID("c") != "" {
		t.Fatalf("max files should keep the newest pair")
	}
}

func waitGroupDone(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("cleaner did not exit after cancel")
	}
}

func TestStartCleanerRemovesExpiredAndStops(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	if err := s.SaveUtterance("s", "old", []byte("w"), 1); err != nil {
		t.Fatalf("SaveUtterance: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	_ = os.Chtimes(filepath.Join(dir, "utt_old.json"), old, old)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	s.StartCleaner(ctx, &wg, time.Hour, 5*time.Millisecond, 0)

	deadline := time.Now().Add(2 * time.Second)
	for s.FindByID("old") != "" {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("cleaner never removed the expired pair")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	waitGroupDone(t, &wg)
}

func TestStartCleanerNilStore(t *testing.T) {
	var s *Store
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	s.StartCleaner(ctx, &wg, time.Hour, time.Millisecond, 0)
	cancel()
	waitGroupDone(t, &wg)
}
