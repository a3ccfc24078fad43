package logging

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type recordingLogger struct {
	noopLogger
	mu      sync.Mutex
	entries []entry
}

type entry struct {
	msg string
	kv  []interface{}
}

func (r *recordingLogger) Infow(msg string, kv ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{msg: msg, kv: kv})
}

func TestInfowCtxMergesContextFields(t *testing.T) {
	rec := &recordingLogger{}
	SetLogger(rec)
	defer SetLogger(nil)

	ctx := WithFields(context.Background(), SessionFields("abc")...)
	ctx = WithFields(ctx, "remote", "127.0.0.1")
	InfowCtx(ctx, "hello", "k", 1)

	if len(rec.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(rec.entries))
	}
	got := rec.entries[0].kv
	want := []interface{}{"session.id", "abc", "remote", "127.0.0.1", "k", 1}
	if len(got) != len(want) {
		t.Fatalf("kv length mismatch: want=%v got=%v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kv[%d] mismatch: want=%v got=%v", i, want[i], got[i])
		}
	}
}

func TestWithFieldsNoopOnEmpty(t *testing.T) {
	ctx := context.Background()
	if WithFields(ctx) != ctx {
		t.Fatalf("expected same context when no fields are given")
	}
	if FromContext(nil) != nil {
		t.Fatalf("expected nil fields for nil context")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zap.AtomicLevel{
		"debug": zap.NewAtomicLevelAt(zap.DebugLevel),
		"WARN":  zap.NewAtomicLevelAt(zap.WarnLevel),
		"error": zap.NewAtomicLevelAt(zap.ErrorLevel),
		"":      zap.NewAtomicLevelAt(zap.InfoLevel),
		"bogus": zap.NewAtomicLevelAt(zap.InfoLevel),
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want.Level() {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want.Level())
		}
	}
}

func TestDefaultLoggerIsSafe(t *testing.T) {
	SetLogger(nil)
	// must not panic before Init
	Infow("noop")
	Warnw("noop")
	if err := Sync(); err != nil {
		t.Fatalf("noop Sync returned error: %v", err)
	}
}
