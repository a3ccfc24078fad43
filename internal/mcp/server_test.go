package mcp

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

type staticSessions []string

func (s staticSessions) ActiveCount() int { return len(s) }
func (s staticSessions) IDs() []string    { return s }

func TestActiveSessionsToolOverWebSocket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := httptest.NewServer(Handler(ctx, NewServer(staticSessions{"a", "b"}, "test")))
	defer srv.Close()

	c := NewClientWrapper("test-client", "test")
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	if err := c.ConnectWebSocket(dialCtx, srv.URL); err != nil {
		t.Fatalf("ConnectWebSocket: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	got, err := c.ActiveSessions(dialCtx)
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	if got.ActiveSessions != 2 || len(got.SessionIDs) != 2 || got.SessionIDs[0] != "a" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestActiveSessionsRequiresConnection(t *testing.T) {
	if _, err := NewClientWrapper("c", "v").ActiveSessions(context.Background()); err == nil {
		t.Fatalf("expected error when not connected")
	}
}
