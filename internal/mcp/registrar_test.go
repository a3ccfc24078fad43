package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegisterPostsRecord(t *testing.T) {
	var got Registration
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mcp/register" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	rec := Registration{Name: "stt-gateway", URL: "ws://gw:8080/mcp/ws"}
	if err := Register(context.Background(), srv.Client(), srv.URL+"/", rec); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got != rec {
		t.Fatalf("registry got %+v", got)
	}
}

func TestRegisterFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()
	if err := Register(context.Background(), srv.Client(), srv.URL, Registration{Name: "x"}); err == nil {
		t.Fatalf("expected error on 409")
	}
}

func TestRegisterDisabled(t *testing.T) {
	if err := Register(context.Background(), nil, "", Registration{}); err != nil {
		t.Fatalf("empty registry url should be a no-op: %v", err)
	}
}
