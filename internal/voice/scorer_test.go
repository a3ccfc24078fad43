package voice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEnergyScorer(t *testing.T) {
	s := NewEnergyScorer()
	ctx := context.Background()

	p, err := s.Score(ctx, frameOf(160, 0), 16000)
	if err != nil || p != 0 {
		t.Fatalf("silence: p=%v err=%v", p, err)
	}
	p, _ = s.Score(ctx, frameOf(160, 0.5), 16000)
	if p != 1 {
		t.Fatalf("loud frame: want=1 got=%v", p)
	}
	p, _ = s.Score(ctx, frameOf(160, 0.055), 16000)
	if p <= 0.4 || p >= 0.6 {
		t.Fatalf("mid-level frame: want ~0.5 got=%v", p)
	}
	if _, err := s.Score(ctx, nil, 16000); !errors.Is(err, ErrScorer) {
		t.Fatalf("expected ErrScorer for empty frame, got %v", err)
	}
}

func TestHTTPScorer(t *testing.T) {
	var got scoreRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"probability":0.75}`))
	}))
	defer srv.Close()

	p, err := NewHTTPScorer(srv.URL, time.Second).Score(context.Background(), []float32{0.1, 0.2}, 16000)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if p != 0.75 {
		t.Fatalf("probability: want=0.75 got=%v", p)
	}
	if got.SampleRate != 16000 || len(got.Audio) != 2 {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestHTTPScorerRejectsBadResponses(t *testing.T) {
	bodies := []string{`{}`, `{"probability":1.5}`, `not json`}
	for _, b := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(b))
		}))
		_, err := NewHTTPScorer(srv.URL, time.Second).Score(context.Background(), []float32{0}, 16000)
		srv.Close()
		if !errors.Is(err, ErrScorer) {
			t.Errorf("body %q: expected ErrScorer, got %v", b, err)
		}
	}
}
