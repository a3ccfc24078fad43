package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/realtime-stt-lab/internal/voice"
)

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(context.Context, []float32, voice.TranscribeOptions) (*voice.Transcription, error) {
	return &voice.Transcription{Text: "stub", Language: "en"}, nil
}

func newTestServer(t *testing.T, maxSessions int) (*Server, *voice.Registry, *httptest.Server) {
	t.Helper()
	reg := voice.NewRegistry(voice.Deps{
		Scorer: voice.NewEnergyScorer(),
		Pool:   voice.NewTranscriptionPool(stubTranscriber{}, 2, 2),
	}, maxSessions)
	ctx, cancel := context.WithCancel(context.Background())
	srv := New(ctx, reg, voice.DefaultSessionConfig(), "test")
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		reg.Shutdown()
		ts.Close()
		cancel()
	})
	return srv, reg, ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

type envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
}

func readEvent(t *testing.T, c *websocket.Conn) envelope {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev envelope
	if err := c.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		_ = json.NewDecoder(resp.Body).Decode(v)
	}
	return resp.StatusCode
}

func activeSessions(t *testing.T, ts *httptest.Server) int {
	t.Helper()
	var body struct {
		ActiveSessions int `json:"active_sessions"`
	}
	if code := getJSON(t, ts.URL+"/audio/sessions", &body); code != http.StatusOK {
		t.Fatalf("sessions status %d", code)
	}
	return body.ActiveSessions
}

func waitSessions(t *testing.T, ts *httptest.Server, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if activeSessions(t, ts) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("active sessions never reached %d", want)
}

func pcm(n int, v int16) []byte {
	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

func TestAudioStreamEndToEnd(t *testing.T) {
	_, _, ts := newTestServer(t, 0)

	c, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/audio"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	welcome := readEvent(t, c)
	var info struct {
		Message   string `json:"message"`
		SessionID string `json:"session_id"`
	}
	_ = json.Unmarshal(welcome.Data, &info)
	if welcome.Event != "info" || info.SessionID == "" || welcome.Timestamp == 0 {
		t.Fatalf("unexpected welcome: %+v", welcome)
	}
	if n := activeSessions(t, ts); n != 1 {
		t.Fatalf("active sessions: want 1 got %d", n)
	}

	loud, silent := pcm(512, 12000), pcm(512, 0)
	for i := 0; i < 50; i++ {
		if err := c.WriteMessage(websocket.BinaryMessage, loud); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	for i := 0; i < 4; i++ {
		_ = c.WriteMessage(websocket.BinaryMessage, silent)
	}

	want := []string{"proper_speech_start", "speech_end", "transcription"}
	for _, w := range want {
		if ev := readEvent(t, c); ev.Event != w {
			t.Fatalf("want event %s, got %s (%s)", w, ev.Event, ev.Data)
		}
	}

	if err := c.WriteMessage(websocket.TextMessage, []byte("config?")); err != nil {
		t.Fatalf("write text: %v", err)
	}
	if ev := readEvent(t, c); ev.Event != "info" || !strings.Contains(string(ev.Data), "Text message received") {
		t.Fatalf("unexpected ack: %+v", ev)
	}

	_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.Close()
	waitSessions(t, ts, 0)
}

func TestAudioRejectsBadQuery(t *testing.T) {
	_, _, ts := newTestServer(t, 0)
	resp, err := http.Get(ts.URL + "/audio?threshold=abc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
}

func TestAudioAtCapacity(t *testing.T) {
	_, _, ts := newTestServer(t, 1)
	c, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/audio"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	readEvent(t, c)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/audio"), nil)
	if err == nil {
		t.Fatalf("second session should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("want 503 on refusal, got %v", resp)
	}
}

func TestHealthAndDrain(t *testing.T) {
	srv, _, ts := newTestServer(t, 0)
	if code := getJSON(t, ts.URL+"/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz: %d", code)
	}
	if code := getJSON(t, ts.URL+"/readyz", nil); code != http.StatusOK {
		t.Fatalf("readyz: %d", code)
	}
	srv.Drain()
	var body statusBody
	if code := getJSON(t, ts.URL+"/readyz", &body); code != http.StatusServiceUnavailable || body.Status != "draining" {
		t.Fatalf("readyz while draining: %d %+v", code, body)
	}
	if code := getJSON(t, ts.URL+"/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz should stay up while draining: %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t, 0)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}
}
