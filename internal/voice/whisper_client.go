package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/realtime-stt-lab/internal/logging"
)

// ErrTranscription wraps every failure reported by a Transcriber.
var ErrTranscription = errors.New("transcription failed")

// TranscribeOptions are forwarded to the engine for one utterance.
type TranscribeOptions struct {
	SampleRate  int
	Language    string
	Model       string
	Device      string
	ComputeType string
	BatchSize   int
	// UtteranceID is sent as a correlation header.
	UtteranceID string
}

// TranscribeOptionsFrom builds the per-utterance options of a session.
func TranscribeOptionsFrom(cfg SessionConfig, utteranceID string) TranscribeOptions {
	return TranscribeOptions{
		SampleRate:  cfg.Audio.SampleRate,
		Language:    cfg.Transcription.Language,
		Model:       cfg.Transcription.Model,
		Device:      cfg.Transcription.Device,
		ComputeType: cfg.Transcription.ComputeType,
		BatchSize:   cfg.Transcription.BatchSize,
		UtteranceID: utteranceID,
	}
}

// Segment is one timed piece of a transcription.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription is the engine's result for one utterance.
type Transcription struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

// Transcriber converts a finished utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []float32, opts TranscribeOptions) (*Transcription, error)
}

// WhisperClient posts utterances as 16-bit WAV to a Whisper-compatible HTTP
// service.
type WhisperClient struct {
	URL      string
	Client   *http.Client
	Timeout  time.Duration
	Attempts int
}

// NewWhisperClient returns a client for url with the given per-attempt
// timeout and three attempts.
func NewWhisperClient(url string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		URL:      url,
		Client:   &http.Client{},
		Timeout:  timeout,
		Attempts: 3,
	}
}

func (w *WhisperClient) requestURL(opts TranscribeOptions) (string, error) {
	u, err := url.Parse(w.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("language", opts.Language)
	set("model", opts.Model)
	set("device", opts.Device)
	set("compute_type", opts.ComputeType)
	if opts.BatchSize > 0 {
		q.Set("batch_size", strconv.Itoa(opts.BatchSize))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type whisperResponse struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Transcribe implements Transcriber.
func (w *WhisperClient) Transcribe(ctx context.Context, audio []float32, opts TranscribeOptions) (*Transcription, error) {
	if w.URL == "" {
		return nil, fmt.Errorf("%w: WHISPER_URL not set", ErrTranscription)
	}
	target, err := w.requestURL(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscription, err)
	}
	wav := buildWAV(floatToPCM16(audio), opts.SampleRate, 1, 16)

	hdr := http.Header{}
	if opts.UtteranceID != "" {
		hdr.Set("X-Correlation-ID", opts.UtteranceID)
	}
	logging.Debugw("sending audio to whisper", "url", target, "utterance.id", opts.UtteranceID, "samples", len(audio))

	status, body, err := postWithRetries(ctx, w.Client, target, "audio/wav", wav, hdr, w.Timeout, w.Attempts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: status=%d body=%q", ErrTranscription, status, truncate(string(body), 200))
	}
	var out whisperResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrTranscription, err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" && len(out.Segments) > 0 {
		parts := make([]string, 0, len(out.Segments))
		for _, s := range out.Segments {
			if t := strings.TrimSpace(s.Text); t != "" {
				parts = append(parts, t)
			}
		}
		text = strings.Join(parts, " ")
	}
	return &Transcription{Text: text, Language: out.Language, Segments: out.Segments}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// floatToPCM16 clamps samples to [-1, 1] and encodes them as PCM16LE.
func floatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(v*32767))))
	}
	return out
}

// buildWAV prepends a RIFF/WAVE header for integer PCM to pcm.
func buildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm))

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, byteRate)
	_ = binary.Write(buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}
