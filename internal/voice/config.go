package voice

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Audio encodings accepted on the binary channel.
const (
	EncodingPCM  = "pcm"
	EncodingOpus = "opus"
)

// VADConfig tunes the speech activity detector.
type VADConfig struct {
	// Threshold is the probability above which a frame counts as speech.
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// MinSpeechDurationMs is carried for compatibility with scorer-side
	// tooling. The detector does not consult it.
	MinSpeechDurationMs int `yaml:"min_speech_duration_ms" json:"min_speech_duration_ms"`
	// MaxSpeechDurationS is carried but not enforced; zero means unbounded.
	MaxSpeechDurationS float64 `yaml:"max_speech_duration_s" json:"max_speech_duration_s"`
	// MinSilenceDurationMs is the continuous below-threshold audio required
	// to close a speech episode.
	MinSilenceDurationMs int `yaml:"min_silence_duration_ms" json:"min_silence_duration_ms"`
	// WindowSizeSamples is the reference frame size used to size the
	// pre-roll ring.
	WindowSizeSamples int `yaml:"window_size_samples" json:"window_size_samples"`
	SpeechPadMs       int `yaml:"speech_pad_ms" json:"speech_pad_ms"`
	// PreRollBufferMs is how much audio preceding the onset is kept and
	// prepended to each segment.
	PreRollBufferMs     int     `yaml:"pre_roll_buffer_ms" json:"pre_roll_buffer_ms"`
	MinUtteranceLengthS float64 `yaml:"min_utterance_length_s" json:"min_utterance_length_s"`
}

// AudioConfig describes the inbound binary frames.
type AudioConfig struct {
	SampleRate  int    `yaml:"sample_rate" json:"sample_rate"`
	Channels    int    `yaml:"channels" json:"channels"`
	SampleWidth int    `yaml:"sample_width" json:"sample_width"`
	Encoding    string `yaml:"encoding" json:"encoding"`
}

// TranscriptionConfig is forwarded to the transcription engine for every
// utterance of the session.
type TranscriptionConfig struct {
	// Language is empty for auto-detection.
	Language    string `yaml:"language" json:"language"`
	Model       string `yaml:"model" json:"model"`
	Device      string `yaml:"device" json:"device"`
	ComputeType string `yaml:"compute_type" json:"compute_type"`
	BatchSize   int    `yaml:"batch_size" json:"batch_size"`
}

// SessionConfig is fixed when a session starts and never mutated afterwards.
type SessionConfig struct {
	VAD           VADConfig           `yaml:"vad" json:"vad"`
	Audio         AudioConfig         `yaml:"audio" json:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription" json:"transcription"`
}

// DefaultSessionConfig returns the stock configuration: 16 kHz mono 16-bit
// PCM, threshold 0.5, 100 ms silence hysteresis, 300 ms pre-roll and a
// 1.5 s minimum utterance.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		VAD: VADConfig{
			Threshold:            0.5,
			MinSpeechDurationMs:  250,
			MaxSpeechDurationS:   0,
			MinSilenceDurationMs: 100,
			WindowSizeSamples:    512,
			SpeechPadMs:          30,
			PreRollBufferMs:      300,
			MinUtteranceLengthS:  1.5,
		},
		Audio: AudioConfig{
			SampleRate:  16000,
			Channels:    1,
			SampleWidth: 2,
			Encoding:    EncodingPCM,
		},
		Transcription: TranscriptionConfig{
			Model:       "large-v3",
			Device:      "cuda",
			ComputeType: "float16",
			BatchSize:   16,
		},
	}
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid session config")

// Validate checks the configuration and returns a joined error listing
// every problem found.
func (c SessionConfig) Validate() error {
	var errs []error
	v := c.VAD
	if math.IsNaN(v.Threshold) || v.Threshold < 0 || v.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %v out of range [0, 1]", v.Threshold))
	}
	if v.MinSpeechDurationMs <= 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech_duration_ms must be > 0"))
	}
	if v.MaxSpeechDurationS < 0 {
		errs = append(errs, fmt.Errorf("vad.max_speech_duration_s must be >= 0"))
	}
	if v.MinSilenceDurationMs <= 0 {
		errs = append(errs, fmt.Errorf("vad.min_silence_duration_ms must be > 0"))
	}
	if v.WindowSizeSamples <= 0 {
		errs = append(errs, fmt.Errorf("vad.window_size_samples must be > 0"))
	}
	if v.SpeechPadMs < 0 {
		errs = append(errs, fmt.Errorf("vad.speech_pad_ms must be >= 0"))
	}
	if v.PreRollBufferMs < 0 {
		errs = append(errs, fmt.Errorf("vad.pre_roll_buffer_ms must be >= 0"))
	}
	if v.MinUtteranceLengthS < 0 {
		errs = append(errs, fmt.Errorf("vad.min_utterance_length_s must be >= 0"))
	}

	a := c.Audio
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be > 0"))
	}
	if a.Channels < 1 || a.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d out of range [1, 2]", a.Channels))
	}
	if a.SampleWidth < 1 || a.SampleWidth > 4 {
		errs = append(errs, fmt.Errorf("audio.sample_width %d out of range [1, 4]", a.SampleWidth))
	}
	switch a.Encoding {
	case EncodingPCM, "":
	case EncodingOpus:
		switch a.SampleRate {
		case 8000, 12000, 16000, 24000, 48000:
		default:
			errs = append(errs, fmt.Errorf("audio.sample_rate %d not supported by opus", a.SampleRate))
		}
	default:
		errs = append(errs, fmt.Errorf("audio.encoding %q is invalid; valid values: pcm, opus", a.Encoding))
	}

	if c.Transcription.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("transcription.batch_size must be > 0"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// FrameDurationMs is the duration of one reference window in milliseconds.
func (c SessionConfig) FrameDurationMs() float64 {
	return float64(c.VAD.WindowSizeSamples) * 1000 / float64(c.Audio.SampleRate)
}

// PreRollCapacity is the number of frames the pre-roll ring holds:
// ceil(pre_roll_buffer_ms / frame_duration_ms), never less than one.
func (c SessionConfig) PreRollCapacity() int {
	// pre_roll_ms / (window/sr*1000) == pre_roll_ms*sr / (window*1000)
	num := int64(c.VAD.PreRollBufferMs) * int64(c.Audio.SampleRate)
	den := int64(c.VAD.WindowSizeSamples) * 1000
	if den <= 0 {
		return 1
	}
	n := int((num + den - 1) / den)
	if n < 1 {
		n = 1
	}
	return n
}

// WithQuery returns a copy of c with the per-connection overrides found in q
// applied. Recognised keys: language, model, threshold, sample_rate,
// encoding, min_utterance_length_s. The result is validated.
func (c SessionConfig) WithQuery(q url.Values) (SessionConfig, error) {
	out := c
	if v := strings.TrimSpace(q.Get("language")); v != "" {
		out.Transcription.Language = v
	}
	if v := strings.TrimSpace(q.Get("model")); v != "" {
		out.Transcription.Model = v
	}
	if v := strings.TrimSpace(q.Get("encoding")); v != "" {
		out.Audio.Encoding = strings.ToLower(v)
	}
	if v := q.Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return c, fmt.Errorf("%w: threshold %q: %v", ErrInvalidConfig, v, err)
		}
		out.VAD.Threshold = f
	}
	if v := q.Get("min_utterance_length_s"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return c, fmt.Errorf("%w: min_utterance_length_s %q: %v", ErrInvalidConfig, v, err)
		}
		out.VAD.MinUtteranceLengthS = f
	}
	if v := q.Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%w: sample_rate %q: %v", ErrInvalidConfig, v, err)
		}
		out.Audio.SampleRate = n
	}
	if err := out.Validate(); err != nil {
		return c, err
	}
	return out, nil
}
