package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// ErrScorer wraps every failure reported by a Scorer.
var ErrScorer = errors.New("speech scorer failed")

// Scorer returns the probability in [0, 1] that frame contains speech.
type Scorer interface {
	Score(ctx context.Context, frame []float32, sampleRate int) (float64, error)
}

// EnergyScorer is a model-free scorer mapping frame RMS linearly onto [0, 1]
// between Floor (silence) and Ceiling (certain speech).
type EnergyScorer struct {
	Floor   float64
	Ceiling float64
}

// NewEnergyScorer returns an EnergyScorer with a 0.01 floor and 0.1 ceiling.
func NewEnergyScorer() EnergyScorer {
	return EnergyScorer{Floor: 0.01, Ceiling: 0.1}
}

func (e EnergyScorer) Score(_ context.Context, frame []float32, _ int) (float64, error) {
	if len(frame) == 0 {
		return 0, fmt.Errorf("%w: %w", ErrScorer, ErrEmptyFrame)
	}
	var sumSq float64
	for _, s := range frame {
		sumSq += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSq / float64(len(frame)))
	if e.Ceiling <= e.Floor {
		if rms > e.Floor {
			return 1, nil
		}
		return 0, nil
	}
	p := (rms - e.Floor) / (e.Ceiling - e.Floor)
	return math.Max(0, math.Min(1, p)), nil
}

// HTTPScorer asks a scoring sidecar for the speech probability of each frame.
// Requests are not retried: a late score is as useless as a missing one.
type HTTPScorer struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPScorer returns a scorer posting to url.
func NewHTTPScorer(url string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{URL: url, Client: &http.Client{}, Timeout: timeout}
}

type scoreRequest struct {
	SampleRate int       `json:"sample_rate"`
	Audio      []float32 `json:"audio"`
}

type scoreResponse struct {
	Probability *float64 `json:"probability"`
}

func (h *HTTPScorer) Score(ctx context.Context, frame []float32, sampleRate int) (float64, error) {
	body, err := json.Marshal(scoreRequest{SampleRate: sampleRate, Audio: frame})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrScorer, err)
	}
	status, respBody, err := postWithRetries(ctx, h.Client, h.URL, "application/json", body, nil, h.Timeout, 1)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrScorer, err)
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("%w: status=%d", ErrScorer, status)
	}
	var out scoreResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return 0, fmt.Errorf("%w: decode response: %v", ErrScorer, err)
	}
	if out.Probability == nil {
		return 0, fmt.Errorf("%w: response has no probability", ErrScorer)
	}
	p := *out.Probability
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("%w: probability %v out of range", ErrScorer, p)
	}
	return p, nil
}
