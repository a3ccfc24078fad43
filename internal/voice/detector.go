package voice

import (
	"errors"
	"fmt"
	"math"
)

// DetectorState is the speech activity detector's state.
type DetectorState int

const (
	StateIdle DetectorState = iota
	StateInSpeech
)

func (s DetectorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInSpeech:
		return "in_speech"
	default:
		return "unknown"
	}
}

// Caller contract violations reported by Detector.Process. The detector
// state is left untouched when one of these is returned.
var (
	ErrEmptyFrame         = errors.New("empty audio frame")
	ErrInvalidSample      = errors.New("audio frame contains a non-finite sample")
	ErrInvalidProbability = errors.New("speech probability outside [0, 1]")
)

// Result is the outcome of processing one frame.
type Result struct {
	// SpeechNow reports probability > threshold for this frame, regardless
	// of accumulation state.
	SpeechNow bool
	// UtteranceEnded is set when an episode closed and met the minimum
	// utterance length. Segment is non-nil only in that case.
	UtteranceEnded bool
	Segment        []float32
	// Discarded is set when an episode closed below the minimum utterance
	// length and its audio was dropped.
	Discarded bool
	// SpeechDuration is the accumulated speech in seconds, taken before any
	// reset caused by this frame.
	SpeechDuration float64
}

// Detector segments a stream of scored frames into utterances using a
// two-state machine with a pre-roll ring and silence hysteresis. A Detector
// belongs to exactly one session and must not be used from more than one
// goroutine.
type Detector struct {
	threshold      float64
	sampleRate     int64
	minSilenceMs   int64
	minUtteranceS  float64
	state          DetectorState
	preRoll        *preRoll
	segment        []float32
	speechSamples  int64
	silenceSamples int64
}

// NewDetector builds a detector for cfg. cfg is assumed valid.
func NewDetector(cfg SessionConfig) *Detector {
	return &Detector{
		threshold:     cfg.VAD.Threshold,
		sampleRate:    int64(cfg.Audio.SampleRate),
		minSilenceMs:  int64(cfg.VAD.MinSilenceDurationMs),
		minUtteranceS: cfg.VAD.MinUtteranceLengthS,
		preRoll:       newPreRoll(cfg.PreRollCapacity()),
	}
}

// Process advances the state machine by one frame. probability is the
// scorer's speech probability for frame. The detector keeps a copy of the
// frame; the caller may reuse its slice.
func (d *Detector) Process(frame []float32, probability float64) (Result, error) {
	if len(frame) == 0 {
		return Result{}, ErrEmptyFrame
	}
	if math.IsNaN(probability) || probability < 0 || probability > 1 {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidProbability, probability)
	}
	for i, s := range frame {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return Result{}, fmt.Errorf("%w: index %d", ErrInvalidSample, i)
		}
	}

	speech := probability > d.threshold
	n := int64(len(frame))
	res := Result{SpeechNow: speech}

	switch d.state {
	case StateIdle:
		if !speech {
			d.preRoll.push(append([]float32(nil), frame...))
			return res, nil
		}
		d.state = StateInSpeech
		d.segment = make([]float32, 0, d.preRoll.samples()+len(frame)*8)
		d.segment = d.preRoll.appendTo(d.segment)
		d.segment = append(d.segment, frame...)
		d.preRoll.clear()
		d.speechSamples = n
		d.silenceSamples = 0
		res.SpeechDuration = d.SpeechDuration()
		return res, nil

	case StateInSpeech:
		d.segment = append(d.segment, frame...)
		if speech {
			d.speechSamples += n
			d.silenceSamples = 0
			res.SpeechDuration = d.SpeechDuration()
			return res, nil
		}
		d.silenceSamples += n
		res.SpeechDuration = d.SpeechDuration()
		if d.silenceSamples*1000 < d.minSilenceMs*d.sampleRate {
			return res, nil
		}
		if res.SpeechDuration >= d.minUtteranceS {
			res.UtteranceEnded = true
			res.Segment = d.segment
		} else {
			res.Discarded = true
		}
		d.segment = nil
		d.toIdle()
		return res, nil
	}
	return res, nil
}

func (d *Detector) toIdle() {
	d.state = StateIdle
	d.speechSamples = 0
	d.silenceSamples = 0
}

// Reset drops all buffered audio and returns to idle.
func (d *Detector) Reset() {
	d.preRoll.clear()
	d.segment = nil
	d.toIdle()
}

// State returns the current state.
func (d *Detector) State() DetectorState { return d.state }

// InSpeech reports whether an episode is open.
func (d *Detector) InSpeech() bool { return d.state == StateInSpeech }

// SpeechDuration is the speech accumulated in the open episode, in seconds.
func (d *Detector) SpeechDuration() float64 {
	return float64(d.speechSamples) / float64(d.sampleRate)
}

// SilenceDuration is the trailing silence of the open episode, in seconds.
func (d *Detector) SilenceDuration() float64 {
	return float64(d.silenceSamples) / float64(d.sampleRate)
}

// PreRollLen is the number of frames currently held in the pre-roll ring.
func (d *Detector) PreRollLen() int { return d.preRoll.len() }

// PreRollCap is the pre-roll ring capacity in frames.
func (d *Detector) PreRollCap() int { return d.preRoll.capacity }

// SegmentLen is the number of samples buffered for the open episode.
func (d *Detector) SegmentLen() int { return len(d.segment) }
