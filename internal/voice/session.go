package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/realtime-stt-lab/internal/logging"
	"github.com/realtime-stt-lab/internal/metrics"
)

// ErrSessionClosed is returned by Session methods after cleanup.
var ErrSessionClosed = errors.New("session closed")

// Recorder persists accepted utterances for later inspection.
type Recorder interface {
	SaveUtterance(sessionID, utteranceID string, wav []byte, durationS float64) error
	Annotate(utteranceID string, fields map[string]interface{}) error
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Scorer Scorer
	Pool   *TranscriptionPool
	// Recorder is optional.
	Recorder Recorder
}

// Session drives one connection: it decodes inbound audio, scores and
// segments it, and turns the detector's output into protocol events.
type Session struct {
	id        string
	cfg       SessionConfig
	transport Transport
	decoder   Decoder
	scorer    Scorer
	recorder  Recorder
	dispatch  *dispatcher
	logCtx    context.Context

	// mu guards the detector and notified; cleanup may run on another
	// goroutine than the receive loop.
	mu       sync.Mutex
	detector *Detector
	notified bool

	active    atomic.Bool
	cleanOnce sync.Once
}

func newSession(id string, cfg SessionConfig, t Transport, deps Deps) (*Session, error) {
	dec, err := NewDecoder(cfg.Audio)
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:        id,
		cfg:       cfg,
		transport: t,
		decoder:   dec,
		scorer:    deps.Scorer,
		recorder:  deps.Recorder,
		detector:  NewDetector(cfg),
		logCtx:    logging.WithFields(context.Background(), logging.SessionFields(id)...),
	}
	s.active.Store(true)
	var prepare func(utterance)
	if s.recorder != nil {
		prepare = s.record
	}
	s.dispatch = deps.Pool.newDispatcher(context.Background(), prepare, s.onTranscribed)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Config returns the configuration fixed at session start.
func (s *Session) Config() SessionConfig { return s.cfg }

// Active reports whether the session has not been cleaned up yet.
func (s *Session) Active() bool { return s.active.Load() }

// Run is the receive loop. It returns when the transport fails or closes, or
// ctx is done. Processing errors are reported to the client and never end
// the loop; only transport errors do.
func (s *Session) Run(ctx context.Context) error {
	for {
		if !s.Active() {
			return ErrSessionClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		kind, data, err := s.transport.Receive(ctx)
		if err != nil {
			return err
		}
		switch kind {
		case MessageBinary:
			err = s.HandleAudio(ctx, data)
		case MessageText:
			err = s.HandleText(ctx, data)
		}
		if err != nil {
			return err
		}
	}
}

// HandleAudio processes one binary payload. The returned error is a
// transport failure; processing failures become error events.
func (s *Session) HandleAudio(ctx context.Context, payload []byte) error {
	if !s.Active() {
		return ErrSessionClosed
	}
	metrics.FramesTotal.Inc()

	frame, err := s.decoder.Decode(payload)
	if err != nil {
		return s.reportFrameError(ctx, "decode", err)
	}
	p, err := s.scorer.Score(ctx, frame, s.cfg.Audio.SampleRate)
	if err != nil {
		return s.reportFrameError(ctx, "score", err)
	}

	events, u, err := s.advance(frame, p)
	if err != nil {
		return s.reportFrameError(ctx, "detect", err)
	}
	for _, ev := range events {
		if err := s.send(ctx, ev); err != nil {
			return err
		}
	}
	if u != nil {
		return s.enqueue(ctx, *u)
	}
	return nil
}

// advance feeds the detector and returns the events the frame produced, in
// order, plus the utterance to transcribe if one ended.
func (s *Session) advance(frame []float32, p float64) ([]Event, *utterance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Active() {
		return nil, nil, ErrSessionClosed
	}
	res, err := s.detector.Process(frame, p)
	if err != nil {
		return nil, nil, err
	}

	var events []Event
	if res.SpeechNow && !s.notified {
		s.notified = true
		events = append(events, speechStartEvent(res.SpeechDuration))
		logging.InfowCtx(s.logCtx, "proper speech started")
	}

	switch {
	case res.Discarded:
		metrics.UtterancesTotal.WithLabelValues(metrics.OutcomeDiscarded).Inc()
		if s.notified {
			s.notified = false
			events = append(events, falseDetectionEvent())
			logging.InfowCtx(s.logCtx, "false speech detection", "speech_s", res.SpeechDuration)
		}
	case res.UtteranceEnded:
		s.notified = false
		u := &utterance{id: uuid.NewString(), audio: res.Segment}
		u.opts = TranscribeOptionsFrom(s.cfg, u.id)
		duration := float64(len(res.Segment)) / float64(s.cfg.Audio.SampleRate)
		metrics.UtterancesTotal.WithLabelValues(metrics.OutcomeAccepted).Inc()
		metrics.UtteranceDuration.Observe(duration)
		events = append(events, speechEndEvent(duration, u.id))
		logging.InfowCtx(s.logCtx, "speech ended",
			logging.UtteranceFields(u.id, len(res.Segment), int(duration*1000))...)
		return events, u, nil
	}
	return events, nil, nil
}

func (s *Session) enqueue(ctx context.Context, u utterance) error {
	if s.dispatch.submit(u) {
		return nil
	}
	metrics.DroppedSegmentsTotal.Inc()
	logging.WarnwCtx(s.logCtx, "transcription queue full, dropping utterance", "utterance.id", u.id)
	return s.send(ctx, errorEvent("Transcription queue full, utterance dropped", u.id))
}

// record saves u through the recorder. It runs on the dispatcher goroutine
// so disk writes never hold up frame intake.
func (s *Session) record(u utterance) {
	wav := buildWAV(floatToPCM16(u.audio), s.cfg.Audio.SampleRate, 1, 16)
	dur := float64(len(u.audio)) / float64(s.cfg.Audio.SampleRate)
	if err := s.recorder.SaveUtterance(s.id, u.id, wav, dur); err != nil {
		logging.WarnwCtx(s.logCtx, "failed to save utterance", "utterance.id", u.id, "err", err)
	}
}

// onTranscribed runs on the dispatcher goroutine.
func (s *Session) onTranscribed(ctx context.Context, u utterance, r transcriptionResult) {
	var ev Event
	if r.err != nil {
		metrics.TranscriptionErrorsTotal.Inc()
		logging.ErrorwCtx(s.logCtx, "transcription failed", "utterance.id", u.id, "err", r.err)
		ev = errorEvent(fmt.Sprintf("Transcription failed: %v", r.err), u.id)
	} else {
		logging.InfowCtx(s.logCtx, "transcription completed",
			"utterance.id", u.id, "took_ms", r.took.Milliseconds(), "text_len", len(r.res.Text))
		ev = transcriptionEvent(r.res, r.took, u.id)
	}
	if s.recorder != nil {
		upd := map[string]interface{}{
			"transcription_received_utc": time.Now().UTC().Format(time.RFC3339Nano),
			"transcription_ms":           r.took.Milliseconds(),
		}
		if r.err != nil {
			upd["transcription_error"] = r.err.Error()
		} else {
			upd["transcript"] = r.res.Text
			upd["language"] = r.res.Language
		}
		if err := s.recorder.Annotate(u.id, upd); err != nil {
			logging.DebugwCtx(s.logCtx, "failed to annotate utterance", "utterance.id", u.id, "err", err)
		}
	}
	if err := s.send(ctx, ev); err != nil && !IsClosure(err) {
		logging.WarnwCtx(s.logCtx, "failed to deliver transcription event", "utterance.id", u.id, "err", err)
	}
}

// HandleText acknowledges a control message.
func (s *Session) HandleText(ctx context.Context, msg []byte) error {
	if !s.Active() {
		return ErrSessionClosed
	}
	logging.DebugwCtx(s.logCtx, "text message received", "len", len(msg))
	return s.send(ctx, infoEvent("Text message received", ""))
}

func (s *Session) reportFrameError(ctx context.Context, stage string, err error) error {
	if errors.Is(err, ErrSessionClosed) {
		return err
	}
	metrics.FrameErrorsTotal.WithLabelValues(stage).Inc()
	logging.WarnwCtx(s.logCtx, "error processing audio", "stage", stage, "err", err)
	return s.send(ctx, errorEvent(fmt.Sprintf("Error processing audio: %v", err), ""))
}

func (s *Session) send(ctx context.Context, ev Event) error {
	if err := s.transport.Send(ctx, ev); err != nil {
		return err
	}
	metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()
	logging.DebugwCtx(s.logCtx, "sent event", "event", ev.Type)
	return nil
}

// Cleanup stops the session exactly once: frame processing stops, the
// in-flight transcription is cancelled, queued utterances are dropped, the
// detector is reset and the transport is closed. Later calls are no-ops.
func (s *Session) Cleanup() {
	s.cleanOnce.Do(func() {
		s.active.Store(false)
		s.dispatch.stop()

		s.mu.Lock()
		if s.detector.InSpeech() {
			logging.InfowCtx(s.logCtx, "session closed mid-utterance",
				"speech_s", s.detector.SpeechDuration(),
				"silence_s", s.detector.SilenceDuration(),
				"buffered_samples", s.detector.SegmentLen())
		}
		s.detector.Reset()
		s.notified = false
		s.mu.Unlock()

		if err := s.transport.Close(); err != nil && !IsClosure(err) {
			logging.DebugwCtx(s.logCtx, "transport close error", "err", err)
		}
		s.dispatch.wait()
		logging.InfowCtx(s.logCtx, "session cleaned up")
	})
}
