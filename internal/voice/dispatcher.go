package voice

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/realtime-stt-lab/internal/metrics"
)

// TranscriptionPool is shared by every session. It owns the transcriber and
// caps how many transcriptions run at once across the process.
type TranscriptionPool struct {
	transcriber Transcriber
	sem         *semaphore.Weighted
	queueSize   int
}

// NewTranscriptionPool allows at most maxConcurrent transcriptions in flight
// process-wide and queues up to queueSize utterances per session.
func NewTranscriptionPool(t Transcriber, maxConcurrent, queueSize int) *TranscriptionPool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &TranscriptionPool{
		transcriber: t,
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		queueSize:   queueSize,
	}
}

// utterance is one accepted segment waiting for transcription.
type utterance struct {
	id    string
	audio []float32
	opts  TranscribeOptions
}

type transcriptionResult struct {
	res  *Transcription
	took time.Duration
	err  error
}

// dispatcher runs a session's transcriptions one at a time, in order, on its
// own goroutine so the receive loop never waits on the engine.
type dispatcher struct {
	pool    *TranscriptionPool
	jobs    chan utterance
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	// prepare runs before the transcription slot is acquired; may be nil.
	prepare func(u utterance)
	handle  func(ctx context.Context, u utterance, r transcriptionResult)
}

func (p *TranscriptionPool) newDispatcher(parent context.Context, prepare func(utterance), handle func(context.Context, utterance, transcriptionResult)) *dispatcher {
	ctx, cancel := context.WithCancel(parent)
	d := &dispatcher{
		pool:   p,
		jobs:   make(chan utterance, p.queueSize),
		ctx:    ctx,
		cancel: cancel,
		done:    make(chan struct{}),
		prepare: prepare,
		handle:  handle,
	}
	go d.run()
	return d
}

// submit enqueues u without blocking. It returns false when the queue is
// full or the dispatcher has stopped.
func (d *dispatcher) submit(u utterance) bool {
	if d.ctx.Err() != nil {
		return false
	}
	select {
	case d.jobs <- u:
		return true
	default:
		return false
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.ctx.Done():
			return
		case u := <-d.jobs:
			if d.prepare != nil {
				d.prepare(u)
			}
			if err := d.pool.sem.Acquire(d.ctx, 1); err != nil {
				return
			}
			metrics.TranscriptionsInFlight.Inc()
			start := time.Now()
			res, err := d.pool.transcriber.Transcribe(d.ctx, u.audio, u.opts)
			took := time.Since(start)
			metrics.TranscriptionsInFlight.Dec()
			d.pool.sem.Release(1)
			metrics.TranscriptionLatency.Observe(took.Seconds())
			if d.ctx.Err() != nil {
				// session gone; nobody to report to
				return
			}
			if err == nil && res == nil {
				res = &Transcription{}
			}
			d.handle(d.ctx, u, transcriptionResult{res: res, took: took, err: err})
		}
	}
}

// stop cancels the in-flight request and drops queued utterances.
func (d *dispatcher) stop() { d.cancel() }

// wait blocks until the dispatcher goroutine has exited.
func (d *dispatcher) wait() { <-d.done }
