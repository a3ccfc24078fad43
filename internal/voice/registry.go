package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/realtime-stt-lab/internal/logging"
	"github.com/realtime-stt-lab/internal/metrics"
)

// ErrTooManySessions is returned by Connect when the session cap is reached.
var ErrTooManySessions = errors.New("too many active sessions")

const welcomeMessage = "Connected to real-time transcription service"

// Registry owns the set of live sessions. It is the only state shared
// across sessions and never touches a session's internals beyond its
// lifecycle methods.
type Registry struct {
	deps        Deps
	maxSessions int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a registry. maxSessions <= 0 means no cap.
func NewRegistry(deps Deps, maxSessions int) *Registry {
	return &Registry{
		deps:        deps,
		maxSessions: maxSessions,
		sessions:    make(map[string]*Session),
	}
}

// Connect creates a session for t with cfg, registers it and sends the
// welcome event carrying the new session ID.
func (r *Registry) Connect(ctx context.Context, t Transport, cfg SessionConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	sess, err := newSession(id, cfg, t, r.deps)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	r.mu.Lock()
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		sess.dispatch.stop()
		sess.dispatch.wait()
		metrics.SessionsRejectedTotal.Inc()
		return "", ErrTooManySessions
	}
	r.sessions[id] = sess
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()
	metrics.SessionsCreatedTotal.Inc()

	logging.InfowCtx(sess.logCtx, "connection established",
		"sample_rate", cfg.Audio.SampleRate, "encoding", cfg.Audio.Encoding, "language", cfg.Transcription.Language)

	if err := sess.send(ctx, infoEvent(welcomeMessage, id)); err != nil {
		r.Disconnect(id)
		return "", fmt.Errorf("send welcome: %w", err)
	}
	return id, nil
}

// Disconnect cleans up and removes the session. Unknown IDs are a no-op.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	sess.Cleanup()
	logging.InfowCtx(sess.logCtx, "disconnected")
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ActiveCount returns the number of registered sessions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Full reports whether the session cap has been reached.
func (r *Registry) Full() bool {
	if r.maxSessions <= 0 {
		return false
	}
	return r.ActiveCount() >= r.maxSessions
}

// IDs returns a snapshot of the registered session IDs.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Serve connects t, runs its receive loop until the connection ends and
// always disconnects afterwards.
func (r *Registry) Serve(ctx context.Context, t Transport, cfg SessionConfig) error {
	id, err := r.Connect(ctx, t, cfg)
	if err != nil {
		_ = t.Close()
		return err
	}
	defer r.Disconnect(id)

	sess, ok := r.Get(id)
	if !ok {
		return ErrSessionClosed
	}
	err = sess.Run(ctx)
	switch {
	case err == nil, IsClosure(err), errors.Is(err, ErrSessionClosed):
		logging.InfowCtx(sess.logCtx, "client disconnected")
		return nil
	default:
		logging.WarnwCtx(sess.logCtx, "session ended with transport error", "err", err)
		return err
	}
}

// Shutdown disconnects every session.
func (r *Registry) Shutdown() {
	for _, id := range r.IDs() {
		r.Disconnect(id)
	}
}
