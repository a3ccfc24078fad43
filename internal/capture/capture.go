// Package capture stores accepted utterances on disk as WAV files paired with
// JSON sidecars, for offline inspection of what the detector cut.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/realtime-stt-lab/internal/logging"
)

// ErrNotFound is returned when no sidecar exists for an utterance.
var ErrNotFound = errors.New("sidecar not found")

// Store writes utterance WAVs and sidecars into Dir. A nil *Store is a
// valid no-op recorder.
type Store struct {
	Dir string

	// serializes read-modify-write of sidecars
	mu sync.Mutex
}

// NewStore returns nil when dir is empty.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) baseName(utteranceID string) string {
	return filepath.Join(s.Dir, "utt_"+utteranceID)
}

// SaveUtterance writes wav and a sidecar describing it.
func (s *Store) SaveUtterance(sessionID, utteranceID string, wav []byte, durationS float64) error {
	if s == nil {
		return nil
	}
	base := s.baseName(utteranceID)
	wavPath := base + ".wav"
	if err := SaveFileAtomic(wavPath, wav, 0o644); err != nil {
		return fmt.Errorf("save wav: %w", err)
	}
	sc := map[string]interface{}{
		"utterance_id": utteranceID,
		"session_id":   sessionID,
		"wav_path":     wavPath,
		"duration_s":   durationS,
		"created_utc":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	if err := SaveFileAtomic(base+".json", b, 0o644); err != nil {
		return fmt.Errorf("save sidecar: %w", err)
	}
	logging.Debugw("capture: saved utterance", "path", wavPath, "utterance.id", utteranceID, "session.id", sessionID)
	return nil
}

// FindByID returns the sidecar path for utteranceID, or "" if none exists.
func (s *Store) FindByID(utteranceID string) string {
	if s == nil || utteranceID == "" {
		return ""
	}
	path := s.baseName(utteranceID) + ".json"
	if _, err := os.Stat(path); err == nil {
		return path
	}
	// fall back to scanning, for sidecars renamed by hand
	files, err := os.ReadDir(s.Dir)
	if err != nil {
		logging.Warnw("capture: failed to list dir", "dir", s.Dir, "err", err)
		return ""
	}
	for _, fi := range files {
		if !strings.HasSuffix(fi.Name(), ".json") {
			continue
		}
		p := filepath.Join(s.Dir, fi.Name())
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var sc map[string]interface{}
		if json.Unmarshal(b, &sc) == nil {
			if v, _ := sc["utterance_id"].(string); v == utteranceID {
				return p
			}
		}
	}
	return ""
}

// Annotate merges fields into the sidecar of utteranceID.
func (s *Store) Annotate(utteranceID string, fields map[string]interface{}) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.FindByID(utteranceID)
	if path == "" {
		return fmt.Errorf("%w: utterance_id=%s dir=%s", ErrNotFound, utteranceID, s.Dir)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sidecar %s: %w", path, err)
	}
	var sc map[string]interface{}
	if err := json.Unmarshal(b, &sc); err != nil {
		return fmt.Errorf("invalid sidecar JSON %s: %w", path, err)
	}
	for k, v := range fields {
		sc[k] = v
	}
	nb, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar %s: %w", path, err)
	}
	if err := SaveFileAtomic(path, nb, 0o644); err != nil {
		return err
	}
	logging.Debugw("capture: sidecar updated", "path", path, "utterance.id", utteranceID)
	return nil
}

// StartCleaner runs Clean every interval until ctx is done. It registers the
// goroutine with wg; wg.Wait returns once the cleaner has exited.
func (s *Store) StartCleaner(ctx context.Context, wg *sync.WaitGroup, retention, interval time.Duration, maxFiles int) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if s == nil {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Clean(time.Now(), retention, maxFiles); n > 0 {
					logging.Debugw("capture: cleanup removed utterances", "removed", n)
				}
			}
		}
	}()
}

type pairInfo struct {
	jsonPath string
	wavPath  string
	mod      time.Time
}

// Clean removes sidecar/WAV pairs older than retention, then the oldest
// pairs beyond maxFiles (0 disables the cap). It returns the number of pairs
// removed.
func (s *Store) Clean(now time.Time, retention time.Duration, maxFiles int) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	files, err := os.ReadDir(s.Dir)
	if err != nil {
		logging.Debugw("capture: cleanup readDir failed", "err", err)
		return 0
	}
	var pairs []pairInfo
	for _, fi := range files {
		name := fi.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		jsonPath := filepath.Join(s.Dir, name)
		st, err := os.Stat(jsonPath)
		if err != nil {
			continue
		}
		wavPath := strings.TrimSuffix(jsonPath, ".json") + ".wav"
		if b, err := os.ReadFile(jsonPath); err == nil {
			var sc map[string]interface{}
			if json.Unmarshal(b, &sc) == nil {
				if v, ok := sc["wav_path"].(string); ok && v != "" {
					wavPath = v
				}
			}
		}
		pairs = append(pairs, pairInfo{jsonPath: jsonPath, wavPath: wavPath, mod: st.ModTime()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].mod.Before(pairs[j].mod) })

	removed := 0
	cutoff := now.Add(-retention)
	for _, p := range pairs {
		if retention > 0 && p.mod.Before(cutoff) {
			removePair(p)
			removed++
		}
	}
	if maxFiles > 0 {
		left := pairs[removed:]
		for i := 0; len(left)-i > maxFiles; i++ {
			removePair(left[i])
			removed++
		}
	}
	return removed
}

func removePair(p pairInfo) {
	_ = os.Remove(p.jsonPath)
	if p.wavPath != "" {
		_ = os.Remove(p.wavPath)
	}
}

// SaveFileAtomic writes data to path by writing a tmp file in the same
// directory, fsyncing, closing and renaming it into place.
func SaveFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
