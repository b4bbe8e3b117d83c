// Package checkpoint persists how far the poll loop has progressed.
package checkpoint

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/jsonfile"
)

// Checkpoint is the persisted poll cutoff.
type Checkpoint struct {
	LastPollCutoff time.Time `json:"last_poll_cutoff_timestamp"`
}

// Store reads and writes the checkpoint document.
type Store struct {
	path   string
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	anchor time.Time
}

// NewStore returns a Store for path.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger, now: time.Now}
}

// Load returns the persisted cutoff. When the document is missing or
// unreadable it returns the cutoff pinned by Ensure, or now if none was.
func (s *Store) Load() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cp Checkpoint
	if err := jsonfile.Load(s.path, &cp); err != nil {
		if !errors.Is(err, jsonfile.ErrNotFound) {
			s.logger.Warn("checkpoint unreadable, starting from now", zap.String("path", s.path), zap.Error(err))
		}
		return s.fallback()
	}
	if cp.LastPollCutoff.IsZero() {
		return s.fallback()
	}
	return cp.LastPollCutoff
}

// Ensure pins the cutoff the poll loop starts from. When no usable
// checkpoint exists the current time is persisted immediately, so items
// created before the first poll are still newer than the cutoff.
//
// If persisting fails the cutoff is still held in memory and Load keeps
// returning it until a Save succeeds.
func (s *Store) Ensure() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cp Checkpoint
	err := jsonfile.Load(s.path, &cp)
	if err == nil && !cp.LastPollCutoff.IsZero() {
		return cp.LastPollCutoff, nil
	}
	if err != nil && !errors.Is(err, jsonfile.ErrNotFound) {
		s.logger.Warn("checkpoint unreadable, starting from now", zap.String("path", s.path), zap.Error(err))
	}

	s.anchor = s.now().UTC()
	if err := jsonfile.Save(s.path, Checkpoint{LastPollCutoff: s.anchor}); err != nil {
		return s.anchor, fmt.Errorf("persisting initial checkpoint: %w", err)
	}
	return s.anchor, nil
}

func (s *Store) fallback() time.Time {
	if !s.anchor.IsZero() {
		return s.anchor
	}
	return s.now().UTC()
}

// Save persists cutoff.
func (s *Store) Save(cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return jsonfile.Save(s.path, Checkpoint{LastPollCutoff: cutoff.UTC()})
}
