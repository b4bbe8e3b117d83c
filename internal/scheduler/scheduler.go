// Package scheduler runs the background loops: a periodic full-tracker
// resync into the index and a poll for newly created items that drafts
// advice for each of them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/checkpoint"
	"github.com/kkzk/remindmine/internal/tracker"
)

const (
	defaultResyncInterval = 60 * time.Minute
	defaultPollInterval   = 5 * time.Minute
	defaultJoinTimeout    = 10 * time.Second
)

var (
	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler is already running")

	// ErrLocked is returned when another scheduler owns the data directory.
	ErrLocked = errors.New("scheduler lock held by another process")
)

// Resyncer reindexes the whole tracker.
type Resyncer interface {
	Resync(ctx context.Context, force bool) (int, error)
}

// Poller lists new items and checks them for prior advice.
type Poller interface {
	ListItemsSince(ctx context.Context, since time.Time) ([]tracker.Item, error)
	HasMarkerComment(ctx context.Context, id int, marker string) (bool, error)
}

// Generator drafts advice for an item.
type Generator interface {
	Generate(ctx context.Context, item tracker.Item) (string, error)
}

// Pending stores drafted advice for review.
type Pending interface {
	Add(item tracker.Item, text string) (string, error)
}

// Config configures the loops.
type Config struct {
	ResyncInterval time.Duration
	PollInterval   time.Duration

	// JoinTimeout bounds how long Stop waits for each loop.
	JoinTimeout time.Duration

	// Signature marks comments that already carry advice.
	Signature string

	// LockPath guards the data directory. Empty disables locking.
	LockPath string
}

func (c *Config) applyDefaults() {
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = defaultResyncInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = defaultJoinTimeout
	}
}

// Deps are the collaborators the loops drive.
type Deps struct {
	Resyncer    Resyncer
	Poller      Poller
	Generator   Generator
	Pending     Pending
	Checkpoints *checkpoint.Store
	Settings    *Settings
}

// Scheduler owns the resync and poll loops.
type Scheduler struct {
	config Config
	deps   Deps
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	loops   map[string]chan struct{}
	lock    *flock.Flock
}

// New creates a Scheduler. It does not start until Start is called.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Scheduler, error) {
	if deps.Resyncer == nil || deps.Poller == nil || deps.Generator == nil || deps.Pending == nil || deps.Checkpoints == nil {
		return nil, fmt.Errorf("scheduler dependencies cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Settings == nil {
		deps.Settings = NewSettings(true)
	}
	cfg.applyDefaults()
	return &Scheduler{config: cfg, deps: deps, logger: logger}, nil
}

// Settings returns the runtime settings.
func (s *Scheduler) Settings() *Settings { return s.deps.Settings }

// Start launches both loops. They stop when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	if err := s.acquireLock(); err != nil {
		return err
	}

	// Pin the poll cutoff before any loop runs so items created between
	// now and the first tick are not skipped.
	if cutoff, err := s.deps.Checkpoints.Ensure(); err != nil {
		s.logger.Warn("initial checkpoint not persisted", zap.Time("cutoff", cutoff), zap.Error(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loops = map[string]chan struct{}{
		"resync": make(chan struct{}),
		"poll":   make(chan struct{}),
	}
	s.running = true

	go s.resyncLoop(ctx, s.loops["resync"])
	go s.pollLoop(ctx, s.loops["poll"])

	s.logger.Info("scheduler started",
		zap.Duration("resync_interval", s.config.ResyncInterval),
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.Bool("auto_advice", s.deps.Settings.AutoAdvice()),
	)
	return nil
}

// Stop cancels both loops and waits up to JoinTimeout for each.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.cancel()

	for _, name := range []string{"resync", "poll"} {
		select {
		case <-s.loops[name]:
		case <-time.After(s.config.JoinTimeout):
			s.logger.Warn("scheduler loop did not stop gracefully",
				zap.String("loop", name),
				zap.Duration("timeout", s.config.JoinTimeout),
			)
		}
	}
	s.releaseLock()
	s.logger.Info("scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) acquireLock() error {
	if s.config.LockPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.config.LockPath), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	lock := flock.New(s.config.LockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring scheduler lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, s.config.LockPath)
	}
	s.lock = lock
	return nil
}

func (s *Scheduler) releaseLock() {
	if s.lock == nil {
		return
	}
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("releasing scheduler lock failed", zap.Error(err))
	}
	s.lock = nil
}

// safeRun runs fn, converting a panic into a logged loop error.
func (s *Scheduler) safeRun(loop string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			LoopErrors.WithLabelValues(loop).Inc()
			s.logger.Error("scheduler iteration panicked, continuing",
				zap.String("loop", loop),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	if err := fn(); err != nil {
		LoopErrors.WithLabelValues(loop).Inc()
		s.logger.Error("scheduler iteration failed",
			zap.String("loop", loop),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) resyncLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	resync := func() error {
		n, err := s.deps.Resyncer.Resync(ctx, false)
		if err != nil {
			return fmt.Errorf("resync: %w", err)
		}
		s.logger.Info("resync completed", zap.Int("chunks_added", n))
		return nil
	}

	s.safeRun("resync", resync)

	ticker := time.NewTicker(s.config.ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeRun("resync", resync)
		}
	}
}

func (s *Scheduler) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeRun("poll", func() error { return s.PollOnce(ctx) })
		}
	}
}

// PollOnce runs one poll cycle: drafts advice for every item created
// strictly after the checkpoint, then advances the checkpoint to the
// newest creation time seen, or to the cycle start when nothing is new.
func (s *Scheduler) PollOnce(ctx context.Context) error {
	cycleStart := time.Now().UTC()
	since := s.deps.Checkpoints.Load()

	fetched, err := s.deps.Poller.ListItemsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("listing new items: %w", err)
	}
	items := make([]tracker.Item, 0, len(fetched))
	for _, it := range fetched {
		if it.CreatedOn.After(since) {
			items = append(items, it)
		}
	}
	tracker.SortByCreated(items)
	ItemsSeen.Add(float64(len(items)))

	for _, it := range items {
		if ctx.Err() != nil {
			// Leave the checkpoint alone so the rest of the batch is retried.
			return ctx.Err()
		}
		s.handleItem(ctx, it)
	}

	next := cycleStart
	if len(items) > 0 {
		next = items[len(items)-1].CreatedOn.UTC()
	}
	if !next.After(since) {
		next = since
	}
	if err := s.deps.Checkpoints.Save(next); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	CheckpointTimestamp.Set(float64(next.Unix()))
	PollCycles.Inc()

	s.logger.Debug("poll cycle completed",
		zap.Int("new_items", len(items)),
		zap.Time("checkpoint", next),
	)
	return nil
}

func (s *Scheduler) handleItem(ctx context.Context, it tracker.Item) {
	log := s.logger.With(zap.Int("issue_id", it.ID))

	if !s.deps.Settings.AutoAdvice() {
		AdviceSkipped.WithLabelValues("disabled").Inc()
		log.Debug("auto advice disabled, skipping")
		return
	}

	has, err := s.deps.Poller.HasMarkerComment(ctx, it.ID, s.config.Signature)
	if err != nil {
		AdviceSkipped.WithLabelValues("failed").Inc()
		log.Warn("checking for existing advice failed, skipping", zap.Error(err))
		return
	}
	if has {
		AdviceSkipped.WithLabelValues("marker").Inc()
		log.Debug("item already has advice, skipping")
		return
	}

	text, err := s.deps.Generator.Generate(ctx, it)
	if err != nil || text == "" {
		AdviceSkipped.WithLabelValues("failed").Inc()
		log.Warn("advice generation failed", zap.Error(err))
		return
	}
	if _, err := s.deps.Pending.Add(it, text); err != nil {
		AdviceSkipped.WithLabelValues("failed").Inc()
		log.Error("storing pending advice failed", zap.Error(err))
		return
	}
	AdviceGenerated.Inc()
	log.Info("advice pending review")
}
