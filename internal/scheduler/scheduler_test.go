package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/kkzk/remindmine/internal/checkpoint"
	"github.com/kkzk/remindmine/internal/ledger"
	"github.com/kkzk/remindmine/internal/logging"
	"github.com/kkzk/remindmine/internal/tracker"
)

type resyncFunc func(ctx context.Context, force bool) (int, error)

func (f resyncFunc) Resync(ctx context.Context, force bool) (int, error) { return f(ctx, force) }

type generateFunc func(ctx context.Context, item tracker.Item) (string, error)

func (f generateFunc) Generate(ctx context.Context, item tracker.Item) (string, error) {
	return f(ctx, item)
}

type recorder struct {
	mu  sync.Mutex
	ids []int
}

func (r *recorder) generator() Generator {
	return generateFunc(func(_ context.Context, it tracker.Item) (string, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ids = append(r.ids, it.ID)
		return "AI advice:\n\nadvice", nil
	})
}

func (r *recorder) seen() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.ids...)
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

type fixture struct {
	sched   *Scheduler
	source  *tracker.Fake
	ledger  *ledger.Ledger
	cps     *checkpoint.Store
	rec     *recorder
	dataDir string
}

func newFixture(t *testing.T, cfg Config, items ...tracker.Item) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		source:  tracker.NewFake(items...),
		cps:     checkpoint.NewStore(filepath.Join(dir, "scheduler_checkpoint.json"), nil),
		rec:     &recorder{},
		dataDir: dir,
	}
	f.ledger = ledger.Open(filepath.Join(dir, "pending_advice.json"), f.source.ItemURL, nil)
	if cfg.Signature == "" {
		cfg.Signature = "AI advice"
	}
	s, err := New(cfg, Deps{
		Resyncer:    resyncFunc(func(context.Context, bool) (int, error) { return 0, nil }),
		Poller:      f.source,
		Generator:   f.rec.generator(),
		Pending:     f.ledger,
		Checkpoints: f.cps,
		Settings:    NewSettings(true),
	}, nil)
	require.NoError(t, err)
	f.sched = s
	return f
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Config{}, Deps{}, nil)
	assert.Error(t, err)
}

func TestPollOnce_StrictlyNewerInCreationOrder(t *testing.T) {
	f := newFixture(t, Config{},
		tracker.Item{ID: 1, Subject: "at checkpoint", CreatedOn: at(0)},
		tracker.Item{ID: 3, Subject: "later", CreatedOn: at(2)},
		tracker.Item{ID: 2, Subject: "sooner", CreatedOn: at(1)},
	)
	require.NoError(t, f.cps.Save(at(0)))

	require.NoError(t, f.sched.PollOnce(context.Background()))

	assert.Equal(t, []int{2, 3}, f.rec.seen())
	assert.Equal(t, 2, f.ledger.Len())
	assert.True(t, f.cps.Load().Equal(at(2)))
}

func TestPollOnce_CheckpointMonotonic(t *testing.T) {
	f := newFixture(t, Config{}, tracker.Item{ID: 1, CreatedOn: at(5)})
	require.NoError(t, f.cps.Save(at(0)))

	require.NoError(t, f.sched.PollOnce(context.Background()))
	first := f.cps.Load()
	assert.True(t, first.Equal(at(5)))

	// Nothing new: the checkpoint moves to the cycle start, never backwards.
	require.NoError(t, f.sched.PollOnce(context.Background()))
	second := f.cps.Load()
	assert.False(t, second.Before(first))

	require.NoError(t, f.sched.PollOnce(context.Background()))
	assert.False(t, f.cps.Load().Before(second))
	assert.Equal(t, []int{1}, f.rec.seen())
}

func TestPollOnce_EmptyBatchAdvancesToCycleStart(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.cps.Save(at(0)))

	before := time.Now().UTC()
	require.NoError(t, f.sched.PollOnce(context.Background()))
	cp := f.cps.Load()
	assert.False(t, cp.Before(before.Add(-time.Second)))
	assert.False(t, cp.After(time.Now().UTC()))
}

func TestPollOnce_SkipsMarkedAndDisabled(t *testing.T) {
	f := newFixture(t, Config{},
		tracker.Item{ID: 1, CreatedOn: at(1), Journals: []tracker.Journal{{Notes: "AI advice:\n\nold"}}},
		tracker.Item{ID: 2, CreatedOn: at(2)},
	)
	require.NoError(t, f.cps.Save(at(0)))
	markerBefore := testutil.ToFloat64(AdviceSkipped.WithLabelValues("marker"))

	require.NoError(t, f.sched.PollOnce(context.Background()))
	assert.Equal(t, []int{2}, f.rec.seen())
	assert.Equal(t, 1.0, testutil.ToFloat64(AdviceSkipped.WithLabelValues("marker"))-markerBefore)

	f.sched.Settings().SetAutoAdvice(false)
	f.source.Put(tracker.Item{ID: 3, CreatedOn: at(3)})
	disabledBefore := testutil.ToFloat64(AdviceSkipped.WithLabelValues("disabled"))

	require.NoError(t, f.sched.PollOnce(context.Background()))
	assert.Equal(t, []int{2}, f.rec.seen())
	assert.Equal(t, 1.0, testutil.ToFloat64(AdviceSkipped.WithLabelValues("disabled"))-disabledBefore)
	// Disabled items are still consumed by the checkpoint.
	assert.True(t, f.cps.Load().Equal(at(3)))
}

func TestPollOnce_GenerationFailureSkipsItem(t *testing.T) {
	f := newFixture(t, Config{},
		tracker.Item{ID: 1, CreatedOn: at(1)},
		tracker.Item{ID: 2, CreatedOn: at(2)},
	)
	require.NoError(t, f.cps.Save(at(0)))
	f.sched.deps.Generator = generateFunc(func(_ context.Context, it tracker.Item) (string, error) {
		if it.ID == 1 {
			return "", errors.New("model unavailable")
		}
		return "advice", nil
	})

	require.NoError(t, f.sched.PollOnce(context.Background()))
	_, err := f.ledger.Get("1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = f.ledger.Get("2")
	assert.NoError(t, err)
}

func TestPollOnce_ReplacesPendingForSameItem(t *testing.T) {
	f := newFixture(t, Config{}, tracker.Item{ID: 1, CreatedOn: at(1)})
	_, err := f.ledger.Add(tracker.Item{ID: 1}, "stale")
	require.NoError(t, err)
	require.NoError(t, f.cps.Save(at(0)))

	require.NoError(t, f.sched.PollOnce(context.Background()))
	assert.Equal(t, 1, f.ledger.Len())
	e, err := f.ledger.Get("1")
	require.NoError(t, err)
	assert.Equal(t, "AI advice:\n\nadvice", e.AdviceContent)
}

func TestPollOnce_ListErrorKeepsCheckpoint(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.cps.Save(at(0)))
	f.source.FailList(errors.New("redmine down"))

	assert.Error(t, f.sched.PollOnce(context.Background()))
	assert.True(t, f.cps.Load().Equal(at(0)))
}

func TestStart_ResyncsImmediatelyAndOnTick(t *testing.T) {
	f := newFixture(t, Config{ResyncInterval: 20 * time.Millisecond, PollInterval: time.Hour})
	var calls atomic.Int32
	f.sched.deps.Resyncer = resyncFunc(func(_ context.Context, force bool) (int, error) {
		assert.False(t, force)
		calls.Add(1)
		return 1, nil
	})

	require.NoError(t, f.sched.Start(context.Background()))
	assert.ErrorIs(t, f.sched.Start(context.Background()), ErrAlreadyRunning)
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	f.sched.Stop()
	f.sched.Stop()
}

func TestResyncLoop_SurvivesErrorsAndPanics(t *testing.T) {
	f := newFixture(t, Config{ResyncInterval: 10 * time.Millisecond, PollInterval: time.Hour})
	var calls atomic.Int32
	f.sched.deps.Resyncer = resyncFunc(func(context.Context, bool) (int, error) {
		switch calls.Add(1) {
		case 1:
			panic("boom")
		case 2:
			return 0, errors.New("embedding backend down")
		}
		return 0, nil
	})
	before := testutil.ToFloat64(LoopErrors.WithLabelValues("resync"))

	require.NoError(t, f.sched.Start(context.Background()))
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	f.sched.Stop()
	assert.GreaterOrEqual(t, testutil.ToFloat64(LoopErrors.WithLabelValues("resync"))-before, 2.0)
}

func TestPollLoop_RunsOnTick(t *testing.T) {
	f := newFixture(t, Config{ResyncInterval: time.Hour, PollInterval: 10 * time.Millisecond})
	require.NoError(t, f.cps.Save(at(0)))
	f.source.Put(tracker.Item{ID: 9, CreatedOn: at(1)})

	require.NoError(t, f.sched.Start(context.Background()))
	assert.Eventually(t, func() bool { return f.ledger.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	f.sched.Stop()
}

func TestPollLoop_PicksUpItemCreatedBeforeFirstTick(t *testing.T) {
	f := newFixture(t, Config{ResyncInterval: time.Hour, PollInterval: 300 * time.Millisecond})
	require.NoFileExists(t, filepath.Join(f.dataDir, "scheduler_checkpoint.json"))

	require.NoError(t, f.sched.Start(context.Background()))
	defer f.sched.Stop()
	require.FileExists(t, filepath.Join(f.dataDir, "scheduler_checkpoint.json"))

	time.Sleep(50 * time.Millisecond)
	f.source.Put(tracker.Item{ID: 21, Subject: "tray jam", CreatedOn: time.Now().UTC()})

	assert.Eventually(t, func() bool { return f.ledger.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{21}, f.rec.seen())
}

func TestStop_LogsWhenLoopDoesNotExit(t *testing.T) {
	tl := logging.NewTestLogger()
	f := newFixture(t, Config{ResyncInterval: time.Hour, PollInterval: time.Hour, JoinTimeout: 20 * time.Millisecond})
	f.sched.logger = tl.Underlying()

	release := make(chan struct{})
	entered := make(chan struct{})
	f.sched.deps.Resyncer = resyncFunc(func(context.Context, bool) (int, error) {
		close(entered)
		<-release
		return 0, nil
	})

	require.NoError(t, f.sched.Start(context.Background()))
	<-entered
	f.sched.Stop()
	close(release)

	tl.AssertLogged(t, zapcore.WarnLevel, "did not stop gracefully")
}

func TestRun_StopsWhenContextDone(t *testing.T) {
	f := newFixture(t, Config{ResyncInterval: time.Hour, PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- f.sched.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestLock_SecondSchedulerRefused(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".scheduler.lock")
	cfg := Config{ResyncInterval: time.Hour, PollInterval: time.Hour, LockPath: lockPath}
	a := newFixture(t, cfg)
	b := newFixture(t, cfg)

	require.NoError(t, a.sched.Start(context.Background()))
	assert.ErrorIs(t, b.sched.Start(context.Background()), ErrLocked)

	a.sched.Stop()
	require.NoError(t, b.sched.Start(context.Background()))
	b.sched.Stop()
}

func TestSettings(t *testing.T) {
	s := NewSettings(false)
	assert.False(t, s.AutoAdvice())
	s.SetAutoAdvice(true)
	assert.True(t, s.AutoAdvice())
}
