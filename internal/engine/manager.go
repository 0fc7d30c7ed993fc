package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/barrel/internal/merge"
	"github.com/hupe1980/barrel/internal/resource"
	"github.com/hupe1980/barrel/model"
)

// Observer receives manager events.
type Observer interface {
	OnQueueDepth(depth int)
	OnStateChange(s State)
	OnMergeFailure(err error)
}

type noopObserver struct{}

func (noopObserver) OnQueueDepth(int)     {}
func (noopObserver) OnStateChange(State)  {}
func (noopObserver) OnMergeFailure(error) {}

// Config configures a Manager.
type Config struct {
	Mode      Mode
	Set       *SegmentSet
	Policy    *merge.TieredPolicy
	Optimizer merge.OptimizePolicy
	// Deleted returns a snapshot of the deletion filter. May be nil.
	Deleted  func() *roaring.Bitmap
	Logger   *slog.Logger
	Observer Observer
}

// Status is a point-in-time view of a Manager.
type Status struct {
	State     State
	Mode      Mode
	Pending   int
	Completed uint64
	Failed    uint64
	LastError error
	Tiers     []merge.TierStats
}

// Manager schedules merges of the barrels in a SegmentSet.
type Manager struct {
	mode      Mode
	set       *SegmentSet
	policy    *merge.TieredPolicy
	optimizer merge.OptimizePolicy
	deleted   func() *roaring.Bitmap
	logger    *slog.Logger
	observer  Observer

	state atomic.Int32
	tasks *taskQueue
	pause pauseToken

	// lifecycle guards done and serializes Start, WaitForFinish and Shutdown.
	lifecycle sync.Mutex
	done      chan struct{}

	// runMu serializes task execution; it protects policy.
	runMu sync.Mutex

	completed atomic.Uint64
	failed    atomic.Uint64
	lastErr   atomic.Pointer[error]
	tiers     atomic.Pointer[[]merge.TierStats]
}

// NewManager creates a manager in StateIdle.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	m := &Manager{
		mode:      cfg.Mode,
		set:       cfg.Set,
		policy:    cfg.Policy,
		optimizer: cfg.Optimizer,
		deleted:   cfg.Deleted,
		logger:    cfg.Logger,
		observer:  cfg.Observer,
		tasks:     newTaskQueue(),
	}
	m.publishTiers()
	return m
}

// State returns the current state.
func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) setState(s State) {
	if old := State(m.state.Swap(int32(s))); old != s {
		m.logger.Info("compaction state changed", slog.String("from", old.String()), slog.String("to", s.String()))
		m.observer.OnStateChange(s)
	}
}

// Start launches the background loop. It is a no-op in sync mode.
func (m *Manager) Start() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	switch m.State() {
	case StateStopped:
		return ErrStopped
	case StateRunning, StatePaused:
		return nil
	}
	if m.mode == Sync {
		return nil
	}
	m.spawn()
	return nil
}

func (m *Manager) spawn() {
	m.done = make(chan struct{})
	if m.pause.isPaused() {
		m.setState(StatePaused)
	} else {
		m.setState(StateRunning)
	}
	go m.loop(m.done)
}

// AddSegment hands a published barrel to the merge policy.
func (m *Manager) AddSegment(ctx context.Context, info model.BarrelInfo) error {
	if m.State() == StateStopped {
		return ErrStopped
	}
	t := task{kind: taskAddSegment, barrel: info}
	if m.mode == Sync {
		return m.run(ctx, t)
	}
	m.observer.OnQueueDepth(m.tasks.push(t))
	return nil
}

// OptimizeAll merges every live barrel into one. In async mode it replaces
// all pending tasks.
func (m *Manager) OptimizeAll(ctx context.Context) error {
	if m.State() == StateStopped {
		return ErrStopped
	}
	t := task{kind: taskOptimizeAll}
	if m.mode == Sync {
		return m.run(ctx, t)
	}
	if n := m.tasks.clearWork(); n > 0 {
		m.logger.Debug("pending tasks superseded by optimize", slog.Int("dropped", n))
	}
	m.observer.OnQueueDepth(m.tasks.push(t))
	return nil
}

// Pause stops new merges from starting. A merge in flight runs to
// completion. Pause blocks while a merge is publishing its output.
func (m *Manager) Pause() {
	if !m.pause.pause() {
		return
	}
	m.set.Barrier()
	if m.State() == StateRunning {
		m.setState(StatePaused)
	}
}

// Resume lets the background loop start merges again.
func (m *Manager) Resume() {
	if !m.pause.unpause() {
		return
	}
	if m.State() == StatePaused {
		m.setState(StateRunning)
	}
}

// WaitForFinish blocks until all queued tasks have run and then restarts
// the background loop. A paused manager is resumed first.
func (m *Manager) WaitForFinish() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.State() == StateStopped {
		return ErrStopped
	}
	if m.mode == Sync || m.done == nil {
		return nil
	}
	m.Resume()
	if !m.join() {
		return ErrStopped
	}
	m.spawn()
	return nil
}

// Shutdown lets queued tasks run, stops the background loop and moves the
// manager to StateStopped.
func (m *Manager) Shutdown() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.State() == StateStopped {
		return
	}
	m.Resume()
	if m.mode == Async && m.done != nil {
		m.join()
	}
	m.setState(StateStopped)
}

// join pushes a shutdown task and waits for the loop to exit. It reports
// false if the loop stopped on a fatal error.
func (m *Manager) join() bool {
	m.tasks.push(task{kind: taskShutdown})
	<-m.done
	m.done = nil
	return m.State() != StateStopped
}

func (m *Manager) loop(done chan struct{}) {
	defer close(done)
	ctx := context.Background()
	for {
		t := m.tasks.pop()
		m.observer.OnQueueDepth(m.tasks.len())
		if t.kind == taskShutdown {
			return
		}
		m.pause.wait()
		if err := m.run(ctx, t); err != nil && isFatal(err) {
			m.logger.Error("compaction stopped", slog.String("error", err.Error()))
			m.setState(StateStopped)
			return
		}
	}
}

// run executes a task. Failures are recorded and logged; only sync callers
// see them.
func (m *Manager) run(ctx context.Context, t task) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	var err error
	switch t.kind {
	case taskAddSegment:
		if !m.set.Contains(t.barrel.ID) {
			m.logger.Debug("skipping barrel replaced before scheduling", slog.String("barrel", t.barrel.Name))
			return nil
		}
		err = m.policy.AddBarrel(ctx, t.barrel)
	case taskOptimizeAll:
		err = m.optimize(ctx)
	}
	m.set.SetMergeCounts(m.policy.MergeCounts())
	m.publishTiers()

	if err != nil {
		m.failed.Add(1)
		m.lastErr.Store(&err)
		m.observer.OnMergeFailure(err)
		attrs := []any{slog.String("task", t.kind.String()), slog.String("error", err.Error())}
		var merr *merge.Error
		if errors.As(err, &merr) {
			attrs = append(attrs, slog.Any("barrels", merr.Barrels), slog.Int("level", merr.Level))
		}
		m.logger.Error("compaction task failed", attrs...)
		return err
	}
	m.completed.Add(1)
	return nil
}

func (m *Manager) optimize(ctx context.Context) error {
	snap, err := m.set.Acquire()
	if err != nil {
		return err
	}
	barrels := snap.Infos()
	snap.Release()

	var deleted *roaring.Bitmap
	if m.deleted != nil {
		deleted = m.deleted()
	}
	counts := m.policy.MergeCounts()
	out, ran, err := m.optimizer.Optimize(ctx, barrels, deleted)
	if err != nil {
		return err
	}
	m.policy.Reset()
	switch {
	case !ran:
		m.policy.Restore(barrels, counts)
	case out.DocCount > 0:
		m.policy.Restore([]model.BarrelInfo{out}, counts)
	default:
		m.policy.Restore(nil, counts)
	}
	m.logger.Info("optimize finished", slog.Int("inputs", len(barrels)), slog.Bool("merged", ran), slog.Uint64("docs", out.DocCount))
	return nil
}

func (m *Manager) publishTiers() {
	tiers := m.policy.Tiers()
	m.tiers.Store(&tiers)
}

// Status returns the manager's state and counters.
func (m *Manager) Status() Status {
	s := Status{
		State:     m.State(),
		Mode:      m.mode,
		Pending:   m.tasks.len(),
		Completed: m.completed.Load(),
		Failed:    m.failed.Load(),
	}
	if p := m.lastErr.Load(); p != nil {
		s.LastError = *p
	}
	if t := m.tiers.Load(); t != nil {
		s.Tiers = *t
	}
	return s
}

// LastError returns the most recent task failure.
func (m *Manager) LastError() error {
	if p := m.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func isFatal(err error) bool {
	return errors.Is(err, resource.ErrMemoryLimitExceeded)
}
