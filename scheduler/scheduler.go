// Package scheduler runs the periodic maintenance of the memory core:
// relevance decay, preference learning, embedding backfill and the sweep
// of messages memory processing has not seen.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/memory"
)

// Job names, also used as gocron job names.
const (
	JobDecay       = "memory-decay"
	JobPreferences = "preference-learning"
	JobBackfill    = "embedding-backfill"
	JobPending     = "pending-messages"
)

// Config sets the job intervals. A zero interval disables the job.
type Config struct {
	// DecayInterval is how often relevance decay runs. Decay is idempotent
	// within a day, so running it more often only catches expiries sooner.
	// Default: 1h
	DecayInterval time.Duration `yaml:"decay_interval"`

	// PreferenceInterval is how often profiles of recently active users
	// are re-learned.
	// Default: 6h
	PreferenceInterval time.Duration `yaml:"preference_interval"`

	// PreferenceLookback selects users with a message in this window.
	// Default: 24h
	PreferenceLookback time.Duration `yaml:"preference_lookback"`

	// BackfillInterval is how often chunks stored without an embedding
	// are retried.
	// Default: 5m
	BackfillInterval time.Duration `yaml:"backfill_interval"`

	// PendingInterval is how often unprocessed user messages are swept.
	// Default: 1m
	PendingInterval time.Duration `yaml:"pending_interval"`

	// BatchSize bounds backfill and pending sweeps per run.
	// Default: 100
	BatchSize int `yaml:"batch_size"`
}

// DefaultConfig returns the default intervals.
func DefaultConfig() Config {
	return Config{
		DecayInterval:      time.Hour,
		PreferenceInterval: 6 * time.Hour,
		PreferenceLookback: 24 * time.Hour,
		BackfillInterval:   5 * time.Minute,
		PendingInterval:    time.Minute,
		BatchSize:          100,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"decay_interval":      c.DecayInterval,
		"preference_interval": c.PreferenceInterval,
		"preference_lookback": c.PreferenceLookback,
		"backfill_interval":   c.BackfillInterval,
		"pending_interval":    c.PendingInterval,
	} {
		if d < 0 {
			return fmt.Errorf("scheduler %s must not be negative", name)
		}
	}
	if c.PreferenceInterval > 0 && c.PreferenceLookback <= 0 {
		return fmt.Errorf("scheduler preference_lookback must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("scheduler batch_size must be positive")
	}
	return nil
}

// Decayer applies relevance decay.
type Decayer interface {
	Decay(ctx context.Context) (memory.DecayReport, error)
}

// Learner re-learns the profiles of recently active users.
type Learner interface {
	LearnActive(ctx context.Context, since time.Time) (int, error)
}

// Backfiller embeds chunks stored without an embedding.
type Backfiller interface {
	Backfill(ctx context.Context, limit int) (int, error)
}

// PendingProcessor runs memory processing on unprocessed messages.
type PendingProcessor interface {
	ProcessPending(ctx context.Context, limit int) (int, error)
}

// Jobs are the components the scheduler drives. Nil fields are skipped.
type Jobs struct {
	Decay       Decayer
	Preferences Learner
	Backfill    Backfiller
	Pending     PendingProcessor
}

// Scheduler wraps a gocron scheduler. Every job runs in singleton mode, so
// a slow run is never overlapped by the next tick.
type Scheduler struct {
	config Config
	jobs   Jobs
	gocron gocron.Scheduler
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler and registers the configured jobs. It does not
// start them.
func New(cfg Config, jobs Jobs) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gs, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		config: cfg,
		jobs:   jobs,
		gocron: gs,
		now:    time.Now,
		logger: logging.Module("scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}

	for _, j := range s.registrations() {
		if j.every <= 0 || j.run == nil {
			continue
		}
		run := j.run
		name := j.name
		_, err := gs.NewJob(
			gocron.DurationJob(j.every),
			gocron.NewTask(func() { s.execute(name, run) }),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			cancel()
			_ = gs.Shutdown()
			return nil, fmt.Errorf("register %s job: %w", name, err)
		}
		s.logger.Info("Job registered", "job", name, "every", j.every.String())
	}

	return s, nil
}

type registration struct {
	name  string
	every time.Duration
	run   func(ctx context.Context) error
}

func (s *Scheduler) registrations() []registration {
	var regs []registration
	if s.jobs.Decay != nil {
		regs = append(regs, registration{JobDecay, s.config.DecayInterval, s.runDecay})
	}
	if s.jobs.Preferences != nil {
		regs = append(regs, registration{JobPreferences, s.config.PreferenceInterval, s.runPreferences})
	}
	if s.jobs.Backfill != nil {
		regs = append(regs, registration{JobBackfill, s.config.BackfillInterval, s.runBackfill})
	}
	if s.jobs.Pending != nil {
		regs = append(regs, registration{JobPending, s.config.PendingInterval, s.runPending})
	}
	return regs
}

// Start starts the registered jobs.
func (s *Scheduler) Start() {
	s.gocron.Start()
	s.logger.Info("Scheduler started", "jobs", len(s.gocron.Jobs()))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	return s.gocron.Shutdown()
}

// RunAll runs every configured job once, synchronously, regardless of its
// interval. Failures are joined.
func (s *Scheduler) RunAll(ctx context.Context) error {
	var errs []error
	for _, j := range s.registrations() {
		if err := j.run(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) execute(name string, run func(ctx context.Context) error) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := run(ctx); err != nil {
		s.logger.Error("Job failed", "job", name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("Job finished", "job", name, "duration", time.Since(start))
}

func (s *Scheduler) runDecay(ctx context.Context) error {
	report, err := s.jobs.Decay.Decay(ctx)
	if report.Decayed+report.Expired+report.Exhausted > 0 {
		s.logger.Info("[MEMORY] Decay applied",
			"scanned", report.Scanned,
			"decayed", report.Decayed,
			"expired", report.Expired,
			"exhausted", report.Exhausted,
		)
	}
	return err
}

func (s *Scheduler) runPreferences(ctx context.Context) error {
	since := s.now().Add(-s.config.PreferenceLookback)
	n, err := s.jobs.Preferences.LearnActive(ctx, since)
	if n > 0 {
		s.logger.Info("[PREFERENCE] Profiles learned", "users", n)
	}
	return err
}

func (s *Scheduler) runBackfill(ctx context.Context) error {
	_, err := s.jobs.Backfill.Backfill(ctx, s.config.BatchSize)
	return err
}

func (s *Scheduler) runPending(ctx context.Context) error {
	_, err := s.jobs.Pending.ProcessPending(ctx, s.config.BatchSize)
	return err
}
