package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leadscout/leadscout/internal/campaigns"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultInterval     = 5 * time.Minute
	defaultStartupDelay = 5 * time.Second
)

var (
	errMissingOrchestrator = errors.New("scanner: orchestrator is required")
	// ErrSweepInProgress indicates a sweep was requested while one is already
	// running. Overlapping requests are skipped, never queued.
	ErrSweepInProgress = errors.New("scanner: sweep already in progress")
)

// Outcome records the most recent sweep attempt for observability.
type Outcome struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Report     SweepReport   `json:"report"`
	Err        string        `json:"error,omitempty"`
	Skipped    int64         `json:"ticks_skipped"`
	InProgress bool          `json:"in_progress"`
}

// SchedulerConfig describes scheduler dependencies and timing.
type SchedulerConfig struct {
	Orchestrator *Orchestrator
	Interval     time.Duration
	StartupDelay time.Duration
	Logger       *zap.Logger
}

// Scheduler drives the orchestrator on a fixed interval and once shortly
// after startup. A process-wide in-progress flag makes sweeps non-reentrant:
// a tick that finds a sweep running is a logged no-op, so sustained overload
// drops ticks instead of building a backlog.
type Scheduler struct {
	orchestrator *Orchestrator
	interval     time.Duration
	startupDelay time.Duration
	logger       *zap.Logger

	cron       *cron.Cron
	inProgress atomic.Bool
	skipped    atomic.Int64

	mu   sync.Mutex
	last Outcome
}

// NewScheduler constructs a scan scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Orchestrator == nil {
		return nil, errMissingOrchestrator
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	startupDelay := cfg.StartupDelay
	if startupDelay <= 0 {
		startupDelay = defaultStartupDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		orchestrator: cfg.Orchestrator,
		interval:     interval,
		startupDelay: startupDelay,
		logger:       logger,
	}, nil
}

// Start schedules the recurring sweep and fires the startup sweep. The
// provided context bounds every scheduled sweep.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scan scheduler started", zap.Duration("interval", s.interval))

	go func() {
		select {
		case <-time.After(s.startupDelay):
			s.tick(ctx)
		case <-ctx.Done():
		}
	}()

	return nil
}

// Stop halts the cron schedule. A sweep already running is not interrupted.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		s.logger.Info("scan scheduler stopped")
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunSweep(ctx); err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			s.logger.Info("sweep already running, skipping tick")
			return
		}
		// No escaped sweep failure may terminate the scheduler.
		s.logger.Error("sweep failed", zap.Error(err))
	}
}

// RunSweep runs one full sweep through the non-reentrant guard. It returns
// ErrSweepInProgress when a sweep is already running.
func (s *Scheduler) RunSweep(ctx context.Context) (SweepReport, error) {
	if !s.inProgress.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return SweepReport{}, ErrSweepInProgress
	}
	defer s.inProgress.Store(false)

	started := time.Now()
	report, err := s.orchestrator.SweepAll(ctx)
	s.record(started, report, err)
	return report, err
}

// RunCampaignSweep sweeps a single campaign on demand, through the same
// guard as scheduled sweeps.
func (s *Scheduler) RunCampaignSweep(ctx context.Context, campaign campaigns.Campaign) (CampaignReport, error) {
	if !s.inProgress.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return CampaignReport{}, ErrSweepInProgress
	}
	defer s.inProgress.Store(false)

	started := time.Now()
	campaignReport := s.orchestrator.SweepCampaign(ctx, campaign)
	report := SweepReport{
		CampaignsScanned: 1,
		PostsProcessed:   campaignReport.PostsProcessed,
		SubredditsFailed: campaignReport.SubredditsFailed,
		Campaigns:        []CampaignReport{campaignReport},
	}
	s.record(started, report, nil)
	return campaignReport, nil
}

// Status returns the most recent sweep outcome.
func (s *Scheduler) Status() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome := s.last
	outcome.Skipped = s.skipped.Load()
	outcome.InProgress = s.inProgress.Load()
	return outcome
}

func (s *Scheduler) record(started time.Time, report SweepReport, err error) {
	outcome := Outcome{
		StartedAt: started,
		Duration:  time.Since(started),
		Report:    report,
	}
	if err != nil {
		outcome.Err = err.Error()
	}

	s.mu.Lock()
	s.last = outcome
	s.mu.Unlock()
}
