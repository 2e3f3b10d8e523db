// Package runtime drives the background jobs: the idle-triggered archival
// loop, the nightly profile update, score decay, and the weekly memory fold.
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aschepis/engramd/memory"
	"github.com/aschepis/engramd/profile"
)

// Archival loop sleep bounds.
const (
	sleepIdle    = 300 * time.Second
	sleepWaiting = 120 * time.Second
	sleepMin     = 30 * time.Second
	sleepMax     = 300 * time.Second
	// triggerSlack pads the wakeup past the exact trigger instant so the
	// timeout check on the other side definitely passes.
	triggerSlack = 5 * time.Second
)

// SchedulerOptions tune the background jobs.
type SchedulerOptions struct {
	// ArchiveTimeout is how long an owner must be idle before their pending
	// messages are archived.
	ArchiveTimeout time.Duration
	// ArchiveMinCount is the minimum pending message count worth archiving.
	ArchiveMinCount int
	// FoldingDays is the lookback window for the weekly fold.
	FoldingDays int
}

// Scheduler owns the goroutines running the background jobs.
type Scheduler struct {
	tracker  *memory.ActivityTracker
	archiver *memory.Archiver
	folder   *memory.Folder
	decayer  *memory.Decayer
	profiles *profile.Manager
	store    *memory.Store
	opts     SchedulerOptions
	logger   zerolog.Logger

	cron *cron.Cron
	wg   sync.WaitGroup
}

// NewScheduler wires a scheduler. Any of folder, decayer, or profiles may be
// nil to disable that job.
func NewScheduler(
	tracker *memory.ActivityTracker,
	archiver *memory.Archiver,
	folder *memory.Folder,
	decayer *memory.Decayer,
	profiles *profile.Manager,
	store *memory.Store,
	opts SchedulerOptions,
	logger zerolog.Logger,
) *Scheduler {
	if opts.ArchiveTimeout <= 0 {
		opts.ArchiveTimeout = 30 * time.Minute
	}
	if opts.ArchiveMinCount <= 0 {
		opts.ArchiveMinCount = 3
	}
	if opts.FoldingDays <= 0 {
		opts.FoldingDays = 7
	}
	return &Scheduler{
		tracker:  tracker,
		archiver: archiver,
		folder:   folder,
		decayer:  decayer,
		profiles: profiles,
		store:    store,
		opts:     opts,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start launches the archival loop and the cron jobs. It returns immediately;
// call Stop to shut everything down.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.archiveLoop(ctx)
	}()

	s.cron = cron.New()
	if s.profiles != nil {
		// Nightly profile update covers the previous calendar day.
		if _, err := s.cron.AddFunc("0 0 * * *", func() { s.runProfileUpdates(ctx) }); err != nil {
			s.logger.Error().Err(err).Msg("Failed to schedule profile update job")
		}
	}
	if s.decayer != nil {
		if _, err := s.cron.AddFunc("30 3 * * *", func() { s.runDecay(ctx) }); err != nil {
			s.logger.Error().Err(err).Msg("Failed to schedule decay job")
		}
	}
	if s.folder != nil {
		if _, err := s.cron.AddFunc("0 4 * * 0", func() { s.runFolding(ctx) }); err != nil {
			s.logger.Error().Err(err).Msg("Failed to schedule folding job")
		}
	}
	s.cron.Start()
	s.logger.Info().
		Dur("archive_timeout", s.opts.ArchiveTimeout).
		Int("archive_min_count", s.opts.ArchiveMinCount).
		Msg("Scheduler started")
}

// Stop halts the cron jobs and waits for the archival loop to exit. The
// context passed to Start must already be canceled.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// archiveLoop wakes up just after the earliest owner crosses the idle
// timeout, archives everyone due, and goes back to sleep. Sleep stretches
// out when nobody is chatting.
func (s *Scheduler) archiveLoop(ctx context.Context) {
	for {
		due := s.tracker.Due(s.opts.ArchiveTimeout, s.opts.ArchiveMinCount)
		for _, ownerID := range due {
			if ctx.Err() != nil {
				return
			}
			if err := s.archiver.ArchiveOwner(ctx, ownerID); err != nil {
				s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("Idle archive failed")
				continue
			}
			s.tracker.Reset(ownerID)
		}

		timer := time.NewTimer(s.nextSleep())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// nextSleep picks the loop interval from current activity.
func (s *Scheduler) nextSleep() time.Duration {
	if s.tracker.Active() == 0 {
		return sleepIdle
	}
	if s.tracker.ActiveWithPending(s.opts.ArchiveMinCount) == 0 {
		return sleepWaiting
	}
	next, ok := s.tracker.NextTrigger(s.opts.ArchiveTimeout, s.opts.ArchiveMinCount)
	if !ok {
		return sleepWaiting
	}
	d := time.Until(next) + triggerSlack
	if d < sleepMin {
		return sleepMin
	}
	if d > sleepMax {
		return sleepMax
	}
	return d
}

// runProfileUpdates refreshes every known owner's profile from yesterday's
// summaries.
func (s *Scheduler) runProfileUpdates(ctx context.Context) {
	owners, err := s.store.AllOwnerIDs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Profile update: listing owners failed")
		return
	}

	now := time.Now()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start := end.AddDate(0, 0, -1)

	for _, ownerID := range owners {
		if ctx.Err() != nil {
			return
		}
		conflicts, err := s.profiles.UpdateDaily(ctx, ownerID, start, end)
		if err != nil {
			s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("Profile update failed")
			continue
		}
		if len(conflicts) > 0 {
			s.logger.Info().
				Str("owner_id", ownerID).
				Int("conflicts", len(conflicts)).
				Msg("Profile update blocked some changes")
		}
	}
}

func (s *Scheduler) runDecay(ctx context.Context) {
	pruned, err := s.decayer.Run(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Decay job failed")
		return
	}
	s.logger.Info().Int("pruned", pruned).Msg("Decay job finished")
}

func (s *Scheduler) runFolding(ctx context.Context) {
	owners, err := s.store.AllOwnerIDs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Folding: listing owners failed")
		return
	}
	for _, ownerID := range owners {
		if ctx.Err() != nil {
			return
		}
		sum, err := s.folder.FoldWeekly(ctx, ownerID, s.opts.FoldingDays)
		if err != nil {
			s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("Weekly fold failed")
			continue
		}
		if sum != nil {
			s.logger.Info().Str("owner_id", ownerID).Str("summary_id", sum.ID).Msg("Weekly fold created")
		}
	}
}
