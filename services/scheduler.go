package services

import (
	"context"
	"log"
	"time"

	"progression-gate/storage"

	"github.com/go-co-op/gocron/v2"
)

// Maintenance holds the periodic housekeeping jobs.
type Maintenance struct {
	Progression   *ProgressionService
	Invitations   *InvitationService
	RetentionDays int
}

// PurgeStaleGrants drops table-backed daily buckets older than the retention
// window. Redis buckets expire on their own.
func (m *Maintenance) PurgeStaleGrants(ctx context.Context) (int64, error) {
	counter, ok := m.Progression.Counter.(*storage.GormDailyCounter)
	if !ok {
		return 0, nil
	}
	cutoff := m.Progression.DayKey(m.Progression.Now().AddDate(0, 0, -m.RetentionDays))
	n, err := counter.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("🧹 [Scheduler] Purged %d daily grant bucket(s) before %s", n, cutoff)
	}
	return n, nil
}

// LogInvitationTotals reports per-status code counts.
func (m *Maintenance) LogInvitationTotals(ctx context.Context) error {
	stats, err := m.Invitations.Stats(ctx)
	if err != nil {
		return err
	}
	log.Printf("🎟️ [Scheduler] Invitation totals: %v", stats)
	return nil
}

// Start runs the jobs until ctx is cancelled.
func (m *Maintenance) Start(ctx context.Context) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	// Every hour: sweep old grant buckets
	if _, err := sched.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			if _, err := m.PurgeStaleGrants(ctx); err != nil {
				log.Printf("[Scheduler] Grant purge failed: %v", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, err
	}

	// Every 6 hours: invitation totals
	if _, err := sched.NewJob(
		gocron.DurationJob(6*time.Hour),
		gocron.NewTask(func() {
			if err := m.LogInvitationTotals(ctx); err != nil {
				log.Printf("[Scheduler] Invitation totals failed: %v", err)
			}
		}),
	); err != nil {
		return nil, err
	}

	sched.Start()
	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			log.Printf("[Scheduler] Shutdown error: %v", err)
		}
	}()
	return sched, nil
}
