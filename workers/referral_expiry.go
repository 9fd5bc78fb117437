package workers

import (
	"context"
	"fmt"
	"time"

	"referral-engine/repository"
	"referral-engine/utils"

	"github.com/go-co-op/gocron/v2"
)

// ExpiryWorker moves pending referrals of closed programs to expired. Closing
// a program already expires its referrals; the sweep catches any that a
// failed or concurrent close left behind. Paused programs are left alone.
type ExpiryWorker struct {
	Referrals repository.ReferralRepository
	Interval  time.Duration
	scheduler gocron.Scheduler
}

func NewExpiryWorker(referrals repository.ReferralRepository, interval time.Duration) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ExpiryWorker{Referrals: referrals, Interval: interval}
}

// Sweep runs one expiry pass and returns how many referrals were expired.
func (w *ExpiryWorker) Sweep(ctx context.Context) (int64, error) {
	n, err := w.Referrals.ExpirePendingForClosedPrograms(ctx)
	if err != nil {
		utils.Log.WithError(err).Error("❌ [EXPIRY] sweep failed")
		return 0, err
	}
	if n > 0 {
		utils.Log.WithField("expired", n).Info("✅ [EXPIRY] expired referrals of closed programs")
	}
	return n, nil
}

// Start schedules Sweep every Interval until ctx is done.
func (w *ExpiryWorker) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(w.Interval),
		gocron.NewTask(func() {
			sweepCtx, cancel := context.WithTimeout(ctx, w.Interval)
			defer cancel()
			_, _ = w.Sweep(sweepCtx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule expiry sweep: %w", err)
	}

	w.scheduler = sched
	sched.Start()
	utils.Log.WithField("interval", w.Interval.String()).Info("⏱️ [EXPIRY] sweep scheduled")

	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			utils.Log.WithError(err).Warn("⚠️ [EXPIRY] scheduler shutdown")
		}
	}()
	return nil
}
