// Package digest emails users a summary of their recent unread notifications.
package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sraws/backend/internal/models"
	"github.com/sraws/backend/internal/repositories"
	"go.uber.org/zap"
)

// RunSummary describes one digest tick.
type RunSummary struct {
	UsersScanned int
	EmailsSent   int
	Failed       int
	Errors       []error
}

// Options configures the scheduler.
type Options struct {
	Schedule string
	Window   time.Duration
	AppURL   string
}

type Scheduler struct {
	users         repositories.UserRepository
	notifications repositories.NotificationRepository
	runs          repositories.DeliveryRepository
	pool          *SenderPool
	mailer        Mailer
	opts          Options
	log           *zap.Logger
	cron          *cron.Cron
}

func NewScheduler(
	users repositories.UserRepository,
	notifications repositories.NotificationRepository,
	runs repositories.DeliveryRepository,
	pool *SenderPool,
	mailer Mailer,
	opts Options,
	log *zap.Logger,
) *Scheduler {
	if opts.Window <= 0 {
		opts.Window = 10 * time.Minute
	}
	return &Scheduler{
		users:         users,
		notifications: notifications,
		runs:          runs,
		pool:          pool,
		mailer:        mailer,
		opts:          opts,
		log:           log,
	}
}

// RunOnce sends one digest to every user with unread notifications created in the trailing window.
// A failure for one user is logged and the run moves on; running out of senders ends the run.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) RunSummary {
	var summary RunSummary
	since := now.Add(-s.opts.Window)

	err := s.users.ForEachDigestRecipient(ctx, func(user *models.User) error {
		summary.UsersScanned++
		sent, err := s.sendTo(ctx, user, since, now)
		if errors.Is(err, ErrSendersExhausted) {
			summary.Failed++
			summary.Errors = append(summary.Errors, err)
			return err
		}
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Errorf("user %s: %w", user.ID.Hex(), err))
			s.log.Warn("digest failed for user", zap.String("userId", user.ID.Hex()), zap.Error(err))
			return nil
		}
		if sent {
			summary.EmailsSent++
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrSendersExhausted) {
		summary.Errors = append(summary.Errors, err)
		s.log.Error("digest user scan failed", zap.Error(err))
	}
	if errors.Is(err, ErrSendersExhausted) {
		s.log.Error("digest stopped early", zap.Error(err))
	}

	s.record(ctx, now, summary)
	return summary
}

func (s *Scheduler) sendTo(ctx context.Context, user *models.User, since, now time.Time) (bool, error) {
	unread, err := s.notifications.FindUnreadSince(ctx, user.ID, since)
	if err != nil {
		return false, fmt.Errorf("load unread: %w", err)
	}
	if len(unread) == 0 {
		return false, nil
	}

	html, err := render(user, unread, s.opts.AppURL)
	if err != nil {
		return false, fmt.Errorf("render digest: %w", err)
	}

	res, err := s.pool.Acquire(ctx, now)
	if err != nil {
		return false, err
	}
	if err := s.mailer.Send(ctx, res.Sender, user.Email, subject(len(unread)), html); err != nil {
		if relErr := res.Release(ctx); relErr != nil {
			s.log.Warn("release sender quota failed", zap.String("sender", res.Sender.Address), zap.Error(relErr))
		}
		return false, fmt.Errorf("send digest via %s: %w", res.Sender.Address, err)
	}
	s.log.Debug("digest sent", zap.String("userId", user.ID.Hex()), zap.Int("notifications", len(unread)))
	return true, nil
}

func (s *Scheduler) record(ctx context.Context, started time.Time, summary RunSummary) {
	if s.runs == nil {
		return
	}
	run := &models.DigestRun{
		StartedAt:    started,
		FinishedAt:   time.Now(),
		UsersScanned: summary.UsersScanned,
		EmailsSent:   summary.EmailsSent,
		Failures:     summary.Failed,
	}
	if err := s.runs.RecordDigestRun(ctx, run); err != nil {
		s.log.Warn("record digest run failed", zap.Error(err))
	}
}

// Start schedules RunOnce. A tick that fires while the previous one is still running is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	cronLog := cron.PrintfLogger(zap.NewStdLog(s.log.Named("cron")))
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))

	_, err := s.cron.AddFunc(s.opts.Schedule, func() {
		summary := s.RunOnce(ctx, time.Now())
		s.log.Info("digest run finished",
			zap.Int("usersScanned", summary.UsersScanned),
			zap.Int("emailsSent", summary.EmailsSent),
			zap.Int("failed", summary.Failed),
		)
	})
	if err != nil {
		return fmt.Errorf("schedule digest %q: %w", s.opts.Schedule, err)
	}
	s.cron.Start()
	s.log.Info("digest scheduler started", zap.String("schedule", s.opts.Schedule), zap.Duration("window", s.opts.Window))
	return nil
}

// Stop stops scheduling and waits for a running tick to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
