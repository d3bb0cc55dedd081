// Package outbox drains the effects that user actions leave behind: social points, notifications
// and their delivery.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sraws/backend/internal/delivery"
	"github.com/sraws/backend/internal/models"
	"github.com/sraws/backend/internal/repositories"
	"github.com/sraws/backend/internal/services"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	baseBackoff = time.Second
	maxBackoff  = 5 * time.Minute
)

// Backoff returns the delay before retry number attempt (1-based).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		return maxBackoff
	}
	d := baseBackoff << (attempt - 1)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Notifier is implemented by *services.NotificationService.
type Notifier interface {
	CreateNotification(ctx context.Context, d models.NotificationDraft) (*models.Notification, bool, error)
	Deliver(ctx context.Context, n *models.Notification) (*delivery.Report, error)
}

// Processor applies one effect. Every step is safe to repeat: points are claimed through the
// pointsApplied flag before they are added, and notifications are guarded by their dedup key.
type Processor struct {
	tx          repositories.TxRunner
	outbox      repositories.OutboxRepository
	users       repositories.UserRepository
	notifier    Notifier
	maxAttempts int
	log         *zap.Logger
	now         func() time.Time
}

func NewProcessor(
	tx repositories.TxRunner,
	outbox repositories.OutboxRepository,
	users repositories.UserRepository,
	notifier Notifier,
	maxAttempts int,
	log *zap.Logger,
) *Processor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Processor{
		tx:          tx,
		outbox:      outbox,
		users:       users,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		log:         log,
		now:         time.Now,
	}
}

// ProcessID loads a claimed effect by id and processes it. Effects that are gone or no longer
// being processed are ignored.
func (p *Processor) ProcessID(ctx context.Context, id primitive.ObjectID) error {
	effect, err := p.outbox.Get(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load effect %s: %w", id.Hex(), err)
	}
	if effect.Status != models.EffectProcessing {
		return nil
	}
	p.Process(ctx, effect)
	return nil
}

// Process runs effect and records the outcome on the outbox record.
func (p *Processor) Process(ctx context.Context, effect *models.Effect) {
	err := p.apply(ctx, effect)
	if err == nil {
		if err := p.outbox.MarkDone(ctx, effect.ID); err != nil {
			p.log.Error("mark effect done failed", zap.String("effectId", effect.ID.Hex()), zap.Error(err))
		}
		return
	}
	p.Fail(ctx, effect, err)
}

// Fail records a failed attempt and schedules the next one.
func (p *Processor) Fail(ctx context.Context, effect *models.Effect, cause error) {
	attempts := effect.Attempts + 1
	failed := attempts >= p.maxAttempts || errors.Is(cause, services.ErrValidation)
	next := p.now().Add(Backoff(attempts))

	fields := []zap.Field{
		zap.String("effectId", effect.ID.Hex()),
		zap.String("kind", effect.Kind),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	}
	if failed {
		p.log.Error("effect failed permanently", fields...)
	} else {
		p.log.Warn("effect failed, will retry", append(fields, zap.Time("nextAttemptAt", next))...)
	}

	if err := p.outbox.MarkRetry(ctx, effect.ID, attempts, next, cause.Error(), failed); err != nil {
		p.log.Error("record effect failure failed", zap.String("effectId", effect.ID.Hex()), zap.Error(err))
	}
}

func (p *Processor) apply(ctx context.Context, effect *models.Effect) error {
	if effect.PointsUser != nil && effect.PointsDelta != 0 && !effect.PointsApplied {
		err := p.tx.WithTransaction(ctx, func(ctx context.Context) error {
			claimed, err := p.outbox.ClaimPoints(ctx, effect.ID)
			if err != nil {
				return fmt.Errorf("claim points: %w", err)
			}
			if !claimed {
				return nil
			}
			err = p.users.IncrementPoints(ctx, *effect.PointsUser, effect.PointsDelta)
			if err != nil && !errors.Is(err, repositories.ErrNotFound) {
				if relErr := p.outbox.ReleasePoints(ctx, effect.ID); relErr != nil {
					p.log.Error("release points claim failed", zap.String("effectId", effect.ID.Hex()), zap.Error(relErr))
				}
				return fmt.Errorf("apply points: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		effect.PointsApplied = true
	}

	if effect.Notification == nil {
		return nil
	}

	n, created, err := p.notifier.CreateNotification(ctx, *effect.Notification)
	if err != nil {
		return err
	}
	if n == nil || !(created || effect.Notification.Deliver) {
		return nil
	}

	if _, err := p.notifier.Deliver(ctx, n); err != nil {
		// delivery is best effort; the notification itself is stored
		p.log.Warn("notification delivery failed",
			zap.String("notificationId", n.ID.Hex()),
			zap.String("effectId", effect.ID.Hex()),
			zap.Error(err),
		)
	}
	return nil
}
