package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/sraws/backend/internal/models"
	"github.com/sraws/backend/internal/repositories"
	"go.uber.org/zap"
)

// Publisher hands a claimed effect to whatever processes it.
type Publisher interface {
	Publish(ctx context.Context, effect *models.Effect) error
}

// DirectPublisher processes effects in-process.
type DirectPublisher struct {
	processor *Processor
}

func NewDirectPublisher(processor *Processor) *DirectPublisher {
	return &DirectPublisher{processor: processor}
}

func (d *DirectPublisher) Publish(ctx context.Context, effect *models.Effect) error {
	d.processor.Process(ctx, effect)
	return nil
}

// Relay polls the outbox for due effects and publishes them.
type Relay struct {
	outbox    repositories.OutboxRepository
	publisher Publisher
	processor *Processor
	interval  time.Duration
	lease     time.Duration
	wake      chan struct{}
	log       *zap.Logger
}

func NewRelay(outbox repositories.OutboxRepository, publisher Publisher, processor *Processor, interval time.Duration, log *zap.Logger) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		processor: processor,
		interval:  interval,
		lease:     time.Minute,
		wake:      make(chan struct{}, 1),
		log:       log,
	}
}

// Wake makes the relay poll now instead of waiting for the next tick.
func (r *Relay) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.Drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// Drain publishes every effect that is currently due and returns how many were claimed.
func (r *Relay) Drain(ctx context.Context) int {
	claimed := 0
	for ctx.Err() == nil {
		effect, err := r.outbox.ClaimDue(ctx, time.Now(), r.lease)
		if errors.Is(err, repositories.ErrNotFound) {
			return claimed
		}
		if err != nil {
			r.log.Error("claim outbox effect failed", zap.Error(err))
			return claimed
		}
		claimed++

		if err := r.publisher.Publish(ctx, effect); err != nil {
			r.processor.Fail(ctx, effect, err)
		}
	}
	return claimed
}
