package delivery

import (
	"context"
	"fmt"

	"github.com/sraws/backend/internal/models"
	"github.com/sraws/backend/internal/repositories"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Report aggregates the per-channel results of one fan-out.
type Report struct {
	NotificationID string   `json:"notificationId"`
	Results        []Result `json:"results"`
}

// Sent reports whether any channel delivered the notification.
func (r *Report) Sent() bool {
	for _, res := range r.Results {
		if res.Succeeded > 0 {
			return true
		}
	}
	return false
}

// Result returns the outcome of channel ch, or a skipped result when ch did not run.
func (r *Report) Result(ch models.Channel) Result {
	for _, res := range r.Results {
		if res.Channel == ch {
			return res
		}
	}
	return skipped(ch)
}

// Fanout runs every channel for a notification.
type Fanout struct {
	channels      []Channel
	users         repositories.UserRepository
	notifications repositories.NotificationRepository
	ledger        repositories.DeliveryRepository
	log           *zap.Logger
}

func NewFanout(
	users repositories.UserRepository,
	notifications repositories.NotificationRepository,
	ledger repositories.DeliveryRepository,
	log *zap.Logger,
	channels ...Channel,
) *Fanout {
	return &Fanout{
		channels:      channels,
		users:         users,
		notifications: notifications,
		ledger:        ledger,
		log:           log,
	}
}

// PayloadFor builds the push content of n.
func PayloadFor(n *models.Notification) Payload {
	data := map[string]string{
		"notificationId": n.ID.Hex(),
		"type":           string(n.Type),
		"senderId":       n.Sender.Hex(),
	}
	if n.Post != nil {
		data["postId"] = n.Post.Hex()
	}
	if n.Comment != nil {
		data["commentId"] = n.Comment.Hex()
	}
	if n.Message != nil {
		data["messageId"] = n.Message.Hex()
	}
	for k, v := range n.Data {
		data[k] = v
	}
	return Payload{
		NotificationID: n.ID.Hex(),
		Type:           n.Type,
		Title:          n.Title,
		Body:           n.Body,
		Data:           data,
		Notification:   n,
	}
}

// Dispatch delivers n over all channels concurrently. Channel failures are reported in the
// returned Report; the error is non-nil only when the recipient could not be loaded.
func (f *Fanout) Dispatch(ctx context.Context, n *models.Notification) (*Report, error) {
	user, err := f.users.GetUserByID(ctx, n.Recipient)
	if err != nil {
		return nil, fmt.Errorf("load recipient %s: %w", n.Recipient.Hex(), err)
	}

	to := Recipient{UserID: user.ID, Devices: user.Devices, Subscriptions: user.WebPushSubscriptions}
	payload := PayloadFor(n)

	report := &Report{NotificationID: n.ID.Hex(), Results: make([]Result, len(f.channels))}
	var g errgroup.Group
	for i, ch := range f.channels {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					report.Results[i] = Result{Channel: ch.Name(), Error: fmt.Sprintf("panic: %v", r)}
				}
			}()
			report.Results[i] = ch.Deliver(ctx, to, payload)
			return nil
		})
	}
	g.Wait()

	f.record(ctx, n, report)
	f.prune(ctx, to, report)

	if report.Sent() && !n.Sent {
		if err := f.notifications.MarkSent(ctx, n.ID); err != nil {
			f.log.Warn("mark notification sent failed", zap.String("notificationId", n.ID.Hex()), zap.Error(err))
		} else {
			n.Sent = true
		}
	}

	f.log.Debug("notification dispatched",
		zap.String("notificationId", n.ID.Hex()),
		zap.String("recipient", n.Recipient.Hex()),
		zap.Bool("sent", report.Sent()),
	)
	return report, nil
}

func (f *Fanout) record(ctx context.Context, n *models.Notification, report *Report) {
	if f.ledger == nil {
		return
	}
	attempts := make([]models.DeliveryAttempt, 0, len(report.Results))
	for _, res := range report.Results {
		attempts = append(attempts, models.DeliveryAttempt{
			NotificationID: n.ID.Hex(),
			RecipientID:    n.Recipient.Hex(),
			Channel:        res.Channel,
			Targets:        res.Targets,
			Succeeded:      res.Succeeded,
			Failed:         res.Failed,
			Skipped:        res.Skipped,
			Error:          res.Error,
		})
	}
	if err := f.ledger.RecordAttempts(ctx, attempts); err != nil {
		f.log.Warn("record delivery attempts failed", zap.String("notificationId", n.ID.Hex()), zap.Error(err))
	}
}

func (f *Fanout) prune(ctx context.Context, to Recipient, report *Report) {
	for _, res := range report.Results {
		if len(res.Stale) == 0 {
			continue
		}
		var err error
		switch res.Channel {
		case models.ChannelFCM:
			err = f.users.RemoveDevices(ctx, to.UserID, res.Stale)
		case models.ChannelWebPush:
			err = f.users.RemoveWebPushSubscriptions(ctx, to.UserID, res.Stale)
		}
		if err != nil {
			f.log.Warn("prune stale endpoints failed",
				zap.String("userId", to.UserID.Hex()),
				zap.String("channel", string(res.Channel)),
				zap.Error(err),
			)
			continue
		}
		f.log.Info("pruned stale endpoints",
			zap.String("userId", to.UserID.Hex()),
			zap.String("channel", string(res.Channel)),
			zap.Int("count", len(res.Stale)),
		)
	}
}
