package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sraws/backend/pkg/config"
)

// ErrSendersExhausted is returned when every sender identity reached its daily quota.
var ErrSendersExhausted = errors.New("all email senders reached their daily quota")

const quotaTTL = 48 * time.Hour

// QuotaStore is implemented by *ratelimit.Quota.
type QuotaStore interface {
	Reserve(ctx context.Context, key string, limit int64, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// SenderPool hands out the first sender identity that still has quota left today.
type SenderPool struct {
	senders  []config.SMTPSender
	quota    QuotaStore
	dailyCap int64
	loc      *time.Location
}

func NewSenderPool(senders []config.SMTPSender, quota QuotaStore, dailyCap int) *SenderPool {
	return &SenderPool{senders: senders, quota: quota, dailyCap: int64(dailyCap), loc: time.Local}
}

func (p *SenderPool) quotaKey(addr string, now time.Time) string {
	return "digest:quota:" + addr + ":" + now.In(p.loc).Format("2006-01-02")
}

// Reservation is one unit of a sender's daily quota.
type Reservation struct {
	Sender config.SMTPSender
	key    string
	pool   *SenderPool
}

// Release returns the unit, for sends that never left the process.
func (r *Reservation) Release(ctx context.Context) error {
	return r.pool.quota.Release(ctx, r.key)
}

// Acquire reserves one send on the first sender under quota for now's local day.
func (p *SenderPool) Acquire(ctx context.Context, now time.Time) (*Reservation, error) {
	for _, s := range p.senders {
		key := p.quotaKey(s.Address, now)
		ok, err := p.quota.Reserve(ctx, key, p.dailyCap, quotaTTL)
		if err != nil {
			return nil, fmt.Errorf("reserve sender %s: %w", s.Address, err)
		}
		if ok {
			return &Reservation{Sender: s, key: key, pool: p}, nil
		}
	}
	return nil, ErrSendersExhausted
}
