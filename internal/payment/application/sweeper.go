package application

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Sweeper eagerly expires overdue payments in the background. The request
// paths already expire lazily; the sweeper makes the transition visible
// without waiting for the next client touch.
type Sweeper struct {
	log      *slog.Logger
	store    PaymentStore
	interval time.Duration
	pageSize int

	now func() time.Time
}

func NewSweeper(log *slog.Logger, store PaymentStore, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		log:      log,
		store:    store,
		interval: interval,
		pageSize: 100,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopping")
			return nil
		case <-ticker.C:
			if n, err := s.sweep(ctx); err != nil {
				s.log.Error("expiry sweep failed", "err", err)
			} else if n > 0 {
				s.log.Info("expired overdue payments", "count", n)
			}
		}
	}
}

// sweep walks one page of the oldest-expiring payments and flips the
// overdue ones. Records past the page boundary get picked up next tick;
// version conflicts mean another writer touched the record first and are
// skipped.
func (s *Sweeper) sweep(ctx context.Context) (int, error) {
	now := s.now()
	page, err := s.store.List(ctx, ListQuery{SortBy: SortByExpiresAt, Size: s.pageSize})
	if err != nil {
		return 0, err
	}

	var expired int
	for i := range page.Items {
		p := page.Items[i]
		if p.ExpiresAt.After(now) {
			break
		}
		if !p.ExpireIfNeeded(now) {
			continue
		}
		if err := s.store.Put(ctx, &p, p.Version); err != nil {
			if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrNotFound) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}
