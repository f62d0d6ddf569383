package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authsession/internal/logging"
)

// ExpiredPurger removes sessions whose TTL has elapsed.
type ExpiredPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// PurgeService periodically deletes expired sessions from backends that have
// no native TTL.
type PurgeService struct {
	repo     ExpiredPurger
	interval time.Duration
	log      logging.Logger
}

func NewPurgeService(repo ExpiredPurger, interval time.Duration, log logging.Logger) *PurgeService {
	return &PurgeService{repo: repo, interval: interval, log: log.With("module", "purge")}
}

// PurgeOnce runs a single sweep.
func (s *PurgeService) PurgeOnce(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx)
	if err != nil {
		s.log.Error(ctx, "purge failed", "error", err)
		return 0, err
	}
	if n > 0 {
		s.log.Debug(ctx, "expired sessions purged", "count", n)
	}
	return n, nil
}

// Run sweeps every interval until ctx is cancelled. Failed sweeps are logged
// and retried on the next tick.
func (s *PurgeService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.PurgeOnce(ctx)
		}
	}
}
