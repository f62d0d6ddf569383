// Package metrics exposes Prometheus collectors for the session store and a
// Repository decorator that records them.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/authsession/internal/common"
	"github.com/dmitrijs2005/authsession/internal/server/models"
	"github.com/dmitrijs2005/authsession/internal/server/repositories/refreshtokens"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "authsession"

// Collectors groups the session store metrics so they can be registered on
// any registry (tests use a private one).
type Collectors struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Created    prometheus.Counter
	Deleted    prometheus.Counter
}

func NewCollectors() *Collectors {
	return &Collectors{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session_store",
			Name:      "operations_total",
			Help:      "Session store operations by name and result.",
		}, []string{"op", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session_store",
			Name:      "operation_duration_seconds",
			Help:      "Latency of session store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		Created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session_store",
			Name:      "sessions_created_total",
			Help:      "Sessions successfully created.",
		}),
		Deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session_store",
			Name:      "session_deletes_total",
			Help:      "Delete operations (by token, user id or username) that completed without error.",
		}),
	}
}

// Register adds all collectors to reg.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.Operations, c.Duration, c.Created, c.Deleted} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// result classifies err into a low-cardinality label value.
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrorNotFound):
		return "not_found"
	case errors.Is(err, common.ErrDuplicateToken):
		return "duplicate"
	case errors.Is(err, common.ErrStorageUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// InstrumentedRepository wraps a refreshtokens.Repository and records the
// outcome and latency of every call.
type InstrumentedRepository struct {
	next refreshtokens.Repository
	c    *Collectors
}

func NewInstrumentedRepository(next refreshtokens.Repository, c *Collectors) *InstrumentedRepository {
	return &InstrumentedRepository{next: next, c: c}
}

func (r *InstrumentedRepository) observe(op string, start time.Time, err error) {
	r.c.Operations.WithLabelValues(op, result(err)).Inc()
	r.c.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (r *InstrumentedRepository) observeDelete(op string, start time.Time, err error) {
	r.observe(op, start, err)
	if err == nil {
		r.c.Deleted.Inc()
	}
}

func (r *InstrumentedRepository) Create(ctx context.Context, token string, userID int64, username string, deviceInfo *string) (rec *models.RefreshToken, err error) {
	defer func(start time.Time) {
		r.observe("create", start, err)
		if err == nil {
			r.c.Created.Inc()
		}
	}(time.Now())
	return r.next.Create(ctx, token, userID, username, deviceInfo)
}

func (r *InstrumentedRepository) FindByToken(ctx context.Context, token string) (rec *models.RefreshToken, err error) {
	defer func(start time.Time) { r.observe("find_by_token", start, err) }(time.Now())
	return r.next.FindByToken(ctx, token)
}

func (r *InstrumentedRepository) FindByUserID(ctx context.Context, userID int64) (recs []*models.RefreshToken, err error) {
	defer func(start time.Time) { r.observe("find_by_user_id", start, err) }(time.Now())
	return r.next.FindByUserID(ctx, userID)
}

func (r *InstrumentedRepository) FindByUsername(ctx context.Context, username string) (recs []*models.RefreshToken, err error) {
	defer func(start time.Time) { r.observe("find_by_username", start, err) }(time.Now())
	return r.next.FindByUsername(ctx, username)
}

func (r *InstrumentedRepository) ExistsByToken(ctx context.Context, token string) (ok bool, err error) {
	defer func(start time.Time) { r.observe("exists_by_token", start, err) }(time.Now())
	return r.next.ExistsByToken(ctx, token)
}

func (r *InstrumentedRepository) Touch(ctx context.Context, token string) (rec *models.RefreshToken, err error) {
	defer func(start time.Time) { r.observe("touch", start, err) }(time.Now())
	return r.next.Touch(ctx, token)
}

func (r *InstrumentedRepository) DeleteByToken(ctx context.Context, token string) (err error) {
	defer func(start time.Time) { r.observeDelete("delete_by_token", start, err) }(time.Now())
	return r.next.DeleteByToken(ctx, token)
}

func (r *InstrumentedRepository) DeleteByUserID(ctx context.Context, userID int64) (err error) {
	defer func(start time.Time) { r.observeDelete("delete_by_user_id", start, err) }(time.Now())
	return r.next.DeleteByUserID(ctx, userID)
}

func (r *InstrumentedRepository) DeleteByUsername(ctx context.Context, username string) (err error) {
	defer func(start time.Time) { r.observeDelete("delete_by_username", start, err) }(time.Now())
	return r.next.DeleteByUsername(ctx, username)
}
