// Package lease provides a named, time-boxed mutual-exclusion lease.
//
// A lease is held by whoever presents its opaque owner token until it
// expires. Acquisition succeeds when the lease is free, expired, or already
// held with the same token (re-entrant refresh). Release clears the lease only
// when the token still matches, so a holder whose lease expired and was taken
// over can never release the new holder's lease.
//
// The lease is cooperative: it keeps concurrent processes from doing the same
// work, while correctness rests on the conditional claim each job goes
// through.
package lease

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// Store persists leases. Both methods must be single atomic operations.
type Store interface {
	// AcquireLease takes or refreshes the lease when it is absent, expired at
	// now, or held by token. It reports whether the caller now holds it.
	AcquireLease(ctx context.Context, name, token string, now, until time.Time) (bool, error)
	// ReleaseLease clears the lease if it is held by token.
	ReleaseLease(ctx context.Context, name, token string) (bool, error)
	GetLease(ctx context.Context, name string) (domain.SchedulerLock, bool, error)
}

// MetricsSink defines the interface for recording lease metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaseAcquired()
	LeaseContended()
}

// Lease is a held lease.
type Lease struct {
	Name  string
	Token string
	Until time.Time
}

// Coordinator hands out leases from a Store.
type Coordinator struct {
	store    Store
	clock    func() time.Time
	newToken func() string
	metrics  MetricsSink
	logger   *zap.Logger
}

// New creates a Coordinator.
func New(store Store) *Coordinator {
	return &Coordinator{
		store:    store,
		clock:    time.Now,
		newToken: uuid.NewString,
		logger:   zap.NewNop(),
	}
}

// WithClock overrides the time source.
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}

// WithMetrics attaches a metrics sink to the coordinator.
func (c *Coordinator) WithMetrics(sink MetricsSink) *Coordinator {
	c.metrics = sink
	return c
}

// WithLogger sets the logger.
func (c *Coordinator) WithLogger(l *zap.Logger) *Coordinator {
	c.logger = l
	return c
}

// Acquire tries to take name for d with a fresh token. ok is false when
// someone else holds an unexpired lease.
func (c *Coordinator) Acquire(ctx context.Context, name string, d time.Duration) (Lease, bool, error) {
	return c.acquire(ctx, name, c.newToken(), d)
}

// Refresh extends a lease the caller already holds.
func (c *Coordinator) Refresh(ctx context.Context, l Lease, d time.Duration) (Lease, bool, error) {
	return c.acquire(ctx, l.Name, l.Token, d)
}

func (c *Coordinator) acquire(ctx context.Context, name, token string, d time.Duration) (Lease, bool, error) {
	if d <= 0 {
		return Lease{}, false, errors.Newf("lease %s: duration must be positive, got %s", name, d)
	}
	now := c.clock().UTC()
	until := now.Add(d)

	ok, err := c.store.AcquireLease(ctx, name, token, now, until)
	if err != nil {
		return Lease{}, false, errors.Wrapf(err, "acquire lease %s", name)
	}
	if !ok {
		if c.metrics != nil {
			c.metrics.LeaseContended()
		}
		c.logger.Debug("lease: held elsewhere", zap.String("lease", name))
		return Lease{}, false, nil
	}
	if c.metrics != nil {
		c.metrics.LeaseAcquired()
	}
	return Lease{Name: name, Token: token, Until: until}, true, nil
}

// Release gives the lease up. Releasing a lease that has since been taken
// over is a no-op.
func (c *Coordinator) Release(ctx context.Context, l Lease) error {
	released, err := c.store.ReleaseLease(ctx, l.Name, l.Token)
	if err != nil {
		return errors.Wrapf(err, "release lease %s", l.Name)
	}
	if !released {
		c.logger.Warn("lease: release found a different holder",
			zap.String("lease", l.Name), zap.Time("held_until", l.Until))
	}
	return nil
}

// Status reads the persisted lease for diagnostics.
func (c *Coordinator) Status(ctx context.Context, name string) (domain.SchedulerLock, bool, error) {
	lock, ok, err := c.store.GetLease(ctx, name)
	if err != nil {
		return domain.SchedulerLock{}, false, errors.Wrapf(err, "get lease %s", name)
	}
	return lock, ok, nil
}
