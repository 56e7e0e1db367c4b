// Package lock provides the distributed per-table mutex. It is a thin layer
// over redsync: one live handle per resource across the cluster, lease-based
// expiry, and extension for slow operations. The lock orders writers; the
// state store's compare-and-set independently rejects anything stale, so a
// lost lease can delay but never corrupt.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrContended is returned when the retry budget is exhausted without
	// acquiring the lock.
	ErrContended = errors.New("lock: contended")
	// ErrLost is returned by Extend when the lease was taken over. The
	// caller must abort without writing.
	ErrLost = errors.New("lock: lease lost")
)

const (
	keyPrefix         = "lock:"
	defaultTries      = 32
	defaultRetryDelay = 50 * time.Millisecond
)

type Manager struct {
	rs  *redsync.Redsync
	log *zap.Logger
}

func NewManager(client redis.UniversalClient, log *zap.Logger) *Manager {
	return &Manager{rs: redsync.New(goredis.NewPool(client)), log: log}
}

// Handle is one acquired lease.
type Handle struct {
	mu       *redsync.Mutex
	acquired time.Time
	lease    time.Duration
	log      *zap.Logger
}

// Acquire blocks up to the retry budget for the resource lock.
func (m *Manager) Acquire(ctx context.Context, resource string, lease time.Duration) (*Handle, error) {
	mu := m.rs.NewMutex(keyPrefix+resource,
		redsync.WithExpiry(lease),
		redsync.WithTries(defaultTries),
		redsync.WithRetryDelay(defaultRetryDelay),
	)
	if err := mu.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, fmt.Errorf("%w: %s", ErrContended, resource)
		}
		return nil, fmt.Errorf("acquire %s: %w", resource, err)
	}
	return &Handle{mu: mu, acquired: time.Now(), lease: lease, log: m.log}, nil
}

// TryAcquire attempts a single acquisition without retries. Contention is
// reported as ErrContended immediately.
func (m *Manager) TryAcquire(ctx context.Context, resource string, lease time.Duration) (*Handle, error) {
	mu := m.rs.NewMutex(keyPrefix+resource,
		redsync.WithExpiry(lease),
		redsync.WithTries(1),
	)
	if err := mu.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, fmt.Errorf("%w: %s", ErrContended, resource)
		}
		return nil, fmt.Errorf("try acquire %s: %w", resource, err)
	}
	return &Handle{mu: mu, acquired: time.Now(), lease: lease, log: m.log}, nil
}

// Elapsed is the time since acquisition (or the last successful extension).
func (h *Handle) Elapsed() time.Duration { return time.Since(h.acquired) }

// NearExpiry reports whether the elapsed time exceeds the given fraction of
// the lease.
func (h *Handle) NearExpiry(fraction float64) bool {
	return h.Elapsed() > time.Duration(float64(h.lease)*fraction)
}

// Extend renews the lease. ErrLost means another holder took over and the
// in-flight operation must be aborted before any write.
func (h *Handle) Extend(ctx context.Context) error {
	ok, err := h.mu.ExtendContext(ctx)
	if err != nil || !ok {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLost, err)
		}
		return ErrLost
	}
	h.acquired = time.Now()
	return nil
}

// Release frees the lock. A failed release is logged and left to lease
// expiry.
func (h *Handle) Release(ctx context.Context) {
	ok, err := h.mu.UnlockContext(ctx)
	if err != nil || !ok {
		h.log.Warn("lock release failed; lease will expire",
			zap.String("name", h.mu.Name()),
			zap.Error(err))
	}
}
