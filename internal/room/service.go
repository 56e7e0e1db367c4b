// Package room is the table orchestrator: it serializes writers through the
// distributed table lock, applies actions via the rules engine, commits the
// new snapshot with a compare-and-set, and fans out follow-up work (timeout
// timers, settlement, persistence, archival, auto-deal) to the job queue.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aaurelions/pokertools-sub001/internal/engine"
	"github.com/aaurelions/pokertools-sub001/internal/lock"
	"github.com/aaurelions/pokertools-sub001/internal/queue"
	"github.com/aaurelions/pokertools-sub001/internal/statestore"
)

// StateStore is the snapshot storage surface the orchestrator uses.
// Satisfied by *statestore.Store.
type StateStore interface {
	Load(ctx context.Context, tableID string) (*engine.TableState, error)
	Create(ctx context.Context, tableID string, st *engine.TableState) error
	CompareAndSet(ctx context.Context, tableID string, expectedVersion uint64, st *engine.TableState) error
	Publish(ctx context.Context, tableID string, version uint64)
}

// LockHandle is one held table lease.
type LockHandle interface {
	Extend(ctx context.Context) error
	Release(ctx context.Context)
	NearExpiry(fraction float64) bool
}

// Locker hands out table leases. Satisfied by *lock.Manager via lockerAdapter.
type Locker interface {
	Acquire(ctx context.Context, resource string, lease time.Duration) (LockHandle, error)
	// TryAcquire reports contention immediately instead of retrying.
	TryAcquire(ctx context.Context, resource string, lease time.Duration) (LockHandle, error)
}

// Enqueuer schedules follow-up jobs. Satisfied by *queue.Queue via
// queueAdapter.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts queue.Options) error
}

// Options tune orchestrator behavior; zero values fall back to defaults.
type Options struct {
	// LockLease bounds how long one action may hold a table.
	LockLease time.Duration
	// ActionTimeout is the default per-action clock for tables that do not
	// configure one.
	ActionTimeout time.Duration
	// NextHandDelay is the pause between hand completion and auto-deal.
	NextHandDelay time.Duration
}

func (o *Options) withDefaults() {
	if o.LockLease <= 0 {
		o.LockLease = 10 * time.Second
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = 30 * time.Second
	}
	if o.NextHandDelay <= 0 {
		o.NextHandDelay = 5 * time.Second
	}
}

type Service struct {
	store StateStore
	locks Locker
	jobs  Enqueuer
	log   *zap.Logger
	opts  Options
}

func NewService(store StateStore, locks Locker, jobs Enqueuer, log *zap.Logger, opts Options) *Service {
	opts.withDefaults()
	return &Service{store: store, locks: locks, jobs: jobs, log: log, opts: opts}
}

// lockerAdapter narrows *lock.Manager to the Locker interface.
type lockerAdapter struct{ m *lock.Manager }

func (a lockerAdapter) Acquire(ctx context.Context, resource string, lease time.Duration) (LockHandle, error) {
	return a.m.Acquire(ctx, resource, lease)
}

func (a lockerAdapter) TryAcquire(ctx context.Context, resource string, lease time.Duration) (LockHandle, error) {
	return a.m.TryAcquire(ctx, resource, lease)
}

// WrapLocker adapts the concrete lock manager for NewService.
func WrapLocker(m *lock.Manager) Locker { return lockerAdapter{m} }

// queueAdapter drops the job id return that the orchestrator never needs.
type queueAdapter struct{ q *queue.Queue }

func (a queueAdapter) Enqueue(ctx context.Context, name string, payload any, opts queue.Options) error {
	_, err := a.q.Enqueue(ctx, name, payload, opts)
	return err
}

// WrapQueue adapts the concrete queue for NewService.
func WrapQueue(q *queue.Queue) Enqueuer { return queueAdapter{q} }

func tableResource(tableID string) string { return "table:" + tableID }

// CreateTable initializes a fresh table at version 0 and schedules its first
// cold-store mirror.
func (s *Service) CreateTable(ctx context.Context, cfg engine.Config) (string, error) {
	tableID := uuid.NewString()
	eng, err := engine.New(tableID, cfg)
	if err != nil {
		return "", err
	}
	if err := s.store.Create(ctx, tableID, eng.Snapshot()); err != nil {
		return "", fmt.Errorf("create table %s: %w", tableID, err)
	}
	if err := s.jobs.Enqueue(ctx, queue.JobPersistSnapshot, PersistJob{TableID: tableID}, queue.Options{}); err != nil {
		s.log.Warn("initial persist enqueue failed",
			zap.String("tableId", tableID), zap.Error(err))
	}
	s.log.Info("table created",
		zap.String("tableId", tableID),
		zap.Int64("smallBlind", cfg.SmallBlind),
		zap.Int64("bigBlind", cfg.BigBlind),
		zap.String("mode", string(cfg.Mode)))
	return tableID, nil
}

// GetState returns the masked view of current state for one viewer. Reads
// skip the lock; the snapshot is internally consistent by construction.
func (s *Service) GetState(ctx context.Context, tableID, viewerID string) (*engine.View, error) {
	st, err := s.store.Load(ctx, tableID)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			return nil, ErrTableNotFound
		}
		return nil, err
	}
	return engine.Restore(st).View(viewerID), nil
}

// ProcessAction runs one player (or system) action through the full
// pipeline: lock, load, identity check, engine apply, versioned commit,
// publish, follow-up jobs. Returns the actor's masked view of the new state.
func (s *Service) ProcessAction(ctx context.Context, tableID string, act engine.Action, actorID string) (*engine.View, error) {
	h, err := s.locks.Acquire(ctx, tableResource(tableID), s.opts.LockLease)
	if err != nil {
		if errors.Is(err, lock.ErrContended) {
			return nil, fmt.Errorf("%w: %s", ErrLockContended, tableID)
		}
		return nil, err
	}
	defer h.Release(ctx)

	st, err := s.store.Load(ctx, tableID)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			return nil, ErrTableNotFound
		}
		return nil, err
	}

	// System actions (DEAL from the auto-deal worker, TIMEOUT from the
	// timer) pass an empty actorID and skip the identity check.
	if actorID != "" && act.PlayerID != "" && act.PlayerID != actorID {
		return nil, fmt.Errorf("%w: action for %s from %s", ErrIdentityMismatch, act.PlayerID, actorID)
	}

	prev := st.Version
	eng := engine.Restore(st)
	if err := eng.Act(act); err != nil {
		return nil, err
	}
	st.Version = prev + 1

	if err := s.commit(ctx, h, tableID, st, prev); err != nil {
		return nil, err
	}
	s.fanOut(ctx, st)
	return eng.View(actorID), nil
}

// ReleaseSeat stands the player up and returns the stack they held in the
// very snapshot the stand was applied to. Reading the stack and removing the
// seat commit together under the lock, so a hand that completes concurrently
// can never leave its awards stranded behind a stale pre-read.
func (s *Service) ReleaseSeat(ctx context.Context, tableID, playerID string) (int64, *engine.View, error) {
	h, err := s.locks.Acquire(ctx, tableResource(tableID), s.opts.LockLease)
	if err != nil {
		if errors.Is(err, lock.ErrContended) {
			return 0, nil, fmt.Errorf("%w: %s", ErrLockContended, tableID)
		}
		return 0, nil, err
	}
	defer h.Release(ctx)

	st, err := s.store.Load(ctx, tableID)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			return 0, nil, ErrTableNotFound
		}
		return 0, nil, err
	}

	var stack int64
	if idx := st.SeatOf(playerID); idx >= 0 && st.Seats[idx] != nil {
		stack = st.Seats[idx].Stack
	}

	prev := st.Version
	eng := engine.Restore(st)
	if err := eng.Act(engine.Action{Type: engine.ActionStand, PlayerID: playerID}); err != nil {
		return 0, nil, err
	}
	st.Version = prev + 1

	if err := s.commit(ctx, h, tableID, st, prev); err != nil {
		return 0, nil, err
	}
	s.fanOut(ctx, st)
	return stack, eng.View(playerID), nil
}

// commit extends the lease if it is running low, then swaps the snapshot in
// under the version check.
func (s *Service) commit(ctx context.Context, h LockHandle, tableID string, st *engine.TableState, prev uint64) error {
	if h.NearExpiry(0.6) {
		if err := h.Extend(ctx); err != nil {
			return fmt.Errorf("%w: %s", ErrLockExpired, tableID)
		}
	}
	if err := s.store.CompareAndSet(ctx, tableID, prev, st); err != nil {
		switch {
		case errors.Is(err, statestore.ErrVersionMismatch):
			return fmt.Errorf("%w: table %s at version %d", ErrConcurrentModification, tableID, prev)
		case errors.Is(err, statestore.ErrNotFound):
			return ErrTableNotFound
		default:
			return err
		}
	}
	return nil
}

// fanOut publishes the new version and schedules the follow-up jobs. All of
// it is best-effort: the snapshot is already committed, subscribers and
// workers reconcile from canonical state.
func (s *Service) fanOut(ctx context.Context, st *engine.TableState) {
	tableID := st.TableID
	s.store.Publish(ctx, tableID, st.Version)

	s.enqueue(ctx, queue.JobPersistSnapshot, PersistJob{TableID: tableID}, queue.Options{})

	if st.HandComplete() {
		s.enqueueSettlement(ctx, st)
		s.enqueueArchive(ctx, st)
		if st.PlayersWithChips() >= 2 {
			s.enqueue(ctx, queue.JobNextHand, NextHandJob{TableID: tableID}, queue.Options{
				Delay:    s.opts.NextHandDelay,
				UniqueID: NextHandUniqueID(tableID, st.Version),
			})
		}
		return
	}

	if seat := st.ActionTo(); seat >= 0 {
		s.enqueueTimeout(ctx, st, seat)
	}
}

func (s *Service) enqueueSettlement(ctx context.Context, st *engine.TableState) {
	if st.Config.Mode != engine.ModeCash {
		return
	}
	deltas := make(map[string]int64, len(st.Winners))
	for _, r := range st.Winners {
		if r.Net != 0 {
			deltas[r.PlayerID] = r.Net
		}
	}
	if len(deltas) == 0 && st.RakeThisHand == 0 {
		return
	}
	s.enqueue(ctx, queue.JobSettleHand, SettleHandJob{
		TableID: st.TableID,
		HandID:  st.LastHandID,
		Deltas:  deltas,
		Rake:    st.RakeThisHand,
	}, queue.Options{UniqueID: "settle:" + st.LastHandID})
}

func (s *Service) enqueueArchive(ctx context.Context, st *engine.TableState) {
	history, err := engine.Restore(st).History()
	if err != nil {
		s.log.Error("hand history render failed",
			zap.String("tableId", st.TableID),
			zap.String("handId", st.LastHandID),
			zap.Error(err))
		return
	}
	s.enqueue(ctx, queue.JobArchiveHand, ArchiveJob{
		TableID:  st.TableID,
		HandID:   st.LastHandID,
		Snapshot: json.RawMessage(history),
	}, queue.Options{UniqueID: "archive:" + st.LastHandID})
}

func (s *Service) enqueueTimeout(ctx context.Context, st *engine.TableState, seat int) {
	seatState := st.Seats[seat]
	if seatState == nil {
		return
	}
	timeout := s.opts.ActionTimeout
	if st.Config.ActionTimeoutSecs > 0 {
		timeout = time.Duration(st.Config.ActionTimeoutSecs) * time.Second
	}
	if st.TimeBankActiveSeat() == seat && st.Config.TimeBankSecs > 0 {
		timeout += time.Duration(st.Config.TimeBankSecs) * time.Second
	}
	s.enqueue(ctx, queue.JobPlayerTimeout, TimeoutJob{
		TableID:         st.TableID,
		PlayerID:        seatState.PlayerID,
		Seat:            seat,
		ExpectedVersion: st.Version,
	}, queue.Options{
		Delay:    timeout,
		UniqueID: TimeoutUniqueID(st.TableID, seat, st.Version),
	})
}

func (s *Service) enqueue(ctx context.Context, name string, payload any, opts queue.Options) {
	if err := s.jobs.Enqueue(ctx, name, payload, opts); err != nil {
		s.log.Error("enqueue failed", zap.String("job", name), zap.Error(err))
	}
}

// ApplyTimeout is the timeout worker's entry point. It re-checks the version
// under the lock: if anything happened since the clock started, the timer is
// stale and drops silently.
func (s *Service) ApplyTimeout(ctx context.Context, job TimeoutJob) error {
	h, err := s.locks.Acquire(ctx, tableResource(job.TableID), s.opts.LockLease)
	if err != nil {
		if errors.Is(err, lock.ErrContended) {
			return fmt.Errorf("%w: %s", ErrLockContended, job.TableID)
		}
		return err
	}
	defer h.Release(ctx)

	st, err := s.store.Load(ctx, job.TableID)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			// Table evaporated; nothing to time out.
			return nil
		}
		return err
	}
	if st.Version != job.ExpectedVersion {
		s.log.Debug("stale timeout dropped",
			zap.String("tableId", job.TableID),
			zap.Uint64("expected", job.ExpectedVersion),
			zap.Uint64("actual", st.Version))
		return nil
	}

	prev := st.Version
	eng := engine.Restore(st)
	if err := eng.Act(engine.Action{Type: engine.ActionTimeout, PlayerID: job.PlayerID}); err != nil {
		// State says it is no longer this player's turn; the version check
		// should have caught it, but either way the timer is moot.
		s.log.Debug("timeout not applicable",
			zap.String("tableId", job.TableID), zap.Error(err))
		return nil
	}
	st.Version = prev + 1

	if err := s.commit(ctx, h, job.TableID, st, prev); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return nil
		}
		return err
	}
	s.log.Info("player timed out",
		zap.String("tableId", job.TableID),
		zap.String("playerId", job.PlayerID),
		zap.Int("seat", job.Seat))
	s.fanOut(ctx, st)
	return nil
}

// AutoDeal is the next-hand worker's entry point. Idempotent against manual
// deals: if a hand already started, or the table thinned out below two
// funded players, it adjusts status and walks away. A contended lock means
// someone is acting on the table right now, so the deal is yielded to them.
func (s *Service) AutoDeal(ctx context.Context, tableID string) error {
	h, err := s.locks.TryAcquire(ctx, tableResource(tableID), s.opts.LockLease)
	if err != nil {
		if errors.Is(err, lock.ErrContended) {
			s.log.Debug("auto-deal yielded to a concurrent writer",
				zap.String("tableId", tableID))
			return nil
		}
		return err
	}
	defer h.Release(ctx)

	st, err := s.store.Load(ctx, tableID)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			return nil
		}
		return err
	}
	if st.Hand != nil || st.Status == engine.StatusClosed {
		return nil
	}
	prev := st.Version
	eng := engine.Restore(st)

	if st.PlayersWithChips() < 2 {
		if st.Status == engine.StatusWaiting {
			return nil
		}
		st.Status = engine.StatusWaiting
		st.Version = prev + 1
		if err := s.commit(ctx, h, tableID, st, prev); err != nil {
			if errors.Is(err, ErrConcurrentModification) {
				return nil
			}
			return err
		}
		s.store.Publish(ctx, tableID, st.Version)
		s.enqueue(ctx, queue.JobPersistSnapshot, PersistJob{TableID: tableID}, queue.Options{})
		return nil
	}

	if err := eng.Act(engine.Action{Type: engine.ActionDeal}); err != nil {
		s.log.Debug("auto-deal not applicable",
			zap.String("tableId", tableID), zap.Error(err))
		return nil
	}
	st.Version = prev + 1
	if err := s.commit(ctx, h, tableID, st, prev); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return nil
		}
		return err
	}
	s.log.Info("auto-dealt next hand",
		zap.String("tableId", tableID),
		zap.Uint64("handSeq", st.HandSeq))
	s.fanOut(ctx, st)
	return nil
}
