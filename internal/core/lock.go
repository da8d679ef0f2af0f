package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"datahub/pkg/domain"
)

// LockService hands out pessimistic per-item locks backed by a LockStore.
// Every lock carries a random request ID so overlapping operations on the
// same item can be told apart in logs and in the error returned to a caller
// that lost the race.
type LockService struct {
	store   domain.LockStore
	log     zerolog.Logger
	metrics *Metrics
	now     func() time.Time
}

func NewLockService(store domain.LockStore, log zerolog.Logger, metrics *Metrics) *LockService {
	return &LockService{
		store:   store,
		log:     log.With().Str("component", "locks").Logger(),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Acquire attempts a conditional insert of a new lock for the given item. If
// another holder already owns the lock, both the requested and the existing
// lock are reported back in a ResourceLockedError so the caller can surface
// who is blocking it.
func (s *LockService) Acquire(ctx context.Context, itemID string, scope domain.LockScope, stage domain.Stage, region domain.Region, data map[string]string) (domain.Lock, error) {
	lock := domain.Lock{
		ID:         domain.BuildLockID(itemID, scope, stage, region),
		Scope:      scope,
		RequestID:  uuid.NewString(),
		AcquiredAt: s.now(),
		Data:       data,
	}
	err := s.store.PutIfAbsent(ctx, lock)
	if err == nil {
		s.metrics.lockAcquired()
		s.log.Debug().Str("lockId", lock.ID).Str("requestId", lock.RequestID).Msg("lock acquired")
		return lock, nil
	}
	var exists *domain.AlreadyExistsError
	if errors.As(err, &exists) {
		s.metrics.lockContended()
		locked := &domain.ResourceLockedError{Requested: lock}
		existing, getErr := s.store.GetLock(ctx, lock.ID)
		switch {
		case getErr == nil:
			locked.Existing = &existing
		case !errors.As(getErr, new(*domain.NotFoundError)):
			// The holder released between our insert attempt and the read.
			// Report the collision anyway; the caller retries either way.
			s.log.Debug().Err(getErr).Str("lockId", lock.ID).Msg("could not read competing lock")
		}
		s.log.Warn().Str("lockId", lock.ID).Msg("lock already held")
		return domain.Lock{}, locked
	}
	return domain.Lock{}, fmt.Errorf("acquire lock %s: %w", lock.ID, err)
}

// Release removes a previously acquired lock. Releasing a lock that is
// already gone is not an error.
func (s *LockService) Release(ctx context.Context, lock domain.Lock) error {
	err := s.store.DeleteLock(ctx, lock)
	if err != nil && !errors.As(err, new(*domain.NotFoundError)) {
		return fmt.Errorf("release lock %s: %w", lock.ID, err)
	}
	s.metrics.lockReleased()
	s.log.Debug().Str("lockId", lock.ID).Str("requestId", lock.RequestID).Msg("lock released")
	return nil
}

// ReleaseQuietly releases a lock from a defer. A failed release is logged
// rather than returned so it can never mask the error of the operation that
// held the lock.
func (s *LockService) ReleaseQuietly(ctx context.Context, lock domain.Lock) {
	if err := s.Release(ctx, lock); err != nil {
		s.log.Error().Err(err).Str("lockId", lock.ID).Msg("failed to release lock")
	}
}

// HeldLocks lists every lock currently present in the store.
func (s *LockService) HeldLocks(ctx context.Context) ([]domain.Lock, error) {
	locks, err := s.store.ListLocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	return locks, nil
}
