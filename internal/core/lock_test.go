package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"datahub/pkg/domain"
)

func newTestLockService(store domain.LockStore) *LockService {
	return NewLockService(store, zerolog.Nop(), nil)
}

func TestLockServiceAcquireRelease(t *testing.T) {
	store := newFakeLockStore()
	svc := newTestLockService(store)
	ctx := context.Background()

	lock, err := svc.Acquire(ctx, "ds_1", domain.ScopeStorageResource, domain.StageProd, "eu-west-1", nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lock.ID != "ds_1_storage-resource_prod_eu-west-1" {
		t.Fatalf("unexpected lock ID %q", lock.ID)
	}
	if lock.RequestID == "" {
		t.Fatal("expected a request ID")
	}

	_, err = svc.Acquire(ctx, "ds_1", domain.ScopeStorageResource, domain.StageProd, "eu-west-1", nil)
	var locked *domain.ResourceLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected ResourceLockedError, got %v", err)
	}
	if locked.Existing == nil {
		t.Fatal("expected existing lock to be reported")
	}
	if locked.Existing.RequestID != lock.RequestID {
		t.Fatalf("existing request ID = %q, want %q", locked.Existing.RequestID, lock.RequestID)
	}
	if locked.Requested.RequestID == lock.RequestID {
		t.Fatal("competing acquisition reused the holder's request ID")
	}
	if !domain.Retryable(err) {
		t.Fatal("lock collisions must be retryable")
	}

	if err := svc.Release(ctx, lock); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := svc.Acquire(ctx, "ds_1", domain.ScopeStorageResource, domain.StageProd, "eu-west-1", nil); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestLockServiceReleaseIsIdempotent(t *testing.T) {
	store := newFakeLockStore()
	svc := newTestLockService(store)
	ctx := context.Background()

	lock, err := svc.Acquire(ctx, "ds_1", domain.ScopeCatalogSync, domain.StageDev, "eu-central-1", nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := svc.Release(ctx, lock); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := svc.Release(ctx, lock); err != nil {
		t.Fatalf("second release: %v", err)
	}
}

func TestLockServiceScopesAreIndependent(t *testing.T) {
	store := newFakeLockStore()
	svc := newTestLockService(store)
	ctx := context.Background()

	if _, err := svc.Acquire(ctx, "ds_1", domain.ScopeStorageResource, domain.StageProd, "eu-west-1", nil); err != nil {
		t.Fatalf("storage scope: %v", err)
	}
	if _, err := svc.Acquire(ctx, "ds_1", domain.ScopeCatalogSync, domain.StageProd, "eu-west-1", nil); err != nil {
		t.Fatalf("catalog-sync scope: %v", err)
	}
	locks, err := svc.HeldLocks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(locks) != 2 {
		t.Fatalf("held locks = %d, want 2", len(locks))
	}
}

func TestLockServiceMutualExclusion(t *testing.T) {
	store := newFakeLockStore()
	svc := newTestLockService(store)
	ctx := context.Background()

	const attempts = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners int
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Acquire(ctx, "ds_1", domain.ScopeStorageResource, domain.StageProd, "eu-west-1", nil); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}
