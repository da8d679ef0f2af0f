package integration

import (
	"context"
	"sync"

	"datahub/pkg/domain"
)

// stubClients is a single happy-path implementation of every provider client
// the service needs. It tracks just enough state for the smoke assertions;
// failure injection lives in the core package's unit tests.
type stubClients struct {
	mu            sync.Mutex
	policies      map[string]*domain.BucketPolicy
	databases     map[domain.DatabaseRef]bool
	links         map[domain.DatabaseRef]domain.AccountID
	notifications int
}

func newStubClients() *stubClients {
	return &stubClients{
		policies:  make(map[string]*domain.BucketPolicy),
		databases: make(map[domain.DatabaseRef]bool),
		links:     make(map[domain.DatabaseRef]domain.AccountID),
	}
}

func (c *stubClients) CreateBucket(_ context.Context, _ domain.BucketSpec) error { return nil }
func (c *stubClients) DeleteBucketIfEmpty(_ context.Context, _ string) error     { return nil }

func (c *stubClients) GetBucketPolicy(_ context.Context, bucket string) (*domain.BucketPolicy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policies[bucket], nil
}

func (c *stubClients) SetBucketPolicy(_ context.Context, bucket string, policy *domain.BucketPolicy) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies[bucket] = policy
	return nil
}

func (c *stubClients) DeleteBucketPolicy(_ context.Context, bucket string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.policies, bucket)
	return nil
}

func (c *stubClients) BlockPublicAccess(_ context.Context, _ string) error          { return nil }
func (c *stubClients) SetLifecycleConfiguration(_ context.Context, _ string) error  { return nil }
func (c *stubClients) EnableVersioning(_ context.Context, _ string) error           { return nil }
func (c *stubClients) EnableMetricsConfiguration(_ context.Context, _ string) error { return nil }

func (c *stubClients) EnableAccessLogging(_ context.Context, _, _, _ string) error { return nil }

func (c *stubClients) SetBucketTags(_ context.Context, _ string, _ map[string]string) error {
	return nil
}

func (c *stubClients) RemoveBucketTags(_ context.Context, _ string, _ []string) error { return nil }

func (c *stubClients) CreateDatabase(_ context.Context, db domain.DatabaseRef, strip bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.databases[db] = strip
	return nil
}

func (c *stubClients) DeleteDatabaseIfPresent(_ context.Context, db domain.DatabaseRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.databases, db)
	return nil
}

func (c *stubClients) DatabaseExists(_ context.Context, db domain.DatabaseRef) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.databases[db]
	return ok, nil
}

func (c *stubClients) CreateLink(_ context.Context, target domain.AccountID, source domain.DatabaseRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.links[source] = target
	return nil
}

func (c *stubClients) DeleteLink(_ context.Context, _ domain.AccountID, source domain.DatabaseRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.links, source)
	return nil
}

func (c *stubClients) LinkExists(_ context.Context, _ domain.AccountID, source domain.DatabaseRef) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.links[source]
	return ok, nil
}

func (c *stubClients) GrantRead(_ context.Context, _ domain.AccountID, _ domain.DatabaseRef) error {
	return nil
}

func (c *stubClients) RevokeRead(_ context.Context, _ domain.AccountID, _ domain.DatabaseRef) error {
	return nil
}

func (c *stubClients) GrantWrite(_ context.Context, _ domain.AccountID, _ domain.DatabaseRef) error {
	return nil
}

func (c *stubClients) RevokeWrite(_ context.Context, _ domain.AccountID, _ domain.DatabaseRef) error {
	return nil
}

func (c *stubClients) CreateShareWithWriteAccess(_ context.Context, _ domain.DatabaseRef, _ domain.AccountID) error {
	return nil
}

func (c *stubClients) RevokeShareIfPresent(_ context.Context, _ domain.DatabaseRef) error {
	return nil
}

func (c *stubClients) Publish(_ context.Context, _ domain.EntityType, _ domain.Operation, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications++
	return nil
}
