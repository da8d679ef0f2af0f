package core

import (
	"context"
	"sync"

	"datahub/pkg/domain"
)

// fakeLockStore is an in-memory LockStore that counts conditional inserts so
// tests can assert a guard fired before any lock was taken.
type fakeLockStore struct {
	mu    sync.Mutex
	locks map[string]domain.Lock
	puts  int
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{locks: make(map[string]domain.Lock)}
}

func (s *fakeLockStore) PutIfAbsent(_ context.Context, lock domain.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if _, ok := s.locks[lock.ID]; ok {
		return &domain.AlreadyExistsError{Entity: domain.EntityLock, ID: lock.ID}
	}
	s.locks[lock.ID] = lock
	return nil
}

func (s *fakeLockStore) GetLock(_ context.Context, id string) (domain.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		return domain.Lock{}, &domain.NotFoundError{Entity: domain.EntityLock, ID: id}
	}
	return lock, nil
}

func (s *fakeLockStore) DeleteLock(_ context.Context, lock domain.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[lock.ID]; !ok {
		return &domain.NotFoundError{Entity: domain.EntityLock, ID: lock.ID}
	}
	delete(s.locks, lock.ID)
	return nil
}

func (s *fakeLockStore) ListLocks(_ context.Context) ([]domain.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Lock, 0, len(s.locks))
	for _, lock := range s.locks {
		out = append(out, lock)
	}
	return out, nil
}

func (s *fakeLockStore) held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

// fakeCatalog backs DatasetStore, ResourceStore and AccountDirectory for
// tests.
type fakeCatalog struct {
	mu       sync.Mutex
	datasets map[domain.DatasetID]domain.Dataset
	storage  map[domain.ResourceKey]domain.StorageResource
	syncs    map[domain.ResourceKey]domain.CatalogSyncResource
	accounts map[domain.AccountID]domain.Account

	updateErr error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		datasets: make(map[domain.DatasetID]domain.Dataset),
		storage:  make(map[domain.ResourceKey]domain.StorageResource),
		syncs:    make(map[domain.ResourceKey]domain.CatalogSyncResource),
		accounts: make(map[domain.AccountID]domain.Account),
	}
}

func (c *fakeCatalog) GetDataset(_ context.Context, id domain.DatasetID) (domain.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.datasets[id]
	if !ok {
		return domain.Dataset{}, &domain.NotFoundError{Entity: domain.EntityDataset, ID: string(id)}
	}
	return d.Clone(), nil
}

func (c *fakeCatalog) ListDatasets(_ context.Context) ([]domain.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Dataset, 0, len(c.datasets))
	for _, d := range c.datasets {
		out = append(out, d.Clone())
	}
	return out, nil
}

func (c *fakeCatalog) CreateDataset(_ context.Context, d domain.Dataset) (domain.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.datasets[d.ID]; ok {
		return domain.Dataset{}, &domain.AlreadyExistsError{Entity: domain.EntityDataset, ID: string(d.ID)}
	}
	c.datasets[d.ID] = d.Clone()
	return d, nil
}

func (c *fakeCatalog) DeleteDataset(_ context.Context, id domain.DatasetID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.datasets[id]; !ok {
		return &domain.NotFoundError{Entity: domain.EntityDataset, ID: string(id)}
	}
	delete(c.datasets, id)
	return nil
}

func (c *fakeCatalog) UpdateDataset(_ context.Context, id domain.DatasetID, mutate func(*domain.Dataset) error) (domain.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return domain.Dataset{}, c.updateErr
	}
	d, ok := c.datasets[id]
	if !ok {
		return domain.Dataset{}, &domain.NotFoundError{Entity: domain.EntityDataset, ID: string(id)}
	}
	next := d.Clone()
	if err := mutate(&next); err != nil {
		return domain.Dataset{}, err
	}
	next.Version = d.Version + 1
	c.datasets[id] = next.Clone()
	return next, nil
}

func (c *fakeCatalog) GetStorage(_ context.Context, key domain.ResourceKey) (domain.StorageResource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.storage[key]
	if !ok {
		return domain.StorageResource{}, &domain.NotFoundError{Entity: domain.EntityStorageResource, ID: key.String()}
	}
	return r, nil
}

func (c *fakeCatalog) PutStorage(_ context.Context, r domain.StorageResource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storage[r.Key()] = r
	return nil
}

func (c *fakeCatalog) DeleteStorage(_ context.Context, key domain.ResourceKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.storage, key)
	return nil
}

func (c *fakeCatalog) GetCatalogSync(_ context.Context, key domain.ResourceKey) (domain.CatalogSyncResource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.syncs[key]
	if !ok {
		return domain.CatalogSyncResource{}, &domain.NotFoundError{Entity: domain.EntityCatalogSync, ID: key.String()}
	}
	return r, nil
}

func (c *fakeCatalog) PutCatalogSync(_ context.Context, r domain.CatalogSyncResource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncs[r.Key()] = r
	return nil
}

func (c *fakeCatalog) DeleteCatalogSync(_ context.Context, key domain.ResourceKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.syncs, key)
	return nil
}

func (c *fakeCatalog) GetAccount(_ context.Context, id domain.AccountID) (domain.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.accounts[id]
	if !ok {
		return domain.Account{}, &domain.NotFoundError{Entity: domain.EntityAccount, ID: string(id)}
	}
	return a, nil
}

// fakeBuckets records every bucket mutation. createErrs is consumed one entry
// per CreateBucket call; a nil entry means success.
type fakeBuckets struct {
	mu         sync.Mutex
	created    []domain.BucketSpec
	deleted    []string
	policies   map[string]*domain.BucketPolicy
	tags       map[string]map[string]string
	versioned  map[string]bool
	nonEmpty   map[string]bool
	createErrs []error

	setPolicyErr error
	getPolicyErr error
}

func newFakeBuckets() *fakeBuckets {
	return &fakeBuckets{
		policies:  make(map[string]*domain.BucketPolicy),
		tags:      make(map[string]map[string]string),
		versioned: make(map[string]bool),
		nonEmpty:  make(map[string]bool),
	}
}

func (b *fakeBuckets) CreateBucket(_ context.Context, spec domain.BucketSpec) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.createErrs) > 0 {
		err := b.createErrs[0]
		b.createErrs = b.createErrs[1:]
		if err != nil {
			return err
		}
	}
	b.created = append(b.created, spec)
	return nil
}

func (b *fakeBuckets) DeleteBucketIfEmpty(_ context.Context, bucket string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nonEmpty[bucket] {
		return &domain.BucketNotEmptyError{Bucket: bucket}
	}
	b.deleted = append(b.deleted, bucket)
	return nil
}

func (b *fakeBuckets) GetBucketPolicy(_ context.Context, bucket string) (*domain.BucketPolicy, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getPolicyErr != nil {
		return nil, b.getPolicyErr
	}
	p, ok := b.policies[bucket]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (b *fakeBuckets) SetBucketPolicy(_ context.Context, bucket string, policy *domain.BucketPolicy) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.setPolicyErr != nil {
		return b.setPolicyErr
	}
	b.policies[bucket] = policy.Clone()
	return nil
}

func (b *fakeBuckets) DeleteBucketPolicy(_ context.Context, bucket string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.policies, bucket)
	return nil
}

func (b *fakeBuckets) BlockPublicAccess(_ context.Context, _ string) error { return nil }

func (b *fakeBuckets) SetLifecycleConfiguration(_ context.Context, _ string) error { return nil }

func (b *fakeBuckets) EnableVersioning(_ context.Context, bucket string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.versioned[bucket] = true
	return nil
}

func (b *fakeBuckets) EnableAccessLogging(_ context.Context, _, _, _ string) error { return nil }

func (b *fakeBuckets) EnableMetricsConfiguration(_ context.Context, _ string) error { return nil }

func (b *fakeBuckets) SetBucketTags(_ context.Context, bucket string, tags map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tags[bucket] == nil {
		b.tags[bucket] = make(map[string]string)
	}
	for k, v := range tags {
		b.tags[bucket][k] = v
	}
	return nil
}

func (b *fakeBuckets) RemoveBucketTags(_ context.Context, bucket string, keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.tags[bucket], k)
	}
	return nil
}

func (b *fakeBuckets) policyFor(bucket string) *domain.BucketPolicy {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.policies[bucket]
}

// fakeDatabases records catalog database operations. existing seeds
// DatabaseExists answers keyed by ref.
type fakeDatabases struct {
	mu       sync.Mutex
	created  map[domain.DatabaseRef]bool // value: stripDefaultGrants
	deleted  []domain.DatabaseRef
	existing map[domain.DatabaseRef]bool

	createErr error
	existsErr error
}

func newFakeDatabases() *fakeDatabases {
	return &fakeDatabases{
		created:  make(map[domain.DatabaseRef]bool),
		existing: make(map[domain.DatabaseRef]bool),
	}
}

func (d *fakeDatabases) CreateDatabase(_ context.Context, db domain.DatabaseRef, stripDefaultGrants bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return d.createErr
	}
	d.created[db] = stripDefaultGrants
	return nil
}

func (d *fakeDatabases) DeleteDatabaseIfPresent(_ context.Context, db domain.DatabaseRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, db)
	delete(d.created, db)
	return nil
}

func (d *fakeDatabases) DatabaseExists(_ context.Context, db domain.DatabaseRef) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.existsErr != nil {
		return false, d.existsErr
	}
	if d.existing[db] {
		return true, nil
	}
	_, ok := d.created[db]
	return ok, nil
}

type linkOp struct {
	account domain.AccountID
	db      domain.DatabaseRef
}

// fakeLinks records resource-link operations in consumer accounts.
type fakeLinks struct {
	mu      sync.Mutex
	created []linkOp
	deleted []linkOp

	createErr error
	deleteErr error
}

func (l *fakeLinks) CreateLink(_ context.Context, target domain.AccountID, source domain.DatabaseRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.createErr != nil {
		return l.createErr
	}
	l.created = append(l.created, linkOp{account: target, db: source})
	return nil
}

func (l *fakeLinks) DeleteLink(_ context.Context, target domain.AccountID, source domain.DatabaseRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deleteErr != nil {
		return l.deleteErr
	}
	l.deleted = append(l.deleted, linkOp{account: target, db: source})
	return nil
}

func (l *fakeLinks) LinkExists(_ context.Context, target domain.AccountID, source domain.DatabaseRef) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, op := range l.created {
		if op.account == target && op.db == source {
			return true, nil
		}
	}
	return false, nil
}

// fakeGrants records fine-grained permission operations.
type fakeGrants struct {
	mu           sync.Mutex
	readGrants   []linkOp
	readRevokes  []linkOp
	writeGrants  []linkOp
	writeRevokes []linkOp

	revokeReadErr  error
	revokeWriteErr error
}

func (g *fakeGrants) GrantRead(_ context.Context, principal domain.AccountID, db domain.DatabaseRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.readGrants = append(g.readGrants, linkOp{account: principal, db: db})
	return nil
}

func (g *fakeGrants) RevokeRead(_ context.Context, principal domain.AccountID, db domain.DatabaseRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.revokeReadErr != nil {
		return g.revokeReadErr
	}
	g.readRevokes = append(g.readRevokes, linkOp{account: principal, db: db})
	return nil
}

func (g *fakeGrants) GrantWrite(_ context.Context, principal domain.AccountID, db domain.DatabaseRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writeGrants = append(g.writeGrants, linkOp{account: principal, db: db})
	return nil
}

func (g *fakeGrants) RevokeWrite(_ context.Context, principal domain.AccountID, db domain.DatabaseRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.revokeWriteErr != nil {
		return g.revokeWriteErr
	}
	g.writeRevokes = append(g.writeRevokes, linkOp{account: principal, db: db})
	return nil
}

// fakeShares records resource-share operations.
type fakeShares struct {
	mu      sync.Mutex
	created []linkOp
	revoked []domain.DatabaseRef

	revokeErr error
}

func (s *fakeShares) CreateShareWithWriteAccess(_ context.Context, db domain.DatabaseRef, target domain.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, linkOp{account: target, db: db})
	return nil
}

func (s *fakeShares) RevokeShareIfPresent(_ context.Context, db domain.DatabaseRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revokeErr != nil {
		return s.revokeErr
	}
	s.revoked = append(s.revoked, db)
	return nil
}

type notification struct {
	entity domain.EntityType
	op     domain.Operation
}

// fakeNotifier records published notifications.
type fakeNotifier struct {
	mu        sync.Mutex
	published []notification
}

func (n *fakeNotifier) Publish(_ context.Context, entity domain.EntityType, op domain.Operation, _ any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, notification{entity: entity, op: op})
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.published)
}
