package store

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fadelink/fadelink/models"
)

// In-memory implementations of the three backing-store contracts. They back
// the test suites and local development without AWS, Redis or RabbitMQ.

// MemObjectStore keeps blobs in a map.
type MemObjectStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	mtime map[string]time.Time

	// FailRemove makes Remove return an error, for exercising the requeue
	// path of the cleanup worker.
	FailRemove bool
	// Now supplies object modification times; defaults to time.Now.
	Now func() time.Time
}

func NewMemObjectStore() *MemObjectStore {
	return &MemObjectStore{
		blobs: make(map[string][]byte),
		mtime: make(map[string]time.Time),
		Now:   time.Now,
	}
}

func (m *MemObjectStore) Put(_ context.Context, key string, body io.Reader, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	m.mtime[key] = m.Now()
	return nil
}

func (m *MemObjectStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRemove {
		return fmt.Errorf("object store unavailable")
	}
	delete(m.blobs, key)
	delete(m.mtime, key)
	return nil
}

// SignedURL signs without checking existence, matching S3 presigning.
func (m *MemObjectStore) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "memory://" + key, nil
}

func (m *MemObjectStore) ListOlderThan(_ context.Context, prefix string, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key, ts := range m.mtime {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix && ts.Before(cutoff) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Has reports whether a blob is stored under key.
func (m *MemObjectStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok
}

// Len returns the number of stored blobs.
func (m *MemObjectStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

// MemMetadataStore keeps records in a map guarded by one mutex, which gives
// the same linearizable conditional-write semantics the Redis script does.
type MemMetadataStore struct {
	mu   sync.Mutex
	recs map[string]models.ShareLink
	ttls map[string]time.Duration

	// FailCreate makes Create return an error, for exercising the
	// compensating object delete on issuance.
	FailCreate bool
}

func NewMemMetadataStore() *MemMetadataStore {
	return &MemMetadataStore{
		recs: make(map[string]models.ShareLink),
		ttls: make(map[string]time.Duration),
	}
}

func (m *MemMetadataStore) Get(_ context.Context, id string) (*models.ShareLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemMetadataStore) Create(_ context.Context, id string, rec *models.ShareLink, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate {
		return fmt.Errorf("metadata store unavailable")
	}
	if _, ok := m.recs[id]; ok {
		return ErrIDTaken
	}
	m.recs[id] = *rec
	m.ttls[id] = ttl
	return nil
}

func (m *MemMetadataStore) CompareAndSwap(_ context.Context, id string, prev, next *models.ShareLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.recs[id]
	if !ok || cur != *prev {
		return ErrConflict
	}
	m.recs[id] = *next
	return nil
}

func (m *MemMetadataStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	delete(m.ttls, id)
	return nil
}

// TTL returns the backstop TTL the record was created with.
func (m *MemMetadataStore) TTL(id string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ttl, ok := m.ttls[id]
	return ttl, ok
}

// Len returns the number of live records.
func (m *MemMetadataStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

// MemCleanupQueue records published jobs.
type MemCleanupQueue struct {
	mu   sync.Mutex
	jobs []models.CleanupJob
}

func NewMemCleanupQueue() *MemCleanupQueue {
	return &MemCleanupQueue{}
}

func (q *MemCleanupQueue) Publish(_ context.Context, job models.CleanupJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

// Jobs returns a copy of everything published so far.
func (q *MemCleanupQueue) Jobs() []models.CleanupJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.CleanupJob(nil), q.jobs...)
}

var (
	_ ObjectStore   = (*MemObjectStore)(nil)
	_ MetadataStore = (*MemMetadataStore)(nil)
	_ CleanupQueue  = (*MemCleanupQueue)(nil)
)
