package links

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadelink/fadelink/models"
	"github.com/fadelink/fadelink/store"
)

type fixture struct {
	svc     *Service
	objects *store.MemObjectStore
	meta    *store.MemMetadataStore
	queue   *store.MemCleanupQueue
	clock   *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := NewTokenGenerator()
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	objects := store.NewMemObjectStore()
	meta := store.NewMemMetadataStore()
	queue := store.NewMemCleanupQueue()

	svc := NewService(objects, meta, queue, tokens, log.New(io.Discard))
	svc.nowFunc = clock.Now
	return &fixture{svc: svc, objects: objects, meta: meta, queue: queue, clock: clock}
}

func (f *fixture) issue(t *testing.T, validityHours, maxDownloads int) string {
	t.Helper()
	id, err := f.svc.Issue(context.Background(), IssueRequest{
		Body:          strings.NewReader("payload"),
		ContentType:   "text/plain",
		Filename:      "notes.txt",
		ValidityHours: validityHours,
		MaxDownloads:  maxDownloads,
	})
	require.NoError(t, err)
	return id
}

func TestIssueRejectsInvalidParameters(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name     string
		validity int
		limit    int
	}{
		{"zero validity", 0, 3},
		{"unlisted validity", 2, 3},
		{"huge validity", 168, 3},
		{"zero limit", 1, 0},
		{"unlisted limit", 1, 4},
		{"negative limit", 1, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Issue(context.Background(), IssueRequest{
				Body:          strings.NewReader("x"),
				ValidityHours: tc.validity,
				MaxDownloads:  tc.limit,
			})
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	_, err := f.svc.Issue(context.Background(), IssueRequest{ValidityHours: 1, MaxDownloads: 3})
	assert.ErrorIs(t, err, ErrInvalidRequest, "missing body")

	// Rejections happen before any write.
	assert.Equal(t, 0, f.objects.Len())
	assert.Equal(t, 0, f.meta.Len())
}

func TestIssueWritesObjectThenRecord(t *testing.T) {
	f := newFixture(t)

	id := f.issue(t, 6, 5)

	rec, err := f.meta.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, f.objects.Has(rec.ObjectPath))
	assert.True(t, strings.HasPrefix(rec.ObjectPath, ObjectPrefix))
	assert.Equal(t, 5, rec.MaxDownloads)
	assert.Equal(t, 5, rec.DownloadsRemaining)
	assert.Equal(t, "notes.txt", rec.OriginalFilename)
	assert.Equal(t, f.clock.Now().Add(6*time.Hour), rec.ExpiresAt)

	// The store TTL backstop matches the validity window.
	ttl, ok := f.meta.TTL(id)
	require.True(t, ok)
	assert.Equal(t, 6*time.Hour, ttl)
}

func TestIssueCompensatesWhenMetadataWriteFails(t *testing.T) {
	f := newFixture(t)
	f.meta.FailCreate = true

	_, err := f.svc.Issue(context.Background(), IssueRequest{
		Body:          strings.NewReader("payload"),
		ValidityHours: 1,
		MaxDownloads:  3,
	})
	assert.ErrorIs(t, err, ErrUpstream)

	// The object written before the failed metadata write must be gone.
	assert.Equal(t, 0, f.objects.Len())
	assert.Equal(t, 0, f.meta.Len())
}

// scriptedTokens replays a fixed token sequence.
type scriptedTokens struct {
	mu     sync.Mutex
	tokens []string
}

func (s *scriptedTokens) New() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tokens) == 0 {
		return "", fmt.Errorf("out of tokens")
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func TestIssueRetriesTakenIdentifiers(t *testing.T) {
	f := newFixture(t)
	f.svc.tokens = &scriptedTokens{tokens: []string{"dupdup", "dupdup", "fresh1"}}

	first := f.issue(t, 1, 3)
	assert.Equal(t, "dupdup", first)

	second := f.issue(t, 1, 3)
	assert.Equal(t, "fresh1", second, "collision with a live record forces a regenerated token")
}

func TestResolveDecrementsAndReturnsAccessURL(t *testing.T) {
	f := newFixture(t)
	id := f.issue(t, 1, 3)

	res, err := f.svc.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", res.Filename)
	assert.True(t, strings.HasPrefix(res.AccessURL, "memory://"+ObjectPrefix))

	rec, err := f.meta.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.DownloadsRemaining)
	assert.True(t, rec.Live(f.clock.Now()))
}

func TestResolveConcurrentAttemptsNeverOverspend(t *testing.T) {
	const attempts = 50
	for _, quota := range models.AllowedMaxDownloads {
		t.Run(fmt.Sprintf("quota_%d", quota), func(t *testing.T) {
			f := newFixture(t)
			id := f.issue(t, 24, quota)

			var wg sync.WaitGroup
			results := make(chan error, attempts)
			for range attempts {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.svc.Resolve(context.Background(), id)
					results <- err
				}()
			}
			wg.Wait()
			close(results)

			successes := 0
			for err := range results {
				if err == nil {
					successes++
				} else {
					assert.True(t, IsTerminal(err), "failed attempts must be terminal, got %v", err)
				}
			}
			assert.Equal(t, quota, successes, "exactly maxDownloads resolutions may succeed")

			// The exhausted link's record and object are both gone.
			assert.Equal(t, 0, f.meta.Len())
			assert.Equal(t, 0, f.objects.Len())
			assert.NotEmpty(t, f.queue.Jobs(), "terminal transition enqueues a backstop job")
		})
	}
}

func TestResolveTimeBoundary(t *testing.T) {
	f := newFixture(t)
	issuedAt := f.clock.Now()

	t.Run("one second before expiry", func(t *testing.T) {
		id := f.issue(t, 1, 3)
		f.clock.Set(issuedAt.Add(time.Hour - time.Second))
		_, err := f.svc.Resolve(context.Background(), id)
		assert.NoError(t, err)
	})

	t.Run("one second after expiry", func(t *testing.T) {
		f.clock.Set(issuedAt)
		id := f.issue(t, 1, 3)
		f.clock.Set(issuedAt.Add(time.Hour + time.Second))
		_, err := f.svc.Resolve(context.Background(), id)
		assert.ErrorIs(t, err, ErrExpired)

		// Expiry with quota remaining still tears everything down.
		assert.Equal(t, 0, f.meta.Len())
		assert.Equal(t, 0, f.objects.Len())
		assert.NotEmpty(t, f.queue.Jobs())
	})
}

func TestResolveRoundTrip(t *testing.T) {
	f := newFixture(t)
	id := f.issue(t, 1, 3)

	ctx := context.Background()
	_, err := f.svc.Resolve(ctx, id)
	require.NoError(t, err)

	rec, err := f.meta.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.DownloadsRemaining)
	assert.True(t, rec.Live(f.clock.Now()))

	_, err = f.svc.Resolve(ctx, id)
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, id)
	require.NoError(t, err, "third download spends the last unit")

	// The final decrement reclaims the link immediately.
	_, err = f.meta.Get(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.Resolve(ctx, id)
	assert.True(t, IsTerminal(err), "fourth attempt is terminal, got %v", err)
}

// conflictingMeta forces a number of CAS conflicts before delegating.
type conflictingMeta struct {
	store.MetadataStore
	mu        sync.Mutex
	conflicts int
}

func (m *conflictingMeta) CompareAndSwap(ctx context.Context, id string, prev, next *models.ShareLink) error {
	m.mu.Lock()
	if m.conflicts > 0 {
		m.conflicts--
		m.mu.Unlock()
		return store.ErrConflict
	}
	m.mu.Unlock()
	return m.MetadataStore.CompareAndSwap(ctx, id, prev, next)
}

func TestResolveRetriesLostRaces(t *testing.T) {
	f := newFixture(t)
	id := f.issue(t, 1, 3)
	f.svc.meta = &conflictingMeta{MetadataStore: f.meta, conflicts: 2}

	_, err := f.svc.Resolve(context.Background(), id)
	assert.NoError(t, err, "conflicts below the ceiling are retried")
}

func TestResolveFailsClosedAtRetryCeiling(t *testing.T) {
	f := newFixture(t)
	id := f.issue(t, 1, 10)
	f.svc.meta = &conflictingMeta{MetadataStore: f.meta, conflicts: decrementRetries}

	_, err := f.svc.Resolve(context.Background(), id)
	assert.ErrorIs(t, err, ErrExhausted, "ceiling exceeded denies the download")

	rec, err := f.meta.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 10, rec.DownloadsRemaining, "failing closed spends nothing")
}

// brokenMeta fails CAS with a transport-style error.
type brokenMeta struct {
	store.MetadataStore
}

func (m *brokenMeta) CompareAndSwap(context.Context, string, *models.ShareLink, *models.ShareLink) error {
	return fmt.Errorf("connection reset")
}

func TestResolveSurfacesUnknownDecrementOutcome(t *testing.T) {
	f := newFixture(t)
	id := f.issue(t, 1, 3)
	f.svc.meta = &brokenMeta{MetadataStore: f.meta}

	res, err := f.svc.Resolve(context.Background(), id)
	assert.Nil(t, res, "no URL may be issued when the decrement outcome is unknown")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestCleanupIsIdempotent(t *testing.T) {
	f := newFixture(t)
	id := f.issue(t, 1, 1)

	rec, err := f.meta.Get(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, f.svc.Cleanup(context.Background(), id, rec.ObjectPath))
	// Simulated queue redelivery of the same job.
	require.NoError(t, f.svc.Cleanup(context.Background(), id, rec.ObjectPath))

	assert.Equal(t, 0, f.meta.Len())
	assert.False(t, f.objects.Has(rec.ObjectPath))
}

func TestPeekDoesNotConsumeQuota(t *testing.T) {
	f := newFixture(t)
	id := f.issue(t, 1, 3)

	for range 5 {
		_, err := f.svc.Peek(context.Background(), id)
		require.NoError(t, err)
	}
	rec, err := f.meta.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.DownloadsRemaining)

	f.clock.Set(f.clock.Now().Add(2 * time.Hour))
	_, err = f.svc.Peek(context.Background(), id)
	assert.ErrorIs(t, err, ErrExpired)
}
