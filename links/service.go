package links

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/fadelink/fadelink/models"
	"github.com/fadelink/fadelink/store"
)

// ObjectPrefix is where issued objects live in the bucket.
const ObjectPrefix = "uploads/"

const (
	// signedURLTTL bounds how long a resolved access URL stays usable.
	signedURLTTL = 60 * time.Second
	// tokenRetries bounds regeneration when a generated token is taken.
	tokenRetries = 4
	// decrementRetries bounds the optimistic decrement loop before the
	// request fails closed.
	decrementRetries = 5
	// storeTimeout bounds every individual store round trip.
	storeTimeout = 5 * time.Second
)

// Service owns the share-link lifecycle: issuance, resolution and cleanup.
// The metadata record is the only shared mutable state; it is never written
// without either a uniqueness guard (Create) or a conditional write
// (CompareAndSwap).
type Service struct {
	objects store.ObjectStore
	meta    store.MetadataStore
	queue   store.CleanupQueue
	tokens  TokenSource
	logger  *log.Logger
	nowFunc func() time.Time
}

func NewService(objects store.ObjectStore, meta store.MetadataStore, queue store.CleanupQueue, tokens TokenSource, logger *log.Logger) *Service {
	return &Service{
		objects: objects,
		meta:    meta,
		queue:   queue,
		tokens:  tokens,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// IssueRequest carries the caller's upload and link parameters.
type IssueRequest struct {
	Body          io.Reader
	ContentType   string
	Filename      string
	ValidityHours int
	MaxDownloads  int
}

// Issue stores the object, then creates the metadata record referencing it,
// and returns the new public identifier. The record's store TTL equals the
// validity window. If the metadata write fails after the object write, the
// object is deleted again so it cannot be orphaned.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (string, error) {
	if req.Body == nil {
		return "", fmt.Errorf("%w: no file provided", ErrInvalidRequest)
	}
	if !models.ValidityAllowed(req.ValidityHours) {
		return "", fmt.Errorf("%w: validity must be one of %v hours", ErrInvalidRequest, models.AllowedValidityHours)
	}
	if !models.MaxDownloadsAllowed(req.MaxDownloads) {
		return "", fmt.Errorf("%w: download limit must be one of %v", ErrInvalidRequest, models.AllowedMaxDownloads)
	}

	objectPath := ObjectPrefix + uuid.New().String()
	putCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := s.objects.Put(putCtx, objectPath, req.Body, req.ContentType); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	window := time.Duration(req.ValidityHours) * time.Hour
	now := s.nowFunc()
	rec := &models.ShareLink{
		ObjectPath:         objectPath,
		OriginalFilename:   req.Filename,
		CreatedAt:          now,
		ExpiresAt:          now.Add(window),
		MaxDownloads:       req.MaxDownloads,
		DownloadsRemaining: req.MaxDownloads,
	}

	id, err := s.createRecord(ctx, rec, window)
	if err != nil {
		// The object must not outlive a failed issuance. Compensation runs
		// even if the request context is already gone.
		rmCtx, rmCancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer rmCancel()
		if rmErr := s.objects.Remove(rmCtx, objectPath); rmErr != nil {
			s.logger.Error("compensating object delete failed, sweep will reap it",
				"path", objectPath, "err", rmErr)
		}
		return "", err
	}

	s.logger.Info("issued share link",
		"id", id, "expires_at", rec.ExpiresAt, "max_downloads", rec.MaxDownloads)
	return id, nil
}

// createRecord generates tokens until one is unused, bounded by tokenRetries.
func (s *Service) createRecord(ctx context.Context, rec *models.ShareLink, ttl time.Duration) (string, error) {
	for range tokenRetries {
		id, err := s.tokens.New()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		createCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		err = s.meta.Create(createCtx, id, rec, ttl)
		cancel()
		if err == nil {
			return id, nil
		}
		if errors.Is(err, store.ErrIDTaken) {
			continue
		}
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return "", fmt.Errorf("%w: could not generate an unused identifier", ErrUpstream)
}

// Resolution is the outcome of a successful Resolve call.
type Resolution struct {
	AccessURL string
	Filename  string
}

// Resolve consumes one unit of download quota from the link identified by id
// and returns a short-lived access URL. Concurrent calls are serialized by
// the store's conditional write: each successful call decrements the counter
// exactly once, so no more than MaxDownloads calls can ever succeed.
func (s *Service) Resolve(ctx context.Context, id string) (*Resolution, error) {
	for range decrementRetries {
		rec, err := s.getRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		now := s.nowFunc()
		if rec.Expired(now) {
			s.finalize(ctx, id, rec.ObjectPath)
			return nil, ErrExpired
		}
		if rec.Exhausted() {
			s.finalize(ctx, id, rec.ObjectPath)
			return nil, ErrExhausted
		}

		next := *rec
		next.DownloadsRemaining--
		casCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		err = s.meta.CompareAndSwap(casCtx, id, rec, &next)
		cancel()
		if errors.Is(err, store.ErrConflict) {
			// Lost the race to a concurrent resolution; re-read and retry.
			continue
		}
		if err != nil {
			// Unknown outcome: the decrement may or may not have applied.
			// Retrying could spend two units for one delivery, so the
			// request fails with no URL issued.
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}

		urlCtx, urlCancel := context.WithTimeout(ctx, storeTimeout)
		accessURL, err := s.objects.SignedURL(urlCtx, rec.ObjectPath, signedURLTTL)
		urlCancel()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		if next.Exhausted() {
			// Final download: reclaim now instead of waiting for a future
			// attempt to observe the terminal state.
			s.finalize(ctx, id, rec.ObjectPath)
		}
		s.logger.Info("resolved share link", "id", id, "remaining", next.DownloadsRemaining)
		return &Resolution{AccessURL: accessURL, Filename: rec.OriginalFilename}, nil
	}
	// Contention exceeded the retry ceiling; deny rather than risk
	// over-spending the quota.
	return nil, ErrExhausted
}

// Peek reports the link's record if it is currently live, without consuming
// quota.
func (s *Service) Peek(ctx context.Context, id string) (*models.ShareLink, error) {
	rec, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Expired(s.nowFunc()) {
		return nil, ErrExpired
	}
	if rec.Exhausted() {
		return nil, ErrExhausted
	}
	return rec, nil
}

// Cleanup removes a link's object and then its metadata record. Either may
// be absent already; both deletes treat that as success, so the queue can
// redeliver the same job any number of times.
func (s *Service) Cleanup(ctx context.Context, id, objectPath string) error {
	if objectPath != "" {
		rmCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		err := s.objects.Remove(rmCtx, objectPath)
		cancel()
		if err != nil {
			return fmt.Errorf("remove object %s: %w", objectPath, err)
		}
	}
	if id != "" {
		delCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		err := s.meta.Delete(delCtx, id)
		cancel()
		if err != nil {
			return fmt.Errorf("delete record %s: %w", id, err)
		}
	}
	return nil
}

func (s *Service) getRecord(ctx context.Context, id string) (*models.ShareLink, error) {
	getCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	rec, err := s.meta.Get(getCtx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return rec, nil
}

// finalize runs the inline cleanup path for a terminal link and enqueues the
// durable backstop job regardless of the inline outcome. Failures here are
// logged and never surfaced to the download path; the worker retries from
// the queue.
func (s *Service) finalize(ctx context.Context, id, objectPath string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.Cleanup(ctx, id, objectPath); err != nil {
		s.logger.Warn("inline cleanup failed, queued job will retry", "id", id, "err", err)
	}
	pubCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := s.queue.Publish(pubCtx, models.CleanupJob{ID: id, ObjectPath: objectPath}); err != nil {
		s.logger.Error("enqueue cleanup job failed", "id", id, "path", objectPath, "err", err)
	}
}
