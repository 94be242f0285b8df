package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RecSpeed/firmwareextrs/internal/extract/domain"
	"github.com/RecSpeed/firmwareextrs/shared/metrics"
)

// JobStore reads and writes job records on top of a Store
type JobStore struct {
	store   Store
	logger  *slog.Logger
	metrics metrics.Metrics
}

// NewJobStore creates a JobStore. m may be nil.
func NewJobStore(store Store, logger *slog.Logger, m metrics.Metrics) *JobStore {
	if m == nil {
		m = metrics.Noop{}
	}
	return &JobStore{
		store:   store,
		logger:  logger,
		metrics: m,
	}
}

// Get returns the live record for key. Read and decode failures are logged
// and reported as absent so they never block a new job.
func (s *JobStore) Get(ctx context.Context, key string) (*domain.JobRecord, bool) {
	value, found, err := s.store.Get(ctx, key)
	if err != nil {
		s.metrics.IncUpstreamError("cache")
		s.logger.Warn("Cache read failed, treating as absent",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return nil, false
	}
	if !found {
		return nil, false
	}

	record, err := domain.DecodeJobRecord(key, value)
	if err != nil {
		s.logger.Warn("Unreadable job record, treating as absent",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return nil, false
	}
	return record, true
}

// Put overwrites the record for record.Key
func (s *JobStore) Put(ctx context.Context, record *domain.JobRecord, ttl time.Duration) error {
	value, err := record.Encode()
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, record.Key, value, ttl); err != nil {
		s.metrics.IncUpstreamError("cache")
		return domain.Upstream("cache", err)
	}
	return nil
}

// Claim writes record only if no live record exists, when the backend
// supports it. On a lost race it returns the current holder and false.
// A live value that does not decode is overwritten. Other backends fall
// back to an unconditional write.
func (s *JobStore) Claim(ctx context.Context, record *domain.JobRecord, ttl time.Duration) (*domain.JobRecord, bool, error) {
	cond, ok := s.store.(ConditionalStore)
	if !ok {
		if err := s.Put(ctx, record, ttl); err != nil {
			return nil, false, err
		}
		return record, true, nil
	}

	value, err := record.Encode()
	if err != nil {
		return nil, false, err
	}

	// a holder can expire between PutIfAbsent and the read, so try twice
	for attempt := 0; attempt < 2; attempt++ {
		acquired, err := cond.PutIfAbsent(ctx, record.Key, value, ttl)
		if err != nil {
			s.metrics.IncUpstreamError("cache")
			return nil, false, domain.Upstream("cache", err)
		}
		if acquired {
			return record, true, nil
		}

		raw, found, err := s.store.Get(ctx, record.Key)
		if err != nil {
			s.metrics.IncUpstreamError("cache")
			return nil, false, domain.Upstream("cache", err)
		}
		if !found {
			continue
		}

		holder, err := domain.DecodeJobRecord(record.Key, raw)
		if err == nil {
			return holder, false, nil
		}

		s.logger.Warn("Replacing unreadable job record",
			slog.String("key", record.Key),
			slog.Any("error", err),
		)
		if err := s.Put(ctx, record, ttl); err != nil {
			return nil, false, err
		}
		return record, true, nil
	}
	return nil, false, fmt.Errorf("claim %s: %w", record.Key, domain.ErrUpstreamUnavailable)
}

// Delete removes the record for key
func (s *JobStore) Delete(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		s.metrics.IncUpstreamError("cache")
		return domain.Upstream("cache", err)
	}
	return nil
}

// Ping checks the backing store
func (s *JobStore) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
