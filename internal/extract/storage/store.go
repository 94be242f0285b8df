package storage

import (
	"context"
	"time"
)

// Store is the key-value capability the job tracker needs. Get reports
// found=false for missing or expired keys.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// ConditionalStore is implemented by backends with an atomic
// write-if-absent. It returns false when a live value already exists.
type ConditionalStore interface {
	Store
	PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}
