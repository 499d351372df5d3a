// Package cache stores completed transcription results keyed by fingerprint
// so identical submissions never repeat the expensive model call. Two
// backends exist: an in-process LRU and a Redis-backed store for hosts that
// share results across processes.
package cache

import (
	"context"

	"transcription-scheduler/internal/models"
)

// Cache is the fingerprint -> result store. All implementations are safe for
// concurrent use by workers and the scheduler. Put is idempotent: a second
// put for the same fingerprint overwrites.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (models.Result, bool, error)
	Put(ctx context.Context, fingerprint string, result models.Result) error
	Invalidate(ctx context.Context, fingerprint string) error
	// EvictExpired removes entries past their TTL and reports how many.
	EvictExpired(ctx context.Context) (int, error)
}
