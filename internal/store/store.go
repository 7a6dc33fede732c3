// Package store provides the persistent key→document storage used by the
// audit log and the notification scheduler.
//
// The store is deliberately minimal: namespaced string keys mapped to JSON
// documents, with Get/Set/Delete and nothing else. There is no query
// language — callers read a whole document and filter in process. Known
// namespaces are the audit log array, the alert array, the pending
// notification map, and the per-type notification configuration.
//
// Two implementations exist: a Redis-backed store for real deployments and
// an in-memory store used in demo mode and in tests. Both are safe for
// concurrent use, but callers that read-modify-write a document (as the
// audit log does) are expected to serialise those sequences themselves —
// the store guarantees last-write-wins per key, not multi-key atomicity.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no document exists under the key.
var ErrNotFound = errors.New("store: key not found")

// Store is a namespaced key→JSON document store.
type Store interface {
	// Get unmarshals the document stored under key into dest.
	// Returns ErrNotFound when the key has never been written or was deleted.
	Get(ctx context.Context, key string, dest any) error
	// Set marshals value to JSON and stores it under key, replacing any
	// previous document.
	Set(ctx context.Context, key string, value any) error
	// Delete removes the document under key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error
}
