package rulecache

import "errors"

// Sentinel errors for the cache codec (C4).
// Use errors.Is() to check for these.
var (
	// ErrCollisionsExhausted indicates MaxCollisionAttempts consecutive
	// seeds each produced a 32-bit hash collision; the cache is unlinked
	// and the caller falls back to parsing, per spec.md §4.4.
	ErrCollisionsExhausted = errors.New("rulecache: exhausted hash-seed retries")

	// ErrCorrupt indicates a cache file's CRC-16 or header did not
	// validate; callers fall back to parsing rather than trusting it,
	// per spec.md §4.4/§7.
	ErrCorrupt = errors.New("rulecache: cache file failed integrity check")
)
