package store

import "errors"

// Error kinds the gateway surfaces to callers.
var (
	// ErrStoreUnavailable signals the backend could not be reached.
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrCollectionNotFound signals a read targeted a missing collection.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrQuotaExceeded signals a batch exceeded a write limit the
	// gateway could not pre-split — a programmer error, since the
	// gateway's batching contract should prevent this.
	ErrQuotaExceeded = errors.New("write batch exceeds backend quota")
)
