package api

// Well-known Corvus server error numbers. The list is not exhaustive; it
// covers the conditions callers commonly branch on.
const (
	// ErrnoForbidden accompanies HTTP 401/403 replies, including expired
	// bearer tokens.
	ErrnoForbidden = 11

	// ErrnoConflict signals a write-write conflict or revision mismatch.
	ErrnoConflict = 1200
	// ErrnoDocumentNotFound signals a missing document.
	ErrnoDocumentNotFound = 1202
	// ErrnoCollectionNotFound signals a missing collection or view.
	ErrnoCollectionNotFound = 1203
	// ErrnoDuplicateName signals a name collision when creating a
	// collection, view or index.
	ErrnoDuplicateName = 1207
	// ErrnoUniqueConstraintViolated signals a unique index violation,
	// typically a duplicate document key.
	ErrnoUniqueConstraintViolated = 1210
	// ErrnoDatabaseNotFound signals a missing database.
	ErrnoDatabaseNotFound = 1228

	// ErrnoTransactionNotFound signals an unknown transaction id.
	ErrnoTransactionNotFound = 1655
	// ErrnoTransactionAborted signals a transaction that was rolled back.
	ErrnoTransactionAborted = 1653

	// ErrnoQueueTimeViolated signals that the request was rejected because
	// the server-side queuing time exceeded the client-requested bound.
	ErrnoQueueTimeViolated = 21004
)
