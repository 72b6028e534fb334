package api

// ErrorEnvelope is the error body embedded in Corvus REST responses. The
// server sets Error to true and populates ErrorNum/ErrorMessage both for
// non-2xx replies and for 2xx replies that carry a per-item failure (bulk
// operations).
type ErrorEnvelope struct {
	// Error reports whether the response describes a failure.
	Error bool `json:"error"`
	// ErrorNum is the stable Corvus error number (see errno.go).
	ErrorNum int `json:"errorNum"`
	// ErrorMessage is the human-readable failure description.
	ErrorMessage string `json:"errorMessage"`
	// Code mirrors the HTTP status code of the response.
	Code int `json:"code"`
}

// AuthRequest models POST /_open/auth.
type AuthRequest struct {
	// Username is the database user requesting a token.
	Username string `json:"username"`
	// Password authenticates the user.
	Password string `json:"password"`
}

// AuthResponse carries the issued bearer token.
type AuthResponse struct {
	// JWT is the signed token to present as "Authorization: bearer <jwt>".
	JWT string `json:"jwt"`
}

// VersionResponse models GET /_api/version.
type VersionResponse struct {
	// Server is the server product name.
	Server string `json:"server"`
	// Version is the semantic server version.
	Version string `json:"version"`
	// License is the server license tier.
	License string `json:"license,omitempty"`
}

// DocumentMeta is the metadata block returned by document mutations.
type DocumentMeta struct {
	// ID is the fully qualified document handle ("collection/key").
	ID string `json:"_id"`
	// Key is the document key within its collection.
	Key string `json:"_key"`
	// Rev is the current document revision.
	Rev string `json:"_rev"`
	// OldRev is the revision replaced by the mutation, when applicable.
	OldRev string `json:"_oldRev,omitempty"`
}

// CollectionInfo describes a collection.
type CollectionInfo struct {
	// ID is the server-assigned collection identifier.
	ID string `json:"id"`
	// Name is the collection name.
	Name string `json:"name"`
	// Status is the collection lifecycle status code.
	Status int `json:"status"`
	// Type is the collection type (2 document, 3 edge).
	Type int `json:"type"`
	// IsSystem reports whether the collection is a system collection.
	IsSystem bool `json:"isSystem"`
}

// TransactionInfo describes a streaming transaction on the server.
type TransactionInfo struct {
	// ID is the server-assigned transaction identifier.
	ID string `json:"id"`
	// Status is the transaction status: "running", "committed" or "aborted".
	Status string `json:"status"`
}

// TransactionResult wraps TransactionInfo the way transaction endpoints
// return it.
type TransactionResult struct {
	Result TransactionInfo `json:"result"`
}

// TransactionCollections declares the collection access sets of a
// transaction.
type TransactionCollections struct {
	// Read lists collections read during the transaction.
	Read []string `json:"read,omitempty"`
	// Write lists collections written with shared access.
	Write []string `json:"write,omitempty"`
	// Exclusive lists collections written with exclusive access.
	Exclusive []string `json:"exclusive,omitempty"`
}

// BeginTransactionRequest models POST /_api/transaction/begin.
type BeginTransactionRequest struct {
	Collections TransactionCollections `json:"collections"`
	// WaitForSync blocks the commit until it is synchronized to disk.
	WaitForSync *bool `json:"waitForSync,omitempty"`
	// AllowImplicit permits reads from undeclared collections.
	AllowImplicit *bool `json:"allowImplicit,omitempty"`
	// LockTimeout bounds waiting on collection locks, in seconds.
	LockTimeout *int `json:"lockTimeout,omitempty"`
	// MaxTransactionSize caps the transaction size in bytes.
	MaxTransactionSize *int `json:"maxTransactionSize,omitempty"`
}
