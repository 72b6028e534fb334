package api

// Protocol headers understood by Corvus coordinators.
const (
	// HeaderDriver identifies the client driver and version.
	HeaderDriver = "x-corvus-driver"

	// HeaderAsync requests deferred execution. The value "store" keeps the
	// result on the server for later retrieval; "true" discards it.
	HeaderAsync = "x-corvus-async"
	// HeaderAsyncID carries the job id of a deferred execution, both on the
	// 202 submission reply and on the stored-result reply.
	HeaderAsyncID = "x-corvus-async-id"

	// HeaderTransactionID tags a request with a streaming transaction.
	HeaderTransactionID = "x-corvus-trx-id"
	// HeaderDirtyRead permits reads from followers inside a cluster.
	HeaderDirtyRead = "x-corvus-allow-dirty-read"

	// HeaderQueueTime carries the maximum acceptable server-side queuing
	// time in seconds on requests, and the observed queuing time on
	// responses.
	HeaderQueueTime = "x-corvus-queue-time-seconds"

	// HeaderCorrelationID links related operations across request and
	// response logs.
	HeaderCorrelationID = "X-Correlation-Id"
)

// AsyncStore and AsyncFireAndForget are the defined HeaderAsync values.
const (
	AsyncStore         = "store"
	AsyncFireAndForget = "true"
)
