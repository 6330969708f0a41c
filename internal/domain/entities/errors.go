package entities

import "errors"

// Error taxonomy for the pipeline. Handlers and adapters wrap these so
// callers can classify failures with errors.Is without depending on
// adapter internals.
var (
	// ErrExternalService marks an embedding or inference provider that is
	// unavailable or rate limited. Retried with backoff inside the
	// adapter; if retries are exhausted the affected clause degrades to
	// empty results.
	ErrExternalService = errors.New("external service unavailable")

	// ErrMalformedModelOutput marks an unparseable model response. Always
	// absorbed by a conservative fallback, never returned to the caller.
	ErrMalformedModelOutput = errors.New("malformed model output")

	// ErrIndexUnavailable marks a missing or corrupt index. The request
	// fails with status "error"; recovery is a rebuild via reindex.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrInvalidRequest marks a request rejected before pipeline entry.
	ErrInvalidRequest = errors.New("invalid request")
)
