// Package errors provides structured error handling for ConstructionRAG.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (data store, object store)
//   - 3XX: Upstream service errors (partition, VLM, embedding, chat)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Kind classifies an error independent of its code. The set is closed;
// every code maps to exactly one kind.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindPermissionDenied  Kind = "PERMISSION_DENIED"
	KindInvalidInput      Kind = "INVALID_INPUT"
	KindConfigError       Kind = "CONFIG_ERROR"
	KindTimeout           Kind = "TIMEOUT"
	KindUnavailable       Kind = "UPSTREAM_UNAVAILABLE"
	KindRateLimited       Kind = "UPSTREAM_RATE_LIMITED"
	KindMalformedResponse Kind = "UPSTREAM_MALFORMED_RESPONSE"
	KindConflict          Kind = "CONFLICT"
	KindInternal          Kind = "INTERNAL"
	KindCancelled         Kind = "CANCELLED"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound  = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid   = "ERR_102_CONFIG_INVALID"
	ErrCodeSnapshotInvalid = "ERR_103_SNAPSHOT_INVALID"

	// Storage errors (200-299)
	ErrCodeRunNotFound      = "ERR_201_RUN_NOT_FOUND"
	ErrCodeDocumentNotFound = "ERR_202_DOCUMENT_NOT_FOUND"
	ErrCodeChunkNotFound    = "ERR_203_CHUNK_NOT_FOUND"
	ErrCodeStoreUnavailable = "ERR_204_STORE_UNAVAILABLE"
	ErrCodeRunConflict      = "ERR_205_RUN_CONFLICT"
	ErrCodeObjectNotFound   = "ERR_206_OBJECT_NOT_FOUND"
	ErrCodeObjectStore      = "ERR_207_OBJECT_STORE_UNAVAILABLE"
	ErrCodeIndexCorrupt     = "ERR_208_INDEX_CORRUPT"

	// Upstream errors (300-399)
	ErrCodeUpstreamTimeout     = "ERR_301_UPSTREAM_TIMEOUT"
	ErrCodeUpstreamUnavailable = "ERR_302_UPSTREAM_UNAVAILABLE"
	ErrCodeUpstreamRateLimited = "ERR_303_UPSTREAM_RATE_LIMITED"
	ErrCodeUpstreamMalformed   = "ERR_304_UPSTREAM_MALFORMED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeEmptyQuery        = "ERR_403_EMPTY_QUERY"
	ErrCodePermissionDenied  = "ERR_404_PERMISSION_DENIED"
	ErrCodeRunNotReady       = "ERR_405_RUN_NOT_READY"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeCancelled       = "ERR_502_CANCELLED"
	ErrCodeEmbeddingFailed = "ERR_503_EMBEDDING_FAILED"
	ErrCodeStageFailed     = "ERR_504_STAGE_FAILED"
)

// kindByCode maps codes that do not follow their category's default kind.
var kindByCode = map[string]Kind{
	ErrCodeRunNotFound:         KindNotFound,
	ErrCodeDocumentNotFound:    KindNotFound,
	ErrCodeChunkNotFound:       KindNotFound,
	ErrCodeObjectNotFound:      KindNotFound,
	ErrCodeStoreUnavailable:    KindUnavailable,
	ErrCodeObjectStore:         KindUnavailable,
	ErrCodeRunConflict:         KindConflict,
	ErrCodeIndexCorrupt:        KindInternal,
	ErrCodeUpstreamTimeout:     KindTimeout,
	ErrCodeUpstreamUnavailable: KindUnavailable,
	ErrCodeUpstreamRateLimited: KindRateLimited,
	ErrCodeUpstreamMalformed:   KindMalformedResponse,
	ErrCodePermissionDenied:    KindPermissionDenied,
	ErrCodeCancelled:           KindCancelled,
}

// kindFromCode derives the error kind from its code.
func kindFromCode(code string) Kind {
	if k, ok := kindByCode[code]; ok {
		return k
	}
	if len(code) < 7 {
		return KindInternal
	}
	switch code[4] {
	case '1':
		return KindConfigError
	case '2':
		return KindInternal
	case '3':
		return KindUnavailable
	case '4':
		return KindInvalidInput
	default:
		return KindInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	if code == ErrCodeIndexCorrupt {
		return SeverityFatal
	}
	if isRetryableKind(kindFromCode(code)) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableKind reports whether a kind represents a transient
// condition. Only transient upstream errors are retried.
func isRetryableKind(k Kind) bool {
	switch k {
	case KindTimeout, KindUnavailable, KindRateLimited:
		return true
	default:
		return false
	}
}
