// Package errors provides structured error handling for amanctx.
//
// Every error carries a Kind from the service taxonomy and a stable code of the
// form ERR_XXX_DESCRIPTION where the hundreds digit groups codes by kind:
//   - 1XX: Configuration
//   - 2XX: Infrastructure (cache, RPC, filesystem, locks)
//   - 3XX: Embedding
//   - 4XX: InvalidArgument, NotFound, Decode
//   - 5XX: Internal
//   - 6XX: VectorDb
//   - 7XX: Database
package errors

// Kind classifies an error for recovery decisions.
type Kind string

const (
	KindNotFound        Kind = "NotFound"
	KindInvalidArgument Kind = "InvalidArgument"
	KindConfiguration   Kind = "Configuration"
	KindInfrastructure  Kind = "Infrastructure"
	KindEmbedding       Kind = "Embedding"
	KindVectorDb        Kind = "VectorDb"
	KindDatabase        Kind = "Database"
	KindInternal        Kind = "Internal"
	KindDecode          Kind = "Decode"
	KindUnavailable     Kind = "Unavailable"
	KindCancelled       Kind = "Cancelled"
)

// Error codes organized by kind.
const (
	// Configuration (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeProviderRejected = "ERR_103_PROVIDER_REJECTED"
	ErrCodeProviderNotFound = "ERR_104_PROVIDER_NOT_FOUND"

	// Infrastructure (200-299)
	ErrCodeIO                 = "ERR_201_IO"
	ErrCodeCacheFailed        = "ERR_202_CACHE_FAILED"
	ErrCodeNetworkTimeout     = "ERR_203_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_204_NETWORK_UNAVAILABLE"
	ErrCodeUnavailable        = "ERR_205_UNAVAILABLE"
	ErrCodeCircuitOpen        = "ERR_206_CIRCUIT_OPEN"
	ErrCodeNamespaceLocked    = "ERR_207_NAMESPACE_LOCKED"

	// Embedding (300-399)
	ErrCodeEmbeddingFailed    = "ERR_301_EMBEDDING_FAILED"
	ErrCodeEmbeddingTransient = "ERR_302_EMBEDDING_TRANSIENT"
	ErrCodeDimensionMismatch  = "ERR_303_DIMENSION_MISMATCH"

	// Validation and lookup (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeQueryEmpty   = "ERR_402_QUERY_EMPTY"
	ErrCodeNotFound     = "ERR_404_NOT_FOUND"
	ErrCodeDecode       = "ERR_405_DECODE"

	// Internal (500-599)
	ErrCodeInternal  = "ERR_501_INTERNAL"
	ErrCodeCancelled = "ERR_502_CANCELLED"

	// Vector database (600-699)
	ErrCodeVectorDb          = "ERR_601_VECTOR_DB"
	ErrCodeVectorRateLimited = "ERR_602_VECTOR_RATE_LIMITED"
	ErrCodeCollectionMissing = "ERR_603_COLLECTION_MISSING"

	// Database (700-799)
	ErrCodeDatabase        = "ERR_701_DATABASE"
	ErrCodeDatabaseBusy    = "ERR_702_DATABASE_BUSY"
	ErrCodeMigrationFailed = "ERR_703_MIGRATION_FAILED"
)

// kindFromCode derives the kind from the code's numeric group.
func kindFromCode(code string) Kind {
	switch code {
	case ErrCodeNotFound, ErrCodeCollectionMissing, ErrCodeProviderNotFound:
		return KindNotFound
	case ErrCodeDecode:
		return KindDecode
	case ErrCodeUnavailable, ErrCodeNamespaceLocked:
		return KindUnavailable
	case ErrCodeCancelled:
		return KindCancelled
	}
	if len(code) < 7 {
		return KindInternal
	}
	switch code[4] {
	case '1':
		return KindConfiguration
	case '2':
		return KindInfrastructure
	case '3':
		return KindEmbedding
	case '4':
		return KindInvalidArgument
	case '6':
		return KindVectorDb
	case '7':
		return KindDatabase
	default:
		return KindInternal
	}
}

// isRetryableCode reports codes whose operations may be retried with backoff.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeEmbeddingTransient,
		ErrCodeVectorRateLimited, ErrCodeDatabaseBusy:
		return true
	default:
		return false
	}
}
