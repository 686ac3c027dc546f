package shared

// DomainError represents a domain-level error with a stable machine code.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors shared across the engine.
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")

	// ErrUnknownUser is returned when a referenced user is absent from the
	// directory. The referencing operation must leave no partial effect.
	ErrUnknownUser = NewDomainError("USER_NOT_FOUND", "User not found in directory")

	// ErrInvalidAmount rejects non-positive point amounts before any write.
	ErrInvalidAmount = NewDomainError("INVALID_AMOUNT", "Point amount must be positive")

	// ErrGraphCycle indicates corrupted referral data: a user reachable as
	// its own ancestor. Operations abort without partial writes.
	ErrGraphCycle = NewDomainError("GRAPH_CYCLE", "Referral graph contains a cycle")

	// ErrLedgerWrite indicates a malformed distribution record was rejected.
	ErrLedgerWrite = NewDomainError("LEDGER_WRITE_FAILED", "Distribution record is invalid")

	// ErrContention is surfaced when write-conflict retries are exhausted.
	// Callers should retry the whole operation later.
	ErrContention = NewDomainError("CONTENTION_EXHAUSTED", "Too many concurrent updates, try again later")

	// ErrPersistence wraps storage-level failures that must not be swallowed.
	ErrPersistence = NewDomainError("PERSISTENCE_FAILURE", "Underlying storage is unavailable")

	// ErrDuplicateAward marks a re-submitted award identifier. The first
	// successful application stands; the duplicate is a no-op.
	ErrDuplicateAward = NewDomainError("DUPLICATE_AWARD", "Award was already applied")
)
