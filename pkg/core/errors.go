package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested resource is not found
var ErrNotFound = errors.New("resource not found")

// ErrDuplicate is returned when ingesting a document whose content hash
// already exists
var ErrDuplicate = errors.New("duplicate document")

// ErrInvalidInput is returned for malformed requests or files
var ErrInvalidInput = errors.New("invalid input")

// ErrDatabaseLocked is returned when the content database is held by
// another process
var ErrDatabaseLocked = errors.New("database is locked by another process")

// ErrQuotaExceeded is returned when a cloud API reports quota exhaustion
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrEmbeddingFailed is returned when embedding generation fails
var ErrEmbeddingFailed = errors.New("embedding generation failed")

// ErrIngestFailed is returned when document ingestion fails
var ErrIngestFailed = errors.New("document ingest failed")

// ErrSearchFailed is returned when search operations fail
var ErrSearchFailed = errors.New("search failed")

// ErrVectorStoreUnavailable is returned when the vector backend cannot
// be reached
var ErrVectorStoreUnavailable = errors.New("vector store unavailable")

// ServiceError carries the failing service and operation alongside the
// cause, for errors crossing package boundaries.
type ServiceError struct {
	Service   string
	Operation string
	Message   string
	Cause     error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s service error in %s: %s (caused by: %v)",
			e.Service, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s service error in %s: %s",
		e.Service, e.Operation, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// NewServiceError creates a new service error
func NewServiceError(service, operation, message string, cause error) *ServiceError {
	return &ServiceError{
		Service:   service,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// IsNotFoundError checks if an error is a "not found" error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if an error marks an already-ingested document
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsQuotaError checks if an error indicates cloud quota exhaustion
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// WrapError wraps an error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
