package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrArchiveNotFound       = fmt.Errorf("archive: %w", ErrNotFound)
	ErrEntryNotFound         = fmt.Errorf("archive entry: %w", ErrNotFound)
	ErrInvalidLocator        = fmt.Errorf("archive locator: %w", ErrInvalidInput)
	ErrUnsupportedProjection = fmt.Errorf("projection: %w", ErrUnsupported)
	ErrUnsupportedFormat     = fmt.Errorf("format: %w", ErrUnsupported)
	ErrNoSpatialAssets       = fmt.Errorf("archive has no spatial assets: %w", ErrInvalidInput)
	ErrStorageUnavailable    = fmt.Errorf("storage: %w", ErrUnavailable)

	// ErrNoMetadata marks an asset that carries no usable spatial metadata.
	// It is a skip signal, not a failure.
	ErrNoMetadata = errors.New("no spatial metadata")

	// ErrAssetTooLarge is returned by the size guard when the estimated
	// in-memory size of an asset exceeds the configured ceiling.
	ErrAssetTooLarge = errors.New("asset exceeds memory budget")
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// ArchiveReadError is returned when an archive cannot be opened or listed.
// It is fatal for the archive as a whole.
type ArchiveReadError struct {
	Archive string // bucket/key of the archive
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *ArchiveReadError) Error() string {
	return fmt.Sprintf("reading archive %s: %v", e.Archive, e.Err)
}

// Unwrap returns the underlying error.
func (e *ArchiveReadError) Unwrap() error {
	return e.Err
}

// ProjectionError is returned when a source projection is missing, cannot be
// parsed, or cannot be transformed to the common reference frame.
type ProjectionError struct {
	Identifier string // The projection identifier as found in the source
	Reason     string
	Err        error
}

// Error implements the error interface.
func (e *ProjectionError) Error() string {
	id := e.Identifier
	if len(id) > 64 {
		id = id[:64] + "..."
	}
	msg := "projection error"
	if id != "" {
		msg += fmt.Sprintf(" for %q", id)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ProjectionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// ModelHeaderParseError is returned when a hydraulic-model geometry file does
// not match the expected fixed text layout.
type ModelHeaderParseError struct {
	File   string
	Line   int
	Reason string
}

// Error implements the error interface.
func (e *ModelHeaderParseError) Error() string {
	return fmt.Sprintf("parsing model header %s line %d: %s", e.File, e.Line, e.Reason)
}

// Unwrap returns the underlying error type.
func (e *ModelHeaderParseError) Unwrap() error {
	return ErrInvalidInput
}

// MetadataExtractionError is a generic per-asset read failure.
type MetadataExtractionError struct {
	Asset string
	Kind  AssetKind
	Err   error
}

// Error implements the error interface.
func (e *MetadataExtractionError) Error() string {
	return fmt.Sprintf("extracting %s metadata for %s: %v", e.Kind, e.Asset, e.Err)
}

// Unwrap returns the underlying error.
func (e *MetadataExtractionError) Unwrap() error {
	return e.Err
}

// FootprintDerivationError is returned when a hull footprint cannot be derived.
type FootprintDerivationError struct {
	Asset  string
	Reason string
}

// Error implements the error interface.
func (e *FootprintDerivationError) Error() string {
	return fmt.Sprintf("deriving footprint for %s: %s", e.Asset, e.Reason)
}

// Unwrap returns the underlying error type.
func (e *FootprintDerivationError) Unwrap() error {
	return ErrInvalidInput
}

// EmptyExtentError is returned when no asset of an archive could be processed,
// leaving the collection without a spatial extent.
type EmptyExtentError struct {
	Archive   string
	Attempted int // Number of assets that were attempted
}

// Error implements the error interface.
func (e *EmptyExtentError) Error() string {
	return fmt.Sprintf("archive %s: none of %d assets produced an item, extent is empty",
		e.Archive, e.Attempted)
}

// Unwrap returns the underlying error type.
func (e *EmptyExtentError) Unwrap() error {
	return ErrInvalidInput
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (stat, read, put, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error type.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
