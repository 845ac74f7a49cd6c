package bulkio

import "errors"

// Error taxonomy for the storage engine. Every failure surfaces as one of
// these sentinels (optionally wrapped with fmt.Errorf("...: %w", err) so
// errors.Is still matches).
var (
	// ErrStorageClosed is returned by any operation issued after Close.
	ErrStorageClosed = errors.New("bulkio: storage is closed")

	// ErrIOFailure wraps an underlying file-operation failure.
	ErrIOFailure = errors.New("bulkio: io failure")

	// ErrCryptoFailure wraps an RSA or AES-CBC failure (wrong key, corrupt
	// ciphertext, padding error).
	ErrCryptoFailure = errors.New("bulkio: crypto failure")

	// ErrIncompatibleFile is returned by Open on magic or version mismatch.
	ErrIncompatibleFile = errors.New("bulkio: incompatible file")

	// ErrWriteAborted is returned when Add terminates before the encryptor
	// finishes; the file is rolled back to its pre-Add state.
	ErrWriteAborted = errors.New("bulkio: write aborted")

	// ErrInvalidRecord is returned by the codec when start >= end or the
	// record buffer is shorter than RecordSize.
	ErrInvalidRecord = errors.New("bulkio: invalid record")

	// ErrNotImplemented marks an operation deliberately out of scope; it is
	// returned by Selector.Select for an unknown selection policy.
	ErrNotImplemented = errors.New("bulkio: not implemented")

	// ErrNotFound is returned when a UUID matches no live record.
	ErrNotFound = errors.New("bulkio: record not found")
)
