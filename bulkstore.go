// Package bulkstore is the public facade over internal/bulkio: a thin
// wrapper that re-exports the container type and its errors, and adds a
// couple of convenience helpers for callers that only have an *os.File
// to offer instead of an io.Reader/io.Writer.
package bulkstore

import (
	"crypto/rsa"
	"io"
	"os"

	"github.com/otavio-f/cautious-happiness/internal/bulkio"
)

// BulkStorage is the encrypted container controller.
type BulkStorage = bulkio.BulkStorage

// FileRecord describes one stored blob's position and metadata.
type FileRecord = bulkio.FileRecord

// Stat summarizes a container's current state.
type Stat = bulkio.Stat

// Option configures a BulkStorage at Create/Open time.
type Option = bulkio.Option

// IOQueue is the optional asynchronous I/O collaborator.
type IOQueue = bulkio.IOQueue

// Selector picks a shard out of several BulkStorage instances.
type Selector = bulkio.Selector

// Errors mirror the internal taxonomy so callers never need to import
// internal/bulkio directly.
var (
	ErrStorageClosed    = bulkio.ErrStorageClosed
	ErrIOFailure        = bulkio.ErrIOFailure
	ErrCryptoFailure    = bulkio.ErrCryptoFailure
	ErrIncompatibleFile = bulkio.ErrIncompatibleFile
	ErrWriteAborted     = bulkio.ErrWriteAborted
	ErrInvalidRecord    = bulkio.ErrInvalidRecord
	ErrNotImplemented   = bulkio.ErrNotImplemented
	ErrNotFound         = bulkio.ErrNotFound
)

// WithLogger, WithIOQueue and WithProcessLock are re-exported unchanged.
var (
	WithLogger      = bulkio.WithLogger
	WithIOQueue     = bulkio.WithIOQueue
	WithProcessLock = bulkio.WithProcessLock
)

// NewIOQueue builds a fresh IOQueue collaborator.
func NewIOQueue() *IOQueue { return bulkio.NewIOQueue() }

// NewSelector builds a shard-placement Selector.
func NewSelector(shards []*BulkStorage, maxSizeGB float64, policy bulkio.Policy) *Selector {
	return bulkio.NewSelector(shards, maxSizeGB, policy)
}

// Create, Open and GenKey are re-exported unchanged.
func Create(path string, pub *rsa.PublicKey, opts ...Option) (*BulkStorage, error) {
	return bulkio.Create(path, pub, opts...)
}

func Open(path string, priv *rsa.PrivateKey, opts ...Option) (*BulkStorage, error) {
	return bulkio.Open(path, priv, opts...)
}

// GenKey generates a fresh RSA-4096 key pair, returning the private key
// as a passphrase-protected PKCS#8 PEM block and the public key as an
// SPKI PEM block.
func GenKey(passphrase string) (privPEM, pubPEM []byte, err error) {
	return bulkio.GenKey(passphrase)
}

// ParsePublicKey and ParsePrivateKey decode the PEM blocks GenKey
// produces.
func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	return bulkio.ParsePublicKey(pemBytes)
}

func ParsePrivateKey(pemBytes []byte, passphrase string) (*rsa.PrivateKey, error) {
	return bulkio.ParsePrivateKey(pemBytes, passphrase)
}

// PutFile reads the entirety of f (seeking to its start first) and
// stores it as a new blob.
func PutFile(s *BulkStorage, f *os.File) (*FileRecord, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return s.Add(f)
}

// GetFile copies the blob identified by uuid into f, which the caller
// is responsible for opening with write access and closing afterward.
func GetFile(s *BulkStorage, uuid [16]byte, f *os.File) error {
	r, err := s.Get(uuid)
	if err != nil {
		return err
	}
	if r == nil {
		return ErrNotFound
	}
	_, err = io.Copy(f, r)
	return err
}
