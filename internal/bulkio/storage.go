package bulkio

import (
	"context"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// BulkStorage is the single-writer, multi-reader-within-process controller
// over one container file: the encrypted TOC, the blob regions, and the
// asymmetrically-protected header.
//
// Mutating calls (Add, Delete, Sync, Purge, Close) are serialized by an
// internal mutex; Get only needs a read lock long enough to snapshot the
// matching record, since live writes only ever happen at [tocStart, ∞)
// and readers only ever touch the completed range [start, end) of a
// record that already exists.
type BulkStorage struct {
	mu   sync.RWMutex
	file *fileBackend
	path string

	records  []*FileRecord
	index    map[[16]byte]int // uuid -> position in records
	tocStart int64
	tocKey   []byte
	tocIV    []byte
	closed   bool

	log      *zap.Logger
	fileLock *flock
	ioQueue  *IOQueue
}

// Option configures a BulkStorage at Create/Open time.
type Option func(*BulkStorage)

// WithLogger attaches a structured logger. Without one, a no-op logger is
// used and nothing is ever printed.
func WithLogger(log *zap.Logger) Option {
	return func(s *BulkStorage) { s.log = log }
}

// WithIOQueue attaches the optional asynchronous I/O queue collaborator
// (see ioqueue.go). Without one, every operation runs synchronously on the
// calling goroutine, which is fully conforming.
func WithIOQueue(q *IOQueue) Option {
	return func(s *BulkStorage) { s.ioQueue = q }
}

// WithProcessLock wraps the container file in a cross-process advisory
// lock so two processes cannot both hold it open for writing.
func WithProcessLock(enabled bool) Option {
	return func(s *BulkStorage) {
		if enabled {
			s.fileLock = newFlock(s.path)
		}
	}
}

// gate acquires whatever permit the configured IOQueue requires for a
// task of type t, returning a no-op release when no queue is attached.
// Acquired before the internal mutex, since the queue's job is to bound
// concurrency across potentially several BulkStorage instances sharing
// one queue, a coarser scope than this container's own writer gate.
func (s *BulkStorage) gate(t TaskType) func() {
	if s.ioQueue == nil {
		return func() {}
	}
	release, err := s.ioQueue.gate(context.Background(), t)
	if err != nil {
		return func() {}
	}
	return release
}

func newBulkStorage(path string, fb *fileBackend, opts []Option) *BulkStorage {
	s := &BulkStorage{
		file:  fb,
		path:  path,
		index: make(map[[16]byte]int),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create creates or truncates the target file: a fresh TOC key/IV (derived
// via PBKDF2-SHA256 over a random passphrase and salt, 16,384 iterations),
// tocStart = sizeof(Header), an empty TOC, and the header written under
// pub.
func Create(path string, pub *rsa.PublicKey, opts ...Option) (*BulkStorage, error) {
	s := newBulkStorage(path, nil, opts)
	if s.fileLock != nil {
		if err := s.fileLock.Lock(); err != nil {
			return nil, fmt.Errorf("%w: acquiring process lock: %v", ErrIOFailure, err)
		}
	}
	fb, err := openFileBackend(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		if s.fileLock != nil {
			_ = s.fileLock.Unlock()
		}
		return nil, err
	}
	s.file = fb

	tocKey, err := newRandomTOCKey()
	if err != nil {
		fb.Close()
		return nil, err
	}
	tocIV, err := randomBytes(ivSize)
	if err != nil {
		fb.Close()
		return nil, err
	}

	s.tocStart = HeaderSize
	s.records = nil

	if err := s.writeTOCAndHeader(tocKey, tocIV, pub); err != nil {
		fb.Close()
		return nil, err
	}
	s.tocKey, s.tocIV = tocKey, tocIV
	s.log.Info("storage created", zap.String("path", path))
	return s, nil
}

// Open reads the header, decodes it, reads and decrypts the TOC into
// records, then truncates the file to tocStart so future Add calls
// overwrite the persisted TOC bytes.
func Open(path string, priv *rsa.PrivateKey, opts ...Option) (*BulkStorage, error) {
	fb, err := openFileBackend(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	s := newBulkStorage(path, fb, opts)
	if s.fileLock != nil {
		if err := s.fileLock.Lock(); err != nil {
			fb.Close()
			return nil, fmt.Errorf("%w: acquiring process lock: %v", ErrIOFailure, err)
		}
	}

	headerBuf := make([]byte, HeaderSize)
	n, err := fb.ReadAt(headerBuf, 0)
	if err != nil && err != io.EOF {
		fb.Close()
		return nil, err
	}
	hdr, err := headerFrom(headerBuf[:n], priv)
	if err != nil {
		fb.Close()
		return nil, err
	}

	size, err := fb.Size()
	if err != nil {
		fb.Close()
		return nil, err
	}
	tocLen := size - hdr.tocStart
	if tocLen < 0 {
		fb.Close()
		return nil, fmt.Errorf("%w: tocStart %d exceeds file size %d", ErrIncompatibleFile, hdr.tocStart, size)
	}
	tocBuf := make([]byte, tocLen)
	if tocLen > 0 {
		if _, err := fb.ReadAt(tocBuf, hdr.tocStart); err != nil {
			fb.Close()
			return nil, err
		}
	}
	records, err := tocFrom(tocBuf, hdr.tocKey, hdr.tocIV, s.log)
	if err != nil {
		fb.Close()
		return nil, err
	}

	s.tocKey, s.tocIV = hdr.tocKey, hdr.tocIV
	s.tocStart = hdr.tocStart
	s.records = records
	s.index = make(map[[16]byte]int, len(records))
	for i, r := range records {
		s.index[r.UUID] = i
	}

	// Release the persisted TOC bytes: future Add calls overwrite them.
	if err := fb.Truncate(s.tocStart); err != nil {
		fb.Close()
		return nil, err
	}

	s.log.Info("storage opened", zap.String("path", path), zap.Int("records", len(records)))
	return s, nil
}

// Add pipes r through a fresh per-blob AES-256-CBC encryptor while teeing
// the plaintext through CRC-32, MD5 and SHA-256, appends the ciphertext at
// the current tail, and on success pushes a new FileRecord.
//
// Not re-entrant: callers must serialize concurrent Add calls (or rely on
// the internal mutex, which this method already takes for its duration).
func (s *BulkStorage) Add(r io.Reader) (*FileRecord, error) {
	defer s.gate(TaskAppend)()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStorageClosed
	}

	start := s.tocStart
	key, err := newBlobKey()
	if err != nil {
		return nil, err
	}
	iv, err := newBlobIV()
	if err != nil {
		return nil, err
	}

	block, err := newAESCBCBlock(key[:])
	if err != nil {
		return nil, err
	}
	encWriter := newCBCPKCS7Writer(&offsetWriter{f: s.file.f, offset: start}, cipher.NewCBCEncrypter(block, iv[:]))

	crcHash := crc32.NewIEEE()
	md5Hash := md5.New()
	sha256Hash := sha256.New()
	tee := io.MultiWriter(crcHash, md5Hash, sha256Hash, encWriter)

	if _, err := io.Copy(tee, r); err != nil {
		s.rollbackAdd(start)
		return nil, fmt.Errorf("%w: %v", ErrWriteAborted, err)
	}
	if err := encWriter.Close(); err != nil {
		s.rollbackAdd(start)
		return nil, fmt.Errorf("%w: %v", ErrWriteAborted, err)
	}

	end := start + encWriter.Written()
	var md5Sum [16]byte
	var sha256Sum [32]byte
	copy(md5Sum[:], md5Hash.Sum(nil))
	copy(sha256Sum[:], sha256Hash.Sum(nil))

	rec, err := newFileRecord(newBlobUUID(), start, end, key, iv, crcHash.Sum32(), md5Sum, sha256Sum)
	if err != nil {
		s.rollbackAdd(start)
		return nil, err
	}

	s.index[rec.UUID] = len(s.records)
	s.records = append(s.records, rec)
	s.tocStart = end

	s.log.Debug("blob added", zap.Int64("start", start), zap.Int64("end", end))
	return rec, nil
}

func (s *BulkStorage) rollbackAdd(start int64) {
	if err := s.file.Truncate(start); err != nil {
		s.log.Warn("failed to roll back aborted add", zap.Error(err))
	}
}

// Get returns a decrypted stream for uuid, or (nil, nil) if no live record
// matches — either the UUID is unknown or the record is DELETED.
func (s *BulkStorage) Get(uuid [16]byte) (io.Reader, error) {
	defer s.gate(TaskRead)()
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStorageClosed
	}
	idx, ok := s.index[uuid]
	if !ok {
		s.mu.RUnlock()
		return nil, nil
	}
	rec := s.records[idx]
	if rec.Flags.has(FlagDeleted) {
		s.mu.RUnlock()
		return nil, nil
	}
	stream, err := s.openBlobStream(rec)
	s.mu.RUnlock()
	return stream, err
}

// openBlobStream opens the ranged decryptor for rec. Callers must already
// hold s.mu (read or write) for the duration of the call that reads rec's
// fields, but the returned reader itself may safely be drained after the
// lock is released — it only touches the file and rec's copied key/IV.
func (s *BulkStorage) openBlobStream(rec *FileRecord) (io.Reader, error) {
	block, err := newAESCBCBlock(rec.Key[:])
	if err != nil {
		return nil, err
	}
	ciphertext := s.file.ReadStream(rec.Start, rec.End)
	return newCBCPKCS7Reader(ciphertext, cipher.NewCBCDecrypter(block, rec.IV[:])), nil
}

// Delete marks uuid as deleted. When the record is the current tail, its
// ciphertext region is truncated away and the record removed outright
// instead of flagged — the tail-optimization fast path.
func (s *BulkStorage) Delete(uuid [16]byte) (bool, error) {
	defer s.gate(TaskCritical)()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStorageClosed
	}

	idx, ok := s.index[uuid]
	if !ok {
		return false, nil
	}
	rec := s.records[idx]
	if rec.Flags.has(FlagDeleted) {
		return false, nil
	}

	if rec.End == s.tocStart {
		if err := s.file.Truncate(rec.Start); err != nil {
			return false, err
		}
		s.tocStart = rec.Start
		s.removeRecordAt(idx)
		s.log.Debug("blob tail-deleted", zap.Int64("reclaimed_to", rec.Start))
		return true, nil
	}

	rec.Flags = rec.Flags.toggle(FlagDeleted)
	s.log.Debug("blob flagged deleted", zap.Int64("start", rec.Start))
	return true, nil
}

// removeRecordAt deletes records[idx] and fixes up the UUID index,
// preserving insertion order (required for reliable tail-optimization).
func (s *BulkStorage) removeRecordAt(idx int) {
	removed := s.records[idx].UUID
	s.records = append(s.records[:idx], s.records[idx+1:]...)
	delete(s.index, removed)
	for uuid, i := range s.index {
		if i > idx {
			s.index[uuid] = i - 1
		}
	}
}

// Sync truncates the file to tocStart, serializes and encrypts all
// records at that offset, then overwrites the header at offset 0 with a
// fresh RSA-OAEP envelope under pub. The private key is not retained in
// memory between Open and Sync, hence pub is supplied per call.
func (s *BulkStorage) Sync(pub *rsa.PublicKey) error {
	defer s.gate(TaskCritical)()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStorageClosed
	}
	return s.writeTOCAndHeader(s.tocKey, s.tocIV, pub)
}

func (s *BulkStorage) writeTOCAndHeader(tocKey, tocIV []byte, pub *rsa.PublicKey) error {
	if err := s.file.Truncate(s.tocStart); err != nil {
		return err
	}

	tocBytes, err := tocToBinary(s.records, tocKey, tocIV)
	if err != nil {
		return err
	}
	if _, err := s.file.WriteAt(tocBytes, s.tocStart); err != nil {
		return err
	}

	hdr := &header{tocKey: tocKey, tocIV: tocIV, tocStart: s.tocStart}
	hdrBytes, err := hdr.toBinary(pub)
	if err != nil {
		return err
	}
	if _, err := s.file.WriteAt(hdrBytes, 0); err != nil {
		return err
	}
	return s.file.Sync()
}

// Close releases the file handle. A second call fails with
// ErrStorageClosed, as does any operation issued afterward.
func (s *BulkStorage) Close() error {
	defer s.gate(TaskCritical)()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStorageClosed
	}
	s.closed = true
	if s.fileLock != nil {
		_ = s.fileLock.Unlock()
	}
	return s.file.Close()
}

// IsClosed reports whether Close has already succeeded.
func (s *BulkStorage) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Records returns a read-only snapshot of the live record table,
// including deleted-but-not-purged entries.
func (s *BulkStorage) Records() []FileRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FileRecord, len(s.records))
	for i, r := range s.records {
		out[i] = *r
	}
	return out
}

// Stat summarizes the container's current state.
//
// PlaintextBytes is the sum of End-Start over live records, i.e. the
// length of their ciphertext regions. Each region carries 1 to 16 bytes of
// PKCS#7 padding, so the value exceeds the exact plaintext total by that
// much per live record.
type Stat struct {
	LiveRecords    int
	DeletedRecords int
	PlaintextBytes int64
	FileSize       int64
}

func (s *BulkStorage) Stat() (Stat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Stat
	for _, r := range s.records {
		if r.Flags.has(FlagDeleted) {
			st.DeletedRecords++
			continue
		}
		st.LiveRecords++
		st.PlaintextBytes += r.End - r.Start
	}
	size, err := s.file.Size()
	if err != nil {
		return st, err
	}
	st.FileSize = size
	return st, nil
}

// Purge compacts the file: two cursors scan records in ascending start;
// each DELETED record's hole is filled by the next live record's
// ciphertext, decrypted and re-encrypted under a fresh IV, and the new
// tail is truncated to. The reclaimed tail bytes are scrubbed with random
// data before truncation.
func (s *BulkStorage) Purge() error {
	defer s.gate(TaskCritical)()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStorageClosed
	}

	live := s.records[:0:0]
	writeOffset := int64(HeaderSize)
	for _, rec := range s.records {
		if rec.Flags.has(FlagDeleted) {
			continue
		}
		if rec.Start != writeOffset {
			if err := s.relocateBlob(rec, writeOffset); err != nil {
				return err
			}
		}
		writeOffset = rec.End
		live = append(live, rec)
	}

	if err := s.scrubAndTruncate(writeOffset); err != nil {
		return err
	}

	s.records = live
	s.index = make(map[[16]byte]int, len(live))
	for i, r := range live {
		s.index[r.UUID] = i
	}
	s.tocStart = writeOffset
	s.log.Info("storage purged", zap.Int("live_records", len(live)))
	return nil
}

// relocateBlob moves rec's ciphertext down to newStart by decrypting it
// under its existing key/IV and re-encrypting under a fresh IV, then
// rewrites rec.Start/End in place.
func (s *BulkStorage) relocateBlob(rec *FileRecord, newStart int64) error {
	stream, err := s.openBlobStream(rec)
	if err != nil {
		return err
	}
	// newStart <= rec.Start always (purge only ever compacts forward), so
	// the destination region can overlap the as-yet-unread source region.
	// Buffer the whole plaintext before writing a single byte back.
	plaintext, err := io.ReadAll(stream)
	if err != nil {
		return fmt.Errorf("%w: reading blob during purge: %v", ErrIOFailure, err)
	}

	freshIV, err := newBlobIV()
	if err != nil {
		return err
	}
	block, err := newAESCBCBlock(rec.Key[:])
	if err != nil {
		return err
	}
	w := newCBCPKCS7Writer(&offsetWriter{f: s.file.f, offset: newStart}, cipher.NewCBCEncrypter(block, freshIV[:]))
	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("%w: relocating blob: %v", ErrIOFailure, err)
	}
	if err := w.Close(); err != nil {
		return err
	}

	rec.Start = newStart
	rec.End = newStart + w.Written()
	rec.IV = freshIV
	return nil
}

// scrubAndTruncate overwrites [from, currentSize) with random bytes before
// truncating, denying forensic recovery of reclaimed ciphertext.
func (s *BulkStorage) scrubAndTruncate(from int64) error {
	size, err := s.file.Size()
	if err != nil {
		return err
	}
	if size > from {
		junk, err := randomBytes(int(size - from))
		if err != nil {
			return err
		}
		if _, err := s.file.WriteAt(junk, from); err != nil {
			return err
		}
		if err := s.file.Sync(); err != nil {
			return err
		}
	}
	return s.file.Truncate(from)
}
