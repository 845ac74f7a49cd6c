package bulkio

import (
	"fmt"
	"io"
	"os"
)

// fileBackend is the random-access byte file the controller owns
// exclusively. It exposes exactly the primitives the spec names: read at
// offset, write at offset, append-stream, read-stream from range,
// truncate, size.
type fileBackend struct {
	f *os.File
}

func openFileBackend(path string, flag int, perm os.FileMode) (*fileBackend, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrIOFailure, path, err)
	}
	return &fileBackend{f: f}, nil
}

func (b *fileBackend) ReadAt(p []byte, offset int64) (int, error) {
	n, err := b.f.ReadAt(p, offset)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("%w: read at %d: %v", ErrIOFailure, offset, err)
	}
	return n, err
}

func (b *fileBackend) WriteAt(p []byte, offset int64) (int, error) {
	n, err := b.f.WriteAt(p, offset)
	if err != nil {
		return n, fmt.Errorf("%w: write at %d: %v", ErrIOFailure, offset, err)
	}
	return n, nil
}

// AppendStream writes everything read from r starting at offset start,
// returning the number of bytes written.
func (b *fileBackend) AppendStream(start int64, r io.Reader) (int64, error) {
	w := &offsetWriter{f: b.f, offset: start}
	n, err := io.Copy(w, r)
	if err != nil {
		return n, fmt.Errorf("%w: append stream at %d: %v", ErrIOFailure, start, err)
	}
	return n, nil
}

// ReadStream opens a ranged reader over [start, end).
func (b *fileBackend) ReadStream(start, end int64) io.Reader {
	return io.NewSectionReader(b.f, start, end-start)
}

func (b *fileBackend) Truncate(size int64) error {
	if err := b.f.Truncate(size); err != nil {
		return fmt.Errorf("%w: truncate to %d: %v", ErrIOFailure, size, err)
	}
	return nil
}

func (b *fileBackend) Size() (int64, error) {
	fi, err := b.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat: %v", ErrIOFailure, err)
	}
	return fi.Size(), nil
}

func (b *fileBackend) Sync() error {
	if err := b.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrIOFailure, err)
	}
	return nil
}

func (b *fileBackend) Close() error {
	if err := b.f.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrIOFailure, err)
	}
	return nil
}

// offsetWriter adapts WriteAt into a sequential io.Writer starting at a
// fixed offset, advancing with every Write call. It is the positional
// write sink the add() pump loop writes ciphertext blocks into.
type offsetWriter struct {
	f      *os.File
	offset int64
}

func (w *offsetWriter) Write(p []byte) (int, error) {
	n, err := w.f.WriteAt(p, w.offset)
	w.offset += int64(n)
	if err != nil {
		return n, fmt.Errorf("%w: offset write: %v", ErrIOFailure, err)
	}
	return n, nil
}
