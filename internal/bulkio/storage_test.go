package bulkio

import (
	"bytes"
	"crypto/rsa"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempFile(t *testing.T) (string, func()) {
	t.Helper()
	f, err := os.CreateTemp("", "bulkio_test_*.bulk")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())
	require.NoError(t, os.Remove(path))

	cleanup := func() { os.Remove(path) }
	return path, cleanup
}

func genTestKeyPair(t *testing.T) (*rsa.PublicKey, *rsa.PrivateKey) {
	t.Helper()
	privPEM, pubPEM, err := GenKey("test-passphrase")
	require.NoError(t, err)
	pub, err := ParsePublicKey(pubPEM)
	require.NoError(t, err)
	priv, err := ParsePrivateKey(privPEM, "test-passphrase")
	require.NoError(t, err)
	return pub, priv
}

func TestCreateAddGetRoundTrip(t *testing.T) {
	path, cleanup := tempFile(t)
	defer cleanup()

	pub, priv := genTestKeyPair(t)
	s, err := Create(path, pub)
	require.NoError(t, err)

	payload := []byte("hello bulk storage")
	rec, err := s.Add(bytes.NewReader(payload))
	require.NoError(t, err)
	require.NoError(t, s.Sync(pub))
	require.NoError(t, s.Close())

	s2, err := Open(path, priv)
	require.NoError(t, err)
	defer s2.Close()

	r, err := s2.Get(rec.UUID)
	require.NoError(t, err)
	require.NotNil(t, r)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	path, cleanup := tempFile(t)
	defer cleanup()

	pub, _ := genTestKeyPair(t)
	s, err := Create(path, pub)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, otherPriv := genTestKeyPair(t)
	_, err = Open(path, otherPriv)
	require.Error(t, err)
}

func TestMultipleBlobsStayIndependent(t *testing.T) {
	path, cleanup := tempFile(t)
	defer cleanup()

	pub, _ := genTestKeyPair(t)
	s, err := Create(path, pub)
	require.NoError(t, err)
	defer s.Close()

	rec1, err := s.Add(strings.NewReader("first"))
	require.NoError(t, err)
	rec2, err := s.Add(strings.NewReader("second"))
	require.NoError(t, err)

	r1, err := s.Get(rec1.UUID)
	require.NoError(t, err)
	got1, err := io.ReadAll(r1)
	require.NoError(t, err)
	require.Equal(t, "first", string(got1))

	r2, err := s.Get(rec2.UUID)
	require.NoError(t, err)
	got2, err := io.ReadAll(r2)
	require.NoError(t, err)
	require.Equal(t, "second", string(got2))
}

func TestDeleteTailFastPath(t *testing.T) {
	path, cleanup := tempFile(t)
	defer cleanup()

	pub, _ := genTestKeyPair(t)
	s, err := Create(path, pub)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Add(strings.NewReader("tail blob"))
	require.NoError(t, err)

	sizeBefore, err := s.file.Size()
	require.NoError(t, err)

	found, err := s.Delete(rec.UUID)
	require.NoError(t, err)
	require.True(t, found)

	sizeAfter, err := s.file.Size()
	require.NoError(t, err)
	require.Less(t, sizeAfter, sizeBefore)
	require.Len(t, s.records, 0)

	r, err := s.Get(rec.UUID)
	require.NoError(t, err)
	require.Nil(t, r)
}

func TestDeleteNonTailFlagsRecord(t *testing.T) {
	path, cleanup := tempFile(t)
	defer cleanup()

	pub, _ := genTestKeyPair(t)
	s, err := Create(path, pub)
	require.NoError(t, err)
	defer s.Close()

	first, err := s.Add(strings.NewReader("keep me around"))
	require.NoError(t, err)
	_, err = s.Add(strings.NewReader("newer blob"))
	require.NoError(t, err)

	found, err := s.Delete(first.UUID)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, s.records, 2)
	require.True(t, s.records[0].Flags.has(FlagDeleted))

	r, err := s.Get(first.UUID)
	require.NoError(t, err)
	require.Nil(t, r)
}

func TestPurgeReclaimsSpaceAndKeepsLiveBlobsReadable(t *testing.T) {
	path, cleanup := tempFile(t)
	defer cleanup()

	pub, _ := genTestKeyPair(t)
	s, err := Create(path, pub)
	require.NoError(t, err)
	defer s.Close()

	toDelete, err := s.Add(strings.NewReader("will be removed"))
	require.NoError(t, err)
	keep, err := s.Add(strings.NewReader("survives the purge"))
	require.NoError(t, err)

	found, err := s.Delete(toDelete.UUID)
	require.NoError(t, err)
	require.True(t, found)

	sizeBefore, err := s.file.Size()
	require.NoError(t, err)

	require.NoError(t, s.Purge())

	sizeAfter, err := s.file.Size()
	require.NoError(t, err)
	require.Less(t, sizeAfter, sizeBefore)

	r, err := s.Get(keep.UUID)
	require.NoError(t, err)
	require.NotNil(t, r)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "survives the purge", string(got))

	st, err := s.Stat()
	require.NoError(t, err)
	require.Equal(t, 1, st.LiveRecords)
	require.Equal(t, 0, st.DeletedRecords)
}

func TestCloseIsIdempotentlyRejected(t *testing.T) {
	path, cleanup := tempFile(t)
	defer cleanup()

	pub, _ := genTestKeyPair(t)
	s, err := Create(path, pub)
	require.NoError(t, err)

	require.False(t, s.IsClosed())
	require.NoError(t, s.Close())
	require.True(t, s.IsClosed())
	require.ErrorIs(t, s.Close(), ErrStorageClosed)

	_, err = s.Add(strings.NewReader("x"))
	require.ErrorIs(t, err, ErrStorageClosed)
}

func TestEncryptionAtRest(t *testing.T) {
	path, cleanup := tempFile(t)
	defer cleanup()

	pub, _ := genTestKeyPair(t)
	s, err := Create(path, pub)
	require.NoError(t, err)

	secret := "THIS_IS_A_SECRET_PLAINTEXT_MARKER"
	_, err = s.Add(strings.NewReader(secret))
	require.NoError(t, err)
	require.NoError(t, s.Sync(pub))
	require.NoError(t, s.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.False(t, strings.Contains(string(content), secret), "plaintext marker found in container file")
}

func TestRecordsSnapshotIncludesDeleted(t *testing.T) {
	path, cleanup := tempFile(t)
	defer cleanup()

	pub, _ := genTestKeyPair(t)
	s, err := Create(path, pub)
	require.NoError(t, err)
	defer s.Close()

	first, err := s.Add(strings.NewReader("a"))
	require.NoError(t, err)
	_, err = s.Add(strings.NewReader("b"))
	require.NoError(t, err)
	_, err = s.Delete(first.UUID)
	require.NoError(t, err)

	recs := s.Records()
	require.Len(t, recs, 2)
}
