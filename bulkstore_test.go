package bulkstore

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempContainerPath(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp("", "bulkstore_public_test_*.bulk")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())
	require.NoError(t, os.Remove(path))
	t.Cleanup(func() { os.Remove(path) })
	return path
}

func TestPublicAPIRoundTrip(t *testing.T) {
	privPEM, pubPEM, err := GenKey("public-api-pass")
	require.NoError(t, err)
	pub, err := ParsePublicKey(pubPEM)
	require.NoError(t, err)
	priv, err := ParsePrivateKey(privPEM, "public-api-pass")
	require.NoError(t, err)

	path := tempContainerPath(t)
	s, err := Create(path, pub)
	require.NoError(t, err)

	payload := []byte("public facade payload")
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

func TestPutFileGetFile(t *testing.T) {
	_, pubPEM, err := GenKey("file-helper-pass")
	require.NoError(t, err)
	pub, err := ParsePublicKey(pubPEM)
	require.NoError(t, err)

	path := tempContainerPath(t)
	s, err := Create(path, pub)
	require.NoError(t, err)
	defer s.Close()

	srcPath := path + ".src"
	require.NoError(t, os.WriteFile(srcPath, []byte("file helper contents"), 0o644))
	defer os.Remove(srcPath)
	src, err := os.OpenFile(srcPath, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer src.Close()

	rec, err := PutFile(s, src)
	require.NoError(t, err)

	dstPath := path + ".dst"
	defer os.Remove(dstPath)
	dst, err := os.Create(dstPath)
	require.NoError(t, err)
	require.NoError(t, GetFile(s, rec.UUID, dst))
	require.NoError(t, dst.Close())

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	require.Equal(t, []byte("file helper contents"), got)
}

func TestGetFileNotFound(t *testing.T) {
	_, pubPEM, err := GenKey("notfound-pass")
	require.NoError(t, err)
	pub, err := ParsePublicKey(pubPEM)
	require.NoError(t, err)

	path := tempContainerPath(t)
	s, err := Create(path, pub)
	require.NoError(t, err)
	defer s.Close()

	dstPath := path + ".dst"
	defer os.Remove(dstPath)
	dst, err := os.Create(dstPath)
	require.NoError(t, err)
	defer dst.Close()

	var missing [16]byte
	err = GetFile(s, missing, dst)
	require.ErrorIs(t, err, ErrNotFound)
}
