package bulkio

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"os"
	"testing"
)

func genBenchKeyPair(b *testing.B) (*rsa.PublicKey, *rsa.PrivateKey) {
	b.Helper()
	privPEM, pubPEM, err := GenKey("bench-passphrase")
	if err != nil {
		b.Fatal(err)
	}
	pub, err := ParsePublicKey(pubPEM)
	if err != nil {
		b.Fatal(err)
	}
	priv, err := ParsePrivateKey(privPEM, "bench-passphrase")
	if err != nil {
		b.Fatal(err)
	}
	return pub, priv
}

func BenchmarkAdd(b *testing.B) {
	f, err := os.CreateTemp("", "bulkio_bench_add_*.bulk")
	if err != nil {
		b.Fatal(err)
	}
	path := f.Name()
	f.Close()
	os.Remove(path)
	defer os.Remove(path)

	pub, _ := genBenchKeyPair(b)
	s, err := Create(path, pub)
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	val := make([]byte, 4096)
	io.ReadFull(rand.Reader, val)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Add(bytes.NewReader(val)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGet(b *testing.B) {
	f, err := os.CreateTemp("", "bulkio_bench_get_*.bulk")
	if err != nil {
		b.Fatal(err)
	}
	path := f.Name()
	f.Close()
	os.Remove(path)
	defer os.Remove(path)

	pub, _ := genBenchKeyPair(b)
	s, err := Create(path, pub)
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	val := make([]byte, 4096)
	io.ReadFull(rand.Reader, val)

	const n = 1000
	uuids := make([][16]byte, n)
	for i := 0; i < n; i++ {
		rec, err := s.Add(bytes.NewReader(val))
		if err != nil {
			b.Fatal(err)
		}
		uuids[i] = rec.UUID
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r, err := s.Get(uuids[i%n])
		if err != nil {
			b.Fatal(err)
		}
		if _, err := io.Copy(io.Discard, r); err != nil {
			b.Fatal(err)
		}
	}
}
