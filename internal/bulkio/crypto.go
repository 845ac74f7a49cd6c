package bulkio

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/pbkdf2"
)

const (
	tocKeySize    = 32 // AES-256
	blobKeySize   = 32
	ivSize        = 16 // AES block size
	tocKDFIter    = 16384
	tocPassphrase = 64 // random passphrase fed to PBKDF2-SHA256
	tocSalt       = 16

	rsaKeyBits = 4096
)

// deriveTOCKey derives the TOC's AES-256 key from a random passphrase and
// salt via PBKDF2-SHA256, per the spec's create() procedure.
func deriveTOCKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, tocKDFIter, tocKeySize, sha256.New)
}

// newRandomTOCKey generates the one-time passphrase+salt pair used to derive
// a fresh TOC key at create() time. The passphrase and salt themselves are
// discarded; only the derived key is retained.
func newRandomTOCKey() ([]byte, error) {
	passphrase := make([]byte, tocPassphrase)
	if _, err := io.ReadFull(rand.Reader, passphrase); err != nil {
		return nil, fmt.Errorf("%w: generating toc passphrase: %v", ErrCryptoFailure, err)
	}
	salt := make([]byte, tocSalt)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("%w: generating toc salt: %v", ErrCryptoFailure, err)
	}
	return deriveTOCKey(passphrase, salt), nil
}

func newAESCBCBlock(key []byte) (cipher.Block, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	return block, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("%w: reading random bytes: %v", ErrCryptoFailure, err)
	}
	return b, nil
}

// newBlobIV generates a fresh per-blob initialization vector.
func newBlobIV() ([16]byte, error) {
	var iv [16]byte
	b, err := randomBytes(ivSize)
	if err != nil {
		return iv, err
	}
	copy(iv[:], b)
	return iv, nil
}

// newBlobKey generates a fresh per-blob symmetric key.
func newBlobKey() ([32]byte, error) {
	var key [32]byte
	b, err := randomBytes(blobKeySize)
	if err != nil {
		return key, err
	}
	copy(key[:], b)
	return key, nil
}

// newBlobUUID generates a stable, opaque blob identifier.
func newBlobUUID() [16]byte {
	return [16]byte(uuid.New())
}

// encryptTOCInfo RSA-OAEP-encrypts the 256-byte TOC-info plaintext
// (tocKey || tocIV || tocStart || 200B random padding) under pub.
func encryptTOCInfo(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa-oaep encrypt: %v", ErrCryptoFailure, err)
	}
	return ct, nil
}

// decryptTOCInfo recovers the TOC-info plaintext under priv.
func decryptTOCInfo(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa-oaep decrypt: %v", ErrCryptoFailure, err)
	}
	return pt, nil
}

// GenKey generates an RSA-4096 key pair compatible with this engine's
// header envelope: the private key is PKCS#8 PEM, AES-256-CBC
// passphrase-protected; the public key is SPKI PEM.
func GenKey(passphrase string) (privPEM, pubPEM []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: generating rsa key: %v", ErrCryptoFailure, err)
	}

	block, err := pkcs8.MarshalPrivateKey(key, []byte(passphrase), &pkcs8.Opts{
		Cipher: pkcs8.AES256CBC,
		KDFOpts: pkcs8.PBKDF2Opts{
			SaltSize:       tocSalt,
			IterationCount: tocKDFIter,
			HMACHash:       sha256.New,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: marshaling pkcs8 private key: %v", ErrCryptoFailure, err)
	}
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: block})

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: marshaling spki public key: %v", ErrCryptoFailure, err)
	}
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return privPEM, pubPEM, nil
}

// ParsePublicKey decodes an SPKI PEM public key.
func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found in public key", ErrCryptoFailure)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing spki public key: %v", ErrCryptoFailure, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is not RSA", ErrCryptoFailure)
	}
	return rsaPub, nil
}

// ParsePrivateKey decodes a PKCS#8 PEM private key protected with passphrase.
func ParsePrivateKey(pemBytes []byte, passphrase string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found in private key", ErrCryptoFailure)
	}
	parsed, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing pkcs8 private key: %v", ErrCryptoFailure, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is not RSA", ErrCryptoFailure)
	}
	return key, nil
}
