package bulkio

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"
)

// tocToBinary concatenates every record's binary image (in declaration
// order) and AES-256-CBC-encrypts the result under (key, iv) with PKCS#7
// padding, per the spec's TableOfContents.toBinary.
func tocToBinary(records []*FileRecord, key, iv []byte) ([]byte, error) {
	var plain bytes.Buffer
	for _, r := range records {
		plain.Write(r.ToBinary())
	}
	ct, err := encryptAll(key, iv, plain.Bytes())
	if err != nil {
		return nil, fmt.Errorf("encrypting toc: %w", err)
	}
	return ct, nil
}

// tocFrom decrypts buf under (key, iv), strips PKCS#7 padding, and parses
// the plaintext into records.
func tocFrom(buf []byte, key, iv []byte, log *zap.Logger) ([]*FileRecord, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	plain, err := decryptAll(key, iv, buf)
	if err != nil {
		return nil, fmt.Errorf("decrypting toc: %w", err)
	}
	return manyFileRecords(plain, log)
}
