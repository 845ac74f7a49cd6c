package bulkio

import (
	"encoding/binary"
	"time"

	"go.uber.org/zap"
)

// On-disk layout of a FileRecord: 256 bytes, little-endian throughout.
const (
	offUUID   = 0
	lenUUID   = 16
	offStart  = offUUID + lenUUID
	offEnd    = offStart + 8
	offKey    = offEnd + 8
	lenKey    = 32
	offIV     = offKey + lenKey
	lenIV     = 16
	offCRC    = offIV + lenIV
	lenCRC    = 4
	offMD5    = offCRC + lenCRC
	lenMD5    = 16
	offSHA256 = offMD5 + lenMD5
	lenSHA256 = 32
	offCTime  = offSHA256 + lenSHA256
	offFlags  = offCTime + 8
	lenFlags  = 2
	offZero   = offFlags + lenFlags
	lenZero   = 114

	// RecordSize is the fixed size of a serialized FileRecord.
	RecordSize = offZero + lenZero
)

// RecordFlags is the bit-field at offset 140 of a FileRecord.
type RecordFlags uint16

const (
	FlagBusy RecordFlags = 1 << iota
	FlagDeleted
	FlagNotReady
)

// isNormal reports whether no flag bit is set.
func (f RecordFlags) isNormal() bool {
	return f == 0
}

func (f RecordFlags) has(bit RecordFlags) bool {
	return f&bit != 0
}

// toggle flips a single bit; it is its own inverse.
func (f RecordFlags) toggle(bit RecordFlags) RecordFlags {
	return f ^ bit
}

// FileRecord is one 256-byte metadata entry describing a stored blob.
type FileRecord struct {
	UUID   [16]byte
	Start  int64
	End    int64
	Key    [32]byte
	IV     [16]byte
	CRC    uint32
	MD5    [16]byte
	SHA256 [32]byte
	CTime  int64
	Flags  RecordFlags
}

// newFileRecord validates start/end ordering before construction; start >=
// end is never representable, per the InvalidRecord edge case.
func newFileRecord(uuid [16]byte, start, end int64, key [32]byte, iv [16]byte, crc uint32, md5sum [16]byte, sha256sum [32]byte) (*FileRecord, error) {
	if start >= end {
		return nil, ErrInvalidRecord
	}
	return &FileRecord{
		UUID:   uuid,
		Start:  start,
		End:    end,
		Key:    key,
		IV:     iv,
		CRC:    crc,
		MD5:    md5sum,
		SHA256: sha256sum,
		CTime:  time.Now().UnixMilli(),
	}, nil
}

// ToBinary serializes the record into its fixed 256-byte image. Reserved
// bytes are written as zero.
func (r *FileRecord) ToBinary() []byte {
	buf := make([]byte, RecordSize)
	copy(buf[offUUID:], r.UUID[:])
	binary.LittleEndian.PutUint64(buf[offStart:], uint64(r.Start))
	binary.LittleEndian.PutUint64(buf[offEnd:], uint64(r.End))
	copy(buf[offKey:], r.Key[:])
	copy(buf[offIV:], r.IV[:])
	binary.LittleEndian.PutUint32(buf[offCRC:], r.CRC)
	copy(buf[offMD5:], r.MD5[:])
	copy(buf[offSHA256:], r.SHA256[:])
	binary.LittleEndian.PutUint64(buf[offCTime:], uint64(r.CTime))
	binary.LittleEndian.PutUint16(buf[offFlags:], uint16(r.Flags))
	return buf
}

// fileRecordFrom parses a single 256-byte record image.
func fileRecordFrom(buf []byte) (*FileRecord, error) {
	if len(buf) < RecordSize {
		return nil, ErrInvalidRecord
	}
	r := &FileRecord{}
	copy(r.UUID[:], buf[offUUID:offUUID+lenUUID])
	r.Start = int64(binary.LittleEndian.Uint64(buf[offStart:]))
	r.End = int64(binary.LittleEndian.Uint64(buf[offEnd:]))
	if r.Start >= r.End {
		return nil, ErrInvalidRecord
	}
	copy(r.Key[:], buf[offKey:offKey+lenKey])
	copy(r.IV[:], buf[offIV:offIV+lenIV])
	r.CRC = binary.LittleEndian.Uint32(buf[offCRC:])
	copy(r.MD5[:], buf[offMD5:offMD5+lenMD5])
	copy(r.SHA256[:], buf[offSHA256:offSHA256+lenSHA256])
	r.CTime = int64(binary.LittleEndian.Uint64(buf[offCTime:]))
	r.Flags = RecordFlags(binary.LittleEndian.Uint16(buf[offFlags:]))
	return r, nil
}

// manyFileRecords parses len(buf)/RecordSize contiguous records. A trailing
// partial buffer is ignored but logged; an empty buffer yields no records.
func manyFileRecords(buf []byte, log *zap.Logger) ([]*FileRecord, error) {
	n := len(buf) / RecordSize
	if rem := len(buf) % RecordSize; rem != 0 {
		log.Warn("trailing partial record buffer ignored",
			zap.Int("buffer_len", len(buf)),
			zap.Int("discarded_bytes", rem),
		)
	}
	records := make([]*FileRecord, 0, n)
	for i := 0; i < n; i++ {
		start := i * RecordSize
		rec, err := fileRecordFrom(buf[start : start+RecordSize])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
