package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version    byte = 1
	kindRecord byte = 1

	hdrLen = 4 + 1 + 1 + 1 + 8 + 8 + 4
)

var (
	ErrCorrupt = errors.New("tiercache: corrupt record")
	magic4     = [...]byte{'T', 'I', 'E', 'R'}
)

// Record is the durable-tier representation of one cache entry.
type Record struct {
	Origin    byte
	CreatedAt time.Time
	ExpiresAt time.Time
	Payload   []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode frames a record as:
//
//	magic(4) | ver(1) | kind(1) | origin(1) | created(i64 be, unix nano) | expires(i64 be) | vlen(u32 be) | payload(vlen)
func Encode(r Record) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(r.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindRecord)
	buf.WriteByte(r.Origin)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(r.CreatedAt.UnixNano()))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(r.ExpiresAt.UnixNano()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(r.Payload)))
	buf.Write(u4[:])

	buf.Write(r.Payload)
	return buf.Bytes()
}

// Decode parses a framed record. Trailing bytes are rejected.
// The returned payload aliases b.
func Decode(b []byte) (Record, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5] != kindRecord {
		return Record{}, ErrCorrupt
	}

	origin := b[6]
	off := 7

	created := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	expires := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	if expires < created {
		return Record{}, ErrCorrupt
	}

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Record{}, ErrCorrupt
	}

	return Record{
		Origin:    origin,
		CreatedAt: time.Unix(0, created),
		ExpiresAt: time.Unix(0, expires),
		Payload:   b[off : off+vlen],
	}, nil
}
