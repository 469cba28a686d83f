package ledger

import "encoding/binary"

// Canonical pre-image encoding: fields are appended in a fixed order, integers
// big-endian, variable-length fields prefixed with their 32-bit length. The
// encoding is part of the hash contract: reordering or reframing a field
// changes every digest on the chain.

func appendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

func appendInt64(b []byte, v int64) []byte {
	return appendUint64(b, uint64(v))
}

func appendBytes(b, data []byte) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(data)))
	b = append(b, buf[:]...)
	return append(b, data...)
}

func appendString(b []byte, s string) []byte {
	return appendBytes(b, []byte(s))
}
