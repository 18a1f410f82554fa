package slice

import (
	"crypto/md5"
	"fmt"

	"github.com/signal24/strubs/cmn"
)

// encodeHeader renders the 48-byte file header described in spec.md §4.1.
func encodeHeader(h header) []byte {
	buf := make([]byte, cmn.FileHeaderSize)

	copy(buf[0:4], fileMagic[:])
	buf[4] = fileVersion
	buf[5] = headerLengthField & 0xFF
	buf[6] = byte(headerLengthField >> 8)

	copy(buf[23:35], h.objectID[:])
	putUint40LE(buf[35:40], uint64(h.fileSize))
	buf[40] = h.data
	buf[41] = h.parity
	buf[42] = h.index
	putUint24LE(buf[43:46], h.chunkSize)
	buf[46] = 0
	buf[47] = 0

	sum := md5.Sum(buf[23:48])
	copy(buf[7:23], sum[:])

	return buf
}

// decodeHeader parses and validates a 48-byte slice file header.
func decodeHeader(buf []byte) (header, error) {
	var h header
	if len(buf) != cmn.FileHeaderSize {
		return h, fmt.Errorf("slice: header: want %d bytes, got %d", cmn.FileHeaderSize, len(buf))
	}
	if buf[0] != fileMagic[0] || buf[1] != fileMagic[1] || buf[2] != fileMagic[2] || buf[3] != fileMagic[3] {
		return h, errHeaderInvalid("bad magic")
	}
	if buf[4] != fileVersion {
		return h, errHeaderInvalid("bad version")
	}
	hdrLen := int(buf[5]) | int(buf[6])<<8
	if hdrLen != cmn.FileHeaderSize {
		return h, errHeaderInvalid("bad header length")
	}

	sum := md5.Sum(buf[23:48])
	var stored [16]byte
	copy(stored[:], buf[7:23])
	if sum != stored {
		return h, errHeaderInvalid("header md5 mismatch")
	}

	copy(h.objectID[:], buf[23:35])
	h.fileSize = int64(getUint40LE(buf[35:40]))
	h.data = buf[40]
	h.parity = buf[41]
	h.index = buf[42]
	h.chunkSize = getUint24LE(buf[43:46])
	return h, nil
}

func errHeaderInvalid(detail string) error {
	return &cmn.SliceError{Kind: cmn.SliceHeaderInvalid, SliceIndex: -1, Detail: detail}
}

func putUint24LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func getUint24LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func putUint40LE(b []byte, v uint64) {
	for i := 0; i < 5; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func getUint40LE(b []byte) uint64 {
	var v uint64
	for i := 0; i < 5; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}
