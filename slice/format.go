// Package slice implements the on-disk slice format spec.md §4.1 defines:
// one stripe column of one object on one volume, as a 48-byte file header
// followed by a sequence of MD5-framed chunk records.
package slice

import "github.com/signal24/strubs/cmn"

var fileMagic = [4]byte{0x01, 0xFB, 0x02, 0xFB}

const fileVersion = 0x01
const headerLengthField = cmn.FileHeaderSize

// Mode is the Slice's current I/O mode.
type Mode int

const (
	ModeNone Mode = iota
	ModeWrite
	ModeRead
)

// header is the decoded form of the 48-byte slice file header.
type header struct {
	headerMD5 [16]byte
	objectID  cmn.ObjectID
	fileSize  int64 // 5-byte LE unsigned on disk
	data      uint8
	parity    uint8
	index     uint8
	chunkSize uint32 // 3-byte LE unsigned on disk
}
