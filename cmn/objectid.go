package cmn

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// ObjectIDLen is the byte length of a STRUBS object identifier.
const ObjectIDLen = 12

// ObjectID is the 12-byte object identifier described in spec.md §3:
// a 4-byte unix-second timestamp, a 3-byte stable host id, a 2-byte
// pid-low, and a 3-byte monotonic counter that wraps at 2^24.
type ObjectID [ObjectIDLen]byte

// counter is the process-wide monotonic tail of the id; it wraps at 2^24
// the way the spec requires, and is safe for concurrent generators.
var counter uint32

// hostID is the 3-byte stable host identifier: the last three bytes of
// the MD5 of the local hostname. Computed once at process start.
var hostID = computeHostID()

func computeHostID() [3]byte {
	name, err := os.Hostname()
	if err != nil {
		name = "strubs-unknown-host"
	}
	sum := md5.Sum([]byte(name))
	var id [3]byte
	copy(id[:], sum[len(sum)-3:])
	return id
}

// NewObjectID generates a fresh object id. Must be called before any
// persistence of the object it names.
func NewObjectID() ObjectID {
	var id ObjectID

	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:7], hostID[:])

	pid := uint16(os.Getpid())
	binary.BigEndian.PutUint16(id[7:9], pid)

	n := atomic.AddUint32(&counter, 1) & 0xFFFFFF
	id[9] = byte(n >> 16)
	id[10] = byte(n >> 8)
	id[11] = byte(n)

	return id
}

// String renders the id as 24 lowercase hex characters.
func (id ObjectID) String() string {
	return hex.EncodeToString(id[:])
}

// Timestamp returns the unix-second timestamp encoded in the id's first
// four bytes.
func (id ObjectID) Timestamp() time.Time {
	sec := binary.BigEndian.Uint32(id[0:4])
	return time.Unix(int64(sec), 0).UTC()
}

// ParseObjectID parses a 24-hex-character rendering back into an ObjectID.
func ParseObjectID(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != ObjectIDLen*2 {
		return id, fmt.Errorf("object id %q: want %d hex chars, got %d", s, ObjectIDLen*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("object id %q: %w", s, err)
	}
	copy(id[:], b)
	return id, nil
}
