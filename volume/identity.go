package volume

import (
	"bytes"
	"fmt"
	"os"

	"github.com/signal24/strubs/cmn"
)

// identityLen is the fixed size of the on-disk volume identity file
// (spec.md §6).
const identityLen = 41

var (
	identityMagic  = [4]byte{0x1F, 0xFB, 0x01, 0xFB}
	identityFooter = [2]byte{0x19, 0xFB}
)

const identityVersion = 0x01
const identityStatusOK = 'O'

// verifyOrCreateIdentity validates the on-disk identity file against this
// volume's expected instance identity, UUID, and id. On ENOENT it creates
// the file; any other mismatch fails with VolumeError::IdentityMismatch.
func (v *Volume) verifyOrCreateIdentity() error {
	buf, err := os.ReadFile(v.identityPath())
	if os.IsNotExist(err) {
		return v.writeIdentity()
	}
	if err != nil {
		return fmt.Errorf("volume %s: reading identity file: %w", v.id, err)
	}
	return v.checkIdentity(buf)
}

func (v *Volume) checkIdentity(buf []byte) error {
	if len(buf) != identityLen {
		return &cmn.VolumeError{Kind: cmn.VolumeIdentityCorrupt, VolumeID: v.id,
			Detail: fmt.Sprintf("want %d bytes, got %d", identityLen, len(buf))}
	}
	if !bytes.Equal(buf[0:4], identityMagic[:]) {
		return &cmn.VolumeError{Kind: cmn.VolumeIdentityMismatch, VolumeID: v.id, Detail: "bad magic"}
	}
	if buf[4] != identityVersion {
		return &cmn.VolumeError{Kind: cmn.VolumeIdentityMismatch, VolumeID: v.id, Detail: "bad version"}
	}
	if !bytes.Equal(buf[5:21], v.instanceIdentity[:]) {
		return &cmn.VolumeError{Kind: cmn.VolumeIdentityMismatch, VolumeID: v.id, Detail: "instance identity mismatch"}
	}
	if !bytes.Equal(buf[21:37], v.uuid[:]) {
		return &cmn.VolumeError{Kind: cmn.VolumeIdentityMismatch, VolumeID: v.id, Detail: "volume uuid mismatch"}
	}
	// byte 37 is the single-byte volume id slot, compared against
	// slotByte(); byte 38 (status) is not checked.
	if buf[37] != v.slotByte() {
		return &cmn.VolumeError{Kind: cmn.VolumeIdentityMismatch, VolumeID: v.id, Detail: "volume id mismatch"}
	}
	if !bytes.Equal(buf[39:41], identityFooter[:]) {
		return &cmn.VolumeError{Kind: cmn.VolumeIdentityMismatch, VolumeID: v.id, Detail: "bad footer"}
	}
	return nil
}

// writeIdentity atomically creates the identity file for a freshly-seen
// volume.
func (v *Volume) writeIdentity() error {
	buf := make([]byte, identityLen)
	copy(buf[0:4], identityMagic[:])
	buf[4] = identityVersion
	copy(buf[5:21], v.instanceIdentity[:])
	copy(buf[21:37], v.uuid[:])
	buf[37] = v.slotByte()
	buf[38] = identityStatusOK
	copy(buf[39:41], identityFooter[:])

	tmp := v.identityPath() + ".new"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("volume %s: writing identity file: %w", v.id, err)
	}
	return os.Rename(tmp, v.identityPath())
}

// slotByte derives the single-byte volume-id slot stored in the identity
// file from the first byte of the id string, since volume ids in this
// module are arbitrary strings rather than the small integers the format
// reserves one byte for.
func (v *Volume) slotByte() byte {
	if len(v.id) == 0 {
		return 0
	}
	return v.id[0]
}
