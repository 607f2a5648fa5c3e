package booklet

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
)

// HeaderSize is the length in bytes of the opaque header every Local Store
// exposes via InitBytes. Remote transports persist this blob verbatim as the
// leading bytes of the uploaded db object, and a freshly created local store
// can be bootstrapped from a remote's header via LoadHeader.
const HeaderSize = 200

// UUIDOffset and UUIDLen fix the position of the store's UUID within the
// header so that a remote object's UUID can be read directly out of its
// first HeaderSize bytes without a full parse.
const (
	UUIDOffset = 49
	UUIDLen    = 16
)

// TimestampBytesLen is the width of a packed microsecond timestamp, used both
// in the header's file-timestamp field and throughout the Remote Index /
// Changelog / Group Codec wire formats.
const TimestampBytesLen = 7

// FileTimestampOffset is the offset of the 7-byte file timestamp field.
const FileTimestampOffset = UUIDOffset + UUIDLen

// NKeysOffset is the offset of the 4-byte key-count field. Pushed headers
// zero this field out, since a remote object's key count is meaningless once
// the data is split across group objects.
const NKeysOffset = FileTimestampOffset + TimestampBytesLen

// NBucketsOffset is the offset of the 4-byte bucket-count field.
const NBucketsOffset = NKeysOffset + 4

var magicVariable = [16]byte{'e', 'b', 'o', 'o', 'k', 'l', 'e', 't', '_', 'v', 'a', 'r', '_', 'v', '0', '2'}

type header struct {
	uuid         uuid.UUID
	fileTS       uint64
	nKeys        uint32
	nBuckets     uint32
}

func newHeader(id uuid.UUID, nBuckets uint32, fileTS uint64) header {
	return header{uuid: id, fileTS: fileTS, nBuckets: nBuckets}
}

func (h header) encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:16], magicVariable[:])
	idBytes, _ := h.uuid.MarshalBinary()
	copy(buf[UUIDOffset:UUIDOffset+UUIDLen], idBytes)
	putUint56(buf[FileTimestampOffset:FileTimestampOffset+TimestampBytesLen], h.fileTS)
	binary.BigEndian.PutUint32(buf[NKeysOffset:NKeysOffset+4], h.nKeys)
	binary.BigEndian.PutUint32(buf[NBucketsOffset:NBucketsOffset+4], h.nBuckets)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < HeaderSize {
		return header{}, ErrHeaderInvalid
	}
	if !bytes.Equal(buf[0:16], magicVariable[:]) {
		return header{}, ErrHeaderInvalid
	}
	id, err := uuid.FromBytes(buf[UUIDOffset : UUIDOffset+UUIDLen])
	if err != nil {
		return header{}, err
	}
	h := header{
		uuid:     id,
		fileTS:   getUint56(buf[FileTimestampOffset : FileTimestampOffset+TimestampBytesLen]),
		nKeys:    binary.BigEndian.Uint32(buf[NKeysOffset : NKeysOffset+4]),
		nBuckets: binary.BigEndian.Uint32(buf[NBucketsOffset : NBucketsOffset+4]),
	}
	return h, nil
}

// putUint56 packs a microsecond timestamp into a 7-byte big-endian field,
// matching the Group Codec and Remote Index wire format widths.
func putUint56(dst []byte, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	copy(dst, tmp[1:])
}

func getUint56(src []byte) uint64 {
	var tmp [8]byte
	copy(tmp[1:], src)
	return binary.BigEndian.Uint64(tmp[:])
}
