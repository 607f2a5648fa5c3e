// Package group implements the Group Codec (spec component C4): the wire
// format that packs (key, timestamp, value) entries bound for the same
// remote group object into a single blob, and the blake2b-based hash that
// assigns a key to its group. Grounded on original_source/ebooklet/utils.py
// (key_to_group_id, pack_group, unpack_group) — the byte layout here must
// match that module's exactly, since both ends of a sync exchange group
// objects verbatim.
package group

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Entry is a single packed record: a key, its write timestamp, and its
// value. A nil Value (as opposed to an empty, non-nil slice) marks the
// entry as a tombstone for a deleted key.
type Entry struct {
	Key       string
	Timestamp uint64
	Value     []byte
	Deleted   bool
}

// groupHashSize matches digest_size=4 in the original's key_to_group_id.
const groupHashSize = 4

// ID returns the group number a key is assigned to out of numGroups groups,
// via a truncated blake2b digest of the key's UTF-8 bytes interpreted as a
// big-endian uint32, reduced modulo numGroups.
func ID(key string, numGroups uint32) (uint32, error) {
	if numGroups == 0 {
		return 0, fmt.Errorf("group: numGroups must be > 0")
	}
	h, err := blake2b.New(groupHashSize, nil)
	if err != nil {
		return 0, err
	}
	if _, err := h.Write([]byte(key)); err != nil {
		return 0, err
	}
	sum := h.Sum(nil)
	v := binary.BigEndian.Uint32(sum)
	return v % numGroups, nil
}

// Pack encodes entries into a single blob: a 4-byte entry count, then per
// entry a 2-byte key length, the key bytes, a 7-byte timestamp, a 4-byte
// value length (0xFFFFFFFF marks a tombstone with no stored value), and the
// value bytes.
func Pack(entries []Entry) []byte {
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(entries)))
	buf.Write(countBuf[:])

	for _, e := range entries {
		var klenBuf [2]byte
		binary.BigEndian.PutUint16(klenBuf[:], uint16(len(e.Key)))
		buf.Write(klenBuf[:])
		buf.WriteString(e.Key)

		var tsBuf [7]byte
		putUint56(tsBuf[:], e.Timestamp)
		buf.Write(tsBuf[:])

		var vlenBuf [4]byte
		if e.Deleted {
			binary.BigEndian.PutUint32(vlenBuf[:], tombstoneMarker)
			buf.Write(vlenBuf[:])
		} else {
			binary.BigEndian.PutUint32(vlenBuf[:], uint32(len(e.Value)))
			buf.Write(vlenBuf[:])
			buf.Write(e.Value)
		}
	}
	return buf.Bytes()
}

const tombstoneMarker = 0xFFFFFFFF

// Unpack decodes a blob produced by Pack. Any trailing bytes after the last
// declared entry are treated as a corrupt blob and returned as an error,
// matching the original's strict struct.unpack_from behavior.
func Unpack(data []byte) ([]Entry, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("group: truncated count header")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]

	entries := make([]Entry, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(data) < 2 {
			return nil, fmt.Errorf("group: truncated key length at entry %d", i)
		}
		klen := int(binary.BigEndian.Uint16(data[:2]))
		data = data[2:]

		if len(data) < klen+7+4 {
			return nil, fmt.Errorf("group: truncated entry %d", i)
		}
		key := string(data[:klen])
		data = data[klen:]

		ts := getUint56(data[:7])
		data = data[7:]

		vlen := binary.BigEndian.Uint32(data[:4])
		data = data[4:]

		if vlen == tombstoneMarker {
			entries = append(entries, Entry{Key: key, Timestamp: ts, Deleted: true})
			continue
		}

		if uint32(len(data)) < vlen {
			return nil, fmt.Errorf("group: truncated value at entry %d", i)
		}
		value := append([]byte(nil), data[:vlen]...)
		data = data[vlen:]

		entries = append(entries, Entry{Key: key, Timestamp: ts, Value: value})
	}

	if len(data) != 0 {
		return nil, fmt.Errorf("group: trailing garbage after last entry")
	}
	return entries, nil
}

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
