package repository

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/xiaot623/chatrelay/internal/domain"
)

// Fingerprint identifies a message for duplicate detection. It covers role,
// model id, full content and the timestamp in nanoseconds.
func Fingerprint(msg domain.Message) uint64 {
	d := xxhash.New()
	writeField(d, string(msg.Role))
	writeField(d, msg.ModelID)
	writeField(d, msg.Content)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(msg.Timestamp.UnixNano()))
	_, _ = d.Write(ts[:])
	return d.Sum64()
}

// writeField writes s length-prefixed so adjacent fields cannot run together.
func writeField(d *xxhash.Digest, s string) {
	var n [binary.MaxVarintLen64]byte
	_, _ = d.Write(n[:binary.PutUvarint(n[:], uint64(len(s)))])
	_, _ = d.WriteString(s)
}
