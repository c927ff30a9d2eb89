package netsrv

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
)

var connSeq uint64

// NewConnID derives the opaque 40-character connection-id token spec §3
// describes ("derived from the peer address hash"). A plain hash of the
// address alone would collide across reconnects from the same peer, so
// a monotonic counter is folded in; the result remains a 40-character
// hex token matching the width of the replication-id (spec §6).
func NewConnID(remoteAddr string) string {
	seq := atomic.AddUint64(&connSeq, 1)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)

	h := sha1.New()
	h.Write([]byte(remoteAddr))
	h.Write(seqBytes[:])
	return hex.EncodeToString(h.Sum(nil))
}
