// Package snapshot builds the opaque baseline payload emitted as a
// Snapshot frame in response to PSYNC (spec §4.C, §6). Its content is
// explicitly opaque to the protocol; the spec suggests a literal 88-byte
// sequence representing an empty database. We derive that fixed
// sequence once, deterministically, by CBOR-encoding a canonical empty
// keyspace marker the way the teacher's plugin transport encodes its
// request/response envelopes (client/cborplugin), then padding to the
// spec's suggested length so every process lifetime emits byte-identical
// output for byte-for-byte reproducibility (spec §6: "emitted verbatim").
package snapshot

import (
	"github.com/fxamacker/cbor/v2"
)

// BaselineSize is the literal length spec §6 proposes for an empty
// database snapshot.
const BaselineSize = 88

// header is the canonical empty-keyspace marker. Its exact shape is
// opaque to clients (spec §6); it exists only so the blob is derived
// rather than a magic byte literal.
type header struct {
	Magic   string `cbor:"magic"`
	Version uint8  `cbor:"version"`
	Entries uint64 `cbor:"entries"`
}

var baseline = mustBuildBaseline()

func mustBuildBaseline() []byte {
	encoded, err := cbor.Marshal(header{Magic: "kvnode-rdb", Version: 1, Entries: 0})
	if err != nil {
		panic("snapshot: failed to encode baseline header: " + err.Error())
	}
	if len(encoded) >= BaselineSize {
		return encoded[:BaselineSize]
	}
	padded := make([]byte, BaselineSize)
	copy(padded, encoded)
	return padded
}

// Baseline returns the fixed opaque payload for an empty database,
// emitted verbatim as a Snapshot frame after FULLRESYNC.
func Baseline() []byte {
	out := make([]byte, len(baseline))
	copy(out, baseline)
	return out
}
