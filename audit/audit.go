// Package audit implements the append-only, hash-chained security event log.
//
// Every entry carries the hash of its predecessor and a digest of its own
// canonical serialization, so any mutation of stored history is detectable by
// recomputing the chain. Entries are immutable once written; corrections are
// made by appending a compensating entry that references the original.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// GenesisHash is the fixed previous-hash of the first chain entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one immutable record in the chain. Sequence numbers are contiguous
// starting at zero.
type Entry struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	PrevHash   string            `json:"prev_hash"`
	Actor      string            `json:"actor"`
	Action     string            `json:"action"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Hash       string            `json:"hash"`
}

// ComputeHash digests the previous hash concatenated with the entry's
// canonical serialization. The entry's own Hash field is not an input.
func ComputeHash(prevHash string, e Entry) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte(canonicalize(e)))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalize renders the hashed fields in a fixed order with sorted
// metadata keys. Every component is length-prefixed, so no value can
// impersonate a field boundary: two entries canonicalize identically only
// when every field and every metadata pair is byte-identical. The format is
// part of the integrity contract and must not change without re-anchoring
// existing chains.
func canonicalize(e Entry) string {
	var b strings.Builder
	b.Grow(128 + 32*len(e.Metadata))

	writeComponent(&b, strconv.FormatUint(e.Sequence, 10))
	writeComponent(&b, e.ID)
	writeComponent(&b, e.Actor)
	writeComponent(&b, e.Action)
	writeComponent(&b, strconv.FormatInt(e.OccurredAt.UTC().UnixNano(), 10))

	writeComponent(&b, strconv.Itoa(len(e.Metadata)))
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeComponent(&b, k)
			writeComponent(&b, e.Metadata[k])
		}
	}

	return b.String()
}

func writeComponent(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
	b.WriteByte(',')
}
