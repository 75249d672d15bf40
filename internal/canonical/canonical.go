// Package canonical turns artifact rows into a canonical byte form and
// content hashes that are stable across runs, machines, and storage order.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"replaycore/internal/artifact"
)

// fieldSep separates the table name, key, and field pairs inside the
// canonical encoding. A unit separator cannot occur in any canonical value.
const fieldSep = 0x1f

// Digest is a 256-bit content hash.
type Digest [sha256.Size]byte

// Hex renders the digest as lowercase hex.
func (d Digest) Hex() string { return hex.EncodeToString(d[:]) }

// Encode produces the canonical byte representation of a row: the table name
// followed by every business field as name=value, in the row type's fixed
// field order. Volatile storage columns never appear because they are not
// part of artifact.Row Fields.
func Encode(r artifact.Row) []byte {
	var buf bytes.Buffer
	buf.WriteString(r.Table())
	for _, f := range r.Fields() {
		buf.WriteByte(fieldSep)
		buf.WriteString(f.Name)
		buf.WriteByte('=')
		buf.WriteString(f.Value)
	}
	return buf.Bytes()
}

// HashRow is the content hash of the canonical encoding.
func HashRow(r artifact.Row) Digest {
	return sha256.Sum256(Encode(r))
}

// HashTable folds the row hashes of one table, in natural key ascending
// order, into a single per-table digest.
func HashTable(rows []artifact.Row) Digest {
	h := sha256.New()
	for _, r := range rows {
		rh := HashRow(r)
		h.Write(rh[:])
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}
