package canonical

import (
	"crypto/sha256"
	"time"

	"github.com/google/uuid"

	"replaycore/internal/artifact"
)

// TableSummary is the per-table slice of a manifest.
type TableSummary struct {
	Table    string `json:"table"`
	RowCount int64  `json:"row_count"`
	Digest   string `json:"digest"`
}

// Manifest is the content-hash fingerprint of one executed hour. Written once
// at hour close, never mutated; every later replay is judged against it.
type Manifest struct {
	RunID                 uuid.UUID      `json:"run_id"`
	AccountID             int64          `json:"account_id"`
	HourTS                time.Time      `json:"hour_ts"`
	RootHash              string         `json:"root_hash"`
	AuthoritativeRowCount int64          `json:"authoritative_row_count"`
	Tables                []TableSummary `json:"tables"`
}

// BuildManifest hashes every table of the set in canonical key order and
// folds the per-table digests, in the fixed artifact.TableOrder, into the
// root hash. Pure: persistence belongs to the caller's transaction.
func BuildManifest(runID uuid.UUID, accountID int64, hourTS time.Time, set *artifact.Set) Manifest {
	m := Manifest{
		RunID:     runID,
		AccountID: accountID,
		HourTS:    hourTS.UTC(),
		Tables:    make([]TableSummary, 0, len(artifact.TableOrder)),
	}

	root := sha256.New()
	for _, table := range artifact.TableOrder {
		rows := set.Rows(table)
		digest := HashTable(rows)
		m.Tables = append(m.Tables, TableSummary{
			Table:    table,
			RowCount: int64(len(rows)),
			Digest:   digest.Hex(),
		})
		m.AuthoritativeRowCount += int64(len(rows))

		root.Write([]byte(table))
		root.Write([]byte{'='})
		root.Write(digest[:])
		root.Write([]byte{'\n'})
	}

	var d Digest
	copy(d[:], root.Sum(nil))
	m.RootHash = d.Hex()
	return m
}

// TableCount returns the persisted row count for one table, or -1 when the
// manifest carries no entry for it.
func (m Manifest) TableCount(table string) int64 {
	for _, t := range m.Tables {
		if t.Table == table {
			return t.RowCount
		}
	}
	return -1
}
