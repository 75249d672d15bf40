// Package replay re-derives already-executed hours in read-only mode and
// judges the result against persisted artifacts and manifests. Findings are
// report data, never errors: a failing target is recorded and counted, and
// the traversal moves on.
package replay

import (
	"time"

	"github.com/google/uuid"
)

// Failure codes, aggregate/structural level.
const (
	CodeRootHashMismatch   = "ROOT_HASH_MISMATCH"
	CodeRowCountMismatch   = "ROW_COUNT_MISMATCH"
	CodeTableCountMismatch = "TABLE_COUNT_MISMATCH"
	CodeMissingTarget      = "MISSING_TARGET"
	CodeRowMissing         = "ROW_MISSING"
	CodeRowUnexpected      = "ROW_UNEXPECTED"
	CodeWindowTruncated    = "WINDOW_TRUNCATED"
)

// Failure severities.
const (
	SeverityCritical = "CRITICAL"
	SeverityWarning  = "WARNING"
)

// Failure is a structural or aggregate-level replay finding.
type Failure struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Scope    string `json:"scope"`
	Detail   string `json:"detail"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Mismatch is one discrepant field between a persisted and a recomputed row.
type Mismatch struct {
	Table    string `json:"table"`
	Key      string `json:"key"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Target is a single (run, account, hour) unit subject to verification.
type Target struct {
	RunID     uuid.UUID `json:"run_id"`
	AccountID int64     `json:"account_id"`
	HourTS    time.Time `json:"hour_ts"`
}

// ReplayReport is the field-level verdict of one replayed hour.
type ReplayReport struct {
	Target        Target     `json:"target"`
	MismatchCount int        `json:"mismatch_count"`
	Mismatches    []Mismatch `json:"mismatches"`
	Failures      []Failure  `json:"failures"`
}

// OK reports whether the replay found nothing wrong.
func (r ReplayReport) OK() bool {
	return r.MismatchCount == 0 && len(r.Failures) == 0
}

// ParityReport is the cheap manifest-level verdict of one hour.
type ParityReport struct {
	Target                          Target    `json:"target"`
	ReplayParity                    bool      `json:"replay_parity"`
	MismatchCount                   int       `json:"mismatch_count"`
	RecomputedRootHash              string    `json:"recomputed_root_hash"`
	ArtifactRootHash                string    `json:"artifact_root_hash"`
	ManifestRootHash                string    `json:"manifest_root_hash"`
	RecomputedAuthoritativeRowCount int64     `json:"recomputed_authoritative_row_count"`
	ManifestAuthoritativeRowCount   int64     `json:"manifest_authoritative_row_count"`
	Failures                        []Failure `json:"failures"`
}

// AggregateItem pairs a target with its parity report inside an aggregate.
type AggregateItem struct {
	Target Target       `json:"target"`
	Report ParityReport `json:"report"`
}

// AggregateReport folds per-target parity reports over a window or target
// list. Item order is deterministic: hour ascending, then run_id ascending.
type AggregateReport struct {
	ReplayParity  bool            `json:"replay_parity"`
	TotalTargets  int             `json:"total_targets"`
	PassedTargets int             `json:"passed_targets"`
	FailedTargets int             `json:"failed_targets"`
	Truncated     bool            `json:"truncated"`
	Failures      []Failure       `json:"failures"`
	Items         []AggregateItem `json:"items"`
}
