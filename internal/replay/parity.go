package replay

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"replaycore/internal/canonical"
	"replaycore/internal/engine"
	"replaycore/internal/storage"
)

// ManifestParity is the cheap verification tier: it checks the manifest in
// both directions without enumerating fields. The persisted artifact rows
// must hash back to the manifest root (catching rows changed after the
// fact), and a fresh derivation must reproduce it (catching input drift).
// Field-level localization is ReplayHour's job and an independent cost tier.
func (v *Verifier) ManifestParity(ctx context.Context, runID uuid.UUID, accountID int64, hourTS time.Time) (ParityReport, error) {
	if err := engine.ValidateHour(hourTS); err != nil {
		return ParityReport{}, err
	}
	hourTS = hourTS.UTC()
	target := Target{RunID: runID, AccountID: accountID, HourTS: hourTS}
	report := ParityReport{Target: target}

	err := v.runner.WithReadTx(ctx, func(repo storage.Repository) error {
		persisted, exists, err := repo.GetManifest(ctx, runID, accountID, hourTS)
		if err != nil {
			return err
		}
		if !exists {
			report.Failures = append(report.Failures, missingTargetFailure(target))
			return nil
		}

		stored, err := repo.LoadArtifacts(ctx, runID, accountID, hourTS)
		if err != nil {
			return err
		}
		rehashed := canonical.BuildManifest(runID, accountID, hourTS, stored)
		report.ArtifactRootHash = rehashed.RootHash

		if rehashed.AuthoritativeRowCount != persisted.AuthoritativeRowCount {
			report.Failures = append(report.Failures, Failure{
				Code:     CodeRowCountMismatch,
				Severity: SeverityCritical,
				Scope:    target.scope(),
				Detail:   "persisted artifact rows diverge from the manifest row count",
				Expected: strconv.FormatInt(persisted.AuthoritativeRowCount, 10),
				Actual:   strconv.FormatInt(rehashed.AuthoritativeRowCount, 10),
			})
		}
		if rehashed.RootHash != persisted.RootHash {
			report.Failures = append(report.Failures, Failure{
				Code:     CodeRootHashMismatch,
				Severity: SeverityCritical,
				Scope:    target.scope(),
				Detail:   "persisted artifact rows do not hash to the manifest root",
				Expected: persisted.RootHash,
				Actual:   rehashed.RootHash,
			})
		}

		run, err := repo.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		set, err := engine.DeriveHour(ctx, repo, run, hourTS, v.params)
		if err != nil {
			return err
		}
		recomputed := canonical.BuildManifest(runID, accountID, hourTS, set)

		report.RecomputedRootHash = recomputed.RootHash
		report.ManifestRootHash = persisted.RootHash
		report.RecomputedAuthoritativeRowCount = recomputed.AuthoritativeRowCount
		report.ManifestAuthoritativeRowCount = persisted.AuthoritativeRowCount

		if recomputed.AuthoritativeRowCount != persisted.AuthoritativeRowCount {
			report.Failures = append(report.Failures, Failure{
				Code:     CodeRowCountMismatch,
				Severity: SeverityCritical,
				Scope:    target.scope(),
				Detail:   "authoritative row count diverged",
				Expected: strconv.FormatInt(persisted.AuthoritativeRowCount, 10),
				Actual:   strconv.FormatInt(recomputed.AuthoritativeRowCount, 10),
			})
		}
		for _, t := range recomputed.Tables {
			if pc := persisted.TableCount(t.Table); pc != t.RowCount {
				report.Failures = append(report.Failures, Failure{
					Code:     CodeTableCountMismatch,
					Severity: SeverityWarning,
					Scope:    t.Table,
					Detail:   "per-table row count diverged",
					Expected: strconv.FormatInt(pc, 10),
					Actual:   strconv.FormatInt(t.RowCount, 10),
				})
			}
		}
		if recomputed.RootHash != persisted.RootHash {
			report.Failures = append(report.Failures, Failure{
				Code:     CodeRootHashMismatch,
				Severity: SeverityCritical,
				Scope:    target.scope(),
				Detail:   "recomputed root hash does not match persisted manifest",
				Expected: persisted.RootHash,
				Actual:   recomputed.RootHash,
			})
		}
		return nil
	})
	if err != nil {
		return ParityReport{}, fmt.Errorf("manifest parity %s: %w", hourTS.Format(time.RFC3339), err)
	}

	report.MismatchCount = len(report.Failures)
	report.ReplayParity = report.MismatchCount == 0

	v.logger.Debug().
		Str("run_id", runID.String()).
		Time("hour_ts", hourTS).
		Bool("replay_parity", report.ReplayParity).
		Msg("manifest parity checked")
	return report, nil
}

func (t Target) scope() string {
	return fmt.Sprintf("%s/%d/%s", t.RunID, t.AccountID, t.HourTS.Format(time.RFC3339))
}
