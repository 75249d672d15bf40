package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"replaycore/internal/canonical"
	"replaycore/internal/storage"
)

// Show prints the most recently recorded manifests.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	var manifests []canonical.Manifest
	err = store.WithReadTx(ctx, func(repo storage.Repository) error {
		var err error
		manifests, err = repo.ListRecentManifests(ctx, opts.Limit)
		return err
	})
	if err != nil {
		return err
	}
	if len(manifests) == 0 {
		fmt.Fprintln(os.Stdout, "no manifests found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Hour (UTC)\tRun\tAccount\tRows\tRoot Hash")

	for _, m := range manifests {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%d\t%s\n",
			m.HourTS.UTC().Format(time.RFC3339),
			m.RunID,
			m.AccountID,
			m.AuthoritativeRowCount,
			m.RootHash,
		)
	}

	writer.Flush()
	return nil
}
