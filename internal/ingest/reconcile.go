// Package ingest reconciles roster snapshots against the member store and
// records the outcome of every upload.
package ingest

import (
	"context"
	"time"

	"github.com/rcourtman/rosterwatch/internal/apperr"
	"github.com/rcourtman/rosterwatch/internal/roster"
)

// Stats summarizes one reconciliation run.
//
// Imported is the number of snapshot rows processed and always equals
// New + Updated + Placeholders + Duplicates.
type Stats struct {
	Imported     int    `json:"imported"`
	New          int    `json:"new"`
	Updated      int    `json:"updated"`
	Churned      int    `json:"churned"`
	Reactivated  int    `json:"reactivated"`
	Batch        string `json:"batch"`
	Placeholders int    `json:"placeholders"`
	Purged       int    `json:"purged"`
	Duplicates   int    `json:"duplicates"`
}

// Reconcile applies a parsed snapshot to the member store in one
// transaction:
//
//   - placeholder rows from earlier batches are purged;
//   - each row updates its existing member or inserts a new one, in input order;
//   - active real members missing from the snapshot are churned, but only
//     when the snapshot carries at least one real email.
//
// Any failure rolls the whole batch back and is returned as a
// *apperr.StorageError.
func Reconcile(ctx context.Context, tx roster.Transactor, rows []roster.SnapshotRow, batch string, now time.Time) (Stats, error) {
	if len(rows) == 0 {
		return Stats{}, apperr.ErrEmptyInput
	}

	stamp := roster.FormatTimestamp(now)
	var stats Stats

	err := tx.InTx(ctx, func(mt roster.MemberTx) error {
		stats = Stats{Batch: batch}

		purged, err := mt.PurgePlaceholders(ctx)
		if err != nil {
			return err
		}
		stats.Purged = purged

		present := make(map[string]struct{}, len(rows))
		for _, row := range rows {
			if !row.Placeholder {
				present[row.Email] = struct{}{}
			}
		}

		seen := make(map[string]struct{}, len(rows))
		for _, row := range rows {
			stats.Imported++

			_, duplicate := seen[row.Email]
			seen[row.Email] = struct{}{}

			existing, err := mt.GetMember(ctx, row.Email)
			if err != nil {
				return err
			}

			if existing == nil {
				if err := mt.InsertMember(ctx, roster.NewMember(row, batch, stamp)); err != nil {
					return err
				}
				if row.Placeholder {
					stats.Placeholders++
				} else {
					stats.New++
				}
				continue
			}

			// Later rows for the same email overwrite earlier ones but are
			// counted once.
			wasChurned := existing.Apply(row, batch, stamp)
			if err := mt.UpdateMember(ctx, existing); err != nil {
				return err
			}
			if duplicate {
				stats.Duplicates++
				continue
			}
			stats.Updated++
			if wasChurned {
				stats.Reactivated++
			}
		}

		if len(present) == 0 {
			return nil
		}

		active, err := mt.ListActiveEmails(ctx)
		if err != nil {
			return err
		}
		for _, email := range active {
			if _, ok := present[email]; ok {
				continue
			}
			if err := mt.MarkChurned(ctx, email, stamp); err != nil {
				return err
			}
			stats.Churned++
		}
		return nil
	})
	if err != nil {
		return Stats{}, &apperr.StorageError{Op: "reconcile " + batch, Err: err}
	}
	return stats, nil
}
