package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcourtman/rosterwatch/internal/roster"
	"github.com/rcourtman/rosterwatch/internal/store"
)

// HistoryStore is the read-then-append surface the recorder needs.
type HistoryStore interface {
	Totals(ctx context.Context) (store.Totals, error)
	AppendHistory(ctx context.Context, e *store.HistoryEntry) error
}

// RecordHistory snapshots the current member aggregates together with the
// counts of a committed batch and appends them as one history entry.
func RecordHistory(ctx context.Context, hs HistoryStore, stats Stats, uploadedAt time.Time) (*store.HistoryEntry, error) {
	totals, err := hs.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("read totals for batch %s: %w", stats.Batch, err)
	}

	entry := &store.HistoryEntry{
		ID:                 historyID(uploadedAt),
		Batch:              stats.Batch,
		UploadedAt:         roster.FormatTimestamp(uploadedAt),
		TotalMembers:       totals.Total,
		ActiveMembers:      totals.Active,
		NewMembers:         stats.New,
		UpdatedMembers:     stats.Updated,
		ChurnedMembers:     stats.Churned,
		ReactivatedMembers: stats.Reactivated,
		PaidMembers:        totals.Paid,
		FreeMembers:        totals.Free,
		MRR:                totals.MRR,
		TotalLTV:           totals.TotalLTV,
		AvgLTV:             totals.AvgLTV,
	}
	if err := hs.AppendHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("append history for batch %s: %w", stats.Batch, err)
	}
	return entry, nil
}

// historyID orders entries by the absolute upload instant; uploaded_at is
// local wall time and repeats when clocks fall back.
func historyID(uploadedAt time.Time) string {
	id, err := ulid.New(ulid.Timestamp(uploadedAt), ulid.DefaultEntropy())
	if err != nil {
		return ""
	}
	return id.String()
}
