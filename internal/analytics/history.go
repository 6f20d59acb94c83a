package analytics

import (
	"github.com/shopspring/decimal"

	"github.com/rcourtman/rosterwatch/internal/store"
)

// HistoryRow is an upload history entry with its change since the previous upload.
type HistoryRow struct {
	store.HistoryEntry
	DeltaMembers int     `json:"delta_members"`
	DeltaMRR     float64 `json:"delta_mrr"`
	DeltaLTV     float64 `json:"delta_ltv"`
	DeltaPaid    int     `json:"delta_paid"`
}

// WithDeltas annotates newest-first entries with deltas against the next
// (older) entry. The oldest entry has zero deltas.
func WithDeltas(entries []*store.HistoryEntry) []HistoryRow {
	rows := make([]HistoryRow, 0, len(entries))
	for i, e := range entries {
		row := HistoryRow{HistoryEntry: *e}
		if i+1 < len(entries) {
			prev := entries[i+1]
			row.DeltaMembers = e.ActiveMembers - prev.ActiveMembers
			row.DeltaPaid = e.PaidMembers - prev.PaidMembers
			row.DeltaMRR = moneyDelta(e.MRR, prev.MRR)
			row.DeltaLTV = moneyDelta(e.TotalLTV, prev.TotalLTV)
		}
		rows = append(rows, row)
	}
	return rows
}

func moneyDelta(cur, prev float64) float64 {
	return decimal.NewFromFloat(cur).Sub(decimal.NewFromFloat(prev)).Round(2).InexactFloat64()
}
