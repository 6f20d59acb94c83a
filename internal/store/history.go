package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Totals are the member-table aggregates recorded with every upload. Every
// figure excludes placeholder rows.
type Totals struct {
	Total    int     `json:"total_members"`
	Active   int     `json:"active_members"`
	Churned  int     `json:"churned_members"`
	Paid     int     `json:"paid_members"`
	Free     int     `json:"free_members"`
	MRR      float64 `json:"mrr"`
	TotalLTV float64 `json:"total_ltv"`
	AvgLTV   float64 `json:"avg_ltv"`
}

// Totals computes the current aggregates. MRR counts active members who
// have actually paid (ltv > 0); yearly prices are spread over 12 months.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	var (
		t                Totals
		monthly, yearly  float64
		totalLTV, avgLTV float64
	)
	err := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'churned' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'active' AND price > 0 AND ltv > 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'active' AND price > 0 AND ltv > 0 AND recurring_interval = 'month' THEN price ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'active' AND price > 0 AND ltv > 0 AND recurring_interval = 'year' THEN price ELSE 0 END), 0),
		COALESCE(SUM(ltv), 0),
		COALESCE(AVG(CASE WHEN ltv > 0 THEN ltv END), 0)
		FROM members WHERE placeholder = 0`,
	).Scan(&t.Total, &t.Active, &t.Churned, &t.Paid, &monthly, &yearly, &totalLTV, &avgLTV)
	if err != nil {
		return Totals{}, fmt.Errorf("compute member totals: %w", err)
	}

	t.Free = t.Active - t.Paid
	mrr := decimal.NewFromFloat(monthly).Add(decimal.NewFromFloat(yearly).Div(decimal.NewFromInt(12)))
	t.MRR = mrr.Round(2).InexactFloat64()
	t.TotalLTV = decimal.NewFromFloat(totalLTV).Round(2).InexactFloat64()
	t.AvgLTV = decimal.NewFromFloat(avgLTV).Round(2).InexactFloat64()
	return t, nil
}

// HistoryEntry is one immutable row of upload history.
type HistoryEntry struct {
	ID                 string  `json:"id"`
	Batch              string  `json:"batch"`
	UploadedAt         string  `json:"uploaded_at"`
	TotalMembers       int     `json:"total_members"`
	ActiveMembers      int     `json:"active_members"`
	NewMembers         int     `json:"new_members"`
	UpdatedMembers     int     `json:"updated_members"`
	ChurnedMembers     int     `json:"churned_members"`
	ReactivatedMembers int     `json:"reactivated_members"`
	PaidMembers        int     `json:"paid_members"`
	FreeMembers        int     `json:"free_members"`
	MRR                float64 `json:"mrr"`
	TotalLTV           float64 `json:"total_ltv"`
	AvgLTV             float64 `json:"avg_ltv"`
}

// AppendHistory inserts e, assigning a ULID when e.ID is empty.
func (s *Store) AppendHistory(ctx context.Context, e *HistoryEntry) error {
	if e == nil {
		return fmt.Errorf("history entry is nil")
	}
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO upload_history (
			id, batch, uploaded_at, total_members, active_members,
			new_members, updated_members, churned_members, reactivated_members,
			paid_members, free_members, mrr, total_ltv, avg_ltv
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Batch, e.UploadedAt, e.TotalMembers, e.ActiveMembers,
		e.NewMembers, e.UpdatedMembers, e.ChurnedMembers, e.ReactivatedMembers,
		e.PaidMembers, e.FreeMembers, e.MRR, e.TotalLTV, e.AvgLTV,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history tx: %w", err)
	}
	return nil
}

// ListHistory returns every entry, newest first. IDs are ULIDs, so they
// sort by upload instant regardless of the local clock.
func (s *Store) ListHistory(ctx context.Context) ([]*HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, batch, uploaded_at, total_members, active_members,
		new_members, updated_members, churned_members, reactivated_members,
		paid_members, free_members, mrr, total_ltv, avg_ltv
		FROM upload_history ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list upload history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// BatchUsed reports whether batch was already recorded in history or stamped
// on a member.
func (s *Store) BatchUsed(ctx context.Context, batch string) (bool, error) {
	var used bool
	err := s.db.QueryRowContext(ctx, `SELECT
		EXISTS(SELECT 1 FROM upload_history WHERE batch = ?)
		OR EXISTS(SELECT 1 FROM members WHERE upload_batch = ?)`, batch, batch,
	).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("check batch %s: %w", batch, err)
	}
	return used, nil
}

// LatestHistory returns the most recent entry, or nil when none exist.
func (s *Store) LatestHistory(ctx context.Context) (*HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id, batch, uploaded_at, total_members, active_members,
		new_members, updated_members, churned_members, reactivated_members,
		paid_members, free_members, mrr, total_ltv, avg_ltv
		FROM upload_history ORDER BY id DESC LIMIT 1`)
	e, err := scanHistoryEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func scanHistoryEntry(s scanner) (*HistoryEntry, error) {
	var e HistoryEntry
	err := s.Scan(
		&e.ID, &e.Batch, &e.UploadedAt, &e.TotalMembers, &e.ActiveMembers,
		&e.NewMembers, &e.UpdatedMembers, &e.ChurnedMembers, &e.ReactivatedMembers,
		&e.PaidMembers, &e.FreeMembers, &e.MRR, &e.TotalLTV, &e.AvgLTV,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan history entry: %w", err)
	}
	return &e, nil
}
