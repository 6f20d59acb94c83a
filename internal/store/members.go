package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/rcourtman/rosterwatch/internal/roster"
)

const memberColumns = `id, email, placeholder, first_name, last_name, invited_by, joined_at,
	price, recurring_interval, tier, ltv, status, churned_at,
	first_seen_at, last_seen_at, upload_batch`

// MemberListLimit caps the rows returned by ListMembers.
const MemberListLimit = 500

// InTx runs fn inside one transaction on the member table. The store
// version is bumped in the same transaction, so readers observe either the
// state before the batch or the state after it.
func (s *Store) InTx(ctx context.Context, fn func(roster.MemberTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin member tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			log.Warn().Err(rollbackErr).Msg("Failed to rollback member transaction")
		}
	}()

	if err := fn(&memberTx{tx: tx}); err != nil {
		return err
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit member tx: %w", err)
	}
	return nil
}

type memberTx struct {
	tx *sql.Tx
}

func (m *memberTx) PurgePlaceholders(ctx context.Context) (int, error) {
	res, err := m.tx.ExecContext(ctx, `DELETE FROM members WHERE placeholder = 1`)
	if err != nil {
		return 0, fmt.Errorf("purge placeholder members: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get purge rows affected: %w", err)
	}
	return int(n), nil
}

func (m *memberTx) GetMember(ctx context.Context, email string) (*roster.Member, error) {
	row := m.tx.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE email = ?`, email)
	return scanMember(row)
}

func (m *memberTx) InsertMember(ctx context.Context, mem *roster.Member) error {
	res, err := m.tx.ExecContext(ctx, `
		INSERT INTO members (
			email, placeholder, first_name, last_name, invited_by, joined_at,
			price, recurring_interval, tier, ltv, status, churned_at,
			first_seen_at, last_seen_at, upload_batch
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mem.Email, boolToInt(mem.Placeholder), mem.FirstName, mem.LastName, mem.InvitedBy, mem.JoinedAt,
		mem.Price.InexactFloat64(), string(mem.Interval), mem.Tier, mem.LTV.InexactFloat64(),
		string(mem.Status), mem.ChurnedAt, mem.FirstSeenAt, mem.LastSeenAt, mem.UploadBatch,
	)
	if err != nil {
		return fmt.Errorf("insert member %s: %w", mem.Email, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		mem.ID = id
	}
	return nil
}

// UpdateMember rewrites every mutable column. joined_at and first_seen_at
// are deliberately absent from the statement.
func (m *memberTx) UpdateMember(ctx context.Context, mem *roster.Member) error {
	res, err := m.tx.ExecContext(ctx, `
		UPDATE members SET
			first_name = ?, last_name = ?, invited_by = ?,
			price = ?, recurring_interval = ?, tier = ?, ltv = ?,
			status = ?, churned_at = ?, last_seen_at = ?, upload_batch = ?
		WHERE email = ?`,
		mem.FirstName, mem.LastName, mem.InvitedBy,
		mem.Price.InexactFloat64(), string(mem.Interval), mem.Tier, mem.LTV.InexactFloat64(),
		string(mem.Status), mem.ChurnedAt, mem.LastSeenAt, mem.UploadBatch,
		mem.Email,
	)
	if err != nil {
		return fmt.Errorf("update member %s: %w", mem.Email, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get update rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("member %q not found", mem.Email)
	}
	return nil
}

func (m *memberTx) ListActiveEmails(ctx context.Context) ([]string, error) {
	rows, err := m.tx.QueryContext(ctx, `SELECT email FROM members WHERE status = 'active' AND placeholder = 0`)
	if err != nil {
		return nil, fmt.Errorf("list active members: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan active email: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

func (m *memberTx) MarkChurned(ctx context.Context, email, at string) error {
	_, err := m.tx.ExecContext(ctx,
		`UPDATE members SET status = 'churned', churned_at = ?, price = 0 WHERE email = ? AND placeholder = 0`,
		at, email)
	if err != nil {
		return fmt.Errorf("mark member %s churned: %w", email, err)
	}
	return nil
}

// GetMember retrieves a member by email. It returns nil, nil when absent.
func (s *Store) GetMember(ctx context.Context, email string) (*roster.Member, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE email = ?`, email)
	return scanMember(row)
}

// SortField is a column the members list may be ordered by.
type SortField string

const (
	SortJoinedAt  SortField = "joined_at"
	SortLTV       SortField = "ltv"
	SortFirstName SortField = "first_name"
	SortPrice     SortField = "price"
)

// ParseSortField maps a request value to a SortField, defaulting to joined_at.
func ParseSortField(raw string) SortField {
	switch SortField(strings.ToLower(strings.TrimSpace(raw))) {
	case SortLTV:
		return SortLTV
	case SortFirstName:
		return SortFirstName
	case SortPrice:
		return SortPrice
	default:
		return SortJoinedAt
	}
}

// SortOrder is the direction of the members list.
type SortOrder string

const (
	OrderAsc  SortOrder = "ASC"
	OrderDesc SortOrder = "DESC"
)

// ParseSortOrder maps a request value to a SortOrder, defaulting to DESC.
func ParseSortOrder(raw string) SortOrder {
	if strings.EqualFold(strings.TrimSpace(raw), string(OrderAsc)) {
		return OrderAsc
	}
	return OrderDesc
}

// MemberQuery filters and orders the members list.
type MemberQuery struct {
	Search string
	Status roster.Status // empty = any
	Sort   SortField
	Order  SortOrder
	Limit  int // 0 = MemberListLimit
}

func (q MemberQuery) orderClause() string {
	// Only enum values reach the SQL text.
	sort := ParseSortField(string(q.Sort))
	order := OrderDesc
	if q.Order == OrderAsc {
		order = OrderAsc
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", sort, order, order)
}

// ListMembers returns members matching q, placeholders included.
func (s *Store) ListMembers(ctx context.Context, q MemberQuery) ([]*roster.Member, error) {
	var (
		where []string
		args  []any
	)
	if search := strings.TrimSpace(q.Search); search != "" {
		like := "%" + search + "%"
		where = append(where, "(first_name LIKE ? OR last_name LIKE ? OR email LIKE ?)")
		args = append(args, like, like, like)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}

	limit := q.Limit
	if limit <= 0 || limit > MemberListLimit {
		limit = MemberListLimit
	}

	query := `SELECT ` + memberColumns + ` FROM members`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += q.orderClause() + " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	return scanMembers(rows)
}

// AllMembers returns every non-placeholder member ordered by join date, for
// exports.
func (s *Store) AllMembers(ctx context.Context) ([]*roster.Member, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memberColumns+` FROM members WHERE placeholder = 0 ORDER BY joined_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list all members: %w", err)
	}
	defer rows.Close()
	return scanMembers(rows)
}

func scanMember(s scanner) (*roster.Member, error) {
	var m roster.Member
	var placeholder int
	var price, ltv float64
	var interval, status string

	err := s.Scan(
		&m.ID, &m.Email, &placeholder, &m.FirstName, &m.LastName, &m.InvitedBy, &m.JoinedAt,
		&price, &interval, &m.Tier, &ltv, &status, &m.ChurnedAt,
		&m.FirstSeenAt, &m.LastSeenAt, &m.UploadBatch,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan member: %w", err)
	}

	m.Placeholder = placeholder != 0
	m.Price = decimal.NewFromFloat(price)
	m.LTV = decimal.NewFromFloat(ltv)
	m.Interval = roster.Interval(interval)
	m.Status = roster.Status(status)
	return &m, nil
}

func scanMembers(rows *sql.Rows) ([]*roster.Member, error) {
	var members []*roster.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
