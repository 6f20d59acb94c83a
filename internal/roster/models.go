// Package roster holds the member domain model and the CSV snapshot parser
// that turns a roster export into typed rows.
package roster

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// TimestampLayout is the persisted layout for every member and history
	// timestamp. It sorts lexically and works with SQLite date functions.
	TimestampLayout = "2006-01-02 15:04:05"

	// BatchLayout derives upload batch tokens from the upload time.
	BatchLayout = "20060102_150405"

	placeholderPrefix = "__NO_EMAIL_"
)

// Status is the lifecycle state of a member.
type Status string

const (
	StatusActive  Status = "active"
	StatusChurned Status = "churned"
)

// Interval is the billing cadence of a member's recurring charge.
type Interval string

const (
	IntervalNone  Interval = ""
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// ParseInterval normalizes an export's interval label.
func ParseInterval(raw string) Interval {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "month", "monthly", "mensuel":
		return IntervalMonth
	case "year", "yearly", "annual", "annually", "annuel":
		return IntervalYear
	default:
		return IntervalNone
	}
}

// SnapshotRow is one normalized member line from a roster export.
type SnapshotRow struct {
	Email       string          `json:"email"`
	Placeholder bool            `json:"placeholder"`
	FirstName   string          `json:"first_name"`
	LastName    string          `json:"last_name"`
	InvitedBy   string          `json:"invited_by"`
	JoinedAt    string          `json:"joined_at"`
	Price       decimal.Decimal `json:"price"`
	Interval    Interval        `json:"recurring_interval"`
	Tier        string          `json:"tier"`
	LTV         decimal.Decimal `json:"ltv"`
}

// Member is a persisted member record.
type Member struct {
	ID          int64           `json:"id"`
	Email       string          `json:"email"`
	Placeholder bool            `json:"placeholder"`
	FirstName   string          `json:"first_name"`
	LastName    string          `json:"last_name"`
	InvitedBy   string          `json:"invited_by"`
	JoinedAt    string          `json:"joined_at"`
	Price       decimal.Decimal `json:"price"`
	Interval    Interval        `json:"recurring_interval"`
	Tier        string          `json:"tier"`
	LTV         decimal.Decimal `json:"ltv"`
	Status      Status          `json:"status"`
	ChurnedAt   string          `json:"churned_at"`
	FirstSeenAt string          `json:"first_seen_at"`
	LastSeenAt  string          `json:"last_seen_at"`
	UploadBatch string          `json:"upload_batch"`
}

// FullName joins first and last name.
func (m *Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// NewMember builds the record inserted for an identity seen for the first time.
func NewMember(row SnapshotRow, batch, now string) *Member {
	return &Member{
		Email:       row.Email,
		Placeholder: row.Placeholder,
		FirstName:   row.FirstName,
		LastName:    row.LastName,
		InvitedBy:   row.InvitedBy,
		JoinedAt:    row.JoinedAt,
		Price:       row.Price,
		Interval:    row.Interval,
		Tier:        row.Tier,
		LTV:         row.LTV,
		Status:      StatusActive,
		FirstSeenAt: now,
		LastSeenAt:  now,
		UploadBatch: batch,
	}
}

// Apply overwrites the mutable fields with the latest snapshot values and
// forces the member active. JoinedAt and FirstSeenAt are never touched.
// It reports whether the member was churned before the call.
func (m *Member) Apply(row SnapshotRow, batch, now string) (reactivated bool) {
	reactivated = m.Status == StatusChurned

	m.FirstName = row.FirstName
	m.LastName = row.LastName
	m.InvitedBy = row.InvitedBy
	m.Price = row.Price
	m.Interval = row.Interval
	m.Tier = row.Tier
	m.LTV = row.LTV
	m.Status = StatusActive
	m.ChurnedAt = ""
	m.LastSeenAt = now
	m.UploadBatch = batch
	return reactivated
}

// Churn marks the member as gone. LTV is kept as historical revenue.
func (m *Member) Churn(now string) {
	m.Status = StatusChurned
	m.ChurnedAt = now
	m.Price = decimal.Zero
}

// Validate checks the status invariants of a member record.
func (m *Member) Validate() error {
	switch m.Status {
	case StatusActive:
		if m.ChurnedAt != "" {
			return fmt.Errorf("member %s: active with churned_at %q", m.Email, m.ChurnedAt)
		}
	case StatusChurned:
		if m.ChurnedAt == "" {
			return fmt.Errorf("member %s: churned without churned_at", m.Email)
		}
		if !m.Price.IsZero() {
			return fmt.Errorf("member %s: churned with non-zero price %s", m.Email, m.Price)
		}
	default:
		return fmt.Errorf("member %s: unknown status %q", m.Email, m.Status)
	}
	if m.Price.IsNegative() || m.LTV.IsNegative() {
		return fmt.Errorf("member %s: negative amount", m.Email)
	}
	return nil
}

// BatchToken returns the batch identity for an upload started at t.
func BatchToken(t time.Time) string {
	return t.Format(BatchLayout)
}

// FormatTimestamp renders t in the persisted timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// PlaceholderEmail synthesizes the identity of the seq-th email-less row of
// a batch. Real emails are lower-cased, so the upper-case prefix cannot
// collide with one.
func PlaceholderEmail(seq int, batch string) string {
	return fmt.Sprintf("%s%d_%s__", placeholderPrefix, seq, batch)
}

// IsPlaceholderEmail reports whether email was produced by PlaceholderEmail.
func IsPlaceholderEmail(email string) bool {
	return strings.HasPrefix(email, placeholderPrefix)
}

// MemberTx is the write path used by reconciliation. Every call made through
// one MemberTx belongs to the same store transaction.
type MemberTx interface {
	PurgePlaceholders(ctx context.Context) (int, error)
	GetMember(ctx context.Context, email string) (*Member, error)
	InsertMember(ctx context.Context, m *Member) error
	UpdateMember(ctx context.Context, m *Member) error
	// ListActiveEmails returns the emails of active, non-placeholder members.
	ListActiveEmails(ctx context.Context) ([]string, error)
	MarkChurned(ctx context.Context, email, at string) error
}

// Transactor runs fn in a single transaction. The transaction commits only
// when fn returns nil; any error rolls back every write made through it.
type Transactor interface {
	InTx(ctx context.Context, fn func(MemberTx) error) error
}
