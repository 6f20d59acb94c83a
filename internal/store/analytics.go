package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rcourtman/rosterwatch/internal/roster"
)

// Grouping is the bucket size of the signup time series.
type Grouping string

const (
	GroupDay   Grouping = "day"
	GroupWeek  Grouping = "week"
	GroupMonth Grouping = "month"
)

// ParseGrouping maps a request value to a Grouping, defaulting to day.
func ParseGrouping(raw string) Grouping {
	switch Grouping(raw) {
	case GroupWeek:
		return GroupWeek
	case GroupMonth:
		return GroupMonth
	default:
		return GroupDay
	}
}

func (g Grouping) periodExpr() string {
	switch g {
	case GroupWeek:
		return `printf('%s-W%02d', SUBSTR(joined_at, 1, 4),
			CAST((JULIANDAY(DATE(joined_at)) - JULIANDAY(SUBSTR(joined_at, 1, 4) || '-01-01')) / 7 + 1 AS INTEGER))`
	case GroupMonth:
		return `SUBSTR(joined_at, 1, 7)`
	default:
		return `DATE(joined_at)`
	}
}

// PeriodCount is a signup count for one period label.
type PeriodCount struct {
	Period string `json:"period"`
	Count  int    `json:"count"`
}

// SignupsByPeriod counts members by join period. Rows with an empty or
// unparsable join date are skipped.
func (s *Store) SignupsByPeriod(ctx context.Context, g Grouping) ([]PeriodCount, error) {
	expr := ParseGrouping(string(g)).periodExpr()
	rows, err := s.db.QueryContext(ctx, `SELECT `+expr+` AS period, COUNT(*) FROM members
		WHERE joined_at != '' AND DATE(joined_at) IS NOT NULL
		GROUP BY period ORDER BY period`)
	if err != nil {
		return nil, fmt.Errorf("count signups by %s: %w", g, err)
	}
	defer rows.Close()

	var out []PeriodCount
	for rows.Next() {
		var p PeriodCount
		if err := rows.Scan(&p.Period, &p.Count); err != nil {
			return nil, fmt.Errorf("scan signup period: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MonthStat aggregates members who joined in one month.
type MonthStat struct {
	Month     string  `json:"month"`
	Signups   int     `json:"signups"`
	Revenue   float64 `json:"revenue"`
	Referrals int     `json:"referrals"`
	Organic   int     `json:"organic"`
}

// MonthlySignups groups members by join month with the sum of their current
// price and the referral split.
func (s *Store) MonthlySignups(ctx context.Context) ([]MonthStat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT SUBSTR(joined_at, 1, 7) AS month,
		COUNT(*),
		COALESCE(SUM(price), 0),
		COALESCE(SUM(CASE WHEN invited_by != '' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN invited_by = '' THEN 1 ELSE 0 END), 0)
		FROM members WHERE joined_at != ''
		GROUP BY month ORDER BY month`)
	if err != nil {
		return nil, fmt.Errorf("count monthly signups: %w", err)
	}
	defer rows.Close()

	var out []MonthStat
	for rows.Next() {
		var m MonthStat
		if err := rows.Scan(&m.Month, &m.Signups, &m.Revenue, &m.Referrals, &m.Organic); err != nil {
			return nil, fmt.Errorf("scan monthly signups: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountJoinedIn counts members whose join date starts with month (YYYY-MM).
func (s *Store) CountJoinedIn(ctx context.Context, month string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM members WHERE joined_at LIKE ?`, month+"%").Scan(&n); err != nil {
		return 0, fmt.Errorf("count signups in %s: %w", month, err)
	}
	return n, nil
}

// ReferralSplit counts referred and organic members.
type ReferralSplit struct {
	Referral int `json:"referral"`
	Organic  int `json:"organic"`
}

// ReferralCounts splits members by whether they were invited.
func (s *Store) ReferralCounts(ctx context.Context, includePlaceholders bool) (ReferralSplit, error) {
	query := `SELECT
		COALESCE(SUM(CASE WHEN invited_by != '' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN invited_by = '' THEN 1 ELSE 0 END), 0)
		FROM members`
	if !includePlaceholders {
		query += ` WHERE placeholder = 0`
	}
	var r ReferralSplit
	if err := s.db.QueryRowContext(ctx, query).Scan(&r.Referral, &r.Organic); err != nil {
		return ReferralSplit{}, fmt.Errorf("count referrals: %w", err)
	}
	return r, nil
}

// NamedCount is a count keyed by a free-form label.
type NamedCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TopReferrers returns the referrers with the most invited members.
func (s *Store) TopReferrers(ctx context.Context, limit int) ([]NamedCount, error) {
	return s.namedCounts(ctx, "top referrers", `SELECT invited_by, COUNT(*) AS cnt FROM members
		WHERE invited_by != '' GROUP BY invited_by ORDER BY cnt DESC, invited_by LIMIT ?`, limit)
}

// TierDistribution counts non-placeholder members per tier label.
func (s *Store) TierDistribution(ctx context.Context) ([]NamedCount, error) {
	return s.namedCounts(ctx, "tier distribution", `SELECT tier, COUNT(*) AS cnt FROM members
		WHERE tier != '' AND placeholder = 0 GROUP BY tier ORDER BY cnt DESC, tier`)
}

// LTVBuckets counts non-placeholder members per lifetime-value band.
func (s *Store) LTVBuckets(ctx context.Context) ([]NamedCount, error) {
	return s.namedCounts(ctx, "ltv buckets", `SELECT
		CASE
			WHEN ltv = 0 THEN '0'
			WHEN ltv <= 30 THEN '1-30'
			WHEN ltv <= 60 THEN '31-60'
			WHEN ltv <= 100 THEN '61-100'
			WHEN ltv <= 200 THEN '101-200'
			ELSE '200+'
		END AS bucket,
		COUNT(*)
		FROM members WHERE placeholder = 0 GROUP BY bucket ORDER BY MIN(ltv)`)
}

func (s *Store) namedCounts(ctx context.Context, what, query string, args ...any) ([]NamedCount, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	defer rows.Close()

	var out []NamedCount
	for rows.Next() {
		var c NamedCount
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PriceCount is the number of paying members at one price point.
type PriceCount struct {
	Price float64 `json:"price"`
	Count int     `json:"count"`
}

// PriceDistribution counts non-placeholder paying members per price.
func (s *Store) PriceDistribution(ctx context.Context) ([]PriceCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT price, COUNT(*) AS cnt FROM members
		WHERE price > 0 AND placeholder = 0 GROUP BY price ORDER BY cnt DESC, price`)
	if err != nil {
		return nil, fmt.Errorf("query price distribution: %w", err)
	}
	defer rows.Close()

	var out []PriceCount
	for rows.Next() {
		var p PriceCount
		if err := rows.Scan(&p.Price, &p.Count); err != nil {
			return nil, fmt.Errorf("scan price distribution: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MonthRevenue is the current price sum of paying members by join month.
type MonthRevenue struct {
	Month   string  `json:"month"`
	Revenue float64 `json:"revenue"`
	Members int     `json:"members"`
}

// MonthlyNewRevenue groups paying non-placeholder members by join month.
func (s *Store) MonthlyNewRevenue(ctx context.Context) ([]MonthRevenue, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT SUBSTR(joined_at, 1, 7) AS month, SUM(price), COUNT(*)
		FROM members WHERE price > 0 AND placeholder = 0 AND joined_at != ''
		GROUP BY month ORDER BY month`)
	if err != nil {
		return nil, fmt.Errorf("query monthly revenue: %w", err)
	}
	defer rows.Close()

	var out []MonthRevenue
	for rows.Next() {
		var m MonthRevenue
		if err := rows.Scan(&m.Month, &m.Revenue, &m.Members); err != nil {
			return nil, fmt.Errorf("scan monthly revenue: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PaidFreeCounts splits non-placeholder members by whether they pay.
func (s *Store) PaidFreeCounts(ctx context.Context) (paid, free int, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(CASE WHEN price > 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN price <= 0 THEN 1 ELSE 0 END), 0)
		FROM members WHERE placeholder = 0`)
	if err := row.Scan(&paid, &free); err != nil {
		return 0, 0, fmt.Errorf("count paid and free members: %w", err)
	}
	return paid, free, nil
}

// ChurnFigures are the churn aggregates over non-placeholder members.
type ChurnFigures struct {
	Active          int
	Churned         int
	LostLTV         float64
	AvgLifetimeDays float64
}

// ChurnFigures computes active and churned counts, the LTV of churned
// members and their mean lifetime in days.
func (s *Store) ChurnFigures(ctx context.Context) (ChurnFigures, error) {
	var f ChurnFigures
	var avgDays sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'churned' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'churned' THEN ltv ELSE 0 END), 0),
		AVG(CASE WHEN status = 'churned' AND churned_at != '' AND joined_at != ''
			THEN JULIANDAY(churned_at) - JULIANDAY(joined_at) END)
		FROM members WHERE placeholder = 0`,
	).Scan(&f.Active, &f.Churned, &f.LostLTV, &avgDays)
	if err != nil {
		return ChurnFigures{}, fmt.Errorf("compute churn figures: %w", err)
	}
	if avgDays.Valid {
		f.AvgLifetimeDays = avgDays.Float64
	}
	return f, nil
}

// MonthlyChurn counts churned members by churn month.
func (s *Store) MonthlyChurn(ctx context.Context) ([]PeriodCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT SUBSTR(churned_at, 1, 7) AS month, COUNT(*) FROM members
		WHERE status = 'churned' AND churned_at != '' AND placeholder = 0
		GROUP BY month ORDER BY month`)
	if err != nil {
		return nil, fmt.Errorf("count monthly churn: %w", err)
	}
	defer rows.Close()

	var out []PeriodCount
	for rows.Next() {
		var p PeriodCount
		if err := rows.Scan(&p.Period, &p.Count); err != nil {
			return nil, fmt.Errorf("scan monthly churn: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecentlyChurned returns up to limit churned members, latest churn first.
func (s *Store) RecentlyChurned(ctx context.Context, limit int) ([]*roster.Member, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memberColumns+` FROM members
		WHERE status = 'churned' AND placeholder = 0
		ORDER BY churned_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list churned members: %w", err)
	}
	defer rows.Close()
	return scanMembers(rows)
}
