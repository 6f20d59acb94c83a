package store

import (
	"context"
	"math"
	"testing"

	"github.com/rcourtman/rosterwatch/internal/roster"
)

func seedAnalytics(t *testing.T, s *Store) {
	t.Helper()
	invited := member("r@example.com", "2024-02-10 12:00:00", 10, 40, roster.IntervalMonth)
	invited.InvitedBy = "Anna"
	invited.Tier = "Premium"
	ph := member(roster.PlaceholderEmail(1, "b1"), "2024-02-11 08:00:00", 0, 0, roster.IntervalNone)
	ph.Placeholder = true
	ph.InvitedBy = "Anna"

	seedMembers(t, s,
		member("a@example.com", "2024-01-03 10:00:00", 10, 100, roster.IntervalMonth),
		member("b@example.com", "2024-01-20 10:00:00", 0, 0, roster.IntervalNone),
		invited,
		ph,
		member("nodate@example.com", "", 0, 250, roster.IntervalNone),
	)
	err := s.InTx(context.Background(), func(tx roster.MemberTx) error {
		return tx.MarkChurned(context.Background(), "a@example.com", "2024-03-03 10:00:00")
	})
	if err != nil {
		t.Fatalf("churn: %v", err)
	}
}

func TestSignupsByPeriod(t *testing.T) {
	s := newTestStore(t)
	seedAnalytics(t, s)
	ctx := context.Background()

	months, err := s.SignupsByPeriod(ctx, GroupMonth)
	if err != nil {
		t.Fatalf("SignupsByPeriod(month): %v", err)
	}
	want := []PeriodCount{{"2024-01", 2}, {"2024-02", 2}}
	if len(months) != len(want) {
		t.Fatalf("months = %+v, want %+v", months, want)
	}
	for i := range want {
		if months[i] != want[i] {
			t.Fatalf("months[%d] = %+v, want %+v", i, months[i], want[i])
		}
	}

	weeks, err := s.SignupsByPeriod(ctx, GroupWeek)
	if err != nil {
		t.Fatalf("SignupsByPeriod(week): %v", err)
	}
	if len(weeks) == 0 || weeks[0].Period != "2024-W01" {
		t.Fatalf("weeks = %+v", weeks)
	}

	days, _ := s.SignupsByPeriod(ctx, GroupDay)
	if len(days) != 4 || days[0].Period != "2024-01-03" {
		t.Fatalf("days = %+v", days)
	}
}

func TestMonthlySignupsAndReferrals(t *testing.T) {
	s := newTestStore(t)
	seedAnalytics(t, s)
	ctx := context.Background()

	monthly, err := s.MonthlySignups(ctx)
	if err != nil {
		t.Fatalf("MonthlySignups: %v", err)
	}
	if len(monthly) != 2 {
		t.Fatalf("monthly = %+v", monthly)
	}
	feb := monthly[1]
	if feb.Month != "2024-02" || feb.Signups != 2 || feb.Referrals != 2 || feb.Organic != 0 || feb.Revenue != 10 {
		t.Fatalf("feb = %+v", feb)
	}

	withPH, _ := s.ReferralCounts(ctx, true)
	withoutPH, _ := s.ReferralCounts(ctx, false)
	if withPH.Referral != 2 || withoutPH.Referral != 1 {
		t.Fatalf("referral counts = %+v / %+v", withPH, withoutPH)
	}

	top, err := s.TopReferrers(ctx, 20)
	if err != nil || len(top) != 1 || top[0].Name != "Anna" || top[0].Count != 2 {
		t.Fatalf("TopReferrers = %+v, %v", top, err)
	}

	n, _ := s.CountJoinedIn(ctx, "2024-01")
	if n != 2 {
		t.Fatalf("CountJoinedIn = %d, want 2", n)
	}
}

func TestRevenueAndChurnFigures(t *testing.T) {
	s := newTestStore(t)
	seedAnalytics(t, s)
	ctx := context.Background()

	paid, free, err := s.PaidFreeCounts(ctx)
	if err != nil || paid != 1 || free != 3 {
		t.Fatalf("PaidFreeCounts = %d/%d, %v", paid, free, err)
	}

	tiers, _ := s.TierDistribution(ctx)
	if len(tiers) != 1 || tiers[0].Name != "Premium" {
		t.Fatalf("tiers = %+v", tiers)
	}

	buckets, _ := s.LTVBuckets(ctx)
	wantBuckets := []string{"0", "31-60", "61-100", "200+"}
	if len(buckets) != len(wantBuckets) {
		t.Fatalf("buckets = %+v", buckets)
	}
	for i, name := range wantBuckets {
		if buckets[i].Name != name || buckets[i].Count != 1 {
			t.Fatalf("buckets[%d] = %+v, want %s", i, buckets[i], name)
		}
	}

	prices, _ := s.PriceDistribution(ctx)
	if len(prices) != 1 || prices[0].Price != 10 {
		t.Fatalf("prices = %+v", prices)
	}

	f, err := s.ChurnFigures(ctx)
	if err != nil {
		t.Fatalf("ChurnFigures: %v", err)
	}
	if f.Active != 3 || f.Churned != 1 || f.LostLTV != 100 {
		t.Fatalf("churn figures = %+v", f)
	}
	if math.Abs(f.AvgLifetimeDays-60) > 1e-6 {
		t.Fatalf("avg lifetime = %v, want 60", f.AvgLifetimeDays)
	}

	recent, _ := s.RecentlyChurned(ctx, 100)
	if len(recent) != 1 || recent[0].Email != "a@example.com" {
		t.Fatalf("recent churned = %v", emailsOf(recent))
	}
	monthly, _ := s.MonthlyChurn(ctx)
	if len(monthly) != 1 || monthly[0].Period != "2024-03" {
		t.Fatalf("monthly churn = %+v", monthly)
	}
}
