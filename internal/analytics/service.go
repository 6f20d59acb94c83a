// Package analytics answers the dashboard's read-only questions: growth,
// revenue, referrals, churn, forecast, member lists, upload history and
// clicks.
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rcourtman/rosterwatch/internal/roster"
	"github.com/rcourtman/rosterwatch/internal/store"
)

const (
	topReferrersLimit  = 20
	recentChurnedLimit = 100

	DefaultClickDays = 30
	MaxClickDays     = 365
)

// Source is the read surface of the member store.
type Source interface {
	Version(ctx context.Context) (int64, error)
	Totals(ctx context.Context) (store.Totals, error)
	CountJoinedIn(ctx context.Context, month string) (int, error)
	ReferralCounts(ctx context.Context, includePlaceholders bool) (store.ReferralSplit, error)
	MonthlySignups(ctx context.Context) ([]store.MonthStat, error)
	SignupsByPeriod(ctx context.Context, g store.Grouping) ([]store.PeriodCount, error)
	PriceDistribution(ctx context.Context) ([]store.PriceCount, error)
	TierDistribution(ctx context.Context) ([]store.NamedCount, error)
	LTVBuckets(ctx context.Context) ([]store.NamedCount, error)
	MonthlyNewRevenue(ctx context.Context) ([]store.MonthRevenue, error)
	PaidFreeCounts(ctx context.Context) (paid, free int, err error)
	TopReferrers(ctx context.Context, limit int) ([]store.NamedCount, error)
	ChurnFigures(ctx context.Context) (store.ChurnFigures, error)
	MonthlyChurn(ctx context.Context) ([]store.PeriodCount, error)
	RecentlyChurned(ctx context.Context, limit int) ([]*roster.Member, error)
	ListMembers(ctx context.Context, q store.MemberQuery) ([]*roster.Member, error)
	ListHistory(ctx context.Context) ([]*store.HistoryEntry, error)
	ClicksByChannel(ctx context.Context, since string) ([]store.ChannelCount, error)
	DailyClicks(ctx context.Context, since string) ([]store.DailyChannelCount, error)
}

// Service runs analytics queries, optionally through a Cache keyed by the
// store version.
type Service struct {
	src   Source
	cache *Cache
	loc   *time.Location
	now   func() time.Time
}

// NewService returns a Service reading from src. cache may be nil.
func NewService(src Source, cache *Cache, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{src: src, cache: cache, loc: loc, now: time.Now}
}

func cachedQuery[T any](ctx context.Context, s *Service, query string, load func(context.Context) (T, error)) (T, error) {
	if s.cache == nil {
		return load(ctx)
	}
	version, err := s.src.Version(ctx)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("Store version unavailable, bypassing analytics cache")
		return load(ctx)
	}

	var out T
	err = s.cache.GetOrSet(ctx, fmt.Sprintf("%s:v%d", query, version), &out, func() (any, error) {
		return load(ctx)
	})
	return out, err
}

// Overview is the dashboard landing summary.
type Overview struct {
	TotalMembers  int                 `json:"total_members"`
	TotalEver     int                 `json:"total_ever"`
	Churned       int                 `json:"churned"`
	ThisMonthNew  int                 `json:"this_month_new"`
	LastMonthNew  int                 `json:"last_month_new"`
	GrowthPct     float64             `json:"growth_pct"`
	MRR           float64             `json:"mrr"`
	AvgLTV        float64             `json:"avg_ltv"`
	TotalLTV      float64             `json:"total_ltv"`
	ReferralCount int                 `json:"referral_count"`
	ReferralPct   float64             `json:"referral_pct"`
	Monthly       []store.PeriodCount `json:"monthly"`
}

// Overview returns headline KPIs and the monthly signup sparkline.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	now := s.now().In(s.loc)
	thisMonth := now.Format(monthLayout)
	lastMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc).AddDate(0, -1, 0).Format(monthLayout)

	return cachedQuery(ctx, s, "overview:"+thisMonth, func(ctx context.Context) (Overview, error) {
		var (
			o        Overview
			totals   store.Totals
			referral store.ReferralSplit
			monthly  []store.MonthStat
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			totals, err = s.src.Totals(gctx)
			return err
		})
		g.Go(func() (err error) {
			o.ThisMonthNew, err = s.src.CountJoinedIn(gctx, thisMonth)
			return err
		})
		g.Go(func() (err error) {
			o.LastMonthNew, err = s.src.CountJoinedIn(gctx, lastMonth)
			return err
		})
		g.Go(func() (err error) {
			referral, err = s.src.ReferralCounts(gctx, false)
			return err
		})
		g.Go(func() (err error) {
			monthly, err = s.src.MonthlySignups(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return Overview{}, fmt.Errorf("overview: %w", err)
		}

		o.TotalMembers = totals.Active
		o.TotalEver = totals.Total
		o.Churned = totals.Churned
		o.MRR = totals.MRR
		o.AvgLTV = totals.AvgLTV
		o.TotalLTV = totals.TotalLTV
		o.ReferralCount = referral.Referral
		o.ReferralPct = percent(referral.Referral, totals.Active)
		if o.LastMonthNew > 0 {
			o.GrowthPct = round1(float64(o.ThisMonthNew-o.LastMonthNew) / float64(o.LastMonthNew) * 100)
		}
		o.Monthly = make([]store.PeriodCount, 0, len(monthly))
		for _, m := range monthly {
			o.Monthly = append(o.Monthly, store.PeriodCount{Period: m.Month, Count: m.Signups})
		}
		return o, nil
	})
}

// PeriodTotal is a running signup total.
type PeriodTotal struct {
	Period string `json:"period"`
	Total  int    `json:"total"`
}

// Growth is the signup time series for one grouping.
type Growth struct {
	Group      store.Grouping      `json:"group"`
	Signups    []store.PeriodCount `json:"signups"`
	Cumulative []PeriodTotal       `json:"cumulative"`
}

// Growth returns signups per period and their cumulative total.
func (s *Service) Growth(ctx context.Context, group store.Grouping) (Growth, error) {
	group = store.ParseGrouping(string(group))
	return cachedQuery(ctx, s, "growth:"+string(group), func(ctx context.Context) (Growth, error) {
		signups, err := s.src.SignupsByPeriod(ctx, group)
		if err != nil {
			return Growth{}, fmt.Errorf("growth: %w", err)
		}

		out := Growth{Group: group, Signups: signups, Cumulative: make([]PeriodTotal, 0, len(signups))}
		if out.Signups == nil {
			out.Signups = []store.PeriodCount{}
		}
		total := 0
		for _, p := range signups {
			total += p.Count
			out.Cumulative = append(out.Cumulative, PeriodTotal{Period: p.Period, Total: total})
		}
		return out, nil
	})
}

// Revenue breaks down pricing and lifetime value.
type Revenue struct {
	Prices         []store.PriceCount   `json:"prices"`
	Tiers          []store.NamedCount   `json:"tiers"`
	LTVBuckets     []store.NamedCount   `json:"ltv_buckets"`
	MonthlyRevenue []store.MonthRevenue `json:"monthly_revenue"`
	Free           int                  `json:"free"`
	Paid           int                  `json:"paid"`
}

// Revenue returns the price, tier and LTV distributions.
func (s *Service) Revenue(ctx context.Context) (Revenue, error) {
	return cachedQuery(ctx, s, "revenue", func(ctx context.Context) (Revenue, error) {
		var out Revenue
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			out.Prices, err = s.src.PriceDistribution(gctx)
			return err
		})
		g.Go(func() (err error) {
			out.Tiers, err = s.src.TierDistribution(gctx)
			return err
		})
		g.Go(func() (err error) {
			out.LTVBuckets, err = s.src.LTVBuckets(gctx)
			return err
		})
		g.Go(func() (err error) {
			out.MonthlyRevenue, err = s.src.MonthlyNewRevenue(gctx)
			return err
		})
		g.Go(func() (err error) {
			out.Paid, out.Free, err = s.src.PaidFreeCounts(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return Revenue{}, fmt.Errorf("revenue: %w", err)
		}
		for i := range out.MonthlyRevenue {
			out.MonthlyRevenue[i].Revenue = round2(out.MonthlyRevenue[i].Revenue)
		}
		return out, nil
	})
}

// ReferralMonth splits one month's signups by origin.
type ReferralMonth struct {
	Month     string `json:"month"`
	Referrals int    `json:"referrals"`
	Organic   int    `json:"organic"`
}

// Referrals summarizes who brings members in.
type Referrals struct {
	TopReferrers []store.NamedCount `json:"top_referrers"`
	Organic      int                `json:"organic"`
	Referral     int                `json:"referral"`
	Monthly      []ReferralMonth    `json:"monthly"`
}

// Referrals returns the top referrers and the organic/referral split.
func (s *Service) Referrals(ctx context.Context) (Referrals, error) {
	return cachedQuery(ctx, s, "referrals", func(ctx context.Context) (Referrals, error) {
		var (
			out     Referrals
			split   store.ReferralSplit
			monthly []store.MonthStat
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			out.TopReferrers, err = s.src.TopReferrers(gctx, topReferrersLimit)
			return err
		})
		g.Go(func() (err error) {
			split, err = s.src.ReferralCounts(gctx, true)
			return err
		})
		g.Go(func() (err error) {
			monthly, err = s.src.MonthlySignups(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return Referrals{}, fmt.Errorf("referrals: %w", err)
		}

		out.Organic = split.Organic
		out.Referral = split.Referral
		out.Monthly = make([]ReferralMonth, 0, len(monthly))
		for _, m := range monthly {
			out.Monthly = append(out.Monthly, ReferralMonth{Month: m.Month, Referrals: m.Referrals, Organic: m.Organic})
		}
		return out, nil
	})
}

// ChurnedMember is one row of the recent churn list.
type ChurnedMember struct {
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	JoinedAt  string  `json:"joined_at"`
	ChurnedAt string  `json:"churned_at"`
	LTV       float64 `json:"ltv"`
	InvitedBy string  `json:"invited_by"`
}

// Churn summarizes departures.
type Churn struct {
	Active          int                 `json:"active"`
	Churned         int                 `json:"churned"`
	TotalEver       int                 `json:"total_ever"`
	ChurnPct        float64             `json:"churn_pct"`
	RetentionPct    float64             `json:"retention_pct"`
	LostLTV         float64             `json:"lost_ltv"`
	AvgLifetimeDays float64             `json:"avg_lifetime_days"`
	MonthlyChurn    []store.PeriodCount `json:"monthly_churn"`
	ChurnedList     []ChurnedMember     `json:"churned_list"`
}

// Churn returns churn and retention rates with the latest departures.
func (s *Service) Churn(ctx context.Context) (Churn, error) {
	return cachedQuery(ctx, s, "churn", func(ctx context.Context) (Churn, error) {
		var (
			out     Churn
			figures store.ChurnFigures
			recent  []*roster.Member
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			figures, err = s.src.ChurnFigures(gctx)
			return err
		})
		g.Go(func() (err error) {
			out.MonthlyChurn, err = s.src.MonthlyChurn(gctx)
			return err
		})
		g.Go(func() (err error) {
			recent, err = s.src.RecentlyChurned(gctx, recentChurnedLimit)
			return err
		})
		if err := g.Wait(); err != nil {
			return Churn{}, fmt.Errorf("churn: %w", err)
		}

		out.Active = figures.Active
		out.Churned = figures.Churned
		out.TotalEver = figures.Active + figures.Churned
		out.ChurnPct = percent(figures.Churned, out.TotalEver)
		out.RetentionPct = round1(100 - out.ChurnPct)
		out.LostLTV = round2(figures.LostLTV)
		out.AvgLifetimeDays = math.Round(figures.AvgLifetimeDays)
		out.ChurnedList = make([]ChurnedMember, 0, len(recent))
		for _, m := range recent {
			out.ChurnedList = append(out.ChurnedList, ChurnedMember{
				Name:      m.FullName(),
				Email:     m.Email,
				JoinedAt:  m.JoinedAt,
				ChurnedAt: m.ChurnedAt,
				LTV:       m.LTV.InexactFloat64(),
				InvitedBy: m.InvitedBy,
			})
		}
		return out, nil
	})
}

// Forecast projects signups and revenue months ahead. Fewer than two months
// of data yields a Forecast with Available false, not an error.
func (s *Service) Forecast(ctx context.Context, months int) (Forecast, error) {
	months = ClampForecastMonths(months)
	return cachedQuery(ctx, s, fmt.Sprintf("forecast:%d", months), func(ctx context.Context) (Forecast, error) {
		monthly, err := s.src.MonthlySignups(ctx)
		if err != nil {
			return Forecast{}, fmt.Errorf("forecast: %w", err)
		}
		return Project(monthly, months), nil
	})
}

// Members lists members; results are not cached.
func (s *Service) Members(ctx context.Context, q store.MemberQuery) ([]*roster.Member, error) {
	members, err := s.src.ListMembers(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("members: %w", err)
	}
	if members == nil {
		members = []*roster.Member{}
	}
	return members, nil
}

// History returns upload history, newest first, with deltas against the
// chronologically previous entry.
func (s *Service) History(ctx context.Context) ([]HistoryRow, error) {
	return cachedQuery(ctx, s, "history", func(ctx context.Context) ([]HistoryRow, error) {
		entries, err := s.src.ListHistory(ctx)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		return WithDeltas(entries), nil
	})
}

// Clicks summarizes redirect clicks.
type Clicks struct {
	Days      int                       `json:"days"`
	Total     int                       `json:"total"`
	ByChannel []store.ChannelCount      `json:"by_channel"`
	Daily     map[string]map[string]int `json:"daily"`
}

// Clicks totals clicks per channel and per day over the last days days.
// The click log changes on every redirect, so results are not cached.
func (s *Service) Clicks(ctx context.Context, days int) (Clicks, error) {
	if days <= 0 {
		days = DefaultClickDays
	}
	if days > MaxClickDays {
		days = MaxClickDays
	}
	since := roster.FormatTimestamp(s.now().In(s.loc).AddDate(0, 0, -days))

	out := Clicks{Days: days, Daily: map[string]map[string]int{}}
	byChannel, err := s.src.ClicksByChannel(ctx, since)
	if err != nil {
		return Clicks{}, fmt.Errorf("clicks: %w", err)
	}
	daily, err := s.src.DailyClicks(ctx, since)
	if err != nil {
		return Clicks{}, fmt.Errorf("clicks: %w", err)
	}

	out.ByChannel = byChannel
	if out.ByChannel == nil {
		out.ByChannel = []store.ChannelCount{}
	}
	for _, c := range byChannel {
		out.Total += c.Count
	}
	for _, d := range daily {
		if out.Daily[d.Day] == nil {
			out.Daily[d.Day] = map[string]int{}
		}
		out.Daily[d.Day][d.Channel] = d.Count
	}
	return out, nil
}

// percent returns part/whole*100 rounded to one decimal, or 0 for an empty whole.
func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return round1(float64(part) / float64(whole) * 100)
}
