package analytics

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcourtman/rosterwatch/internal/store"
)

const (
	DefaultForecastMonths = 6
	MaxForecastMonths     = 24

	monthLayout = "2006-01"
)

// MonthPoint is one month of observed signups and revenue.
type MonthPoint struct {
	Month   string  `json:"month"`
	Signups int     `json:"signups"`
	Revenue float64 `json:"revenue"`
}

// ForecastPoint is one projected month.
type ForecastPoint struct {
	Month      string  `json:"month"`
	Signups    int     `json:"signups"`
	Revenue    float64 `json:"revenue"`
	Cumulative int     `json:"cumulative"`
}

// Trend holds the fitted slopes, per month.
type Trend struct {
	SignupSlope  float64 `json:"signup_slope"`
	RevenueSlope float64 `json:"revenue_slope"`
}

// Forecast is a linear projection of signups and revenue. When Available is
// false, Reason says why and the series are empty.
type Forecast struct {
	Available  bool            `json:"available"`
	Reason     string          `json:"reason,omitempty"`
	Months     int             `json:"months"`
	Historical []MonthPoint    `json:"historical"`
	Forecast   []ForecastPoint `json:"forecast"`
	Trend      Trend           `json:"trend"`
}

// ClampForecastMonths bounds a requested horizon to 1..MaxForecastMonths,
// treating non-positive values as the default.
func ClampForecastMonths(months int) int {
	switch {
	case months <= 0:
		return DefaultForecastMonths
	case months > MaxForecastMonths:
		return MaxForecastMonths
	default:
		return months
	}
}

// Project fits an ordinary least-squares line to monthly signups and revenue
// (x = month index) and extends it months ahead. Projections are floored at
// zero; Cumulative carries the running signup total from the observed sum.
func Project(monthly []store.MonthStat, months int) Forecast {
	months = ClampForecastMonths(months)
	out := Forecast{Months: months, Historical: []MonthPoint{}, Forecast: []ForecastPoint{}}

	var (
		last     time.Time
		signups  []float64
		revenues []float64
		total    int
	)
	for _, m := range monthly {
		t, err := time.Parse(monthLayout, m.Month)
		if err != nil {
			continue
		}
		last = t
		signups = append(signups, float64(m.Signups))
		revenues = append(revenues, m.Revenue)
		total += m.Signups
		out.Historical = append(out.Historical, MonthPoint{Month: m.Month, Signups: m.Signups, Revenue: round2(m.Revenue)})
	}

	if len(signups) < 2 {
		out.Reason = "insufficient data: at least two months of signups are required"
		return out
	}

	signupSlope, signupIntercept := linearRegression(signups)
	revenueSlope, revenueIntercept := linearRegression(revenues)

	n := float64(len(signups))
	cumulative := total
	for i := 1; i <= months; i++ {
		x := n - 1 + float64(i)
		predictedSignups := int(math.Max(0, math.Round(signupIntercept+signupSlope*x)))
		predictedRevenue := math.Max(0, round2(revenueIntercept+revenueSlope*x))
		cumulative += predictedSignups

		out.Forecast = append(out.Forecast, ForecastPoint{
			Month:      last.AddDate(0, i, 0).Format(monthLayout),
			Signups:    predictedSignups,
			Revenue:    predictedRevenue,
			Cumulative: cumulative,
		})
	}

	out.Available = true
	out.Trend = Trend{SignupSlope: round1(signupSlope), RevenueSlope: round1(revenueSlope)}
	return out
}

// linearRegression returns the least-squares slope and intercept of ys
// against their index.
func linearRegression(ys []float64) (slope, intercept float64) {
	if len(ys) == 0 {
		return 0, 0
	}
	n := float64(len(ys))

	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denominator := n*sumX2 - sumX*sumX
	if denominator == 0 {
		return 0, sumY / n
	}

	slope = (n*sumXY - sumX*sumY) / denominator
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func round1(v float64) float64 {
	return decimal.NewFromFloat(v).Round(1).InexactFloat64()
}
