package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/rosterwatch/internal/store"
)

func TestProjectLinearTrend(t *testing.T) {
	monthly := []store.MonthStat{
		{Month: "2024-01", Signups: 10, Revenue: 100},
		{Month: "2024-02", Signups: 20, Revenue: 200},
		{Month: "2024-03", Signups: 30, Revenue: 300},
	}

	f := Project(monthly, 2)
	require.True(t, f.Available)
	assert.Empty(t, f.Reason)
	assert.Len(t, f.Historical, 3)
	require.Len(t, f.Forecast, 2)

	assert.Equal(t, ForecastPoint{Month: "2024-04", Signups: 40, Revenue: 400, Cumulative: 100}, f.Forecast[0])
	assert.Equal(t, ForecastPoint{Month: "2024-05", Signups: 50, Revenue: 500, Cumulative: 150}, f.Forecast[1])
	assert.Equal(t, 10.0, f.Trend.SignupSlope)
	assert.Equal(t, 100.0, f.Trend.RevenueSlope)
}

func TestProjectCrossesYearBoundary(t *testing.T) {
	f := Project([]store.MonthStat{
		{Month: "2023-11", Signups: 5},
		{Month: "2023-12", Signups: 5},
	}, 2)
	require.True(t, f.Available)
	assert.Equal(t, "2024-01", f.Forecast[0].Month)
	assert.Equal(t, "2024-02", f.Forecast[1].Month)
	assert.Equal(t, 5, f.Forecast[0].Signups)
}

func TestProjectFloorsAtZero(t *testing.T) {
	f := Project([]store.MonthStat{
		{Month: "2024-01", Signups: 100, Revenue: 50},
		{Month: "2024-02", Signups: 50, Revenue: 25},
		{Month: "2024-03", Signups: 0, Revenue: 0},
	}, 3)
	require.True(t, f.Available)
	for _, p := range f.Forecast {
		assert.Equal(t, 0, p.Signups, p.Month)
		assert.Equal(t, 0.0, p.Revenue, p.Month)
		assert.Equal(t, 150, p.Cumulative)
	}
}

func TestProjectInsufficientData(t *testing.T) {
	f := Project([]store.MonthStat{
		{Month: "2024-01", Signups: 3},
		{Month: "unknown", Signups: 9},
	}, 6)
	assert.False(t, f.Available)
	assert.NotEmpty(t, f.Reason)
	assert.Empty(t, f.Forecast)
	assert.Len(t, f.Historical, 1)

	f = Project(nil, 6)
	assert.False(t, f.Available)
}

func TestClampForecastMonths(t *testing.T) {
	assert.Equal(t, DefaultForecastMonths, ClampForecastMonths(0))
	assert.Equal(t, DefaultForecastMonths, ClampForecastMonths(-4))
	assert.Equal(t, 3, ClampForecastMonths(3))
	assert.Equal(t, MaxForecastMonths, ClampForecastMonths(100))
}

func TestLinearRegression(t *testing.T) {
	slope, intercept := linearRegression([]float64{3, 5, 7})
	assert.InDelta(t, 2, slope, 1e-9)
	assert.InDelta(t, 3, intercept, 1e-9)

	slope, intercept = linearRegression([]float64{4})
	assert.Equal(t, 0.0, slope)
	assert.Equal(t, 4.0, intercept)
}
