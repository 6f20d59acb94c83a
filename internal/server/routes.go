package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rcourtman/rosterwatch/internal/analytics"
	"github.com/rcourtman/rosterwatch/internal/config"
	"github.com/rcourtman/rosterwatch/internal/ingest"
	"github.com/rcourtman/rosterwatch/internal/links"
	"github.com/rcourtman/rosterwatch/internal/store"
	"github.com/rcourtman/rosterwatch/internal/users"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Uploader  *ingest.Uploader
	Analytics *analytics.Service
	Links     *links.Service
	Users     *users.Service
	Limiter   *RateLimiter // nil builds one from Config.RedirectRateLimit
	Version   string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	auth := func(h http.HandlerFunc) http.Handler {
		return basicAuth(deps.Users, h)
	}
	adminAuth := func(h http.Handler) http.Handler {
		return basicAuth(deps.Users, requireAdmin(h))
	}
	loc := deps.Config.Location()

	// Health / readiness are unauthenticated probes.
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(deps.Store))

	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("GET /metrics", metricsHandler)
	} else {
		mux.Handle("GET /metrics", adminAuth(metricsHandler))
	}

	// Public redirect, rate limited per client IP.
	limiter := deps.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(deps.Config.RedirectRateLimit, defaultRateWindow)
	}
	mux.Handle("GET /go/{channel}", limiter.Middleware(handleRedirect(deps.Links, deps.Config.DefaultRedirectURL)))

	// Dashboard API (any account).
	mux.Handle("POST /api/upload", auth(handleUpload(deps.Uploader)))
	mux.Handle("GET /api/overview", auth(handleOverview(deps.Analytics)))
	mux.Handle("GET /api/growth", auth(handleGrowth(deps.Analytics)))
	mux.Handle("GET /api/revenue", auth(handleRevenue(deps.Analytics)))
	mux.Handle("GET /api/referrals", auth(handleReferrals(deps.Analytics)))
	mux.Handle("GET /api/churn", auth(handleChurn(deps.Analytics)))
	mux.Handle("GET /api/forecast", auth(handleForecast(deps.Analytics)))
	mux.Handle("GET /api/members", auth(handleMembers(deps.Analytics)))
	mux.Handle("GET /api/history", auth(handleHistory(deps.Analytics)))
	mux.Handle("GET /api/clicks", auth(handleClicks(deps.Analytics)))

	mux.Handle("GET /api/export/clicks.csv", auth(handleExportClicks(deps.Store, loc)))
	mux.Handle("GET /api/export/members.csv", auth(handleExportMembers(deps.Store, loc)))
	mux.Handle("GET /api/report.pdf", auth(handleReportPDF(deps.Analytics, loc)))

	mux.Handle("GET /api/links", auth(handleListLinks(deps.Links)))
	mux.Handle("POST /api/links", auth(handleCreateLink(deps.Links)))
	mux.Handle("DELETE /api/links/{id}", auth(handleDeleteLink(deps.Links)))

	mux.Handle("GET /api/me", auth(handleMe))
	mux.Handle("POST /api/me/password", auth(handleChangeOwnPassword(deps.Users)))

	// Account management (admin only).
	mux.Handle("GET /api/users", adminAuth(handleListUsers(deps.Users)))
	mux.Handle("POST /api/users", adminAuth(handleCreateUser(deps.Users)))
	mux.Handle("PUT /api/users/{id}/password", adminAuth(handleSetUserPassword(deps.Users)))
	mux.Handle("DELETE /api/users/{id}", adminAuth(handleDeleteUser(deps.Users)))
}

// Handler returns the fully wrapped application handler.
func Handler(deps *Deps) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	return securityHeaders(withClientIP(deps.Config.ProxyPrefixes(), requestLogger(mux)))
}
