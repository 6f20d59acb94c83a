package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rcourtman/rosterwatch/internal/analytics"
	"github.com/rcourtman/rosterwatch/internal/apperr"
	"github.com/rcourtman/rosterwatch/internal/ingest"
	"github.com/rcourtman/rosterwatch/internal/links"
	"github.com/rcourtman/rosterwatch/internal/logging"
	"github.com/rcourtman/rosterwatch/internal/report"
	"github.com/rcourtman/rosterwatch/internal/roster"
	"github.com/rcourtman/rosterwatch/internal/store"
	"github.com/rcourtman/rosterwatch/internal/users"
)

const (
	maxUploadBytes = 32 << 20
	maxJSONBody    = 1 << 20
	uploadField    = "csvfile"
)

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReadyz(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func handleRedirect(svc *links.Service, fallback string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dest, err := svc.Resolve(r.Context(), r.PathValue("channel"), r.URL.Query(), links.Client{
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
			Referer:   r.Referer(),
		})
		if err != nil {
			logger := logging.FromContext(r.Context())
			logger.Warn().Err(err).Msg("Redirect destination unusable, using default")
			dest = fallback
		}
		http.Redirect(w, r, dest, http.StatusFound)
	}
}

func handleUpload(up *ingest.Uploader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		data, err := readUpload(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		res, err := up.Upload(r.Context(), data)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// readUpload accepts either a multipart form with a csvfile part or the raw
// export as the request body.
func readUpload(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, uploadReadError(err)
		}
		return data, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, uploadReadError(err)
	}
	f, _, err := r.FormFile(uploadField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, apperr.Invalid(uploadField, "no file uploaded")
		}
		return nil, uploadReadError(err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, uploadReadError(err)
	}
	return data, nil
}

func uploadReadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.Invalid(uploadField, fmt.Sprintf("file exceeds %d bytes", tooLarge.Limit))
	}
	return apperr.Invalid(uploadField, err.Error())
}

func handleOverview(svc *analytics.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.Overview(r.Context())
		respond(w, r, v, err)
	}
}

func handleGrowth(svc *analytics.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group := store.ParseGrouping(r.URL.Query().Get("group"))
		v, err := svc.Growth(r.Context(), group)
		respond(w, r, v, err)
	}
}

func handleRevenue(svc *analytics.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.Revenue(r.Context())
		respond(w, r, v, err)
	}
}

func handleReferrals(svc *analytics.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.Referrals(r.Context())
		respond(w, r, v, err)
	}
}

func handleChurn(svc *analytics.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.Churn(r.Context())
		respond(w, r, v, err)
	}
}

func handleForecast(svc *analytics.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		months := queryInt(r, "months", analytics.DefaultForecastMonths)
		v, err := svc.Forecast(r.Context(), months)
		respond(w, r, v, err)
	}
}

func handleMembers(svc *analytics.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := store.MemberQuery{
			Search: strings.TrimSpace(q.Get("search")),
			Sort:   store.ParseSortField(q.Get("sort")),
			Order:  store.ParseSortOrder(q.Get("order")),
		}
		switch roster.Status(strings.ToLower(q.Get("status"))) {
		case roster.StatusActive:
			query.Status = roster.StatusActive
		case roster.StatusChurned:
			query.Status = roster.StatusChurned
		}
		v, err := svc.Members(r.Context(), query)
		respond(w, r, v, err)
	}
}

func handleHistory(svc *analytics.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.History(r.Context())
		respond(w, r, v, err)
	}
}

func handleClicks(svc *analytics.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := queryInt(r, "days", analytics.DefaultClickDays)
		v, err := svc.Clicks(r.Context(), days)
		respond(w, r, v, err)
	}
}

func handleExportClicks(st *store.Store, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clicks, err := st.ListClicks(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		data, err := report.ClicksCSV(clicks)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeAttachment(w, "text/csv; charset=utf-8", datedName("clicks", "csv", loc), data)
	}
}

func handleExportMembers(st *store.Store, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		members, err := st.AllMembers(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		data, err := report.MembersCSV(members)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeAttachment(w, "text/csv; charset=utf-8", datedName("members", "csv", loc), data)
	}
}

func handleReportPDF(svc *analytics.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overview, err := svc.Overview(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		history, err := svc.History(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		data, err := report.SummaryPDF(report.Summary{
			GeneratedAt: time.Now().In(loc),
			Overview:    overview,
			History:     history,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeAttachment(w, "application/pdf", datedName("report", "pdf", loc), data)
	}
}

func handleListLinks(svc *links.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.List(r.Context())
		respond(w, r, v, err)
	}
}

func handleCreateLink(svc *links.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req links.CreateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		v, err := svc.Create(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	}
}

func handleDeleteLink(svc *links.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := svc.Delete(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}

func handleChangeOwnPassword(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OldPassword string `json:"old_password"`
			NewPassword string `json:"new_password"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := svc.ChangeOwnPassword(r.Context(), currentUser(r).ID, req.OldPassword, req.NewPassword); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func handleListUsers(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.List(r.Context())
		respond(w, r, v, err)
	}
}

func handleCreateUser(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Role     string `json:"role"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		u, err := svc.Create(r.Context(), req.Username, req.Password, req.Role)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, u)
	}
}

func handleSetUserPassword(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req struct {
			Password string `json:"password"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := svc.ChangePassword(r.Context(), id, req.Password); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func handleDeleteUser(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := svc.Delete(r.Context(), currentUser(r).ID, id); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// respond writes v as JSON, or the mapped error when err is set.
func respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("id", "must be a positive integer")
	}
	return id, nil
}

func datedName(prefix, ext string, loc *time.Location) string {
	return fmt.Sprintf("%s_%s.%s", prefix, time.Now().In(loc).Format("20060102"), ext)
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
