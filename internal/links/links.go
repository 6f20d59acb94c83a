// Package links manages tracking links and resolves public redirects.
package links

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/rosterwatch/internal/apperr"
	"github.com/rcourtman/rosterwatch/internal/metrics"
	"github.com/rcourtman/rosterwatch/internal/roster"
	"github.com/rcourtman/rosterwatch/internal/store"
)

const (
	maxHeaderLen = 500
	ipHashLen    = 16
)

// Store is the persistence surface used by Service.
type Store interface {
	CreateLink(ctx context.Context, l *store.Link) error
	GetLinkByChannel(ctx context.Context, channel string) (*store.Link, error)
	ListLinks(ctx context.Context) ([]*store.Link, error)
	DeleteLink(ctx context.Context, id int64) (bool, error)
	InsertClick(ctx context.Context, c *store.Click) error
}

// CreateRequest carries the fields of a new tracking link.
type CreateRequest struct {
	Channel        string `json:"channel"`
	DestinationURL string `json:"destination_url"`
	UTMSource      string `json:"utm_source"`
	UTMCampaign    string `json:"utm_campaign"`
}

// Client identifies the visitor behind a redirect.
type Client struct {
	IP        string
	UserAgent string
	Referer   string
}

// View is a link as listed on the dashboard.
type View struct {
	*store.Link
	URL string `json:"url"`
}

// Service owns link CRUD and redirect resolution.
type Service struct {
	store       Store
	baseURL     string
	defaultDest string
	loc         *time.Location
	now         func() time.Time
}

// NewService returns a Service. baseURL prefixes public link URLs;
// defaultDest receives traffic for channels without a link.
func NewService(s Store, baseURL, defaultDest string, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:       s,
		baseURL:     strings.TrimRight(baseURL, "/"),
		defaultDest: defaultDest,
		loc:         loc,
		now:         time.Now,
	}
}

// NormalizeChannel lower-cases raw and keeps only letters, digits, '-' and '_'.
func NormalizeChannel(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Platform derives the platform label from a channel: the part before the
// first '-', or the whole channel.
func Platform(channel string) string {
	if i := strings.IndexByte(channel, '-'); i >= 0 {
		return channel[:i]
	}
	return channel
}

// Create validates req and stores a new link.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*View, error) {
	channel := NormalizeChannel(req.Channel)
	if channel == "" {
		return nil, apperr.Invalid("channel", "channel name is required")
	}
	dest := strings.TrimSpace(req.DestinationURL)
	if dest == "" {
		return nil, apperr.Invalid("destination_url", "destination URL is required")
	}
	if !strings.HasPrefix(strings.ToLower(dest), "http") {
		dest = "https://" + dest
	}
	if _, err := url.ParseRequestURI(dest); err != nil {
		return nil, apperr.Invalid("destination_url", "not a valid URL")
	}

	l := &store.Link{
		Channel:        channel,
		DestinationURL: dest,
		UTMSource:      strings.TrimSpace(req.UTMSource),
		UTMCampaign:    strings.TrimSpace(req.UTMCampaign),
		Platform:       Platform(channel),
		CreatedAt:      roster.FormatTimestamp(s.now().In(s.loc)),
	}
	if err := s.store.CreateLink(ctx, l); err != nil {
		if errors.Is(err, store.ErrDuplicateChannel) {
			return nil, apperr.Invalid("channel", fmt.Sprintf("channel %q already exists", channel))
		}
		return nil, err
	}

	log.Info().Str("channel", channel).Str("destination", dest).Msg("Tracking link created")
	return s.view(l), nil
}

// List returns every link with its click count and public URL.
func (s *Service) List(ctx context.Context) ([]*View, error) {
	links, err := s.store.ListLinks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*View, 0, len(links))
	for _, l := range links {
		out = append(out, s.view(l))
	}
	return out, nil
}

// Delete removes a link and its clicks.
func (s *Service) Delete(ctx context.Context, id int64) error {
	ok, err := s.store.DeleteLink(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("link", id)
	}
	log.Info().Int64("link_id", id).Msg("Tracking link deleted")
	return nil
}

// Resolve records a click on channel and returns where to send the visitor.
// The click is logged whether or not the channel has a link; a failure to
// log it does not block the redirect.
func (s *Service) Resolve(ctx context.Context, channel string, query url.Values, client Client) (string, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))

	click := &store.Click{
		Channel:   channel,
		ClickedAt: roster.FormatTimestamp(s.now().In(s.loc)),
		IPHash:    HashIP(client.IP),
		UserAgent: truncate(client.UserAgent, maxHeaderLen),
		Referer:   truncate(client.Referer, maxHeaderLen),
	}
	if err := s.store.InsertClick(ctx, click); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("Failed to record click")
	}

	link, err := s.store.GetLinkByChannel(ctx, channel)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("Failed to load tracking link, using default destination")
		link = nil
	}

	params := url.Values{}
	dest := s.defaultDest
	kind := "untracked"
	if link != nil {
		dest = link.DestinationURL
		kind = "tracked"
		if link.UTMSource != "" {
			params.Set("utm_source", link.UTMSource)
		}
		if link.UTMCampaign != "" {
			params.Set("utm_campaign", link.UTMCampaign)
		}
	}
	for k, v := range query {
		if strings.HasPrefix(k, "utm_") && len(v) > 0 {
			params.Set(k, v[0])
		}
	}
	metrics.RedirectClicksTotal.WithLabelValues(kind).Inc()

	return withParams(dest, params)
}

// HashIP returns the truncated SHA-256 of ip used in the click log.
func HashIP(ip string) string {
	if ip == "" {
		ip = "unknown"
	}
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])[:ipHashLen]
}

func withParams(dest string, params url.Values) (string, error) {
	if len(params) == 0 {
		return dest, nil
	}
	u, err := url.Parse(dest)
	if err != nil {
		return "", fmt.Errorf("parse destination %q: %w", dest, err)
	}
	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Service) view(l *store.Link) *View {
	return &View{Link: l, URL: s.baseURL + "/go/" + l.Channel}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
