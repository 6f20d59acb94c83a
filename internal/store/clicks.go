package store

import (
	"context"
	"fmt"
)

// Click is one recorded redirect.
type Click struct {
	ID        int64  `json:"id"`
	Channel   string `json:"channel"`
	ClickedAt string `json:"clicked_at"`
	IPHash    string `json:"ip_hash"`
	UserAgent string `json:"user_agent"`
	Referer   string `json:"referer"`
}

// InsertClick appends c to the click log.
func (s *Store) InsertClick(ctx context.Context, c *Click) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO clicks (channel, clicked_at, ip_hash, user_agent, referer) VALUES (?, ?, ?, ?, ?)`,
		c.Channel, c.ClickedAt, c.IPHash, c.UserAgent, c.Referer,
	)
	if err != nil {
		return fmt.Errorf("insert click: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		c.ID = id
	}
	return nil
}

// ChannelCount is a click total for one channel.
type ChannelCount struct {
	Channel string `json:"channel"`
	Count   int    `json:"count"`
}

// DailyChannelCount is a click total for one channel on one day.
type DailyChannelCount struct {
	Day     string `json:"day"`
	Channel string `json:"channel"`
	Count   int    `json:"count"`
}

// ClicksByChannel totals clicks at or after since, busiest channel first.
func (s *Store) ClicksByChannel(ctx context.Context, since string) ([]ChannelCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel, COUNT(*) AS cnt FROM clicks
		WHERE clicked_at >= ? GROUP BY channel ORDER BY cnt DESC, channel`, since)
	if err != nil {
		return nil, fmt.Errorf("count clicks by channel: %w", err)
	}
	defer rows.Close()

	var out []ChannelCount
	for rows.Next() {
		var c ChannelCount
		if err := rows.Scan(&c.Channel, &c.Count); err != nil {
			return nil, fmt.Errorf("scan channel count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DailyClicks totals clicks per day and channel at or after since.
func (s *Store) DailyClicks(ctx context.Context, since string) ([]DailyChannelCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DATE(clicked_at) AS day, channel, COUNT(*) FROM clicks
		WHERE clicked_at >= ? GROUP BY day, channel ORDER BY day, channel`, since)
	if err != nil {
		return nil, fmt.Errorf("count daily clicks: %w", err)
	}
	defer rows.Close()

	var out []DailyChannelCount
	for rows.Next() {
		var c DailyChannelCount
		if err := rows.Scan(&c.Day, &c.Channel, &c.Count); err != nil {
			return nil, fmt.Errorf("scan daily clicks: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListClicks returns the click log, newest first.
func (s *Store) ListClicks(ctx context.Context) ([]*Click, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, channel, clicked_at, ip_hash, user_agent, referer
		FROM clicks ORDER BY clicked_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list clicks: %w", err)
	}
	defer rows.Close()

	var out []*Click
	for rows.Next() {
		var c Click
		if err := rows.Scan(&c.ID, &c.Channel, &c.ClickedAt, &c.IPHash, &c.UserAgent, &c.Referer); err != nil {
			return nil, fmt.Errorf("scan click: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
