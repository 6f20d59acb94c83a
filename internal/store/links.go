package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Link maps a channel token to a redirect destination.
type Link struct {
	ID             int64  `json:"id"`
	Channel        string `json:"channel"`
	DestinationURL string `json:"destination_url"`
	UTMSource      string `json:"utm_source"`
	UTMCampaign    string `json:"utm_campaign"`
	Platform       string `json:"platform"`
	CreatedAt      string `json:"created_at"`
	Clicks         int    `json:"clicks"`
}

// ErrDuplicateChannel is returned by CreateLink when the channel is taken.
var ErrDuplicateChannel = errors.New("channel already exists")

// CreateLink inserts l and sets its ID.
func (s *Store) CreateLink(ctx context.Context, l *Link) error {
	if l == nil {
		return fmt.Errorf("link is nil")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tracking_links (channel, destination_url, utm_source, utm_campaign, platform, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.Channel, l.DestinationURL, l.UTMSource, l.UTMCampaign, l.Platform, l.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateChannel
		}
		return fmt.Errorf("create link: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		l.ID = id
	}
	return nil
}

// GetLinkByChannel returns the link for channel, or nil when untracked.
func (s *Store) GetLinkByChannel(ctx context.Context, channel string) (*Link, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id, channel, destination_url, utm_source, utm_campaign, platform, created_at, 0
		FROM tracking_links WHERE channel = ?`, channel)
	return scanLink(row)
}

// ListLinks returns every link, newest first, with its total click count.
func (s *Store) ListLinks(ctx context.Context) ([]*Link, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		l.id, l.channel, l.destination_url, l.utm_source, l.utm_campaign, l.platform, l.created_at,
		(SELECT COUNT(*) FROM clicks c WHERE c.channel = l.channel)
		FROM tracking_links l ORDER BY l.created_at DESC, l.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var links []*Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// DeleteLink removes the link and every click recorded for its channel.
// It reports false when no link has that id.
func (s *Store) DeleteLink(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete link tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var channel string
	if err := tx.QueryRowContext(ctx, `SELECT channel FROM tracking_links WHERE id = ?`, id).Scan(&channel); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load link %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM clicks WHERE channel = ?`, channel); err != nil {
		return false, fmt.Errorf("delete link clicks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tracking_links WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("delete link: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete link tx: %w", err)
	}
	return true, nil
}

func scanLink(s scanner) (*Link, error) {
	var l Link
	err := s.Scan(&l.ID, &l.Channel, &l.DestinationURL, &l.UTMSource, &l.UTMCampaign, &l.Platform, &l.CreatedAt, &l.Clicks)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan link: %w", err)
	}
	return &l, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
