// Package report renders CSV exports and the PDF summary.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/rcourtman/rosterwatch/internal/roster"
	"github.com/rcourtman/rosterwatch/internal/store"
)

// Delimiter separates CSV export fields. Spreadsheet apps in the roster's
// locale expect semicolons.
const Delimiter = ';'

// ClicksCSV renders the click log.
func ClicksCSV(clicks []*store.Click) ([]byte, error) {
	rows := make([][]string, 0, len(clicks)+1)
	rows = append(rows, []string{"ID", "Channel", "Clicked At", "IP Hash", "User Agent", "Referer"})
	for _, c := range clicks {
		rows = append(rows, []string{
			strconv.FormatInt(c.ID, 10),
			c.Channel,
			c.ClickedAt,
			c.IPHash,
			c.UserAgent,
			c.Referer,
		})
	}
	return writeCSV(rows)
}

// MembersCSV renders members with their current snapshot fields.
func MembersCSV(members []*roster.Member) ([]byte, error) {
	rows := make([][]string, 0, len(members)+1)
	rows = append(rows, []string{
		"Email", "First Name", "Last Name", "Invited By", "Joined At",
		"Price", "Interval", "LTV", "Tier", "Status", "Churned At",
	})
	for _, m := range members {
		rows = append(rows, []string{
			m.Email,
			m.FirstName,
			m.LastName,
			m.InvitedBy,
			m.JoinedAt,
			m.Price.StringFixed(2),
			string(m.Interval),
			m.LTV.StringFixed(2),
			m.Tier,
			string(m.Status),
			m.ChurnedAt,
		})
	}
	return writeCSV(rows)
}

func writeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = Delimiter
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("CSV write error: %w", err)
	}
	return buf.Bytes(), nil
}
