package roster

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"

	"github.com/rcourtman/rosterwatch/internal/apperr"
)

// Export column names. Matching is exact and case-sensitive.
const (
	ColumnEmail     = "Email"
	ColumnFirstName = "FirstName"
	ColumnLastName  = "LastName"
	ColumnInvitedBy = "Invited By"
	ColumnJoinedAt  = "JoinedDate"
	ColumnPrice     = "Price"
	ColumnInterval  = "Recurring Interval"
	ColumnTier      = "Tier"
	ColumnLTV       = "LTV"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var moneyReplacer = strings.NewReplacer(
	"$", "",
	"€", "",
	"£", "",
	",", "",
	" ", "",
	"\u00a0", "",
)

// Parse decodes a roster export into snapshot rows, in file order.
// Email-less rows receive a placeholder identity scoped to batch.
//
// It returns apperr.ErrEmptyInput when the export has no data rows and a
// *apperr.DecodeError when the bytes cannot be read as CSV text.
func Parse(data []byte, batch string) ([]SnapshotRow, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.ErrEmptyInput
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = detectDelimiter(text)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperr.ErrEmptyInput
		}
		return nil, &apperr.DecodeError{Reason: "unreadable header", Err: err}
	}
	cols := indexColumns(header)

	var rows []SnapshotRow
	placeholders := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &apperr.DecodeError{Reason: "malformed record", Err: err}
		}
		if blankRecord(record) {
			continue
		}

		row := SnapshotRow{
			Email:     strings.ToLower(cols.get(record, ColumnEmail)),
			FirstName: cols.get(record, ColumnFirstName),
			LastName:  cols.get(record, ColumnLastName),
			InvitedBy: cols.get(record, ColumnInvitedBy),
			JoinedAt:  cols.get(record, ColumnJoinedAt),
			Price:     ParseMoney(cols.get(record, ColumnPrice)),
			Interval:  ParseInterval(cols.get(record, ColumnInterval)),
			Tier:      cols.get(record, ColumnTier),
			LTV:       ParseMoney(cols.get(record, ColumnLTV)),
		}
		if row.Email == "" {
			placeholders++
			row.Email = PlaceholderEmail(placeholders, batch)
			row.Placeholder = true
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, apperr.ErrEmptyInput
	}
	return rows, nil
}

// ParseMoney strips currency symbols, thousands separators and spaces and
// parses the rest. Empty, unparsable or negative amounts yield zero.
func ParseMoney(raw string) decimal.Decimal {
	cleaned := moneyReplacer.Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if bytes.IndexByte(data, 0) >= 0 {
		return "", &apperr.DecodeError{Reason: "binary content"}
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", &apperr.DecodeError{Reason: "latin-1 fallback", Err: err}
	}
	return string(decoded), nil
}

func detectDelimiter(text string) rune {
	header, _, _ := strings.Cut(text, "\n")
	if strings.Contains(header, ";") {
		return ';'
	}
	return ','
}

type columnIndex map[string]int

func indexColumns(header []string) columnIndex {
	cols := make(columnIndex, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	return cols
}

func (c columnIndex) get(record []string, column string) string {
	i, ok := c[column]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
