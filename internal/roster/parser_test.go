package roster

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/rosterwatch/internal/apperr"
)

const testBatch = "20240301_101500"

func TestParseSemicolonExport(t *testing.T) {
	data := "\xEF\xBB\xBFEmail;FirstName;LastName;Invited By;JoinedDate;Price;Recurring Interval;Tier;LTV\n" +
		"Alice@Example.com ;Alice;Martin;Bob Durand;2024-01-15 10:00:00;$29.00;month;Premium;$1,250.50\n" +
		"bob@example.com;Bob;Durand;;2023-11-02 08:30:00;;;Free;\n"

	rows, err := Parse([]byte(data), testBatch)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	alice := rows[0]
	assert.Equal(t, "alice@example.com", alice.Email)
	assert.False(t, alice.Placeholder)
	assert.Equal(t, "Alice", alice.FirstName)
	assert.Equal(t, "Bob Durand", alice.InvitedBy)
	assert.Equal(t, "2024-01-15 10:00:00", alice.JoinedAt)
	assert.True(t, alice.Price.Equal(decimal.RequireFromString("29")), "price = %s", alice.Price)
	assert.Equal(t, IntervalMonth, alice.Interval)
	assert.True(t, alice.LTV.Equal(decimal.RequireFromString("1250.50")), "ltv = %s", alice.LTV)

	bob := rows[1]
	assert.Equal(t, "", bob.InvitedBy)
	assert.True(t, bob.Price.IsZero())
	assert.True(t, bob.LTV.IsZero())
	assert.Equal(t, IntervalNone, bob.Interval)
	assert.Equal(t, "Free", bob.Tier)
}

func TestParseCommaDelimiterAndMissingColumns(t *testing.T) {
	data := "Email,FirstName,Price\r\ncarol@example.com,Carol,12\r\n"

	rows, err := Parse([]byte(data), testBatch)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "carol@example.com", rows[0].Email)
	assert.Equal(t, "Carol", rows[0].FirstName)
	assert.Equal(t, "", rows[0].LastName)
	assert.Equal(t, "", rows[0].JoinedAt)
	assert.True(t, rows[0].LTV.IsZero())
	assert.Equal(t, "12", rows[0].Price.String())
}

func TestParseColumnNamesAreCaseSensitive(t *testing.T) {
	data := "email,FirstName\nx@example.com,Xavier\n"

	rows, err := Parse([]byte(data), testBatch)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Placeholder, "lower-case email column must not be recognised")
}

func TestParsePlaceholderIdentities(t *testing.T) {
	data := "Email;FirstName\n;Anon1\nreal@example.com;Real\n;Anon2\n"

	rows, err := Parse([]byte(data), testBatch)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.True(t, rows[0].Placeholder)
	assert.Equal(t, "__NO_EMAIL_1_20240301_101500__", rows[0].Email)
	assert.False(t, rows[1].Placeholder)
	assert.True(t, rows[2].Placeholder)
	assert.Equal(t, "__NO_EMAIL_2_20240301_101500__", rows[2].Email)
	assert.True(t, IsPlaceholderEmail(rows[2].Email))

	other, err := Parse([]byte(data), "20240302_090000")
	require.NoError(t, err)
	assert.NotEqual(t, rows[0].Email, other[0].Email, "placeholders must differ across batches")
}

func TestParseLatin1Fallback(t *testing.T) {
	// "Zoé" and "Hélène" in ISO-8859-1.
	data := []byte("Email;FirstName;LastName\nzoe@example.com;Zo\xe9;H\xe9l\xe8ne\n")

	rows, err := Parse(data, testBatch)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Zoé", rows[0].FirstName)
	assert.Equal(t, "Hélène", rows[0].LastName)
}

func TestParseEmptyInput(t *testing.T) {
	for name, data := range map[string]string{
		"no bytes":    "",
		"whitespace":  "  \n\n",
		"header only": "Email;FirstName;LastName\n",
		"blank rows":  "Email;FirstName\n;\n ; \n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data), testBatch)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrEmptyInput), "got %v", err)
			assert.False(t, apperr.IsDecode(err))
		})
	}
}

func TestParseBinaryIsDecodeError(t *testing.T) {
	data := []byte("PK\x03\x04\x00\x00\x08\x00binary")

	_, err := Parse(data, testBatch)
	require.Error(t, err)
	assert.True(t, apperr.IsDecode(err), "got %v", err)
	assert.False(t, errors.Is(err, apperr.ErrEmptyInput))
}

func TestParseKeepsInputOrder(t *testing.T) {
	var b strings.Builder
	b.WriteString("Email;FirstName\n")
	emails := []string{"c@example.com", "a@example.com", "b@example.com"}
	for _, e := range emails {
		b.WriteString(e + ";x\n")
	}

	rows, err := Parse([]byte(b.String()), testBatch)
	require.NoError(t, err)
	for i, e := range emails {
		assert.Equal(t, e, rows[i].Email)
	}
}

func TestParseMoney(t *testing.T) {
	tests := map[string]string{
		"":           "0",
		"$29.99":     "29.99",
		"€ 1,200.00": "1200",
		"£5":         "5",
		"abc":        "0",
		"-12":        "0",
		"  7.5 ":     "7.5",
	}
	for in, want := range tests {
		got := ParseMoney(in)
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "ParseMoney(%q) = %s, want %s", in, got, want)
	}
}

func TestParseInterval(t *testing.T) {
	assert.Equal(t, IntervalMonth, ParseInterval("Month"))
	assert.Equal(t, IntervalMonth, ParseInterval("monthly"))
	assert.Equal(t, IntervalYear, ParseInterval("YEAR"))
	assert.Equal(t, IntervalYear, ParseInterval("annual"))
	assert.Equal(t, IntervalNone, ParseInterval(""))
	assert.Equal(t, IntervalNone, ParseInterval("weekly"))
}
