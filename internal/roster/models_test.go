package roster

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMemberApplyPreservesJoinDate(t *testing.T) {
	m := NewMember(SnapshotRow{
		Email:    "a@example.com",
		JoinedAt: "2023-05-01 09:00:00",
		Price:    decimal.NewFromInt(10),
		LTV:      decimal.NewFromInt(40),
	}, "20240101_000000", "2024-01-01 00:00:00")

	reactivated := m.Apply(SnapshotRow{
		Email:    "a@example.com",
		JoinedAt: "2024-02-02 02:02:02",
		Price:    decimal.NewFromInt(12),
		LTV:      decimal.NewFromInt(52),
	}, "20240201_000000", "2024-02-01 00:00:00")

	if reactivated {
		t.Fatal("active member must not be reported as reactivated")
	}
	if m.JoinedAt != "2023-05-01 09:00:00" {
		t.Fatalf("joined_at changed to %q", m.JoinedAt)
	}
	if m.FirstSeenAt != "2024-01-01 00:00:00" {
		t.Fatalf("first_seen_at changed to %q", m.FirstSeenAt)
	}
	if m.LastSeenAt != "2024-02-01 00:00:00" || m.UploadBatch != "20240201_000000" {
		t.Fatalf("bookkeeping not stamped: %+v", m)
	}
	if !m.LTV.Equal(decimal.NewFromInt(52)) {
		t.Fatalf("ltv = %s, want 52", m.LTV)
	}
}

func TestMemberChurnAndReactivate(t *testing.T) {
	m := NewMember(SnapshotRow{Email: "b@example.com", Price: decimal.NewFromInt(9), LTV: decimal.NewFromInt(90)}, "b1", "t1")

	m.Churn("2024-03-01 12:00:00")
	if err := m.Validate(); err != nil {
		t.Fatalf("churned member invalid: %v", err)
	}
	if !m.Price.IsZero() {
		t.Fatalf("price = %s, want 0", m.Price)
	}
	if !m.LTV.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("ltv = %s, want 90 preserved", m.LTV)
	}

	if !m.Apply(SnapshotRow{Email: "b@example.com", Price: decimal.NewFromInt(9), LTV: decimal.NewFromInt(99)}, "b2", "t2") {
		t.Fatal("expected reactivation")
	}
	if m.Status != StatusActive || m.ChurnedAt != "" {
		t.Fatalf("member not reactivated: %+v", m)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("reactivated member invalid: %v", err)
	}
}

func TestMemberValidateRejectsBrokenInvariants(t *testing.T) {
	cases := []Member{
		{Email: "x", Status: StatusActive, ChurnedAt: "2024-01-01 00:00:00"},
		{Email: "x", Status: StatusChurned},
		{Email: "x", Status: StatusChurned, ChurnedAt: "2024-01-01 00:00:00", Price: decimal.NewFromInt(1)},
		{Email: "x", Status: "paused"},
	}
	for i, m := range cases {
		if err := m.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestBatchTokenAndPlaceholder(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	at := time.Date(2024, 3, 9, 7, 5, 3, 0, loc)

	if got := BatchToken(at); got != "20240309_070503" {
		t.Fatalf("BatchToken = %q", got)
	}
	if got := FormatTimestamp(at); got != "2024-03-09 07:05:03" {
		t.Fatalf("FormatTimestamp = %q", got)
	}
	if IsPlaceholderEmail("__no_email_1_x__") {
		t.Fatal("lower-case prefix must not be treated as placeholder")
	}
}
