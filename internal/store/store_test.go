package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcourtman/rosterwatch/internal/roster"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "rosterwatch.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedMembers(t *testing.T, s *Store, members ...*roster.Member) {
	t.Helper()
	err := s.InTx(context.Background(), func(tx roster.MemberTx) error {
		for _, m := range members {
			if err := tx.InsertMember(context.Background(), m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed members: %v", err)
	}
}

func member(email, joined string, price, ltv int64, interval roster.Interval) *roster.Member {
	return &roster.Member{
		Email:       email,
		FirstName:   email[:1],
		JoinedAt:    joined,
		Price:       decimal.NewFromInt(price),
		LTV:         decimal.NewFromInt(ltv),
		Interval:    interval,
		Status:      roster.StatusActive,
		FirstSeenAt: "2024-01-01 00:00:00",
		LastSeenAt:  "2024-01-01 00:00:00",
		UploadBatch: "20240101_000000",
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rosterwatch.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	_ = s.Close()
}

func TestInTxCommitsAndBumpsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	before, err := s.Version(ctx)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	seedMembers(t, s, member("a@example.com", "2024-01-05", 10, 20, roster.IntervalMonth))

	after, _ := s.Version(ctx)
	if after != before+1 {
		t.Fatalf("version = %d, want %d", after, before+1)
	}

	got, err := s.GetMember(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if got == nil || got.ID == 0 {
		t.Fatalf("member not persisted: %+v", got)
	}
	if !got.Price.Equal(decimal.NewFromInt(10)) || got.Interval != roster.IntervalMonth {
		t.Fatalf("unexpected member fields: %+v", got)
	}

	missing, err := s.GetMember(ctx, "nobody@example.com")
	if err != nil || missing != nil {
		t.Fatalf("GetMember(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMembers(t, s, member("keep@example.com", "2024-01-05", 10, 20, roster.IntervalMonth))
	version, _ := s.Version(ctx)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx roster.MemberTx) error {
		if err := tx.MarkChurned(ctx, "keep@example.com", "2024-02-01 00:00:00"); err != nil {
			return err
		}
		if err := tx.InsertMember(ctx, member("new@example.com", "2024-02-01", 0, 0, roster.IntervalNone)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx error = %v, want boom", err)
	}

	kept, _ := s.GetMember(ctx, "keep@example.com")
	if kept.Status != roster.StatusActive {
		t.Fatalf("churn leaked out of rolled back tx: %+v", kept)
	}
	if m, _ := s.GetMember(ctx, "new@example.com"); m != nil {
		t.Fatal("insert leaked out of rolled back tx")
	}
	if v, _ := s.Version(ctx); v != version {
		t.Fatalf("version moved on rollback: %d -> %d", version, v)
	}
}

func TestMemberTxOperations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ph := member(roster.PlaceholderEmail(1, "b1"), "2024-01-01", 0, 0, roster.IntervalNone)
	ph.Placeholder = true
	seedMembers(t, s,
		member("a@example.com", "2024-01-05", 10, 20, roster.IntervalMonth),
		member("b@example.com", "2024-01-06", 5, 5, roster.IntervalMonth),
		ph,
	)

	err := s.InTx(ctx, func(tx roster.MemberTx) error {
		emails, err := tx.ListActiveEmails(ctx)
		if err != nil {
			return err
		}
		if len(emails) != 2 {
			t.Errorf("active real emails = %v, want 2 entries", emails)
		}

		n, err := tx.PurgePlaceholders(ctx)
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("purged = %d, want 1", n)
		}

		if err := tx.MarkChurned(ctx, "b@example.com", "2024-03-01 00:00:00"); err != nil {
			return err
		}

		a, err := tx.GetMember(ctx, "a@example.com")
		if err != nil {
			return err
		}
		a.JoinedAt = "1999-01-01"
		a.Tier = "Gold"
		return tx.UpdateMember(ctx, a)
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}

	a, _ := s.GetMember(ctx, "a@example.com")
	if a.JoinedAt != "2024-01-05" {
		t.Fatalf("UpdateMember rewrote joined_at: %q", a.JoinedAt)
	}
	if a.Tier != "Gold" {
		t.Fatalf("tier = %q, want Gold", a.Tier)
	}

	b, _ := s.GetMember(ctx, "b@example.com")
	if b.Status != roster.StatusChurned || b.ChurnedAt == "" || !b.Price.IsZero() {
		t.Fatalf("churn not applied: %+v", b)
	}
	if !b.LTV.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("churn changed ltv: %s", b.LTV)
	}
	if err := b.Validate(); err != nil {
		t.Fatalf("churned member invalid: %v", err)
	}
}

func TestUpdateMemberUnknownEmail(t *testing.T) {
	s := newTestStore(t)
	err := s.InTx(context.Background(), func(tx roster.MemberTx) error {
		return tx.UpdateMember(context.Background(), member("ghost@example.com", "", 0, 0, roster.IntervalNone))
	})
	if err == nil {
		t.Fatal("expected error updating unknown member")
	}
}

func TestListMembersSearchSortAndFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMembers(t, s,
		member("anna@example.com", "2024-01-01", 10, 300, roster.IntervalMonth),
		member("bruno@example.com", "2024-02-01", 20, 100, roster.IntervalMonth),
		member("carla@sample.org", "2024-03-01", 5, 200, roster.IntervalMonth),
	)

	all, err := s.ListMembers(ctx, MemberQuery{})
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(all) != 3 || all[0].Email != "carla@sample.org" {
		t.Fatalf("default order should be joined_at desc, got %v", emailsOf(all))
	}

	byLTV, _ := s.ListMembers(ctx, MemberQuery{Sort: SortLTV, Order: OrderAsc})
	if got := emailsOf(byLTV); got[0] != "bruno@example.com" || got[2] != "anna@example.com" {
		t.Fatalf("ltv asc order = %v", got)
	}

	found, _ := s.ListMembers(ctx, MemberQuery{Search: "example.com"})
	if len(found) != 2 {
		t.Fatalf("search matched %v, want 2", emailsOf(found))
	}

	// An unrecognised sort value is coerced rather than interpolated.
	injected, err := s.ListMembers(ctx, MemberQuery{Sort: SortField("price; DROP TABLE members")})
	if err != nil || len(injected) != 3 {
		t.Fatalf("unexpected result for unknown sort field: %v, %v", injected, err)
	}

	seedChurn(t, s, "bruno@example.com")
	churned, _ := s.ListMembers(ctx, MemberQuery{Status: roster.StatusChurned})
	if len(churned) != 1 || churned[0].Email != "bruno@example.com" {
		t.Fatalf("status filter = %v", emailsOf(churned))
	}
}

func TestParseSortHelpers(t *testing.T) {
	if ParseSortField("LTV") != SortLTV || ParseSortField("email") != SortJoinedAt {
		t.Fatal("ParseSortField did not normalise")
	}
	if ParseSortOrder("asc") != OrderAsc || ParseSortOrder("sideways") != OrderDesc {
		t.Fatal("ParseSortOrder did not normalise")
	}
	if ParseGrouping("week") != GroupWeek || ParseGrouping("year") != GroupDay {
		t.Fatal("ParseGrouping did not normalise")
	}
}

func seedChurn(t *testing.T, s *Store, email string) {
	t.Helper()
	err := s.InTx(context.Background(), func(tx roster.MemberTx) error {
		return tx.MarkChurned(context.Background(), email, "2024-04-01 00:00:00")
	})
	if err != nil {
		t.Fatalf("churn %s: %v", email, err)
	}
}

func emailsOf(members []*roster.Member) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Email)
	}
	return out
}

func TestTransactionsFromSeparateHandlesSerialize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rosterwatch.db")
	handles := make([]*Store, 2)
	for i := range handles {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open handle %d: %v", i, err)
		}
		t.Cleanup(func() { _ = s.Close() })
		handles[i] = s
	}

	const perHandle = 10
	ctx := context.Background()
	errs := make(chan error, len(handles)*perHandle)
	var wg sync.WaitGroup
	for h, s := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perHandle; i++ {
				errs <- s.InTx(ctx, func(tx roster.MemberTx) error {
					if _, err := tx.ListActiveEmails(ctx); err != nil {
						return err
					}
					time.Sleep(time.Millisecond)
					email := fmt.Sprintf("h%d-%d@example.com", h, i)
					return tx.InsertMember(ctx, member(email, "2024-01-01 00:00:00", 0, 0, roster.IntervalNone))
				})
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("read-then-write transaction failed: %v", err)
		}
	}

	totals, err := handles[0].Totals(ctx)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.Total != len(handles)*perHandle {
		t.Fatalf("total members = %d, want %d", totals.Total, len(handles)*perHandle)
	}
}
