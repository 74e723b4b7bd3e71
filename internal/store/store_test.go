package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nao1215/linkscout/internal/model"
)

func TestSiteKey(t *testing.T) {
	t.Parallel()

	a := SiteKey("Example.com")
	b := SiteKey(" example.com ")
	if a != b {
		t.Errorf("SiteKey should ignore case and spaces: %q != %q", a, b)
	}
	if len(a) != 32 {
		t.Errorf("len(SiteKey) = %d, want 32", len(a))
	}
	if SiteKey("example.org") == a {
		t.Error("different sites share a key")
	}

	if SiteKey("Example.COM/Blog") != SiteKey("example.com/Blog") {
		t.Error("SiteKey should ignore the case of the host")
	}
	if SiteKey("example.com/Blog") == SiteKey("example.com/blog") {
		t.Error("paths differing in case share a key")
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{Backend: "mongo"})
	if !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Open() error = %v, want ErrUnknownBackend", err)
	}
}

func TestOpen_DefaultsToSQLite(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), Config{DSN: t.TempDir()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*sqlStore); !ok {
		t.Errorf("Open() = %T, want *sqlStore", s)
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	q := "SELECT a FROM t WHERE x = ? AND y = ?"
	if got := (&sqlStore{}).rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
	want := "SELECT a FROM t WHERE x = $1 AND y = $2"
	if got := (&sqlStore{dollar: true}).rebind(q); got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}

// checkpointFixture returns a checkpoint with one record per state.
func checkpointFixture(site string) model.Checkpoint {
	return model.Checkpoint{
		Site:      site,
		SessionID: "session-1",
		SavedAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Records: []model.URLRecord{
			{URL: "https://" + site + "/", State: model.StateVisited, FirstSeenOrder: 0},
			{URL: "https://" + site + "/a", State: model.StatePending, Attempts: 1,
				NextEligibleAt: time.Date(2025, 3, 1, 12, 0, 5, 0, time.UTC), DiscoveredFrom: "https://" + site + "/", FirstSeenOrder: 1},
			{URL: "https://" + site + "/gone", State: model.StateFailedPermanent, LastError: "http status 404", FirstSeenOrder: 2},
		},
	}
}

func summaryFixture(id, site string, started time.Time) *model.CrawlSummary {
	return &model.CrawlSummary{
		SessionID:   id,
		Site:        site,
		StartURL:    "https://" + site + "/",
		StartedAt:   started,
		FinishedAt:  started.Add(time.Minute),
		Termination: model.TerminationDrained,
		Visited:     10,
		Failed:      1,
		Discovered:  11,
	}
}

// storeContract runs the behavior every backend must share.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing checkpoint", func(t *testing.T) {
		if _, err := s.LoadCheckpoint(ctx, "nothing.example"); !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadCheckpoint() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("checkpoint round trip and overwrite", func(t *testing.T) {
		cp := checkpointFixture("example.com")
		if err := s.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("SaveCheckpoint() error = %v", err)
		}
		got, err := s.LoadCheckpoint(ctx, "EXAMPLE.com")
		if err != nil {
			t.Fatalf("LoadCheckpoint() error = %v", err)
		}
		if got.SessionID != "session-1" || len(got.Records) != 3 {
			t.Fatalf("unexpected checkpoint: %+v", got)
		}
		if !got.SavedAt.Equal(cp.SavedAt) {
			t.Errorf("SavedAt = %v, want %v", got.SavedAt, cp.SavedAt)
		}
		r := got.Records[1]
		if r.State != model.StatePending || r.Attempts != 1 || !r.NextEligibleAt.Equal(cp.Records[1].NextEligibleAt) {
			t.Errorf("record not preserved: %+v", r)
		}

		cp.SessionID = "session-2"
		cp.Records = cp.Records[:1]
		if err := s.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("SaveCheckpoint() overwrite error = %v", err)
		}
		got, err = s.LoadCheckpoint(ctx, "example.com")
		if err != nil {
			t.Fatalf("LoadCheckpoint() error = %v", err)
		}
		if got.SessionID != "session-2" || len(got.Records) != 1 {
			t.Errorf("checkpoint not replaced: %+v", got)
		}
	})

	t.Run("delete checkpoint", func(t *testing.T) {
		if err := s.SaveCheckpoint(ctx, checkpointFixture("delete.example")); err != nil {
			t.Fatalf("SaveCheckpoint() error = %v", err)
		}
		if err := s.DeleteCheckpoint(ctx, "delete.example"); err != nil {
			t.Fatalf("DeleteCheckpoint() error = %v", err)
		}
		if _, err := s.LoadCheckpoint(ctx, "delete.example"); !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadCheckpoint() after delete error = %v", err)
		}
		if err := s.DeleteCheckpoint(ctx, "delete.example"); err != nil {
			t.Errorf("DeleteCheckpoint() of missing checkpoint error = %v", err)
		}
	})

	t.Run("empty site is rejected", func(t *testing.T) {
		if err := s.SaveCheckpoint(ctx, model.Checkpoint{}); !errors.Is(err, ErrEmptySite) {
			t.Errorf("SaveCheckpoint() error = %v, want ErrEmptySite", err)
		}
	})

	t.Run("session history", func(t *testing.T) {
		base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
		for i, sum := range []*model.CrawlSummary{
			summaryFixture("s1", "history.example", base),
			summaryFixture("s2", "history.example", base.Add(time.Hour)),
			summaryFixture("s3", "other.example", base.Add(2*time.Hour)),
		} {
			if err := s.SaveSession(ctx, sum); err != nil {
				t.Fatalf("SaveSession(%d) error = %v", i, err)
			}
		}

		got, err := s.ListSessions(ctx, "history.example", 0)
		if err != nil {
			t.Fatalf("ListSessions() error = %v", err)
		}
		if len(got) != 2 || got[0].SessionID != "s2" || got[1].SessionID != "s1" {
			t.Fatalf("ListSessions(site) = %+v", got)
		}
		if got[0].Termination != model.TerminationDrained || got[0].Visited != 10 {
			t.Errorf("session fields not preserved: %+v", got[0])
		}

		all, err := s.ListSessions(ctx, "", 0)
		if err != nil {
			t.Fatalf("ListSessions(all) error = %v", err)
		}
		if len(all) < 3 || all[0].SessionID != "s3" {
			t.Errorf("ListSessions(all) = %+v", all)
		}

		limited, err := s.ListSessions(ctx, "", 1)
		if err != nil {
			t.Fatalf("ListSessions(limit) error = %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("len(ListSessions(limit=1)) = %d", len(limited))
		}
	})
}
