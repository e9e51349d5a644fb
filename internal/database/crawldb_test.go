package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/model"
)

func setupTestDB(t *testing.T, opts Options) *CrawlDB {
	t.Helper()

	db, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func successResult(url string) model.CrawlResult {
	return model.CrawlResult{
		URL:     url,
		Outcome: model.OutcomeSuccess,
		HTML:    "<html><title>ok</title>" + strings.Repeat("x", 600) + "</html>",
		Status:  200,
		Attempts: []model.AttemptReport{
			{Index: 0, Attempt: model.Direct(), Outcome: model.OutcomeFailure, Reason: "non-200 status: 503"},
			{Index: 1, Attempt: model.Public("http://10.0.0.1:8080"), Outcome: model.OutcomeSuccess, Status: 200},
		},
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates database in new directory", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "nested", "data")
		db, err := Open(dbDir, DefaultOptions())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer db.Close()

		if _, err := os.Stat(filepath.Join(dbDir, DBFileName)); err != nil {
			t.Errorf("database file was not created: %v", err)
		}
		if db.Path() != filepath.Join(dbDir, DBFileName) {
			t.Errorf("Path = %q", db.Path())
		}
	})

	t.Run("CreateIfNotExists=false fails when missing", func(t *testing.T) {
		t.Parallel()

		_, err := Open(t.TempDir(), Options{CreateIfNotExists: false})
		if err == nil {
			t.Fatal("expected error for missing database")
		}
		if !strings.Contains(err.Error(), "database not found") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("reopens existing database", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		db, err := Open(dir, DefaultOptions())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if _, err := db.SaveResult(context.Background(), successResult("https://example.com/"), "ok"); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
		_ = db.Close()

		db, err = Open(dir, Options{CreateIfNotExists: false})
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		defer db.Close()

		got, err := db.RecentResults(context.Background(), Query{})
		if err != nil {
			t.Fatalf("RecentResults: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("expected 1 persisted result, got %d", len(got))
		}
	})
}

func TestSaveAndGetResult(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := setupTestDB(t, DefaultOptions())

	result := successResult("https://Example.com/page")
	id, err := db.SaveResult(ctx, result, "Example")
	if err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, err := db.GetResult(ctx, id)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got == nil {
		t.Fatal("expected record")
	}

	if got.Host != "example.com" {
		t.Errorf("Host = %q, want lowercased example.com", got.Host)
	}
	if !got.Succeeded() || got.StatusCode != 200 {
		t.Errorf("Outcome = %q, Status = %d", got.Outcome, got.StatusCode)
	}
	if got.Title != "Example" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.HTML != result.HTML {
		t.Error("HTML should round-trip when StoreHTML is on")
	}
	if got.ContentHash != ContentHash(result.HTML) || len(got.ContentHash) != 64 {
		t.Errorf("ContentHash = %q", got.ContentHash)
	}
	if got.ContentLength != len(result.HTML) {
		t.Errorf("ContentLength = %d, want %d", got.ContentLength, len(result.HTML))
	}
	if got.Executed != 2 {
		t.Errorf("Executed = %d, want 2", got.Executed)
	}
	if len(got.Attempts) != 2 {
		t.Fatalf("Attempts = %d, want 2", len(got.Attempts))
	}
	if got.Attempts[1].Attempt.Proxy != "http://10.0.0.1:8080" || got.Attempts[1].Outcome != model.OutcomeSuccess {
		t.Errorf("second attempt = %+v", got.Attempts[1])
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp should be parsed")
	}
}

func TestGetResultMissing(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t, DefaultOptions())
	got, err := db.GetResult(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestSaveResultWithoutHTML(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	opts := DefaultOptions()
	opts.StoreHTML = false
	db := setupTestDB(t, opts)

	result := successResult("https://example.com/")
	id, err := db.SaveResult(ctx, result, "")
	if err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, err := db.GetResult(ctx, id)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.HTML != "" {
		t.Error("HTML should not be stored")
	}
	if got.ContentHash == "" {
		t.Error("hash should be stored even without the body")
	}
}

func TestRecentResults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := setupTestDB(t, DefaultOptions())

	results := []model.CrawlResult{
		successResult("https://a.example/1"),
		model.NewFailure("https://b.example/1", "non-200 status: 403"),
		successResult("https://a.example/2"),
		model.NewFailure("https://a.example/3", "content too short (<500 chars)"),
	}
	for _, r := range results {
		if _, err := db.SaveResult(ctx, r, ""); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}

	tests := []struct {
		name     string
		query    Query
		wantURLs []string
	}{
		{
			name:     "all newest first",
			query:    Query{},
			wantURLs: []string{"https://a.example/3", "https://a.example/2", "https://b.example/1", "https://a.example/1"},
		},
		{
			name:     "by host",
			query:    Query{Host: "A.EXAMPLE"},
			wantURLs: []string{"https://a.example/3", "https://a.example/2", "https://a.example/1"},
		},
		{
			name:     "failures only",
			query:    Query{OnlyFailures: true},
			wantURLs: []string{"https://a.example/3", "https://b.example/1"},
		},
		{
			name:     "limit",
			query:    Query{Limit: 1},
			wantURLs: []string{"https://a.example/3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := db.RecentResults(ctx, tt.query)
			if err != nil {
				t.Fatalf("RecentResults: %v", err)
			}
			if len(got) != len(tt.wantURLs) {
				t.Fatalf("got %d results, want %d", len(got), len(tt.wantURLs))
			}
			for i, rec := range got {
				if rec.URL != tt.wantURLs[i] {
					t.Errorf("result[%d] = %s, want %s", i, rec.URL, tt.wantURLs[i])
				}
				if rec.HTML != "" {
					t.Error("RecentResults should not load HTML")
				}
			}
		})
	}

	failures, _ := db.RecentResults(ctx, Query{OnlyFailures: true, Limit: 1})
	if len(failures) == 1 && failures[0].Reason != "content too short (<500 chars)" {
		t.Errorf("Reason = %q", failures[0].Reason)
	}
}

func TestHasRecentSuccessAndDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := setupTestDB(t, DefaultOptions())

	if _, err := db.SaveResult(ctx, successResult("https://example.com/"), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := db.SaveResult(ctx, model.NewFailure("https://example.com/fail", "boom"), ""); err != nil {
		t.Fatal(err)
	}

	ok, err := db.HasRecentSuccess(ctx, "https://example.com/", time.Hour)
	if err != nil {
		t.Fatalf("HasRecentSuccess: %v", err)
	}
	if !ok {
		t.Error("expected recent success")
	}

	ok, err = db.HasRecentSuccess(ctx, "https://example.com/fail", time.Hour)
	if err != nil {
		t.Fatalf("HasRecentSuccess: %v", err)
	}
	if ok {
		t.Error("a failure is not a recent success")
	}

	n, err := db.DeleteOlderThan(ctx, time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if n != 0 {
		t.Errorf("deleted %d fresh rows", n)
	}

	n, err = db.DeleteOlderThan(ctx, 0)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d rows, want 2", n)
	}
}

func TestContentHash(t *testing.T) {
	t.Parallel()

	if ContentHash("") != "" {
		t.Error("empty content should hash to empty string")
	}
	// SHA3-256("abc"), FIPS 202 test vector.
	want := "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"
	if got := ContentHash("abc"); got != want {
		t.Errorf("ContentHash(abc) = %s, want %s", got, want)
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		zero  bool
	}{
		{"2025-01-15 10:30:00", false},
		{"2025-01-15T10:30:00Z", false},
		{"2025-01-15T10:30:00.123456789Z", false},
		{"yesterday", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			if got := parseTimestamp(tt.input); got.IsZero() != tt.zero {
				t.Errorf("parseTimestamp(%q) = %v", tt.input, got)
			}
		})
	}
}
