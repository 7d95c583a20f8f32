package catalog

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aala/internal/config"
	"aala/internal/storage"
	"aala/internal/tables"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

const remoteTables = `
version: remote-7
countries:
  - {name: Germany, codes: [G]}
  - {name: Japan, codes: [J]}
manufacturer_aliases:
  - {canonical: Acme, variants: [Acme Motor Co]}
layouts:
  default: {manufacturer: 0, engine: 1}
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, _ := config.Load()
	cfg.TablesURL = "https://example.test/aala/tables.yaml"
	cfg.TablesToken = "test"
	cfg.TablesRateLimitRPS = 1000
	cfg.TablesPath = filepath.Join(t.TempDir(), "tables.yaml")
	return cfg
}

func response(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: header}
}

func TestFetchTablesWithRetry(t *testing.T) {
	attempt := 0

	client := NewClient(testConfig(t))
	client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Path != "/aala/tables.yaml" {
				t.Fatalf("unexpected path %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer test" {
				t.Fatalf("missing auth header")
			}
			attempt++
			if attempt == 1 {
				return response(http.StatusServiceUnavailable, "busy", nil), nil
			}
			h := make(http.Header)
			h.Set("ETag", `"abc"`)
			return response(http.StatusOK, remoteTables, h), nil
		}),
	}

	res, err := client.FetchTables(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if attempt != 2 {
		t.Fatalf("attempts=%d", attempt)
	}
	if res.Tables.Version != "remote-7" || res.ETag != `"abc"` {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestFetchTablesRejectsInvalidDocument(t *testing.T) {
	client := NewClient(testConfig(t))
	client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return response(http.StatusOK, "countries: []\n", nil), nil
		}),
	}
	if _, err := client.FetchTables(context.Background(), ""); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestFetchTablesRequiresURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.TablesURL = ""
	if _, err := NewClient(cfg).FetchTables(context.Background(), ""); err == nil {
		t.Fatal("expected error for missing TABLES_URL")
	}
}

func TestSyncWritesTablesAndHonoursETag(t *testing.T) {
	cfg := testConfig(t)
	db, err := storage.Open(filepath.Join(t.TempDir(), "aala.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	calls := 0
	svc := NewSyncService(db, cfg)
	svc.client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			calls++
			if r.Header.Get("If-None-Match") == `"v1"` {
				return response(http.StatusNotModified, "", nil), nil
			}
			h := make(http.Header)
			h.Set("ETag", `"v1"`)
			return response(http.StatusOK, remoteTables, h), nil
		}),
	}

	res, err := svc.Sync(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Updated || res.Version != "remote-7" || res.Countries != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	loaded, err := tables.Load(cfg.TablesPath)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Version != "remote-7" {
		t.Fatalf("version=%s", loaded.Version)
	}

	res, err = svc.Sync(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped || calls != 1 {
		t.Fatalf("expected skip, got %+v calls=%d", res, calls)
	}

	res, err = svc.Sync(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated || calls != 2 {
		t.Fatalf("expected not-modified, got %+v calls=%d", res, calls)
	}
	if _, err := os.Stat(cfg.TablesPath); err != nil {
		t.Fatal(err)
	}
}

func TestIndexCanonical(t *testing.T) {
	idx := BuildIndex([]tables.Alias{
		{Canonical: "General Motors", Variants: []string{"GM LLC", "General Motors LLC"}},
		{Canonical: "Stellantis", Variants: []string{"FCA", "FCA US LLC"}},
		{Canonical: "Tesla", Variants: []string{"Tesla Inc"}},
	})

	cases := []struct {
		input string
		want  string
		ok    bool
	}{
		{"GM LLC", "General Motors", true},
		{"general motors llc", "General Motors", true},
		{"FCA US LLC", "Stellantis", true},
		{"FCA Italy S.p.A.", "Stellantis", true},
		{"FCAX Motors", "", false},
		{"Tesla Inc.", "Tesla", true},
		{"Tesla", "Tesla", true},
		{"Acme Motors", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			got, ok := idx.Canonical(tc.input)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("Canonical(%q)=%q,%v want %q,%v", tc.input, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestRateLimiterHonoursContext(t *testing.T) {
	limiter := NewRateLimiter(1)
	ctx, cancel := context.WithCancel(context.Background())
	if err := limiter.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestLoadTables(t *testing.T) {
	cfg := config.Config{OutputDir: t.TempDir()}

	defaults, err := LoadTables(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if defaults.Version != "2025.1" {
		t.Fatalf("expected embedded defaults, got %s", defaults.Version)
	}

	if err := os.WriteFile(filepath.Join(cfg.OutputDir, "tables.yaml"), []byte(remoteTables), 0o644); err != nil {
		t.Fatal(err)
	}
	synced, err := LoadTables(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if synced.Version != "remote-7" {
		t.Fatalf("expected synced tables, got %s", synced.Version)
	}

	cfg.TablesPath = filepath.Join(cfg.OutputDir, "missing.yaml")
	if _, err := LoadTables(cfg); err == nil {
		t.Fatal("expected error for missing TABLES_PATH")
	}
}
