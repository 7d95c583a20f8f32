package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WORKERS", "0")
	t.Setenv("BAND_TOLERANCE", "not-a-number")
	t.Setenv("FILE_TIMEOUT_SEC", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 1 {
		t.Fatalf("workers=%d", cfg.Workers)
	}
	if cfg.BandTolerance != 2.5 {
		t.Fatalf("band tolerance=%v", cfg.BandTolerance)
	}
	if cfg.FileTimeout() != 30*time.Second {
		t.Fatalf("timeout=%v", cfg.FileTimeout())
	}
}

func TestGetEnvBool(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"yes", true},
		{"ON", true},
		{"0", false},
		{"off", false},
		{"maybe", true},
	}
	for _, tc := range cases {
		t.Run(tc.value, func(t *testing.T) {
			t.Setenv("LISTENER_AUTO_EXPORT", tc.value)
			if got := getEnvBool("LISTENER_AUTO_EXPORT", true); got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestRequire(t *testing.T) {
	var cfg Config
	if err := cfg.Require("TABLES_URL", "  "); err == nil {
		t.Fatal("expected error for blank value")
	}
	if err := cfg.Require("TABLES_URL", "https://example.test/tables.yaml"); err != nil {
		t.Fatal(err)
	}
}
