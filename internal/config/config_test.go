package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"spectra-core/internal/config"
)

func writeConfig(t *testing.T, doc map[string]any) string {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func validDoc() map[string]any {
	return map[string]any{
		"accounts": []map[string]any{
			{
				"session_name": "acct1",
				"api_id":       12345,
				"api_hash":     "0123456789abcdef0123456789abcdef",
				"active":       true,
			},
		},
		"db_path":   "data/archive.db",
		"media_dir": "data/media",
	}
}

func TestLoadValid(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, validDoc())
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := len(cfg.ActiveAccounts()); got != 1 {
		t.Fatalf("ActiveAccounts() len = %d, want 1", got)
	}
	if got := cfg.GroupingOptions().Strategy; got != "none" {
		t.Fatalf("GroupingOptions().Strategy = %q, want %q", got, "none")
	}
}

func TestLoadRejectsUnsafePaths(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"dotdot", func(d map[string]any) { d["db_path"] = "../etc/archive.db" }},
		{"etc", func(d map[string]any) { d["db_path"] = "/etc/archive.db" }},
		{"empty", func(d map[string]any) { d["db_path"] = "" }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			doc := validDoc()
			tc.mutate(doc)
			path := writeConfig(t, doc)

			if _, err := config.Load(path); err == nil {
				t.Fatal("Load() error = nil, want a ConfigError")
			}
		})
	}
}

func TestLoadRejectsBadAccounts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"no accounts", func(d map[string]any) { d["accounts"] = []map[string]any{} }},
		{"bad api_hash", func(d map[string]any) {
			d["accounts"].([]map[string]any)[0]["api_hash"] = "not-hex"
		}},
		{"bad session name", func(d map[string]any) {
			d["accounts"].([]map[string]any)[0]["session_name"] = "has spaces"
		}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			doc := validDoc()
			tc.mutate(doc)
			path := writeConfig(t, doc)

			if _, err := config.Load(path); err == nil {
				t.Fatal("Load() error = nil, want a ConfigError")
			}
		})
	}
}

func TestOutOfRangeValuesFallBackWithWarning(t *testing.T) {
	t.Parallel()

	doc := validDoc()
	doc["batch"] = 999999
	doc["deduplication"] = map[string]any{"fuzzy_hash_similarity_threshold": 500}
	path := writeConfig(t, doc)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Warnings()) == 0 {
		t.Fatal("Warnings() is empty, want at least one warning for out-of-range batch/threshold")
	}
	if got := cfg.DeduplicationOptions().FuzzyHashSimilarityThreshold; got != 85 {
		t.Fatalf("FuzzyHashSimilarityThreshold = %d, want default 85", got)
	}
}

func TestPickAccountPrefersNamedAccount(t *testing.T) {
	t.Parallel()

	doc := validDoc()
	doc["accounts"] = []map[string]any{
		{"session_name": "a", "api_id": 1, "api_hash": "0123456789abcdef0123456789abcdef", "active": true},
		{"session_name": "b", "api_id": 2, "api_hash": "fedcba9876543210fedcba9876543210", "active": true},
	}
	path := writeConfig(t, doc)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	acc, err := cfg.PickAccount("b")
	if err != nil {
		t.Fatalf("PickAccount() error = %v", err)
	}
	if acc.SessionName != "b" {
		t.Fatalf("PickAccount(%q).SessionName = %q, want %q", "b", acc.SessionName, "b")
	}
}

func TestPickAccountMatchesByPhoneNumber(t *testing.T) {
	t.Parallel()

	doc := validDoc()
	doc["accounts"] = []map[string]any{
		{"session_name": "a", "api_id": 1, "api_hash": "0123456789abcdef0123456789abcdef", "phone_number": "+100", "active": true},
		{"session_name": "b", "api_id": 2, "api_hash": "fedcba9876543210fedcba9876543210", "phone_number": "+200", "active": true},
	}
	path := writeConfig(t, doc)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// storage's GetAllUniqueChannels returns a phone number, not a session
	// name, so PickAccount must match on either.
	acc, err := cfg.PickAccount("+200")
	if err != nil {
		t.Fatalf("PickAccount() error = %v", err)
	}
	if acc.SessionName != "b" {
		t.Fatalf("PickAccount(%q).SessionName = %q, want %q", "+200", acc.SessionName, "b")
	}
}

func TestFileSorterOptionsDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, validDoc())
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	opts := cfg.FileSorterOptions()
	if !opts.GroupCreationEnabled {
		t.Fatalf("GroupCreationEnabled = false, want true by default")
	}
	if opts.GroupCreationRateLimitSeconds != 60 {
		t.Fatalf("GroupCreationRateLimitSeconds = %d, want 60", opts.GroupCreationRateLimitSeconds)
	}
	if opts.GroupNamingTemplate == "" || opts.GroupDescriptionTemplate == "" {
		t.Fatalf("expected non-empty default templates, got %+v", opts)
	}
}
