package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Hash.Size != 16 {
		t.Fatalf("hash size = %d, want 16", cfg.Hash.Size)
	}
	if cfg.Matcher.TopK != 5 {
		t.Fatalf("top_k = %d, want 5", cfg.Matcher.TopK)
	}
	if cfg.WorkerCount() <= 0 {
		t.Fatalf("worker count = %d, want positive", cfg.WorkerCount())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Matcher.HighConfidence != 15 {
		t.Fatalf("high confidence = %v, want 15", cfg.Matcher.HighConfidence)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[matcher]
top_k = 3
excluded_set_prefixes = ["P-A"]

[hash]
size = 8
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Matcher.TopK != 3 {
		t.Fatalf("top_k = %d, want 3", cfg.Matcher.TopK)
	}
	if len(cfg.Matcher.ExcludedSetPrefixes) != 1 || cfg.Matcher.ExcludedSetPrefixes[0] != "P-A" {
		t.Fatalf("prefixes = %v", cfg.Matcher.ExcludedSetPrefixes)
	}
	if cfg.Hash.Size != 8 {
		t.Fatalf("hash size = %d, want 8", cfg.Hash.Size)
	}
	// Untouched sections keep defaults.
	if cfg.Embedding.HighSimilarity != 0.90 {
		t.Fatalf("high similarity = %v, want 0.90", cfg.Embedding.HighSimilarity)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[matcher]\nbogus = 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"hash size", func(c *Config) { c.Hash.Size = 12 }, "hash.size"},
		{"top k", func(c *Config) { c.Matcher.TopK = 0 }, "top_k"},
		{"empty prefix", func(c *Config) { c.Matcher.ExcludedSetPrefixes = []string{" "} }, "excluded_set_prefixes"},
		{"margin", func(c *Config) { c.Matcher.MinMargin = -1 }, "min_margin"},
		{"thresholds", func(c *Config) { c.Matcher.MedConfidence = 1 }, "confidence"},
		{"workers", func(c *Config) { c.Batch.Workers = -2 }, "workers"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestWriteSampleParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config invalid: %v", err)
	}
}
