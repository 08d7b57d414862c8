package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ThunderOpsAI/product-automation-engine/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Pipeline.MaxNiches != 3 {
		t.Fatalf("max niches = %d", cfg.Pipeline.MaxNiches)
	}
	if cfg.Pipeline.StaleTaskMinutes != 60 {
		t.Fatalf("stale task minutes = %d", cfg.Pipeline.StaleTaskMinutes)
	}
	if cfg.Experiments.PriceChangeCapPct != 20 {
		t.Fatalf("price cap = %v", cfg.Experiments.PriceChangeCapPct)
	}
	if cfg.Experiments.ApprovalPriority != 8 {
		t.Fatalf("approval priority = %d", cfg.Experiments.ApprovalPriority)
	}
	if len(cfg.Listing.Platforms) != 2 {
		t.Fatalf("platforms = %v", cfg.Listing.Platforms)
	}
	if cfg.Limits.PerService["gemini"] != 30 {
		t.Fatalf("gemini limit = %d", cfg.Limits.PerService["gemini"])
	}
	if cfg.Notify.DigestHourUTC != 6 {
		t.Fatalf("digest hour = %d", cfg.Notify.DigestHourUTC)
	}
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		old     string
		new     string
		message string
	}{
		{"zero cap", "price_change_cap_pct: 20", "price_change_cap_pct: 0", "price_change_cap_pct"},
		{"bad priority", "approval_priority: 8", "approval_priority: 11", "approval_priority"},
		{"unknown platform", "platforms: [gumroad, etsy]", "platforms: [gumroad, ebay]", "unknown platform"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := strings.Replace(config.GenerateDefault(), tc.old, tc.new, 1)
			_, err := config.FromYAML([]byte(raw))
			if err == nil || !strings.Contains(err.Error(), tc.message) {
				t.Fatalf("err = %v, want %q", err, tc.message)
			}
		})
	}
}

func TestLoadFallsBackToDefaultWhenFileMissing(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.MaxNiches != 3 {
		t.Fatalf("max niches = %d, want default", cfg.Pipeline.MaxNiches)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	workspace := t.TempDir()
	raw := strings.Replace(config.GenerateDefault(), "max_niches: 3", "max_niches: 5", 1)
	if err := os.WriteFile(filepath.Join(workspace, "factory.yml"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.MaxNiches != 5 {
		t.Fatalf("max niches = %d, want 5 from file", cfg.Pipeline.MaxNiches)
	}
}
