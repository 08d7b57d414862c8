package agent_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
)

func sourcePack(conf float64, sources ...domain.SourceItem) string {
	raw, _ := json.Marshal(domain.SourcePack{
		Sources:         sources,
		ComplianceNotes: "All sources verified public domain.",
		ConfidenceScore: conf,
	})
	return string(raw)
}

func TestSourceAssetsCompletesOnCompliantPack(t *testing.T) {
	env := newAgentEnv(t)
	task := env.task(t, domain.AgentAssetSourcing)
	env.Gen.responses = []string{sourcePack(8,
		domain.SourceItem{Type: "ebook", URL: "https://www.gutenberg.org/ebooks/100", License: "public domain", QualityScore: 9},
		domain.SourceItem{Type: "dataset", URL: "https://data.gov/budget", License: "CC0", QualityScore: 8},
	)}

	pack, res, err := env.Agents.SourceAssets(env.Ctx, task.ID, "productivity planners", "premium bundle")
	if err != nil {
		t.Fatalf("SourceAssets: %v", err)
	}
	if res.Status != domain.TaskCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	if pack.ConfidenceScore != 8 {
		t.Fatalf("confidence = %v, want 8", pack.ConfidenceScore)
	}
	if strings.Contains(pack.ComplianceNotes, "COMPLIANCE ISSUES") {
		t.Fatalf("unexpected compliance issues: %s", pack.ComplianceNotes)
	}
}

func TestSourceAssetsCapsConfidenceOnViolations(t *testing.T) {
	env := newAgentEnv(t)
	task := env.task(t, domain.AgentAssetSourcing)
	env.Gen.responses = []string{sourcePack(9,
		domain.SourceItem{Type: "image", URL: "https://randomblog.example/pic.png", License: "CC BY-NC 4.0"},
	)}

	pack, res, err := env.Agents.SourceAssets(env.Ctx, task.ID, "planners", "bundle")
	if err != nil {
		t.Fatalf("SourceAssets: %v", err)
	}
	// Capped confidence routes the pack to review instead of completing.
	if res.Status != domain.TaskNeedsApproval {
		t.Fatalf("status = %s, want needs_approval", res.Status)
	}
	if pack.ConfidenceScore != 5 {
		t.Fatalf("confidence = %v, want capped at 5", pack.ConfidenceScore)
	}
	if !strings.Contains(pack.ComplianceNotes, "not from an approved domain") {
		t.Fatalf("notes missing domain issue: %s", pack.ComplianceNotes)
	}
	if !strings.Contains(pack.ComplianceNotes, "Non-commercial license detected") {
		t.Fatalf("notes missing NC issue: %s", pack.ComplianceNotes)
	}
}

func TestSourceAssetsFlagsMissingAndShareAlikeLicenses(t *testing.T) {
	env := newAgentEnv(t)
	task := env.task(t, domain.AgentAssetSourcing)
	env.Gen.responses = []string{sourcePack(7,
		domain.SourceItem{Type: "ebook", URL: "https://archive.org/details/x", License: ""},
		domain.SourceItem{Type: "image", URL: "https://commons.wikimedia.org/wiki/File:Y.jpg", License: "CC BY-SA 4.0"},
	)}

	pack, _, err := env.Agents.SourceAssets(env.Ctx, task.ID, "planners", "bundle")
	if err != nil {
		t.Fatalf("SourceAssets: %v", err)
	}
	if !strings.Contains(pack.ComplianceNotes, "Source missing license information: https://archive.org/details/x") {
		t.Fatalf("notes missing license issue: %s", pack.ComplianceNotes)
	}
	if !strings.Contains(pack.ComplianceNotes, "Share-alike license detected") {
		t.Fatalf("notes missing SA issue: %s", pack.ComplianceNotes)
	}
}
