package agent_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
)

func briefsResponse(t *testing.T, briefs ...domain.OpportunityBrief) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"briefs": briefs})
	if err != nil {
		t.Fatalf("marshal briefs: %v", err)
	}
	return string(raw)
}

func TestDiscoverOpportunitiesFiltersInvalidBriefs(t *testing.T) {
	env := newAgentEnv(t)
	task := env.task(t, domain.AgentMarketIntel)
	env.Gen.responses = []string{briefsResponse(t,
		domain.OpportunityBrief{Niche: "productivity planners", ConfidenceScore: 8},
		domain.OpportunityBrief{Niche: "", ConfidenceScore: 9},
		domain.OpportunityBrief{Niche: "budget templates", ConfidenceScore: 12},
		domain.OpportunityBrief{Niche: "meal prep guides", ConfidenceScore: 6},
	)}

	briefs, res, err := env.Agents.DiscoverOpportunities(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("DiscoverOpportunities: %v", err)
	}
	if len(briefs) != 2 {
		t.Fatalf("briefs = %d, want 2 after filtering", len(briefs))
	}
	// Gates at the highest surviving confidence, 8, above the market
	// intel threshold of 7.
	if res.Status != domain.TaskCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	got, err := env.Agents.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.ConfidenceScore == nil || *got.ConfidenceScore != 8 {
		t.Fatalf("confidence = %v, want 8", got.ConfidenceScore)
	}
}

func TestDiscoverOpportunitiesFailsWithNoValidBriefs(t *testing.T) {
	env := newAgentEnv(t)
	task := env.task(t, domain.AgentMarketIntel)
	env.Gen.responses = []string{briefsResponse(t,
		domain.OpportunityBrief{Niche: "", ConfidenceScore: 8},
	)}

	_, res, err := env.Agents.DiscoverOpportunities(env.Ctx, task.ID)
	if err == nil || !strings.Contains(err.Error(), "no valid opportunity briefs") {
		t.Fatalf("err = %v", err)
	}
	if res.Status != domain.TaskFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
}

func TestDiscoverOpportunitiesLowConfidenceNeedsApproval(t *testing.T) {
	env := newAgentEnv(t)
	task := env.task(t, domain.AgentMarketIntel)
	env.Gen.responses = []string{briefsResponse(t,
		domain.OpportunityBrief{Niche: "meal prep guides", ConfidenceScore: 5},
	)}

	_, res, err := env.Agents.DiscoverOpportunities(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("DiscoverOpportunities: %v", err)
	}
	if res.Status != domain.TaskNeedsApproval {
		t.Fatalf("status = %s, want needs_approval", res.Status)
	}
	if res.ApprovalID == "" {
		t.Fatal("expected a pending approval id")
	}
}
