package agent_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ThunderOpsAI/product-automation-engine/internal/agent"
	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
	"github.com/ThunderOpsAI/product-automation-engine/internal/repo"
)

func (env *agentEnv) liveListing(t *testing.T, id, productID string, views int) domain.Listing {
	t.Helper()
	l := domain.Listing{
		ID:         id,
		ProductID:  productID,
		Platform:   "gumroad",
		SEOTitle:   "Planner Bundle | 50 Templates",
		URL:        "https://gumroad.example/l/" + id,
		Status:     domain.ListingLive,
		ViewsTotal: views,
		CreatedAt:  env.Now.Format(time.RFC3339),
	}
	if err := env.Agents.Repo.InsertListing(env.Ctx, l); err != nil {
		t.Fatalf("insert listing: %v", err)
	}
	return l
}

func proposals(t *testing.T, exps ...domain.ExperimentProposal) string {
	t.Helper()
	raw, err := json.Marshal(domain.OptimizationOutput{Experiments: exps})
	if err != nil {
		t.Fatalf("marshal proposals: %v", err)
	}
	return string(raw)
}

func TestRunOptimizationNoEligibleListings(t *testing.T) {
	env := newAgentEnv(t)
	task := env.task(t, domain.AgentOptimization)

	out, res, err := env.Agents.RunOptimization(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("RunOptimization: %v", err)
	}
	if res.Status != domain.TaskCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	if len(out.Experiments) != 0 {
		t.Fatalf("experiments = %d, want 0", len(out.Experiments))
	}
	got, err := env.Agents.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if reason, _ := got.Output["reason"].(string); reason != "No listings with enough views yet" {
		t.Fatalf("reason = %q", reason)
	}
	if len(env.Gen.calls) != 0 {
		t.Fatal("generator called with no candidates")
	}
}

func TestRunOptimizationExcludesRunningAndCooldown(t *testing.T) {
	env := newAgentEnv(t)
	env.product(t, "prod_1")
	env.product(t, "prod_2")
	busy := env.liveListing(t, "lst_busy", "prod_1", 200)
	cooling := env.liveListing(t, "lst_cool", "prod_2", 200)

	started := env.Now.Add(-72 * time.Hour).Format(time.RFC3339)
	if err := env.Agents.Repo.InsertExperiment(env.Ctx, domain.Experiment{
		ID: "exp_running", ListingID: busy.ID, Type: domain.ExperimentPrice,
		Status: domain.ExperimentRunning, StartedAt: &started,
	}); err != nil {
		t.Fatalf("insert running experiment: %v", err)
	}
	ended := env.Now.Add(-48 * time.Hour).Format(time.RFC3339)
	if err := env.Agents.Repo.InsertExperiment(env.Ctx, domain.Experiment{
		ID: "exp_done", ListingID: cooling.ID, Type: domain.ExperimentTitle,
		Status: domain.ExperimentComplete, StartedAt: &started, EndedAt: &ended,
	}); err != nil {
		t.Fatalf("insert completed experiment: %v", err)
	}

	task := env.task(t, domain.AgentOptimization)
	_, _, err := env.Agents.RunOptimization(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("RunOptimization: %v", err)
	}
	got, err := env.Agents.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if reason, _ := got.Output["reason"].(string); reason != "All eligible listings have active experiments or are in cooldown" {
		t.Fatalf("reason = %q", reason)
	}
}

func TestRunOptimizationPriceCap(t *testing.T) {
	env := newAgentEnv(t)
	p := env.product(t, "prod_1")
	l := env.liveListing(t, "lst_1", p.ID, 200)

	env.Gen.responses = []string{proposals(t,
		domain.ExperimentProposal{
			ListingID: l.ID, Type: domain.ExperimentPrice,
			CurrentValue: 29.0, ProposedValue: 40.0,
			Hypothesis: "higher anchor", Priority: 4,
		},
		domain.ExperimentProposal{
			ListingID: l.ID, Type: domain.ExperimentPrice,
			CurrentValue: 29.0, ProposedValue: 33.0,
			Hypothesis: "modest raise", Priority: 4,
		},
	)}

	task := env.task(t, domain.AgentOptimization)
	out, _, err := env.Agents.RunOptimization(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("RunOptimization: %v", err)
	}
	if out.AutoApplied != 1 || out.NeedsApproval != 0 {
		t.Fatalf("auto_applied = %d, needs_approval = %d, want 1 and 0", out.AutoApplied, out.NeedsApproval)
	}

	// The $40 proposal breaks the 20% cap on the $29 product price;
	// the $33 one is admitted and applied as a running experiment.
	exps, err := env.Agents.Repo.ListExperiments(env.Ctx, repo.ExperimentFilters{ListingID: l.ID})
	if err != nil {
		t.Fatalf("list experiments: %v", err)
	}
	if len(exps) != 1 {
		t.Fatalf("experiments = %d, want 1", len(exps))
	}
	if exps[0].Status != domain.ExperimentRunning {
		t.Fatalf("experiment status = %s, want running", exps[0].Status)
	}

	got, err := env.Agents.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	raw, _ := json.Marshal(got.Output["rejected"])
	if !strings.Contains(string(raw), "exceeds ±20% cap ($23.20-$34.80)") {
		t.Fatalf("rejected output missing cap bounds: %s", raw)
	}
}

func TestRunOptimizationOneRunningExperimentPerListing(t *testing.T) {
	env := newAgentEnv(t)
	p := env.product(t, "prod_1")
	l := env.liveListing(t, "lst_1", p.ID, 200)

	env.Gen.responses = []string{proposals(t,
		domain.ExperimentProposal{
			ListingID: l.ID, Type: domain.ExperimentPrice,
			CurrentValue: 29.0, ProposedValue: 33.0,
			Hypothesis: "modest raise", Priority: 4,
		},
		domain.ExperimentProposal{
			ListingID: l.ID, Type: domain.ExperimentTitle,
			CurrentValue: "old title", ProposedValue: "new title",
			Hypothesis: "stronger keyword", Priority: 4,
		},
	)}

	task := env.task(t, domain.AgentOptimization)
	out, _, err := env.Agents.RunOptimization(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("RunOptimization: %v", err)
	}

	// Only the first proposal for a listing is applied; the second
	// would put two running experiments on one listing.
	if out.AutoApplied != 1 {
		t.Fatalf("auto_applied = %d, want 1", out.AutoApplied)
	}
	exps, err := env.Agents.Repo.ListExperiments(env.Ctx, repo.ExperimentFilters{ListingID: l.ID, Status: domain.ExperimentRunning})
	if err != nil {
		t.Fatalf("list experiments: %v", err)
	}
	if len(exps) != 1 {
		t.Fatalf("running experiments = %d, want 1", len(exps))
	}
	if exps[0].Type != domain.ExperimentPrice {
		t.Fatalf("applied experiment type = %s, want price", exps[0].Type)
	}

	got, err := env.Agents.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	var rejectedList []agent.RejectedProposal
	raw, _ := json.Marshal(got.Output["rejected"])
	if err := json.Unmarshal(raw, &rejectedList); err != nil {
		t.Fatalf("decode rejected: %v", err)
	}
	if len(rejectedList) != 1 {
		t.Fatalf("rejected = %d, want 1", len(rejectedList))
	}
	if !strings.Contains(rejectedList[0].Reason, "already has an experiment running") {
		t.Fatalf("rejection reason = %q", rejectedList[0].Reason)
	}
}

func TestRunOptimizationAdmitsPriceAtCapBoundary(t *testing.T) {
	env := newAgentEnv(t)
	p := domain.Product{
		ID:        "prod_40",
		Niche:     "productivity planners",
		Title:     "Planner Bundle — Complete Bundle",
		PriceUSD:  40,
		Status:    domain.ProductApproved,
		CreatedAt: env.Now.Format(time.RFC3339),
	}
	if err := env.Agents.Repo.InsertProduct(env.Ctx, p); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	l := env.liveListing(t, "lst_1", p.ID, 200)

	env.Gen.responses = []string{proposals(t,
		domain.ExperimentProposal{
			ListingID: l.ID, Type: domain.ExperimentPrice,
			CurrentValue: 40.0, ProposedValue: 50.0,
			Hypothesis: "premium anchor", Priority: 4,
		},
		domain.ExperimentProposal{
			ListingID: l.ID, Type: domain.ExperimentPrice,
			CurrentValue: 40.0, ProposedValue: 48.0,
			Hypothesis: "sits exactly on the cap", Priority: 4,
		},
	)}

	task := env.task(t, domain.AgentOptimization)
	if _, _, err := env.Agents.RunOptimization(env.Ctx, task.ID); err != nil {
		t.Fatalf("RunOptimization: %v", err)
	}

	// $48 is exactly +20% on $40 and is admitted; $50 is not.
	exps, err := env.Agents.Repo.ListExperiments(env.Ctx, repo.ExperimentFilters{ListingID: l.ID})
	if err != nil {
		t.Fatalf("list experiments: %v", err)
	}
	if len(exps) != 1 {
		t.Fatalf("experiments = %d, want 1", len(exps))
	}
	got, err := env.Agents.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	var rejectedList []agent.RejectedProposal
	raw, _ := json.Marshal(got.Output["rejected"])
	if err := json.Unmarshal(raw, &rejectedList); err != nil {
		t.Fatalf("decode rejected: %v", err)
	}
	if len(rejectedList) != 1 {
		t.Fatalf("rejected = %d, want 1", len(rejectedList))
	}
	if !strings.Contains(rejectedList[0].Reason, "$40 -> $50") {
		t.Fatalf("rejection reason = %q", rejectedList[0].Reason)
	}
}

func TestRunOptimizationEligibleAfterCooldown(t *testing.T) {
	env := newAgentEnv(t)
	p := env.product(t, "prod_1")
	l := env.liveListing(t, "lst_1", p.ID, 200)

	started := env.Now.Add(-10 * 24 * time.Hour).Format(time.RFC3339)
	ended := env.Now.Add(-8 * 24 * time.Hour).Format(time.RFC3339)
	if err := env.Agents.Repo.InsertExperiment(env.Ctx, domain.Experiment{
		ID: "exp_done", ListingID: l.ID, Type: domain.ExperimentTitle,
		Status: domain.ExperimentComplete, StartedAt: &started, EndedAt: &ended,
	}); err != nil {
		t.Fatalf("insert completed experiment: %v", err)
	}

	env.Gen.responses = []string{proposals(t)}

	task := env.task(t, domain.AgentOptimization)
	_, res, err := env.Agents.RunOptimization(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("RunOptimization: %v", err)
	}
	// The 7-day cooldown has passed, so the listing reaches the generator.
	if len(env.Gen.calls) != 1 {
		t.Fatalf("generator calls = %d, want 1", len(env.Gen.calls))
	}
	if res.Status != domain.TaskCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
}

func TestRunOptimizationHoldsHighPriority(t *testing.T) {
	env := newAgentEnv(t)
	p := env.product(t, "prod_1")
	l := env.liveListing(t, "lst_1", p.ID, 200)

	env.Gen.responses = []string{proposals(t, domain.ExperimentProposal{
		ListingID: l.ID, Type: domain.ExperimentTitle,
		CurrentValue: "old title", ProposedValue: "new title",
		Hypothesis: "stronger keyword", Priority: 9,
	})}

	task := env.task(t, domain.AgentOptimization)
	out, res, err := env.Agents.RunOptimization(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("RunOptimization: %v", err)
	}
	if out.AutoApplied != 0 || out.NeedsApproval != 1 {
		t.Fatalf("auto_applied = %d, needs_approval = %d, want 0 and 1", out.AutoApplied, out.NeedsApproval)
	}
	exps, err := env.Agents.Repo.ListExperiments(env.Ctx, repo.ExperimentFilters{ListingID: l.ID})
	if err != nil {
		t.Fatalf("list experiments: %v", err)
	}
	if len(exps) != 0 {
		t.Fatalf("experiments = %d, want 0 until approved", len(exps))
	}
	// Priority 9 scores 10-9+6 = 7, above the optimization threshold.
	if res.Status != domain.TaskCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	got, err := env.Agents.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.ConfidenceScore == nil || *got.ConfidenceScore != 7 {
		t.Fatalf("confidence = %v, want 7", got.ConfidenceScore)
	}
}

func TestRunOptimizationConfidenceCappedAtTen(t *testing.T) {
	env := newAgentEnv(t)
	p := env.product(t, "prod_1")
	l := env.liveListing(t, "lst_1", p.ID, 200)

	env.Gen.responses = []string{proposals(t, domain.ExperimentProposal{
		ListingID: l.ID, Type: domain.ExperimentThumbnail,
		CurrentValue: "a", ProposedValue: "b",
		Hypothesis: "clearer benefits", Priority: 2,
	})}

	task := env.task(t, domain.AgentOptimization)
	if _, _, err := env.Agents.RunOptimization(env.Ctx, task.ID); err != nil {
		t.Fatalf("RunOptimization: %v", err)
	}
	got, err := env.Agents.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.ConfidenceScore == nil || *got.ConfidenceScore != 10 {
		t.Fatalf("confidence = %v, want 10", got.ConfidenceScore)
	}
}
