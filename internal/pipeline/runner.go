// Package pipeline drives the daily production run: discovery feeds the
// per-niche stage chain, each stage gated on confidence before the next
// one starts. A niche halting for approval or failing never blocks the
// other niches in the same run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ThunderOpsAI/product-automation-engine/internal/agent"
	"github.com/ThunderOpsAI/product-automation-engine/internal/config"
	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
	"github.com/ThunderOpsAI/product-automation-engine/internal/engine"
	"github.com/ThunderOpsAI/product-automation-engine/internal/events"
	"github.com/ThunderOpsAI/product-automation-engine/internal/notify"
	"github.com/ThunderOpsAI/product-automation-engine/internal/repo"
)

// Stage names as they appear in run results.
const (
	StageDiscovery   = "market_intel"
	StageSourcing    = "asset_sourcing"
	StageEnhancement = "enhancement"
	StageBranding    = "branding"
	StageListing     = "listing"
)

// Niche result statuses.
const (
	NicheCompleted       = "completed"
	NicheFailed          = "failed"
	NichePendingApproval = "pending_approval"
)

// NicheResult is the outcome of one niche's stage chain.
type NicheResult struct {
	Niche        string               `json:"niche"`
	Status       string               `json:"status" enum:"completed,failed,pending_approval"`
	StageReached string               `json:"stage_reached"`
	Error        string               `json:"error,omitempty"`
	ProductID    string               `json:"product_id,omitempty"`
	Listings     []agent.CreatedListing `json:"listings,omitempty"`
}

// PipelineResult summarizes one daily run.
type PipelineResult struct {
	RunID            string        `json:"run_id"`
	StartedAt        string        `json:"started_at" format:"date-time"`
	CompletedAt      string        `json:"completed_at" format:"date-time"`
	NichesProcessed  int           `json:"niches_processed"`
	NichesCompleted  int           `json:"niches_completed"`
	NichesFailed     int           `json:"niches_failed"`
	PendingApproval  int           `json:"pending_approval"`
	Results          []NicheResult `json:"results"`
}

// Runner wires the stage agents into full pipeline runs.
type Runner struct {
	Agents agent.Agents
	Engine engine.Engine
	Repo   repo.Repo
	Events events.Writer
	Mailer notify.Mailer
	Config *config.Config
	Log    *slog.Logger
	Now    func() time.Time
}

func (r Runner) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func (r Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Runner) cfg() *config.Config {
	if r.Config != nil {
		return r.Config
	}
	return config.Default()
}

// RunDaily executes one full production run. Discovery halting for
// approval ends the run; per-niche failures are recorded and the run
// continues with the remaining niches.
func (r Runner) RunDaily(ctx context.Context, maxNiches int) (PipelineResult, error) {
	if maxNiches <= 0 {
		maxNiches = r.cfg().Pipeline.MaxNiches
	}
	started := r.now().UTC()
	result := PipelineResult{
		RunID:     fmt.Sprintf("pipeline_%d", started.Unix()),
		StartedAt: started.Format(time.RFC3339),
	}
	if err := r.Events.Record(ctx, events.PipelineStarted, result.RunID, events.EventPayload{"max_niches": maxNiches}); err != nil {
		return result, fmt.Errorf("record pipeline start: %w", err)
	}
	r.log().Info("pipeline started", "run", result.RunID, "max_niches", maxNiches)

	briefs, res, err := r.discover(ctx)
	switch {
	case err != nil:
		result.NichesFailed = 1
		result.Results = append(result.Results, NicheResult{
			Status:       NicheFailed,
			StageReached: StageDiscovery,
			Error:        err.Error(),
		})
		return r.finish(ctx, result)
	case res.Status == domain.TaskNeedsApproval:
		result.PendingApproval = 1
		result.Results = append(result.Results, NicheResult{
			Status:       NichePendingApproval,
			StageReached: StageDiscovery,
		})
		return r.finish(ctx, result)
	}

	sort.Slice(briefs, func(i, j int) bool {
		return briefs[i].ConfidenceScore > briefs[j].ConfidenceScore
	})
	if len(briefs) > maxNiches {
		briefs = briefs[:maxNiches]
	}

	for _, brief := range briefs {
		nr := r.runNiche(ctx, brief)
		result.Results = append(result.Results, nr)
		result.NichesProcessed++
		switch nr.Status {
		case NicheCompleted:
			result.NichesCompleted++
		case NicheFailed:
			result.NichesFailed++
		case NichePendingApproval:
			result.PendingApproval++
		}
	}
	return r.finish(ctx, result)
}

func (r Runner) finish(ctx context.Context, result PipelineResult) (PipelineResult, error) {
	result.CompletedAt = r.now().UTC().Format(time.RFC3339)
	err := r.Events.Record(ctx, events.PipelineFinished, result.RunID, events.EventPayload{
		"processed":        result.NichesProcessed,
		"completed":        result.NichesCompleted,
		"failed":           result.NichesFailed,
		"pending_approval": result.PendingApproval,
	})
	if err != nil {
		r.log().Warn("record pipeline finish failed", "run", result.RunID, "err", err)
	}
	r.log().Info("pipeline finished",
		"run", result.RunID,
		"completed", result.NichesCompleted,
		"failed", result.NichesFailed,
		"pending_approval", result.PendingApproval)
	return result, nil
}

func (r Runner) discover(ctx context.Context) ([]domain.OpportunityBrief, engine.GateResult, error) {
	t, err := r.Engine.CreateTask(ctx, domain.AgentMarketIntel, 5, nil)
	if err != nil {
		return nil, engine.GateResult{}, err
	}
	return r.Agents.DiscoverOpportunities(ctx, t.ID)
}

// runNiche walks one brief through sourcing, enhancement, branding and
// listing. The first stage that fails or stops for approval ends the
// chain for this niche.
func (r Runner) runNiche(ctx context.Context, brief domain.OpportunityBrief) NicheResult {
	nr := NicheResult{Niche: brief.Niche, StageReached: StageSourcing}

	pack, res, err := r.stageSourcing(ctx, brief)
	if stopped := nicheStop(&nr, res, err); stopped {
		return nr
	}

	nr.StageReached = StageEnhancement
	enhanced, productID, res, err := r.stageEnhancement(ctx, brief, pack)
	if stopped := nicheStop(&nr, res, err); stopped {
		return nr
	}
	nr.ProductID = productID

	nr.StageReached = StageBranding
	price := agent.ProPrice(enhanced)
	branding, res, err := r.stageBranding(ctx, brief, productID, enhanced, price)
	if stopped := nicheStop(&nr, res, err); stopped {
		return nr
	}

	nr.StageReached = StageListing
	listings, res, err := r.stageListing(ctx, brief, productID, branding, price)
	if stopped := nicheStop(&nr, res, err); stopped {
		return nr
	}
	nr.Listings = listings
	nr.Status = NicheCompleted
	return nr
}

// nicheStop fills nr from a stage outcome and reports whether the
// niche's chain should end here.
func nicheStop(nr *NicheResult, res engine.GateResult, err error) bool {
	if err != nil {
		nr.Status = NicheFailed
		nr.Error = err.Error()
		return true
	}
	if res.Status == domain.TaskNeedsApproval {
		nr.Status = NichePendingApproval
		return true
	}
	if res.Status == domain.TaskFailed {
		nr.Status = NicheFailed
		return true
	}
	return false
}

func (r Runner) stageSourcing(ctx context.Context, brief domain.OpportunityBrief) (domain.SourcePack, engine.GateResult, error) {
	t, err := r.Engine.CreateTask(ctx, domain.AgentAssetSourcing, 5, domain.Payload{"niche": brief.Niche})
	if err != nil {
		return domain.SourcePack{}, engine.GateResult{}, err
	}
	return r.Agents.SourceAssets(ctx, t.ID, brief.Niche, brief.Positioning)
}

func (r Runner) stageEnhancement(ctx context.Context, brief domain.OpportunityBrief, pack domain.SourcePack) (domain.EnhancedProduct, string, engine.GateResult, error) {
	t, err := r.Engine.CreateTask(ctx, domain.AgentEnhancement, 5, domain.Payload{"niche": brief.Niche})
	if err != nil {
		return domain.EnhancedProduct{}, "", engine.GateResult{}, err
	}
	enhanced, productID, res, err := r.Agents.EnhanceProduct(ctx, t.ID, brief.Niche, pack)
	if err != nil {
		return domain.EnhancedProduct{}, "", res, err
	}
	if productID == "" && res.Status == domain.TaskCompleted {
		if ferr := r.Engine.FailTask(ctx, t.ID, "No product_id returned"); ferr != nil {
			r.log().Warn("fail task after missing product", "task", t.ID, "err", ferr)
		}
		return domain.EnhancedProduct{}, "", engine.GateResult{Status: domain.TaskFailed}, fmt.Errorf("no product_id returned for niche %q", brief.Niche)
	}
	return enhanced, productID, res, nil
}

func (r Runner) stageBranding(ctx context.Context, brief domain.OpportunityBrief, productID string, enhanced domain.EnhancedProduct, price float64) (domain.BrandingOutput, engine.GateResult, error) {
	t, err := r.Engine.CreateTask(ctx, domain.AgentBranding, 5, domain.Payload{"product_id": productID})
	if err != nil {
		return domain.BrandingOutput{}, engine.GateResult{}, err
	}
	title := agent.ProductTitle(brief.Niche)
	return r.Agents.BrandProduct(ctx, t.ID, productID, title, brief.Niche, enhanced.Documentation.Readme, price)
}

func (r Runner) stageListing(ctx context.Context, brief domain.OpportunityBrief, productID string, branding domain.BrandingOutput, price float64) ([]agent.CreatedListing, engine.GateResult, error) {
	t, err := r.Engine.CreateTask(ctx, domain.AgentListing, 5, domain.Payload{"product_id": productID, "niche": brief.Niche})
	if err != nil {
		return nil, engine.GateResult{}, err
	}
	return r.Agents.PublishListings(ctx, t.ID, productID, branding, price)
}

// RunOptimization creates and runs a single optimization pass over the
// live listings.
func (r Runner) RunOptimization(ctx context.Context) (domain.OptimizationOutput, engine.GateResult, error) {
	t, err := r.Engine.CreateTask(ctx, domain.AgentOptimization, 5, nil)
	if err != nil {
		return domain.OptimizationOutput{}, engine.GateResult{}, err
	}
	return r.Agents.RunOptimization(ctx, t.ID)
}

// DailySummary snapshots today's revenue into metrics_daily and mails
// the operator digest. Mail failures are logged, never returned.
func (r Runner) DailySummary(ctx context.Context) (domain.DailyMetric, error) {
	day := r.now().UTC().Truncate(24 * time.Hour)
	date := day.Format("2006-01-02")
	since := day.Format(time.RFC3339)
	until := day.Add(24 * time.Hour).Format(time.RFC3339)

	gross, net, units, err := r.Repo.SalesTotals(ctx, since, until)
	if err != nil {
		return domain.DailyMetric{}, fmt.Errorf("sales totals: %w", err)
	}
	pending, err := r.Repo.ListApprovals(ctx, repo.ApprovalFilters{Status: domain.ApprovalPending})
	if err != nil {
		return domain.DailyMetric{}, fmt.Errorf("pending approvals: %w", err)
	}
	counts, err := r.Repo.CountTasksByStatus(ctx)
	if err != nil {
		return domain.DailyMetric{}, fmt.Errorf("task counts: %w", err)
	}

	metric := domain.DailyMetric{
		Date:         date,
		System:       "digital_products",
		RevenueGross: gross,
		RevenueNet:   net,
		UnitsSold:    units,
		Metadata: domain.Payload{
			"pending_approvals": len(pending),
			"tasks_completed":   counts[domain.TaskCompleted],
			"tasks_failed":      counts[domain.TaskFailed],
		},
	}
	if err := r.Repo.UpsertDailyMetric(ctx, metric); err != nil {
		return domain.DailyMetric{}, fmt.Errorf("upsert daily metric: %w", err)
	}

	operator := r.cfg().Notify.OperatorEmail
	if operator != "" && r.Mailer != nil {
		lines := []notify.DigestLine{
			{Label: "Gross revenue", Value: fmt.Sprintf("$%.2f", gross)},
			{Label: "Net revenue", Value: fmt.Sprintf("$%.2f", net)},
			{Label: "Units sold", Value: fmt.Sprintf("%d", units)},
			{Label: "Tasks completed", Value: fmt.Sprintf("%d", counts[domain.TaskCompleted])},
			{Label: "Tasks failed", Value: fmt.Sprintf("%d", counts[domain.TaskFailed])},
		}
		subject, body := notify.DailyDigest(date, lines, len(pending))
		if mailErr := r.Mailer.Send(ctx, operator, subject, body); mailErr != nil {
			r.log().Warn("daily digest email failed", "err", mailErr)
		}
	}
	return metric, nil
}
