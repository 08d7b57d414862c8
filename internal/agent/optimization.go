package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
	"github.com/ThunderOpsAI/product-automation-engine/internal/engine"
	"github.com/ThunderOpsAI/product-automation-engine/internal/gen"
	"github.com/ThunderOpsAI/product-automation-engine/internal/repo"
)

type optimizationCandidate struct {
	ID             string   `json:"id"`
	ProductID      string   `json:"product_id"`
	Platform       string   `json:"platform"`
	SEOTitle       string   `json:"seo_title"`
	URL            string   `json:"url"`
	ViewsTotal     int      `json:"views_total"`
	ConversionRate *float64 `json:"conversion_rate,omitempty"`
	Title          string   `json:"title"`
	PriceUSD       float64  `json:"price_usd"`
	Niche          string   `json:"niche"`
}

// RejectedProposal records an admission-control rejection with its reason.
type RejectedProposal struct {
	Experiment domain.ExperimentProposal `json:"experiment"`
	Reason     string                    `json:"reason"`
}

// RunOptimization runs the optimization stage: gather eligible live
// listings, generate experiment proposals, run them through admission
// control, and gate. An empty eligible set is a success, gated at a
// fixed confidence of 8.
func (a Agents) RunOptimization(ctx context.Context, taskID string) (domain.OptimizationOutput, engine.GateResult, error) {
	var out domain.OptimizationOutput
	res, err := a.run(ctx, taskID, domain.AgentOptimization, func(ctx context.Context) (domain.Payload, float64, domain.Payload, error) {
		candidates, blocked, err := a.eligibleListings(ctx)
		if err != nil {
			return nil, 0, nil, err
		}
		if len(candidates) == 0 {
			reason := "No listings with enough views yet"
			if blocked.activeOrCooldown > 0 {
				reason = "All eligible listings have active experiments or are in cooldown"
			}
			output := domain.Payload{"experiments": []any{}, "reason": reason}
			evidence := domain.Payload{
				"eligible_listings":  0,
				"active_experiments": blocked.active,
				"in_cooldown":        blocked.cooldown,
			}
			return output, 8, evidence, nil
		}

		listingsJSON, err := json.MarshalIndent(candidates, "", "  ")
		if err != nil {
			return nil, 0, nil, err
		}
		err = gen.GenerateJSON(ctx, a.Gen, gen.Request{
			System:      optimizationSystem,
			Prompt:      fmt.Sprintf(optimizationPrompt, listingsJSON),
			Temperature: 0.6,
			MaxTokens:   4000,
		}, &out)
		if err != nil {
			return nil, 0, nil, err
		}

		prices := map[string]float64{}
		eligibleIDs := map[string]bool{}
		for _, c := range candidates {
			prices[c.ID] = c.PriceUSD
			eligibleIDs[c.ID] = true
		}
		admitted, held, rejected, err := a.admitExperiments(ctx, out.Experiments, eligibleIDs, prices)
		if err != nil {
			return nil, 0, nil, err
		}
		out.AutoApplied = len(admitted)
		out.NeedsApproval = len(held)

		maxPriority := 0
		for _, e := range out.Experiments {
			if e.Priority > maxPriority {
				maxPriority = e.Priority
			}
		}
		confidence := 8.0
		if maxPriority > 0 {
			confidence = float64(10 - maxPriority + 6)
			if confidence > 10 {
				confidence = 10
			}
		}

		output, err := asPayload(map[string]any{
			"experiments":    out.Experiments,
			"auto_applied":   len(admitted),
			"needs_approval": len(held),
			"rejected":       rejected,
		})
		if err != nil {
			return nil, 0, nil, err
		}
		evidence := domain.Payload{
			"total_experiments": len(out.Experiments),
			"auto_applied":      len(admitted),
			"needs_approval":    len(held),
			"rejected":          len(rejected),
			"eligible_listings": len(candidates),
		}
		return output, confidence, evidence, nil
	})
	if err != nil {
		return domain.OptimizationOutput{}, res, err
	}
	return out, res, nil
}

type blockedCounts struct {
	active           int
	cooldown         int
	activeOrCooldown int
}

// eligibleListings returns live listings with enough views, excluding
// those with a running experiment or one ended within the cooldown.
func (a Agents) eligibleListings(ctx context.Context) ([]optimizationCandidate, blockedCounts, error) {
	cfg := a.cfg()
	var blocked blockedCounts

	listings, err := a.Repo.ListListings(ctx, repo.ListingFilters{Status: domain.ListingLive})
	if err != nil {
		return nil, blocked, err
	}
	running, err := a.Repo.RunningExperimentListingIDs(ctx)
	if err != nil {
		return nil, blocked, err
	}
	lastEnd, err := a.Repo.LastExperimentEnd(ctx)
	if err != nil {
		return nil, blocked, err
	}
	blocked.active = len(running)
	cooldownCutoff := a.now().UTC().Add(-time.Duration(cfg.Experiments.CooldownDays) * 24 * time.Hour)

	var candidates []optimizationCandidate
	for _, l := range listings {
		if l.ViewsTotal < cfg.Experiments.MinViews {
			continue
		}
		if running[l.ID] {
			blocked.activeOrCooldown++
			continue
		}
		if ended, ok := lastEnd[l.ID]; ok {
			t, err := time.Parse(time.RFC3339, ended)
			if err == nil && t.After(cooldownCutoff) {
				blocked.cooldown++
				blocked.activeOrCooldown++
				continue
			}
		}
		product, err := a.Repo.GetProduct(ctx, l.ProductID)
		if err != nil {
			return nil, blocked, fmt.Errorf("product for listing %s: %w", l.ID, err)
		}
		candidates = append(candidates, optimizationCandidate{
			ID:             l.ID,
			ProductID:      l.ProductID,
			Platform:       l.Platform,
			SEOTitle:       l.SEOTitle,
			URL:            l.URL,
			ViewsTotal:     l.ViewsTotal,
			ConversionRate: l.ConversionRate,
			Title:          product.Title,
			PriceUSD:       product.PriceUSD,
			Niche:          product.Niche,
		})
	}
	return candidates, blocked, nil
}

// admitExperiments applies the admission rules to a proposal batch:
// proposals against ineligible listings are dropped, price proposals
// outside the cap are rejected with computed bounds (never clamped),
// priority below the approval floor is auto-applied as a running
// Experiment, and everything at or above it is held for review. A
// listing gets at most one running experiment per batch.
func (a Agents) admitExperiments(ctx context.Context, proposals []domain.ExperimentProposal, eligible map[string]bool, prices map[string]float64) (admitted, held []domain.ExperimentProposal, rejected []RejectedProposal, err error) {
	cfg := a.cfg()
	capFrac := cfg.Experiments.PriceChangeCapPct / 100
	applied := map[string]bool{}
	for _, p := range proposals {
		if applied[p.ListingID] {
			rejected = append(rejected, RejectedProposal{
				Experiment: p,
				Reason:     fmt.Sprintf("Listing %s already has an experiment running from this batch", p.ListingID),
			})
			continue
		}
		if !eligible[p.ListingID] {
			rejected = append(rejected, RejectedProposal{
				Experiment: p,
				Reason:     fmt.Sprintf("Listing %s is not eligible for experiments", p.ListingID),
			})
			continue
		}
		if p.Type == domain.ExperimentPrice {
			current := prices[p.ListingID]
			proposed := toFloat(p.ProposedValue)
			if current > 0 && proposed > 0 {
				min := current * (1 - capFrac)
				max := current * (1 + capFrac)
				if proposed < min || proposed > max {
					rejected = append(rejected, RejectedProposal{
						Experiment: p,
						Reason: fmt.Sprintf("Price change $%v -> $%v exceeds ±%.0f%% cap ($%.2f-$%.2f)",
							current, proposed, cfg.Experiments.PriceChangeCapPct, min, max),
					})
					a.log().Info("experiment rejected", "listing", p.ListingID, "reason", "price outside cap")
					continue
				}
			}
		}
		if p.Priority >= cfg.Experiments.ApprovalPriority {
			held = append(held, p)
			continue
		}
		now := a.now().UTC().Format(time.RFC3339)
		exp := domain.Experiment{
			ID:           uuid.NewString(),
			ListingID:    p.ListingID,
			Type:         p.Type,
			ControlValue: domain.Payload{"value": p.CurrentValue},
			VariantValue: domain.Payload{"value": p.ProposedValue},
			Hypothesis:   p.Hypothesis,
			Status:       domain.ExperimentRunning,
			StartedAt:    &now,
		}
		if err := a.Repo.InsertExperiment(ctx, exp); err != nil {
			return nil, nil, nil, fmt.Errorf("insert experiment: %w", err)
		}
		admitted = append(admitted, p)
		applied[p.ListingID] = true
	}
	return admitted, held, rejected, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		var f float64
		fmt.Sscanf(n, "%f", &f)
		return f
	}
	return 0
}
