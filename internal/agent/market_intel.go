package agent

import (
	"context"
	"fmt"

	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
	"github.com/ThunderOpsAI/product-automation-engine/internal/engine"
	"github.com/ThunderOpsAI/product-automation-engine/internal/gen"
)

type discoveryResponse struct {
	Briefs []domain.OpportunityBrief `json:"briefs"`
}

// DiscoverOpportunities runs the market intel stage: one exploratory
// generation call, structural filtering of the returned briefs, and a
// gate call at the highest brief confidence.
func (a Agents) DiscoverOpportunities(ctx context.Context, taskID string) ([]domain.OpportunityBrief, engine.GateResult, error) {
	var briefs []domain.OpportunityBrief
	res, err := a.run(ctx, taskID, domain.AgentMarketIntel, func(ctx context.Context) (domain.Payload, float64, domain.Payload, error) {
		var parsed discoveryResponse
		err := gen.GenerateJSON(ctx, a.Gen, gen.Request{
			System:      marketIntelSystem,
			Prompt:      marketIntelPrompt,
			Temperature: 0.8,
			MaxTokens:   4000,
		}, &parsed)
		if err != nil {
			return nil, 0, nil, err
		}
		for _, b := range parsed.Briefs {
			if b.Niche == "" || b.ConfidenceScore < 1 || b.ConfidenceScore > 10 {
				continue
			}
			briefs = append(briefs, b)
		}
		if len(briefs) == 0 {
			return nil, 0, nil, fmt.Errorf("no valid opportunity briefs returned")
		}
		var sum, max float64
		for _, b := range briefs {
			sum += b.ConfidenceScore
			if b.ConfidenceScore > max {
				max = b.ConfidenceScore
			}
		}
		output, err := asPayload(discoveryResponse{Briefs: briefs})
		if err != nil {
			return nil, 0, nil, err
		}
		evidence := domain.Payload{
			"total_briefs":       len(briefs),
			"avg_confidence":     sum / float64(len(briefs)),
			"highest_confidence": max,
		}
		return output, max, evidence, nil
	})
	if err != nil {
		return nil, res, err
	}
	return briefs, res, nil
}
