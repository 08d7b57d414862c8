package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
	"github.com/ThunderOpsAI/product-automation-engine/internal/engine"
	"github.com/ThunderOpsAI/product-automation-engine/internal/gen"
)

// EnhanceProduct runs the enhancement stage: generate a tiered product,
// enforce the 3-variant and documentation structure, persist a Product
// plus its first ProductVersion, and gate at the self-assessed quality
// score. The created product id rides in the gate output so the next
// stages can attach to it.
func (a Agents) EnhanceProduct(ctx context.Context, taskID, niche string, pack domain.SourcePack) (domain.EnhancedProduct, string, engine.GateResult, error) {
	var enhanced domain.EnhancedProduct
	var productID string
	res, err := a.run(ctx, taskID, domain.AgentEnhancement, func(ctx context.Context) (domain.Payload, float64, domain.Payload, error) {
		sources, err := json.Marshal(pack.Sources)
		if err != nil {
			return nil, 0, nil, err
		}
		err = gen.GenerateJSON(ctx, a.Gen, gen.Request{
			System:      enhancementSystem,
			Prompt:      fmt.Sprintf(enhancementPrompt, niche, sources),
			Temperature: 0.6,
			MaxTokens:   6000,
		}, &enhanced)
		if err != nil {
			return nil, 0, nil, err
		}
		if len(enhanced.Variants) != 3 {
			return nil, 0, nil, fmt.Errorf("enhancement must produce exactly 3 variants (Beginner/Pro/Complete)")
		}
		if enhanced.Documentation.Readme == "" || enhanced.Documentation.QuickStart == "" {
			return nil, 0, nil, fmt.Errorf("enhancement must include readme and quick_start documentation")
		}

		sourceType := "public_domain"
		if len(pack.Sources) > 0 && pack.Sources[0].Type != "" {
			sourceType = pack.Sources[0].Type
		}
		status := domain.ProductPendingApproval
		if enhanced.QualityScore >= 8 {
			status = domain.ProductApproved
		}
		quality := enhanced.QualityScore
		product := domain.Product{
			ID:              uuid.NewString(),
			Niche:           niche,
			Title:           ProductTitle(niche),
			Description:     enhanced.Documentation.Readme,
			PriceUSD:        ProPrice(enhanced),
			Status:          status,
			ConfidenceScore: &quality,
			SourceType:      sourceType,
			LicenseNotes:    pack.ComplianceNotes,
			CreatedAt:       a.now().UTC().Format(time.RFC3339),
		}
		if err := a.Repo.InsertProduct(ctx, product); err != nil {
			return nil, 0, nil, fmt.Errorf("insert product: %w", err)
		}
		version := domain.ProductVersion{
			ID:            uuid.NewString(),
			ProductID:     product.ID,
			Version:       1,
			ArtifactsPath: strings.Join(enhanced.Files, ", "),
			Changelog:     "Initial enhancement from source materials",
			QualityScore:  &quality,
			CreatedAt:     product.CreatedAt,
		}
		if err := a.Repo.InsertProductVersion(ctx, version); err != nil {
			return nil, 0, nil, fmt.Errorf("insert product version: %w", err)
		}
		productID = product.ID

		output, err := asPayload(map[string]any{
			"product":    enhanced,
			"product_id": productID,
		})
		if err != nil {
			return nil, 0, nil, err
		}
		evidence := domain.Payload{
			"variant_count":     len(enhanced.Variants),
			"has_documentation": true,
			"quality_score":     enhanced.QualityScore,
		}
		return output, enhanced.QualityScore, evidence, nil
	})
	if err != nil {
		return domain.EnhancedProduct{}, "", res, err
	}
	return enhanced, productID, res, nil
}

// ProductTitle derives the marketplace title for a niche.
func ProductTitle(niche string) string {
	return niche + " — Complete Bundle"
}

// ProPrice returns the Pro variant's suggested price, defaulting to 39.
func ProPrice(p domain.EnhancedProduct) float64 {
	for _, v := range p.Variants {
		if v.Name == "Pro" && v.SuggestedPrice > 0 {
			return v.SuggestedPrice
		}
	}
	return 39
}
