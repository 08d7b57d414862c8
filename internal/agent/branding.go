package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
	"github.com/ThunderOpsAI/product-automation-engine/internal/engine"
	"github.com/ThunderOpsAI/product-automation-engine/internal/gen"
)

// BrandProduct runs the branding stage: copy and SEO generation, image
// rendering through the asset collaborator (a failure there fails the
// stage), and a deterministic completeness score as the confidence.
func (a Agents) BrandProduct(ctx context.Context, taskID, productID, title, niche, description string, price float64) (domain.BrandingOutput, engine.GateResult, error) {
	var branding domain.BrandingOutput
	res, err := a.run(ctx, taskID, domain.AgentBranding, func(ctx context.Context) (domain.Payload, float64, domain.Payload, error) {
		err := gen.GenerateJSON(ctx, a.Gen, gen.Request{
			System:      brandingSystem,
			Prompt:      fmt.Sprintf(brandingPrompt, title, niche, description, price),
			Temperature: 0.7,
			MaxTokens:   5000,
		}, &branding)
		if err != nil {
			return nil, 0, nil, err
		}
		if branding.SEOTitle == "" || branding.ProductDescription == "" {
			return nil, 0, nil, fmt.Errorf("branding must include seo_title and product_description")
		}
		if len(branding.Tags) < 5 {
			return nil, 0, nil, fmt.Errorf("branding must include at least 5 tags")
		}

		coverPrompt := branding.CoverImagePrompt
		if coverPrompt == "" {
			coverPrompt = fmt.Sprintf("Professional product cover for %s: %s", niche, title)
		}
		cover, err := a.Images.Cover(ctx, productID, coverPrompt)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("cover image: %w", err)
		}
		branding.CoverImage = cover

		thumbPrompt := branding.ThumbnailPrompt
		if thumbPrompt == "" {
			thumbPrompt = fmt.Sprintf("Product thumbnail for %s: %s", niche, title)
		}
		thumbs, err := a.Images.Thumbnails(ctx, productID, thumbPrompt, 3)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("thumbnails: %w", err)
		}
		branding.Thumbnails = thumbs

		score := ScoreBranding(branding)
		output, err := asPayload(map[string]any{
			"branding":   branding,
			"product_id": productID,
		})
		if err != nil {
			return nil, 0, nil, err
		}
		evidence := domain.Payload{
			"tag_count":             len(branding.Tags),
			"faq_count":             len(branding.FAQ),
			"description_length":    len(branding.ProductDescription),
			"cover_image_generated": branding.CoverImage != "",
			"thumbnails_generated":  len(branding.Thumbnails),
		}
		return output, score, evidence, nil
	})
	if err != nil {
		return domain.BrandingOutput{}, res, err
	}
	return branding, res, nil
}

// ScoreBranding rates branding completeness: base 5, one point each for
// a separator in the SEO title, a 30-80 char title, 8+ tags, 5+ FAQ
// entries, and a 500+ char description, capped at 10.
func ScoreBranding(b domain.BrandingOutput) float64 {
	score := 5.0
	if strings.Contains(b.SEOTitle, "|") || strings.Contains(b.SEOTitle, "—") {
		score++
	}
	if n := len(b.SEOTitle); n >= 30 && n <= 80 {
		score++
	}
	if len(b.Tags) >= 8 {
		score++
	}
	if len(b.FAQ) >= 5 {
		score++
	}
	if len(b.ProductDescription) >= 500 {
		score++
	}
	if score > 10 {
		score = 10
	}
	return score
}
