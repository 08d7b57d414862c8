package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
	"github.com/ThunderOpsAI/product-automation-engine/internal/engine"
	"github.com/ThunderOpsAI/product-automation-engine/internal/publish"
	"github.com/ThunderOpsAI/product-automation-engine/internal/repo"
)

// CreatedListing is one marketplace listing created by the listing stage.
type CreatedListing struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
	URL      string `json:"url"`
}

// PublishListings runs the listing stage. A failed readiness check
// short-circuits to the gate at fixed confidence 3 with the issues as
// output; it never attempts a partial listing. When ready, it creates a
// listing only on platforms without one already live or paused, then
// reports confidence 9 if anything was created and 8 otherwise.
func (a Agents) PublishListings(ctx context.Context, taskID, productID string, branding domain.BrandingOutput, price float64) ([]CreatedListing, engine.GateResult, error) {
	var created []CreatedListing
	res, err := a.run(ctx, taskID, domain.AgentListing, func(ctx context.Context) (domain.Payload, float64, domain.Payload, error) {
		product, err := a.Repo.GetProduct(ctx, productID)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("product %s: %w", productID, err)
		}
		title := branding.SEOTitle
		if title == "" {
			title = product.Title
		}
		description := branding.ProductDescription
		if description == "" {
			description = product.Description
		}

		issues := ReadinessIssues(title, description, price, branding)
		if len(issues) > 0 {
			output := domain.Payload{"validation_failed": true, "issues": toAnySlice(issues)}
			evidence := domain.Payload{"issues": toAnySlice(issues)}
			return output, 3, evidence, nil
		}

		skipped := 0
		for _, platform := range a.cfg().Listing.Platforms {
			_, err := a.Repo.ActiveListingForPlatform(ctx, productID, platform)
			if err == nil {
				skipped++
				continue
			}
			if !errors.Is(err, repo.ErrNotFound) {
				return nil, 0, nil, fmt.Errorf("check existing %s listing: %w", platform, err)
			}
			pub, err := a.Publisher.Publish(ctx, platform, publish.Draft{
				Title:        title,
				Description:  description,
				PriceUSD:     price,
				Tags:         branding.Tags,
				SEOTitle:     branding.SEOTitle,
				CoverImage:   branding.CoverImage,
				ThumbnailURL: branding.CoverImage,
			})
			if err != nil {
				return nil, 0, nil, fmt.Errorf("publish to %s: %w", platform, err)
			}
			listing := domain.Listing{
				ID:                uuid.NewString(),
				ProductID:         productID,
				Platform:          platform,
				PlatformListingID: pub.PlatformListingID,
				URL:               pub.URL,
				Tags:              branding.Tags,
				SEOTitle:          branding.SEOTitle,
				ThumbnailURL:      branding.CoverImage,
				Status:            domain.ListingLive,
				CreatedAt:         a.now().UTC().Format(time.RFC3339),
			}
			if err := a.Repo.InsertListing(ctx, listing); err != nil {
				return nil, 0, nil, fmt.Errorf("insert %s listing: %w", platform, err)
			}
			created = append(created, CreatedListing{Platform: platform, ID: pub.PlatformListingID, URL: pub.URL})
		}

		if err := a.Repo.UpdateProductStatus(ctx, productID, domain.ProductListed); err != nil {
			return nil, 0, nil, fmt.Errorf("mark product listed: %w", err)
		}

		confidence := 8.0
		if len(created) > 0 {
			confidence = 9
		}
		output, err := asPayload(map[string]any{
			"listings":         created,
			"skipped_existing": skipped,
		})
		if err != nil {
			return nil, 0, nil, err
		}
		platforms := make([]any, 0, len(created))
		for _, c := range created {
			platforms = append(platforms, c.Platform)
		}
		evidence := domain.Payload{
			"new_listings":      len(created),
			"existing_listings": skipped,
			"platforms":         platforms,
		}
		return output, confidence, evidence, nil
	})
	if err != nil {
		return nil, res, err
	}
	return created, res, nil
}

// ReadinessIssues runs the pre-listing checklist; an empty slice means
// the product may be published.
func ReadinessIssues(title, description string, price float64, branding domain.BrandingOutput) []string {
	var issues []string
	if len(title) < 10 {
		issues = append(issues, "Title too short (minimum 10 characters)")
	}
	if len(description) < 100 {
		issues = append(issues, "Description too short (minimum 100 characters)")
	}
	if price < 9 || price > 149 {
		issues = append(issues, fmt.Sprintf("Price $%v outside valid range ($9-$149)", price))
	}
	if branding.SEOTitle == "" {
		issues = append(issues, "Missing SEO title")
	} else {
		if n := len(branding.SEOTitle); n > 255 {
			issues = append(issues, fmt.Sprintf("SEO title exceeds Gumroad limit (%d/255 chars)", n))
		}
		if n := len(branding.SEOTitle); n > 140 {
			issues = append(issues, fmt.Sprintf("SEO title exceeds Etsy limit (%d/140 chars)", n))
		}
	}
	if len(branding.Tags) < 5 {
		issues = append(issues, "Insufficient tags (minimum 5)")
	}
	if len(branding.Tags) > 13 {
		issues = append(issues, fmt.Sprintf("Too many tags for Etsy (%d/13 max)", len(branding.Tags)))
	}
	if branding.ProductDescription == "" {
		issues = append(issues, "Missing product description")
	}
	if branding.CoverImage == "" {
		issues = append(issues, "Missing cover image")
	}
	return issues
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
