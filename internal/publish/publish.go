package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ThunderOpsAI/product-automation-engine/internal/ratelimit"
)

// Draft carries everything a marketplace needs to publish a listing.
type Draft struct {
	Title        string
	Description  string
	PriceUSD     float64
	Tags         []string
	SEOTitle     string
	CoverImage   string
	ThumbnailURL string
}

// Result identifies the created marketplace listing.
type Result struct {
	PlatformListingID string
	URL               string
}

// Publisher pushes a listing draft to one marketplace platform.
type Publisher interface {
	Publish(ctx context.Context, platform string, d Draft) (Result, error)
}

// Stub simulates marketplace publishing. Listing drafts are validated
// upstream; this only mints platform identifiers and URLs, so the rest
// of the pipeline exercises real persistence paths without marketplace
// credentials.
type Stub struct {
	Limiter ratelimit.Limiter
	Logger  *slog.Logger
}

func (s Stub) Publish(ctx context.Context, platform string, d Draft) (Result, error) {
	if platform == "" {
		return Result{}, fmt.Errorf("platform is required")
	}
	if s.Limiter != nil {
		ok, retryAfter, err := s.Limiter.Allow(ctx, platform)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, fmt.Errorf("%s rate limited, retry in %s", platform, retryAfter)
		}
	}
	id := uuid.NewString()[:8]
	slug := slugify(d.Title)
	res := Result{
		PlatformListingID: fmt.Sprintf("%s_%s", platform, id),
		URL:               fmt.Sprintf("https://%s.example/l/%s-%s", platform, slug, id),
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("listing published", "platform", platform, "listing", res.PlatformListingID, "title", d.Title)
	return res, nil
}

func slugify(s string) string {
	s = strings.ToLower(s)
	var sb strings.Builder
	lastDash := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(sb.String(), "-")
	if len(out) > 48 {
		out = strings.Trim(out[:48], "-")
	}
	if out == "" {
		out = "listing"
	}
	return out
}
