package agent

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
	"github.com/ThunderOpsAI/product-automation-engine/internal/engine"
	"github.com/ThunderOpsAI/product-automation-engine/internal/gen"
)

// SourceAssets runs the asset sourcing stage. Compliance violations do
// not hard-fail: confidence is capped at 5 and the issues are appended
// to the compliance notes, routing the pack to human review instead.
func (a Agents) SourceAssets(ctx context.Context, taskID, niche, positioning string) (domain.SourcePack, engine.GateResult, error) {
	var pack domain.SourcePack
	res, err := a.run(ctx, taskID, domain.AgentAssetSourcing, func(ctx context.Context) (domain.Payload, float64, domain.Payload, error) {
		err := gen.GenerateJSON(ctx, a.Gen, gen.Request{
			System:      sourcingSystem,
			Prompt:      fmt.Sprintf(sourcingPrompt, niche, positioning),
			Temperature: 0.5,
			MaxTokens:   4000,
		}, &pack)
		if err != nil {
			return nil, 0, nil, err
		}
		issues := complianceIssues(pack)
		if len(issues) > 0 {
			if pack.ConfidenceScore > 5 {
				pack.ConfidenceScore = 5
			}
			pack.ComplianceNotes += "\n\nCOMPLIANCE ISSUES:\n" + strings.Join(issues, "\n")
		}
		output, err := asPayload(map[string]any{"pack": pack})
		if err != nil {
			return nil, 0, nil, err
		}
		evidence := domain.Payload{
			"source_count":      len(pack.Sources),
			"compliance_valid":  len(issues) == 0,
			"compliance_issues": issues,
		}
		return output, pack.ConfidenceScore, evidence, nil
	})
	if err != nil {
		return domain.SourcePack{}, res, err
	}
	return pack, res, nil
}

// complianceIssues checks every source against the approved domain
// allow-list and flags missing or restrictive licenses.
func complianceIssues(pack domain.SourcePack) []string {
	var issues []string
	for _, src := range pack.Sources {
		if src.URL != "" {
			if !approvedDomain(src.URL) {
				issues = append(issues, fmt.Sprintf("Source %s is not from an approved domain", src.URL))
			}
		}
		if strings.TrimSpace(src.License) == "" {
			ref := src.URL
			if ref == "" {
				ref = "unknown"
			}
			issues = append(issues, fmt.Sprintf("Source missing license information: %s", ref))
		}
		license := strings.ToLower(src.License)
		if strings.Contains(license, "nc") || strings.Contains(license, "non-commercial") {
			issues = append(issues, fmt.Sprintf("Non-commercial license detected: %s", src.License))
		}
		if strings.Contains(license, "sa") || strings.Contains(license, "share-alike") {
			issues = append(issues, fmt.Sprintf("Share-alike license detected (may restrict product distribution): %s", src.License))
		}
	}
	return issues
}

func approvedDomain(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	for _, approved := range domain.ApprovedSourceDomains {
		if strings.HasSuffix(host, approved) {
			return true
		}
	}
	return false
}
