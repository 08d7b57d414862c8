package domain

import (
	"encoding/json"
	"fmt"
)

// AgentKind identifies one of the seven pipeline stages.
type AgentKind string

const (
	AgentMarketIntel   AgentKind = "market_intel"
	AgentAssetSourcing AgentKind = "asset_sourcing"
	AgentEnhancement   AgentKind = "enhancement"
	AgentBranding      AgentKind = "branding"
	AgentListing       AgentKind = "listing"
	AgentOptimization  AgentKind = "optimization"
	AgentSupportTriage AgentKind = "support_triage"
)

// AgentKinds lists every valid agent kind in pipeline order.
var AgentKinds = []AgentKind{
	AgentMarketIntel,
	AgentAssetSourcing,
	AgentEnhancement,
	AgentBranding,
	AgentListing,
	AgentOptimization,
	AgentSupportTriage,
}

// Thresholds maps each agent kind to its fixed confidence threshold.
// Below the threshold a gated task lands in the approvals queue.
var Thresholds = map[AgentKind]float64{
	AgentMarketIntel:   7,
	AgentAssetSourcing: 7,
	AgentEnhancement:   8,
	AgentBranding:      7,
	AgentListing:       8,
	AgentOptimization:  6,
	AgentSupportTriage: 6,
}

// Threshold returns the confidence threshold for kind.
func Threshold(kind AgentKind) (float64, error) {
	t, ok := Thresholds[kind]
	if !ok {
		return 0, fmt.Errorf("unknown agent kind %q", kind)
	}
	return t, nil
}

// ValidAgentKind reports whether kind is one of the seven stages.
func ValidAgentKind(kind AgentKind) bool {
	_, ok := Thresholds[kind]
	return ok
}

// ApprovedSourceDomains is the allow-list for asset sourcing. Every
// source URL must resolve to one of these domains.
var ApprovedSourceDomains = []string{
	"archive.org",
	"commons.wikimedia.org",
	"github.com",
	"gutenberg.org",
	"data.gov",
	"nasa.gov",
}

// Task statuses.
const (
	TaskPending       = "pending"
	TaskRunning       = "running"
	TaskCompleted     = "completed"
	TaskNeedsApproval = "needs_approval"
	TaskFailed        = "failed"
)

// TerminalTaskStatus reports whether a task status admits no further
// gate calls. needs_approval is terminal for the gate; an operator
// action later resolves it to completed or failed.
func TerminalTaskStatus(status string) bool {
	switch status {
	case TaskCompleted, TaskNeedsApproval, TaskFailed:
		return true
	}
	return false
}

// Payload is an opaque structured document stored as JSON text.
type Payload map[string]any

// MarshalText renders the payload as compact JSON; nil yields "".
func (p Payload) MarshalText() (string, error) {
	if p == nil {
		return "", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(b), nil
}

// ParsePayload decodes JSON text into a Payload; empty text yields nil.
func ParsePayload(text string) (Payload, error) {
	if text == "" {
		return nil, nil
	}
	var p Payload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return p, nil
}

// Task is one unit of work for a single agent stage.
type Task struct {
	ID              string    `json:"id"`
	Type            AgentKind `json:"type"`
	Status          string    `json:"status" enum:"pending,running,completed,needs_approval,failed"`
	Priority        int       `json:"priority"`
	Input           Payload   `json:"input,omitempty"`
	Output          Payload   `json:"output,omitempty"`
	Evidence        Payload   `json:"evidence,omitempty"`
	ConfidenceScore *float64  `json:"confidence_score,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CreatedAt       string    `json:"created_at" format:"date-time"`
	CompletedAt     *string   `json:"completed_at,omitempty" format:"date-time"`
}

// Approval statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Approval is a human-review request tied 1:1 to a needs_approval task.
type Approval struct {
	ID         string  `json:"id"`
	TaskID     string  `json:"task_id"`
	System     string  `json:"system"`
	Reason     string  `json:"reason"`
	Context    Payload `json:"context,omitempty"`
	Status     string  `json:"status" enum:"pending,approved,rejected"`
	ReviewedBy string  `json:"reviewed_by,omitempty"`
	ReviewedAt *string `json:"reviewed_at,omitempty" format:"date-time"`
}

// OpportunityBrief is one candidate niche from the market intel stage.
type OpportunityBrief struct {
	Niche           string        `json:"niche"`
	Category        string        `json:"category"`
	ConfidenceScore float64       `json:"confidence_score"`
	DemandSignals   DemandSignals `json:"demand_signals"`
	Competition     Competition   `json:"competition"`
	Pricing         PricingSignal `json:"pricing"`
	Positioning     string        `json:"positioning"`
	Evidence        BriefEvidence `json:"evidence"`
}

type DemandSignals struct {
	BestSellerCount      int    `json:"best_seller_count"`
	AvgReviews           int    `json:"avg_reviews"`
	SearchVolumeEstimate string `json:"search_volume_estimate"`
}

type Competition struct {
	TotalListings   int    `json:"total_listings"`
	SaturationLevel string `json:"saturation_level" enum:"low,medium,high"`
}

type PricingSignal struct {
	SuggestedPrice float64    `json:"suggested_price"`
	PriceRange     [2]float64 `json:"price_range"`
}

type BriefEvidence struct {
	TopPerformers []TopPerformer `json:"top_performers"`
}

type TopPerformer struct {
	URL           string `json:"url"`
	SalesEstimate int    `json:"sales_estimate"`
}

// SourceItem is one licensable asset candidate.
type SourceItem struct {
	Type         string   `json:"type" enum:"public_domain,cc0,purchased,original"`
	URL          string   `json:"url,omitempty"`
	License      string   `json:"license"`
	Files        []string `json:"files"`
	QualityScore float64  `json:"quality_score"`
}

// SourcePack is the asset sourcing stage output.
type SourcePack struct {
	Sources         []SourceItem `json:"sources"`
	ComplianceNotes string       `json:"compliance_notes"`
	ConfidenceScore float64      `json:"confidence_score"`
}

// ProductVariant is one pricing tier of an enhanced product.
type ProductVariant struct {
	Name           string   `json:"name" enum:"Beginner,Pro,Complete"`
	Files          []string `json:"files"`
	SuggestedPrice float64  `json:"suggested_price"`
}

// Documentation bundles the written materials shipped with a product.
type Documentation struct {
	Readme     string `json:"readme"`
	QuickStart string `json:"quick_start"`
	FAQ        string `json:"faq"`
}

// EnhancedProduct is the enhancement stage output.
type EnhancedProduct struct {
	Files         []string         `json:"files"`
	Variants      []ProductVariant `json:"variants"`
	Documentation Documentation    `json:"documentation"`
	QualityScore  float64          `json:"quality_score"`
}

// FAQEntry is one question/answer pair for a marketplace listing.
type FAQEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// BrandingOutput is the branding stage output. The *Prompt fields are
// filled by the generation call and consumed by image generation; the
// image URL fields are populated afterwards.
type BrandingOutput struct {
	CoverImage         string     `json:"cover_image"`
	Thumbnails         []string   `json:"thumbnails"`
	ProductDescription string     `json:"product_description"`
	SEOTitle           string     `json:"seo_title"`
	Tags               []string   `json:"tags"`
	FAQ                []FAQEntry `json:"faq"`
	CoverImagePrompt   string     `json:"cover_image_prompt,omitempty"`
	ThumbnailPrompt    string     `json:"thumbnail_prompt,omitempty"`
}

// Experiment types.
const (
	ExperimentPrice     = "price"
	ExperimentTitle     = "title"
	ExperimentThumbnail = "thumbnail"
)

// ExperimentProposal is one A/B change suggested by the optimization
// stage. Priority 8 and above requires human approval.
type ExperimentProposal struct {
	ListingID       string  `json:"listing_id"`
	Type            string  `json:"type" enum:"price,title,thumbnail"`
	CurrentValue    any     `json:"current_value"`
	ProposedValue   any     `json:"proposed_value"`
	Hypothesis      string  `json:"hypothesis"`
	ExpectedLiftPct float64 `json:"expected_lift_pct"`
	Priority        int     `json:"priority"`
	DataPoints      int     `json:"data_points"`
}

// OptimizationOutput is the optimization stage output. The generator
// fills Experiments; the counts are set after admission control.
type OptimizationOutput struct {
	Experiments   []ExperimentProposal `json:"experiments"`
	AutoApplied   int                  `json:"auto_applied"`
	NeedsApproval int                  `json:"needs_approval"`
}

// Support triage actions.
const (
	SupportAutoRespond = "auto_respond"
	SupportRefund      = "refund"
	SupportEscalate    = "escalate"
)

// SupportDecision is the support triage stage output.
type SupportDecision struct {
	Action             string  `json:"action" enum:"auto_respond,refund,escalate"`
	Response           string  `json:"response,omitempty"`
	RefundAmount       float64 `json:"refund_amount,omitempty"`
	EscalationReason   string  `json:"escalation_reason,omitempty"`
	EscalationPriority string  `json:"escalation_priority,omitempty" enum:"low,medium,high"`
}

// Product statuses.
const (
	ProductDraft           = "draft"
	ProductPendingApproval = "pending_approval"
	ProductApproved        = "approved"
	ProductListed          = "listed"
	ProductPaused          = "paused"
	ProductRemoved         = "removed"
)

// Product is a sellable artifact created by the enhancement stage.
type Product struct {
	ID              string   `json:"id"`
	Niche           string   `json:"niche"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	PriceUSD        float64  `json:"price_usd"`
	Status          string   `json:"status" enum:"draft,pending_approval,approved,listed,paused,removed"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	SourceType      string   `json:"source_type,omitempty"`
	LicenseNotes    string   `json:"license_notes,omitempty"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
}

// ProductVersion is one revision of a product's artifacts.
type ProductVersion struct {
	ID            string   `json:"id"`
	ProductID     string   `json:"product_id"`
	Version       int      `json:"version"`
	ArtifactsPath string   `json:"artifacts_path,omitempty"`
	Changelog     string   `json:"changelog,omitempty"`
	QualityScore  *float64 `json:"quality_score,omitempty"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
}

// Listing statuses and platforms.
const (
	ListingLive    = "live"
	ListingPaused  = "paused"
	ListingRemoved = "removed"

	PlatformGumroad = "gumroad"
	PlatformEtsy    = "etsy"
)

// Platforms lists the marketplaces a product is published to.
var Platforms = []string{PlatformGumroad, PlatformEtsy}

// Listing is one marketplace publication of a product. A product has
// at most one live-or-paused listing per platform.
type Listing struct {
	ID                string   `json:"id"`
	ProductID         string   `json:"product_id"`
	Platform          string   `json:"platform" enum:"gumroad,etsy"`
	PlatformListingID string   `json:"platform_listing_id,omitempty"`
	URL               string   `json:"url,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	SEOTitle          string   `json:"seo_title,omitempty"`
	ThumbnailURL      string   `json:"thumbnail_url,omitempty"`
	Status            string   `json:"status" enum:"live,paused,removed"`
	ViewsTotal        int      `json:"views_total"`
	ConversionRate    *float64 `json:"conversion_rate,omitempty"`
	CreatedAt         string   `json:"created_at" format:"date-time"`
}

// Experiment statuses.
const (
	ExperimentProposed = "proposed"
	ExperimentRunning  = "running"
	ExperimentComplete = "complete"
	ExperimentRejected = "rejected"
)

// Experiment is one A/B test on a listing. At most one may be running
// per listing at a time.
type Experiment struct {
	ID            string   `json:"id"`
	ListingID     string   `json:"listing_id"`
	Type          string   `json:"type" enum:"price,title,thumbnail"`
	ControlValue  Payload  `json:"control_value,omitempty"`
	VariantValue  Payload  `json:"variant_value,omitempty"`
	Hypothesis    string   `json:"hypothesis,omitempty"`
	Status        string   `json:"status" enum:"proposed,running,complete,rejected"`
	StartedAt     *string  `json:"started_at,omitempty" format:"date-time"`
	EndedAt       *string  `json:"ended_at,omitempty" format:"date-time"`
	ResultLiftPct *float64 `json:"result_lift_pct,omitempty"`
	ResultWinner  string   `json:"result_winner,omitempty" enum:"control,variant"`
}

// Sale is one purchase of a listing.
type Sale struct {
	ID            string  `json:"id"`
	ListingID     string  `json:"listing_id"`
	Platform      string  `json:"platform,omitempty"`
	CustomerEmail string  `json:"customer_email,omitempty"`
	AmountGross   float64 `json:"amount_gross"`
	PlatformFee   float64 `json:"platform_fee"`
	AmountNet     float64 `json:"amount_net"`
	SaleDate      string  `json:"sale_date,omitempty" format:"date-time"`
	Refunded      bool    `json:"refunded"`
	RefundDate    *string `json:"refund_date,omitempty" format:"date-time"`
}

// SupportTicket is one inbound customer message awaiting triage.
type SupportTicket struct {
	ID                 string  `json:"id"`
	SaleID             *string `json:"sale_id,omitempty"`
	Platform           string  `json:"platform,omitempty"`
	CustomerEmail      string  `json:"customer_email,omitempty"`
	Message            string  `json:"message,omitempty"`
	ActionTaken        string  `json:"action_taken,omitempty" enum:"auto_respond,refund,escalate"`
	ResponseSent       string  `json:"response_sent,omitempty"`
	EscalationReason   string  `json:"escalation_reason,omitempty"`
	EscalationPriority string  `json:"escalation_priority,omitempty" enum:"low,medium,high"`
	Resolved           bool    `json:"resolved"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
}

// DailyMetric is one day's revenue snapshot, upserted by the daily
// summary job.
type DailyMetric struct {
	Date         string  `json:"date"`
	System       string  `json:"system"`
	RevenueGross float64 `json:"revenue_gross"`
	RevenueNet   float64 `json:"revenue_net"`
	UnitsSold    int     `json:"units_sold"`
	Metadata     Payload `json:"metadata,omitempty"`
}
