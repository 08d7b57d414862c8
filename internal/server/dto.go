package server

import "github.com/ThunderOpsAI/product-automation-engine/internal/domain"

type CreateTaskRequest struct {
	Type     string         `json:"type" enum:"market_intel,asset_sourcing,enhancement,branding,listing,optimization,support_triage"`
	Priority *int           `json:"priority,omitempty" minimum:"1" maximum:"10"`
	Input    domain.Payload `json:"input,omitempty"`
}

type ResolveApprovalRequest struct {
	Reviewer string `json:"reviewer,omitempty"`
	Note     string `json:"note,omitempty"`
}

type RunPipelineRequest struct {
	MaxNiches int `json:"max_niches,omitempty" minimum:"0" maximum:"10"`
}

type IncomingSupportRequest struct {
	SaleID        *string `json:"sale_id,omitempty"`
	Platform      string  `json:"platform,omitempty"`
	CustomerEmail string  `json:"customer_email,omitempty" format:"email"`
	Message       string  `json:"message"`
}

type IncomingSupportResponse struct {
	TicketID string `json:"ticket_id"`
	TaskID   string `json:"task_id"`
}

type AcceptedResponse struct {
	Status string `json:"status" example:"accepted"`
}

type ReconcileResponse struct {
	FailedTaskIDs []string `json:"failed_task_ids"`
	Count         int      `json:"count"`
}
