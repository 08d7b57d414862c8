package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
	"github.com/ThunderOpsAI/product-automation-engine/internal/engine"
	"github.com/ThunderOpsAI/product-automation-engine/internal/gen"
	"github.com/ThunderOpsAI/product-automation-engine/internal/notify"
)

// daysWithoutSale stands in for days-since-purchase when a ticket has
// no linked sale, keeping it out of the auto-refund window.
const daysWithoutSale = 999

// TriageTicket runs the support triage stage. A missing ticket is fatal.
// Refund decisions mutate the sale record and send a confirmation email
// fire-and-forget; confidence is a fixed function of the action and the
// purchase recency, not self-reported by the generation call.
func (a Agents) TriageTicket(ctx context.Context, taskID, ticketID string) (domain.SupportDecision, engine.GateResult, error) {
	var decision domain.SupportDecision
	res, err := a.run(ctx, taskID, domain.AgentSupportTriage, func(ctx context.Context) (domain.Payload, float64, domain.Payload, error) {
		ticket, err := a.Repo.GetSupportTicket(ctx, ticketID)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("support ticket not found: %s: %w", ticketID, err)
		}

		purchaseDate := "unknown"
		daysSincePurchase := daysWithoutSale
		var sale *domain.Sale
		if ticket.SaleID != nil {
			s, err := a.Repo.GetSale(ctx, *ticket.SaleID)
			if err == nil && s.SaleDate != "" {
				if t, perr := time.Parse(time.RFC3339, s.SaleDate); perr == nil {
					purchaseDate = s.SaleDate
					daysSincePurchase = int(a.now().UTC().Sub(t).Hours() / 24)
					sale = &s
				}
			}
		}

		err = gen.GenerateJSON(ctx, a.Gen, gen.Request{
			System: supportSystem,
			Prompt: fmt.Sprintf(supportPrompt,
				orUnknown(ticket.Platform), orUnknown(ticket.CustomerEmail), ticket.Message, purchaseDate, daysSincePurchase),
			Temperature: 0.3,
			MaxTokens:   2000,
		}, &decision)
		if err != nil {
			return nil, 0, nil, err
		}

		ticket.ActionTaken = decision.Action
		ticket.ResponseSent = decision.Response
		ticket.EscalationReason = decision.EscalationReason
		ticket.EscalationPriority = decision.EscalationPriority
		ticket.Resolved = decision.Action != domain.SupportEscalate
		if err := a.Repo.UpdateSupportTicket(ctx, ticket); err != nil {
			return nil, 0, nil, fmt.Errorf("update ticket: %w", err)
		}

		if decision.Action == domain.SupportRefund && sale != nil {
			refundDate := a.now().UTC().Format(time.RFC3339)
			if err := a.Repo.MarkSaleRefunded(ctx, sale.ID, refundDate); err != nil {
				return nil, 0, nil, fmt.Errorf("mark sale refunded: %w", err)
			}
			amount := decision.RefundAmount
			if amount == 0 {
				amount = sale.AmountGross
			}
			if ticket.CustomerEmail != "" && a.Mailer != nil {
				subject, body := notify.RefundNotice(ticket.ID, ticket.CustomerEmail, amount, "refund approved by support triage")
				if mailErr := a.Mailer.Send(ctx, ticket.CustomerEmail, subject, body); mailErr != nil {
					a.log().Warn("refund email failed", "ticket", ticket.ID, "err", mailErr)
				}
			}
		}
		if decision.Action == domain.SupportEscalate && a.Mailer != nil {
			operator := a.cfg().Notify.OperatorEmail
			if operator != "" {
				subject, body := notify.EscalationNotice(ticket.ID, decision.EscalationPriority, decision.EscalationReason)
				if mailErr := a.Mailer.Send(ctx, operator, subject, body); mailErr != nil {
					a.log().Warn("escalation email failed", "ticket", ticket.ID, "err", mailErr)
				}
			}
		}

		confidence := supportConfidence(decision.Action, daysSincePurchase)
		output := domain.Payload{
			"action":              decision.Action,
			"ticket_id":           ticketID,
			"escalation_priority": decision.EscalationPriority,
		}
		evidence := domain.Payload{
			"platform":            ticket.Platform,
			"action":              decision.Action,
			"days_since_purchase": daysSincePurchase,
		}
		return output, confidence, evidence, nil
	})
	if err != nil {
		return domain.SupportDecision{}, res, err
	}
	return decision, res, nil
}

func supportConfidence(action string, daysSincePurchase int) float64 {
	switch {
	case action == domain.SupportAutoRespond:
		return 8
	case action == domain.SupportRefund && daysSincePurchase <= 7:
		return 8
	case action == domain.SupportEscalate:
		return 6
	default:
		return 7
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
