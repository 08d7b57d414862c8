package agent_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
)

func decision(t *testing.T, d domain.SupportDecision) string {
	t.Helper()
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal decision: %v", err)
	}
	return string(raw)
}

func (env *agentEnv) ticket(t *testing.T, id string, saleID *string) domain.SupportTicket {
	t.Helper()
	tk := domain.SupportTicket{
		ID:            id,
		SaleID:        saleID,
		Platform:      "gumroad",
		CustomerEmail: "buyer@example.com",
		Message:       "The download link does not work.",
		CreatedAt:     env.Now.Format(time.RFC3339),
	}
	if err := env.Agents.Repo.InsertSupportTicket(env.Ctx, tk); err != nil {
		t.Fatalf("insert ticket: %v", err)
	}
	return tk
}

func (env *agentEnv) sale(t *testing.T, id string, daysAgo int) domain.Sale {
	t.Helper()
	env.product(t, "prod_"+id)
	env.liveListing(t, "lst_"+id, "prod_"+id, 10)
	s := domain.Sale{
		ID:            id,
		ListingID:     "lst_" + id,
		Platform:      "gumroad",
		CustomerEmail: "buyer@example.com",
		AmountGross:   29,
		PlatformFee:   2.9,
		AmountNet:     26.1,
		SaleDate:      env.Now.Add(-time.Duration(daysAgo) * 24 * time.Hour).Format(time.RFC3339),
	}
	if err := env.Agents.Repo.InsertSale(env.Ctx, s); err != nil {
		t.Fatalf("insert sale: %v", err)
	}
	return s
}

func TestTriageTicketAutoRespond(t *testing.T) {
	env := newAgentEnv(t)
	tk := env.ticket(t, "tk_1", nil)
	task := env.task(t, domain.AgentSupportTriage)
	env.Gen.responses = []string{decision(t, domain.SupportDecision{
		Action:   domain.SupportAutoRespond,
		Response: "Here is a fresh download link.",
	})}

	d, res, err := env.Agents.TriageTicket(env.Ctx, task.ID, tk.ID)
	if err != nil {
		t.Fatalf("TriageTicket: %v", err)
	}
	if d.Action != domain.SupportAutoRespond {
		t.Fatalf("action = %s", d.Action)
	}
	// auto_respond scores 8, above the support threshold of 6.
	if res.Status != domain.TaskCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	got, err := env.Agents.Repo.GetSupportTicket(env.Ctx, tk.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if !got.Resolved {
		t.Fatal("ticket not marked resolved")
	}
	if got.ResponseSent != "Here is a fresh download link." {
		t.Fatalf("response sent = %q", got.ResponseSent)
	}
}

func TestTriageTicketRefundWithinWindow(t *testing.T) {
	env := newAgentEnv(t)
	s := env.sale(t, "sale_1", 3)
	tk := env.ticket(t, "tk_1", &s.ID)
	task := env.task(t, domain.AgentSupportTriage)
	env.Gen.responses = []string{decision(t, domain.SupportDecision{
		Action:   domain.SupportRefund,
		Response: "Your refund has been issued.",
	})}

	_, res, err := env.Agents.TriageTicket(env.Ctx, task.ID, tk.ID)
	if err != nil {
		t.Fatalf("TriageTicket: %v", err)
	}
	if res.Status != domain.TaskCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	gotSale, err := env.Agents.Repo.GetSale(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if !gotSale.Refunded || gotSale.RefundDate == nil {
		t.Fatalf("sale not marked refunded: %+v", gotSale)
	}
	if len(env.Mailer.sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(env.Mailer.sent))
	}
	if env.Mailer.sent[0].To != "buyer@example.com" {
		t.Fatalf("refund mail to %q", env.Mailer.sent[0].To)
	}
}

func TestTriageTicketRefundOutsideWindowCompletes(t *testing.T) {
	env := newAgentEnv(t)
	s := env.sale(t, "sale_1", 30)
	tk := env.ticket(t, "tk_1", &s.ID)
	task := env.task(t, domain.AgentSupportTriage)
	env.Gen.responses = []string{decision(t, domain.SupportDecision{Action: domain.SupportRefund})}

	_, res, err := env.Agents.TriageTicket(env.Ctx, task.ID, tk.ID)
	if err != nil {
		t.Fatalf("TriageTicket: %v", err)
	}
	// A refund 30 days out scores 7, still above the triage threshold.
	if res.Status != domain.TaskCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	got, err := env.Agents.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.ConfidenceScore == nil || *got.ConfidenceScore != 7 {
		t.Fatalf("confidence = %v, want 7", got.ConfidenceScore)
	}
}

func TestTriageTicketEscalates(t *testing.T) {
	env := newAgentEnv(t)
	env.Agents.Config.Notify.OperatorEmail = "ops@example.com"
	tk := env.ticket(t, "tk_1", nil)
	task := env.task(t, domain.AgentSupportTriage)
	env.Gen.responses = []string{decision(t, domain.SupportDecision{
		Action:             domain.SupportEscalate,
		EscalationReason:   "Customer threatens chargeback",
		EscalationPriority: "high",
	})}

	_, res, err := env.Agents.TriageTicket(env.Ctx, task.ID, tk.ID)
	if err != nil {
		t.Fatalf("TriageTicket: %v", err)
	}
	if res.Status != domain.TaskCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	got, err := env.Agents.Repo.GetSupportTicket(env.Ctx, tk.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if got.Resolved {
		t.Fatal("escalated ticket must stay unresolved")
	}
	if len(env.Mailer.sent) != 1 || env.Mailer.sent[0].To != "ops@example.com" {
		t.Fatalf("escalation mail = %+v", env.Mailer.sent)
	}
	taskRow, err := env.Agents.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if taskRow.ConfidenceScore == nil || *taskRow.ConfidenceScore != 6 {
		t.Fatalf("confidence = %v, want 6", taskRow.ConfidenceScore)
	}
}

func TestTriageTicketMissingTicketFailsTask(t *testing.T) {
	env := newAgentEnv(t)
	task := env.task(t, domain.AgentSupportTriage)

	_, res, err := env.Agents.TriageTicket(env.Ctx, task.ID, "tk_missing")
	if err == nil || !strings.Contains(err.Error(), "support ticket not found") {
		t.Fatalf("err = %v", err)
	}
	if res.Status != domain.TaskFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
}

func TestTriageTicketWithoutSaleUsesSentinelDays(t *testing.T) {
	env := newAgentEnv(t)
	tk := env.ticket(t, "tk_1", nil)
	task := env.task(t, domain.AgentSupportTriage)
	env.Gen.responses = []string{decision(t, domain.SupportDecision{Action: domain.SupportRefund})}

	if _, _, err := env.Agents.TriageTicket(env.Ctx, task.ID, tk.ID); err != nil {
		t.Fatalf("TriageTicket: %v", err)
	}
	got, err := env.Agents.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	days, _ := got.Evidence["days_since_purchase"].(float64)
	if int(days) != 999 {
		t.Fatalf("days_since_purchase = %v, want 999", days)
	}
	// Refund with no sale record cannot be inside the 7-day window.
	if got.ConfidenceScore == nil || *got.ConfidenceScore != 7 {
		t.Fatalf("confidence = %v, want 7", got.ConfidenceScore)
	}
}
