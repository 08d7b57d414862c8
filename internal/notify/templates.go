package notify

import (
	"fmt"
	"html"
	"strings"
)

// RefundNotice renders the operator email sent after an automatic refund.
func RefundNotice(ticketID, customerEmail string, amount float64, reason string) (subject, body string) {
	subject = fmt.Sprintf("Refund issued for ticket %s", ticketID)
	body = fmt.Sprintf(`<h2>Refund issued</h2>
<p>Ticket: %s</p>
<p>Customer: %s</p>
<p>Amount: $%.2f</p>
<p>Reason: %s</p>`,
		html.EscapeString(ticketID), html.EscapeString(customerEmail), amount, html.EscapeString(reason))
	return subject, body
}

// EscalationNotice renders the operator email for escalated tickets.
func EscalationNotice(ticketID, priority, reason string) (subject, body string) {
	subject = fmt.Sprintf("[%s] Support escalation %s", strings.ToUpper(priority), ticketID)
	body = fmt.Sprintf(`<h2>Support ticket escalated</h2>
<p>Ticket: %s</p>
<p>Priority: %s</p>
<p>Reason: %s</p>`,
		html.EscapeString(ticketID), html.EscapeString(priority), html.EscapeString(reason))
	return subject, body
}

// DigestLine is one row of the daily operator digest.
type DigestLine struct {
	Label string
	Value string
}

// DailyDigest renders the daily summary email.
func DailyDigest(date string, lines []DigestLine, pendingApprovals int) (subject, body string) {
	subject = fmt.Sprintf("Daily summary %s", date)
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("<h2>Daily summary for %s</h2><ul>", html.EscapeString(date)))
	for _, l := range lines {
		sb.WriteString(fmt.Sprintf("<li><b>%s</b>: %s</li>", html.EscapeString(l.Label), html.EscapeString(l.Value)))
	}
	sb.WriteString("</ul>")
	if pendingApprovals > 0 {
		sb.WriteString(fmt.Sprintf("<p><b>%d approvals waiting for review.</b></p>", pendingApprovals))
	}
	return subject, sb.String()
}
