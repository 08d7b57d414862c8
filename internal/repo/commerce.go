package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
)

const saleColumns = `id,listing_id,platform,customer_email,amount_gross,platform_fee,amount_net,sale_date,refunded,refund_date`

func scanSale(scan func(dest ...any) error) (domain.Sale, error) {
	var s domain.Sale
	var refunded int
	var refundDate sql.NullString
	err := scan(&s.ID, &s.ListingID, &s.Platform, &s.CustomerEmail, &s.AmountGross, &s.PlatformFee, &s.AmountNet, &s.SaleDate, &refunded, &refundDate)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Refunded = refunded != 0
	if refundDate.Valid {
		s.RefundDate = &refundDate.String
	}
	return s, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func (r Repo) InsertSale(ctx context.Context, s domain.Sale) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sales(`+saleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ListingID, s.Platform, s.CustomerEmail, s.AmountGross, s.PlatformFee, s.AmountNet, s.SaleDate, boolInt(s.Refunded), nullableStringPtr(s.RefundDate))
	return err
}

func (r Repo) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=?`, id)
	return scanSale(row.Scan)
}

func (r Repo) MarkSaleRefunded(ctx context.Context, id, refundDate string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE sales SET refunded=1, refund_date=? WHERE id=?`, refundDate, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type SaleFilters struct {
	ListingID string
	Since     string
	Until     string
	Limit     int
}

func (r Repo) ListSales(ctx context.Context, f SaleFilters) ([]domain.Sale, error) {
	var clauses []string
	var args []any
	if f.ListingID != "" {
		clauses = append(clauses, "listing_id=?")
		args = append(args, f.ListingID)
	}
	if f.Since != "" {
		clauses = append(clauses, "sale_date>=?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "sale_date<?")
		args = append(args, f.Until)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + saleColumns + ` FROM sales ` + where + ` ORDER BY sale_date DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Sale
	for rows.Next() {
		s, err := scanSale(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SalesTotals aggregates gross, net and unit count over a date window.
func (r Repo) SalesTotals(ctx context.Context, since, until string) (gross, net float64, units int, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount_gross),0), COALESCE(SUM(amount_net),0), COUNT(*) FROM sales WHERE refunded=0 AND sale_date>=? AND sale_date<?`, since, until).
		Scan(&gross, &net, &units)
	return gross, net, units, err
}

const ticketColumns = `id,sale_id,platform,customer_email,message,action_taken,response_sent,escalation_reason,escalation_priority,resolved,created_at`

func scanTicket(scan func(dest ...any) error) (domain.SupportTicket, error) {
	var t domain.SupportTicket
	var saleID sql.NullString
	var resolved int
	err := scan(&t.ID, &saleID, &t.Platform, &t.CustomerEmail, &t.Message, &t.ActionTaken, &t.ResponseSent, &t.EscalationReason, &t.EscalationPriority, &resolved, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if saleID.Valid {
		t.SaleID = &saleID.String
	}
	t.Resolved = resolved != 0
	return t, nil
}

func (r Repo) InsertSupportTicket(ctx context.Context, t domain.SupportTicket) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO support_tickets(`+ticketColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, nullableStringPtr(t.SaleID), t.Platform, t.CustomerEmail, t.Message, t.ActionTaken, t.ResponseSent, t.EscalationReason, t.EscalationPriority, boolInt(t.Resolved), t.CreatedAt)
	return err
}

func (r Repo) GetSupportTicket(ctx context.Context, id string) (domain.SupportTicket, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM support_tickets WHERE id=?`, id)
	return scanTicket(row.Scan)
}

func (r Repo) UpdateSupportTicket(ctx context.Context, t domain.SupportTicket) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE support_tickets SET action_taken=?, response_sent=?, escalation_reason=?, escalation_priority=?, resolved=? WHERE id=?`,
		t.ActionTaken, t.ResponseSent, t.EscalationReason, t.EscalationPriority, boolInt(t.Resolved), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TicketFilters struct {
	Resolved *bool
	Limit    int
}

func (r Repo) ListSupportTickets(ctx context.Context, f TicketFilters) ([]domain.SupportTicket, error) {
	var clauses []string
	var args []any
	if f.Resolved != nil {
		clauses = append(clauses, "resolved=?")
		args = append(args, boolInt(*f.Resolved))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + ticketColumns + ` FROM support_tickets ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SupportTicket
	for rows.Next() {
		t, err := scanTicket(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpsertDailyMetric(ctx context.Context, m domain.DailyMetric) error {
	metadata, err := m.Metadata.MarshalText()
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO metrics_daily(date,system,revenue_gross,revenue_net,units_sold,metadata) VALUES (?,?,?,?,?,?)
ON CONFLICT(date,system) DO UPDATE SET revenue_gross=excluded.revenue_gross, revenue_net=excluded.revenue_net, units_sold=excluded.units_sold, metadata=excluded.metadata`,
		m.Date, m.System, m.RevenueGross, m.RevenueNet, m.UnitsSold, metadata)
	return err
}

func (r Repo) GetDailyMetric(ctx context.Context, date, system string) (domain.DailyMetric, error) {
	var m domain.DailyMetric
	var metadata string
	err := r.DB.QueryRowContext(ctx, `SELECT date,system,revenue_gross,revenue_net,units_sold,metadata FROM metrics_daily WHERE date=? AND system=?`, date, system).
		Scan(&m.Date, &m.System, &m.RevenueGross, &m.RevenueNet, &m.UnitsSold, &metadata)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if m.Metadata, err = domain.ParsePayload(metadata); err != nil {
		return m, fmt.Errorf("metric %s/%s metadata: %w", m.Date, m.System, err)
	}
	return m, nil
}

func (r Repo) ListDailyMetrics(ctx context.Context, since, until string) ([]domain.DailyMetric, error) {
	var clauses []string
	var args []any
	if since != "" {
		clauses = append(clauses, "date>=?")
		args = append(args, since)
	}
	if until != "" {
		clauses = append(clauses, "date<?")
		args = append(args, until)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT date,system,revenue_gross,revenue_net,units_sold,metadata FROM metrics_daily `+where+` ORDER BY date DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DailyMetric
	for rows.Next() {
		var m domain.DailyMetric
		var metadata string
		if err := rows.Scan(&m.Date, &m.System, &m.RevenueGross, &m.RevenueNet, &m.UnitsSold, &metadata); err != nil {
			return nil, err
		}
		if m.Metadata, err = domain.ParsePayload(metadata); err != nil {
			return nil, fmt.Errorf("metric %s/%s metadata: %w", m.Date, m.System, err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
