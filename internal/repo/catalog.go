package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
)

const productColumns = `id,niche,title,description,price_usd,status,confidence_score,source_type,license_notes,created_at`

func scanProduct(scan func(dest ...any) error) (domain.Product, error) {
	var p domain.Product
	var confidence sql.NullFloat64
	err := scan(&p.ID, &p.Niche, &p.Title, &p.Description, &p.PriceUSD, &p.Status, &confidence, &p.SourceType, &p.LicenseNotes, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if confidence.Valid {
		p.ConfidenceScore = &confidence.Float64
	}
	return p, nil
}

func (r Repo) InsertProduct(ctx context.Context, p domain.Product) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO products(`+productColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Niche, p.Title, p.Description, p.PriceUSD, p.Status, nullableFloatPtr(p.ConfidenceScore), p.SourceType, p.LicenseNotes, p.CreatedAt)
	return err
}

func (r Repo) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id=?`, id)
	return scanProduct(row.Scan)
}

func (r Repo) UpdateProductStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE products SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type ProductFilters struct {
	Status string
	Niche  string
	Limit  int
}

func (r Repo) ListProducts(ctx context.Context, f ProductFilters) ([]domain.Product, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Niche != "" {
		clauses = append(clauses, "niche=?")
		args = append(args, f.Niche)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + productColumns + ` FROM products ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertProductVersion(ctx context.Context, v domain.ProductVersion) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO product_versions(id,product_id,version,artifacts_path,changelog,quality_score,created_at) VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.ProductID, v.Version, v.ArtifactsPath, v.Changelog, nullableFloatPtr(v.QualityScore), v.CreatedAt)
	return err
}

// NextProductVersion returns one past the highest stored version.
func (r Repo) NextProductVersion(ctx context.Context, productID string) (int, error) {
	var max int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(version),0) FROM product_versions WHERE product_id=?`, productID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (r Repo) ListProductVersions(ctx context.Context, productID string) ([]domain.ProductVersion, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,product_id,version,artifacts_path,changelog,quality_score,created_at FROM product_versions WHERE product_id=? ORDER BY version DESC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProductVersion
	for rows.Next() {
		var v domain.ProductVersion
		var quality sql.NullFloat64
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Version, &v.ArtifactsPath, &v.Changelog, &quality, &v.CreatedAt); err != nil {
			return nil, err
		}
		if quality.Valid {
			v.QualityScore = &quality.Float64
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

const listingColumns = `id,product_id,platform,platform_listing_id,url,tags,seo_title,thumbnail_url,status,views_total,conversion_rate,created_at`

func marshalTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(b), nil
}

func scanListing(scan func(dest ...any) error) (domain.Listing, error) {
	var l domain.Listing
	var tags string
	var conversion sql.NullFloat64
	err := scan(&l.ID, &l.ProductID, &l.Platform, &l.PlatformListingID, &l.URL, &tags, &l.SEOTitle, &l.ThumbnailURL, &l.Status, &l.ViewsTotal, &conversion, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &l.Tags); err != nil {
			return l, fmt.Errorf("listing %s tags: %w", l.ID, err)
		}
	}
	if conversion.Valid {
		l.ConversionRate = &conversion.Float64
	}
	return l, nil
}

func (r Repo) InsertListing(ctx context.Context, l domain.Listing) error {
	tags, err := marshalTags(l.Tags)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO listings(`+listingColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.ProductID, l.Platform, l.PlatformListingID, l.URL, tags, l.SEOTitle, l.ThumbnailURL, l.Status, l.ViewsTotal, nullableFloatPtr(l.ConversionRate), l.CreatedAt)
	return err
}

func (r Repo) GetListing(ctx context.Context, id string) (domain.Listing, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id=?`, id)
	return scanListing(row.Scan)
}

func (r Repo) UpdateListingStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE listings SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveListingForPlatform enforces the one-live-or-paused rule.
func (r Repo) ActiveListingForPlatform(ctx context.Context, productID, platform string) (domain.Listing, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE product_id=? AND platform=? AND status IN ('live','paused') LIMIT 1`, productID, platform)
	return scanListing(row.Scan)
}

type ListingFilters struct {
	Status   string
	Platform string
	Limit    int
}

func (r Repo) ListListings(ctx context.Context, f ListingFilters) ([]domain.Listing, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Platform != "" {
		clauses = append(clauses, "platform=?")
		args = append(args, f.Platform)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + listingColumns + ` FROM listings ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

const experimentColumns = `id,listing_id,type,control_value,variant_value,hypothesis,status,started_at,ended_at,result_lift_pct,result_winner`

func scanExperiment(scan func(dest ...any) error) (domain.Experiment, error) {
	var e domain.Experiment
	var control, variant string
	var startedAt, endedAt sql.NullString
	var lift sql.NullFloat64
	err := scan(&e.ID, &e.ListingID, &e.Type, &control, &variant, &e.Hypothesis, &e.Status, &startedAt, &endedAt, &lift, &e.ResultWinner)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if e.ControlValue, err = domain.ParsePayload(control); err != nil {
		return e, fmt.Errorf("experiment %s control: %w", e.ID, err)
	}
	if e.VariantValue, err = domain.ParsePayload(variant); err != nil {
		return e, fmt.Errorf("experiment %s variant: %w", e.ID, err)
	}
	if startedAt.Valid {
		e.StartedAt = &startedAt.String
	}
	if endedAt.Valid {
		e.EndedAt = &endedAt.String
	}
	if lift.Valid {
		e.ResultLiftPct = &lift.Float64
	}
	return e, nil
}

func (r Repo) InsertExperiment(ctx context.Context, e domain.Experiment) error {
	control, err := payloadText(e.ControlValue)
	if err != nil {
		return err
	}
	variant, err := payloadText(e.VariantValue)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO experiments(`+experimentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ListingID, e.Type, control, variant, e.Hypothesis, e.Status, nullableStringPtr(e.StartedAt), nullableStringPtr(e.EndedAt), nullableFloatPtr(e.ResultLiftPct), e.ResultWinner)
	return err
}

func (r Repo) GetExperiment(ctx context.Context, id string) (domain.Experiment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id=?`, id)
	return scanExperiment(row.Scan)
}

func (r Repo) UpdateExperiment(ctx context.Context, e domain.Experiment) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE experiments SET status=?, started_at=?, ended_at=?, result_lift_pct=?, result_winner=? WHERE id=?`,
		e.Status, nullableStringPtr(e.StartedAt), nullableStringPtr(e.EndedAt), nullableFloatPtr(e.ResultLiftPct), e.ResultWinner, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RunningExperimentListingIDs returns listing IDs with a running experiment.
func (r Repo) RunningExperimentListingIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT listing_id FROM experiments WHERE status='running'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res[id] = true
	}
	return res, rows.Err()
}

// LastExperimentEnd returns the most recent ended_at per listing, for
// cooldown checks. Listings with no ended experiments are absent.
func (r Repo) LastExperimentEnd(ctx context.Context) (map[string]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT listing_id, MAX(ended_at) FROM experiments WHERE ended_at IS NOT NULL GROUP BY listing_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]string{}
	for rows.Next() {
		var id, ended string
		if err := rows.Scan(&id, &ended); err != nil {
			return nil, err
		}
		res[id] = ended
	}
	return res, rows.Err()
}

type ExperimentFilters struct {
	ListingID string
	Status    string
	Limit     int
}

func (r Repo) ListExperiments(ctx context.Context, f ExperimentFilters) ([]domain.Experiment, error) {
	var clauses []string
	var args []any
	if f.ListingID != "" {
		clauses = append(clauses, "listing_id=?")
		args = append(args, f.ListingID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + experimentColumns + ` FROM experiments ` + where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
