package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/material-audit/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Prices are
// stored as TEXT to keep decimal values exact.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	province   TEXT NOT NULL DEFAULT '',
	city       TEXT NOT NULL DEFAULT '',
	district   TEXT NOT NULL DEFAULT '',
	price_date TEXT NOT NULL DEFAULT '',
	total_count       INTEGER NOT NULL DEFAULT 0,
	priced_count      INTEGER NOT NULL DEFAULT 0,
	unpriced_count    INTEGER NOT NULL DEFAULT 0,
	review_count      INTEGER NOT NULL DEFAULT 0,
	problematic_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS project_materials (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id      INTEGER NOT NULL REFERENCES projects(id),
	name            TEXT NOT NULL,
	specification   TEXT NOT NULL DEFAULT '',
	unit            TEXT NOT NULL DEFAULT '',
	quantity        TEXT NOT NULL DEFAULT '0',
	unit_price      TEXT NOT NULL DEFAULT '0',
	is_matched      INTEGER NOT NULL DEFAULT 0,
	matched_base_id INTEGER,
	match_score     REAL NOT NULL DEFAULT 0,
	match_method    TEXT NOT NULL DEFAULT '',
	needs_review    INTEGER NOT NULL DEFAULT 0,
	is_analyzed     INTEGER NOT NULL DEFAULT 0,
	is_problematic  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS base_materials (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL,
	specification  TEXT NOT NULL DEFAULT '',
	unit           TEXT NOT NULL DEFAULT '',
	price          TEXT NOT NULL,
	effective_date DATETIME,
	province       TEXT NOT NULL DEFAULT '',
	city           TEXT NOT NULL DEFAULT '',
	district       TEXT NOT NULL DEFAULT '',
	region_label   TEXT NOT NULL DEFAULT '',
	price_type     TEXT NOT NULL DEFAULT 'provincial',
	price_date     TEXT NOT NULL DEFAULT '',
	UNIQUE (name, specification, unit, province, city, district, price_date)
);

CREATE TABLE IF NOT EXISTS material_aliases (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	base_material_id    INTEGER NOT NULL REFERENCES base_materials(id),
	alias_name          TEXT NOT NULL,
	alias_specification TEXT NOT NULL DEFAULT '',
	similarity_score    REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS price_analyses (
	id            TEXT PRIMARY KEY,
	material_id   INTEGER NOT NULL UNIQUE REFERENCES project_materials(id),
	status        TEXT NOT NULL,
	band_min      TEXT,
	band_avg      TEXT,
	band_max      TEXT,
	confidence    REAL NOT NULL DEFAULT 0,
	is_reasonable INTEGER NOT NULL DEFAULT 0,
	variance      REAL,
	risk_level    TEXT NOT NULL DEFAULT 'unknown',
	tier          TEXT NOT NULL DEFAULT '',
	failed_reason TEXT NOT NULL DEFAULT '',
	model_id      TEXT NOT NULL DEFAULT '',
	cost_usd      REAL NOT NULL DEFAULT 0,
	elapsed_ms    INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS price_analysis_history (
	id            TEXT PRIMARY KEY,
	analysis_id   TEXT NOT NULL,
	material_id   INTEGER NOT NULL,
	status        TEXT NOT NULL,
	band_min      TEXT,
	band_avg      TEXT,
	band_max      TEXT,
	confidence    REAL NOT NULL DEFAULT 0,
	is_reasonable INTEGER NOT NULL DEFAULT 0,
	variance      REAL,
	risk_level    TEXT NOT NULL DEFAULT 'unknown',
	tier          TEXT NOT NULL DEFAULT '',
	failed_reason TEXT NOT NULL DEFAULT '',
	model_id      TEXT NOT NULL DEFAULT '',
	cost_usd      REAL NOT NULL DEFAULT 0,
	elapsed_ms    INTEGER NOT NULL DEFAULT 0,
	note          TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_project_materials_project ON project_materials(project_id);
CREATE INDEX IF NOT EXISTS idx_base_materials_scope ON base_materials(price_date, province, city, district);
CREATE INDEX IF NOT EXISTS idx_material_aliases_base ON material_aliases(base_material_id);
CREATE INDEX IF NOT EXISTS idx_history_material ON price_analysis_history(material_id, created_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapRepo(err, "sqlite: rows affected")
	}
	if n == 0 {
		return model.Errorf(model.KindRepository, "%s not found: %d", entity, id)
	}
	return nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (s *SQLiteStore) ListProjectMaterials(ctx context.Context, projectID int64, offset, limit int) ([]model.ProjectMaterial, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, specification, unit, quantity, unit_price, is_matched, matched_base_id, match_score, match_method, needs_review, is_analyzed, is_problematic
		 FROM project_materials WHERE project_id = ? ORDER BY id LIMIT ? OFFSET ?`,
		projectID, limit, offset,
	)
	if err != nil {
		return nil, wrapRepo(err, "sqlite: list project materials")
	}
	defer rows.Close()

	var out []model.ProjectMaterial
	for rows.Next() {
		var m model.ProjectMaterial
		var quantity, unitPrice string
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Name, &m.Specification, &m.Unit,
			&quantity, &unitPrice, &m.IsMatched, &m.MatchedBaseID, &m.MatchScore,
			&m.MatchMethod, &m.NeedsReview, &m.IsAnalyzed, &m.IsProblematic); err != nil {
			return nil, wrapRepo(err, "sqlite: scan project material")
		}
		m.Quantity = parseDecimal(quantity)
		m.UnitPrice = parseDecimal(unitPrice)
		out = append(out, m)
	}
	return out, wrapRepo(rows.Err(), "sqlite: list project materials iterate")
}

func (s *SQLiteStore) UpdateMatch(ctx context.Context, materialID int64, upd MatchUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE project_materials SET is_matched = ?, matched_base_id = ?, match_score = ?, match_method = ?, needs_review = ? WHERE id = ?`,
		upd.BaseID != nil, upd.BaseID, upd.Score, string(upd.Method), upd.NeedsReview, materialID,
	)
	if err != nil {
		return wrapRepo(err, fmt.Sprintf("sqlite: update match %d", materialID))
	}
	return checkRowsAffected(res, "material", materialID)
}

func (s *SQLiteStore) UpdateAnalysisFlags(ctx context.Context, materialID int64, analyzed, problematic bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE project_materials SET is_analyzed = ?, is_problematic = ? WHERE id = ?`,
		analyzed, problematic, materialID,
	)
	if err != nil {
		return wrapRepo(err, fmt.Sprintf("sqlite: update analysis flags %d", materialID))
	}
	return checkRowsAffected(res, "material", materialID)
}

func bandStrings(b *model.PriceBand) (min, avg, max *string) {
	if b == nil {
		return nil, nil, nil
	}
	mn, av, mx := b.Min.String(), b.Avg.String(), b.Max.String()
	return &mn, &av, &mx
}

func bandFromStrings(min, avg, max *string) *model.PriceBand {
	if min == nil || avg == nil || max == nil {
		return nil
	}
	return &model.PriceBand{
		Min: parseDecimal(*min),
		Avg: parseDecimal(*avg),
		Max: parseDecimal(*max),
	}
}

func (s *SQLiteStore) WriteAnalysis(ctx context.Context, a model.PriceAnalysis) error {
	min, avg, max := bandStrings(a.Band)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_analyses (id, material_id, status, band_min, band_avg, band_max, confidence, is_reasonable, variance, risk_level, tier, failed_reason, model_id, cost_usd, elapsed_ms, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (material_id) DO UPDATE SET
		   status = excluded.status, band_min = excluded.band_min, band_avg = excluded.band_avg,
		   band_max = excluded.band_max, confidence = excluded.confidence,
		   is_reasonable = excluded.is_reasonable, variance = excluded.variance,
		   risk_level = excluded.risk_level, tier = excluded.tier,
		   failed_reason = excluded.failed_reason, model_id = excluded.model_id,
		   cost_usd = excluded.cost_usd, elapsed_ms = excluded.elapsed_ms,
		   updated_at = excluded.updated_at`,
		a.ID, a.MaterialID, string(a.Status), min, avg, max, a.Confidence,
		a.IsReasonable, a.PriceVariance, string(a.RiskLevel), string(a.Tier),
		a.FailedReason, a.ModelID, a.CostUSD, a.Elapsed.Milliseconds(),
		a.CreatedAt, a.UpdatedAt,
	)
	return wrapRepo(err, "sqlite: write analysis")
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, snap model.AnalysisSnapshot) error {
	min, avg, max := bandStrings(snap.Band)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_analysis_history (id, analysis_id, material_id, status, band_min, band_avg, band_max, confidence, is_reasonable, variance, risk_level, tier, failed_reason, model_id, cost_usd, elapsed_ms, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.AnalysisID, snap.MaterialID, string(snap.Status),
		min, avg, max, snap.Confidence, snap.IsReasonable, snap.Variance,
		string(snap.RiskLevel), string(snap.Tier), snap.FailedReason,
		snap.ModelID, snap.CostUSD, snap.Elapsed.Milliseconds(), snap.Note, snap.CreatedAt,
	)
	return wrapRepo(err, "sqlite: append history")
}

func (s *SQLiteStore) ListHistory(ctx context.Context, materialID int64, page HistoryPage) ([]model.AnalysisSnapshot, error) {
	if page.Limit <= 0 {
		page.Limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, analysis_id, material_id, status, band_min, band_avg, band_max, confidence, is_reasonable, variance, risk_level, tier, failed_reason, model_id, cost_usd, elapsed_ms, note, created_at
		 FROM price_analysis_history WHERE material_id = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		materialID, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, wrapRepo(err, "sqlite: list history")
	}
	defer rows.Close()

	var out []model.AnalysisSnapshot
	for rows.Next() {
		var snap model.AnalysisSnapshot
		var min, avg, max *string
		var elapsedMS int64
		if err := rows.Scan(&snap.ID, &snap.AnalysisID, &snap.MaterialID, &snap.Status,
			&min, &avg, &max, &snap.Confidence, &snap.IsReasonable, &snap.Variance,
			&snap.RiskLevel, &snap.Tier, &snap.FailedReason, &snap.ModelID,
			&snap.CostUSD, &elapsedMS, &snap.Note, &snap.CreatedAt); err != nil {
			return nil, wrapRepo(err, "sqlite: scan history row")
		}
		snap.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		snap.Band = bandFromStrings(min, avg, max)
		out = append(out, snap)
	}
	return out, wrapRepo(rows.Err(), "sqlite: list history iterate")
}

func (s *SQLiteStore) UpdateProjectStats(ctx context.Context, projectID int64, stats model.ProjectStats) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET total_count = ?, priced_count = ?, unpriced_count = ?, review_count = ?, problematic_count = ?, updated_at = ? WHERE id = ?`,
		stats.Total, stats.Priced, stats.Unpriced, stats.NeedsReview, stats.Problematic,
		time.Now().UTC(), projectID,
	)
	if err != nil {
		return wrapRepo(err, fmt.Sprintf("sqlite: update project stats %d", projectID))
	}
	return checkRowsAffected(res, "project", projectID)
}

func (s *SQLiteStore) LoadScope(ctx context.Context, scope model.MatchingScope) ([]model.BaseMaterial, []model.MaterialAlias, error) {
	query := `SELECT id, name, specification, unit, price, effective_date, province, city, district, region_label, price_type, price_date FROM base_materials WHERE 1=1`
	args := []any{}

	add := func(col, val string) {
		if val == "" {
			return
		}
		query += ` AND ` + col + ` = ?`
		args = append(args, val)
	}
	add("price_date", scope.PriceDate)
	add("province", scope.Province)
	add("city", scope.City)
	add("district", scope.District)
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, wrapRepo(err, "sqlite: load scope")
	}
	defer rows.Close()

	var materials []model.BaseMaterial
	var ids []string
	var idArgs []any
	for rows.Next() {
		var bm model.BaseMaterial
		var price string
		var effective sql.NullTime
		if err := rows.Scan(&bm.ID, &bm.Name, &bm.Specification, &bm.Unit, &price,
			&effective, &bm.Province, &bm.City, &bm.District, &bm.RegionLabel,
			&bm.PriceType, &bm.PriceDate); err != nil {
			return nil, nil, wrapRepo(err, "sqlite: scan base material")
		}
		bm.Price = parseDecimal(price)
		if effective.Valid {
			bm.EffectiveDate = effective.Time
		}
		materials = append(materials, bm)
		ids = append(ids, "?")
		idArgs = append(idArgs, bm.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrapRepo(err, "sqlite: load scope iterate")
	}
	if len(idArgs) == 0 {
		return nil, nil, nil
	}

	aliasRows, err := s.db.QueryContext(ctx,
		`SELECT base_material_id, alias_name, alias_specification, similarity_score
		 FROM material_aliases WHERE base_material_id IN (`+strings.Join(ids, ",")+`)`,
		idArgs...)
	if err != nil {
		return nil, nil, wrapRepo(err, "sqlite: load aliases")
	}
	defer aliasRows.Close()

	var aliases []model.MaterialAlias
	for aliasRows.Next() {
		var a model.MaterialAlias
		if err := aliasRows.Scan(&a.BaseMaterialID, &a.AliasName, &a.AliasSpecification, &a.SimilarityScore); err != nil {
			return nil, nil, wrapRepo(err, "sqlite: scan alias")
		}
		aliases = append(aliases, a)
	}
	return materials, aliases, wrapRepo(aliasRows.Err(), "sqlite: load aliases iterate")
}

func (s *SQLiteStore) CreateProject(ctx context.Context, p model.Project) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (name, province, city, district, price_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Province, p.City, p.District, p.PriceDate, now, now,
	)
	if err != nil {
		return 0, wrapRepo(err, "sqlite: create project")
	}
	id, err := res.LastInsertId()
	return id, wrapRepo(err, "sqlite: last insert id")
}

func (s *SQLiteStore) GetProject(ctx context.Context, projectID int64) (*model.Project, error) {
	var p model.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, province, city, district, price_date, total_count, priced_count, unpriced_count, review_count, problematic_count, created_at, updated_at
		 FROM projects WHERE id = ?`,
		projectID,
	).Scan(&p.ID, &p.Name, &p.Province, &p.City, &p.District, &p.PriceDate,
		&p.Stats.Total, &p.Stats.Priced, &p.Stats.Unpriced, &p.Stats.NeedsReview,
		&p.Stats.Problematic, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, model.Errorf(model.KindRepository, "project not found: %d", projectID)
		}
		return nil, wrapRepo(err, fmt.Sprintf("sqlite: get project %d", projectID))
	}
	return &p, nil
}

func (s *SQLiteStore) InsertProjectMaterials(ctx context.Context, projectID int64, materials []model.ProjectMaterial) (int, error) {
	if len(materials) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapRepo(err, "sqlite: begin insert materials")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO project_materials (project_id, name, specification, unit, quantity, unit_price) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, wrapRepo(err, "sqlite: prepare insert material")
	}
	defer stmt.Close()

	for _, m := range materials {
		if _, err := stmt.ExecContext(ctx, projectID, m.Name, m.Specification, m.Unit,
			m.Quantity.String(), m.UnitPrice.String()); err != nil {
			return 0, wrapRepo(err, "sqlite: insert material")
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapRepo(err, "sqlite: commit insert materials")
	}
	return len(materials), nil
}

func (s *SQLiteStore) InsertBaseMaterials(ctx context.Context, materials []model.BaseMaterial) (int, error) {
	if len(materials) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapRepo(err, "sqlite: begin insert base materials")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO base_materials (name, specification, unit, price, effective_date, province, city, district, region_label, price_type, price_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name, specification, unit, province, city, district, price_date) DO UPDATE SET
		   price = excluded.price, effective_date = excluded.effective_date,
		   region_label = excluded.region_label, price_type = excluded.price_type`)
	if err != nil {
		return 0, wrapRepo(err, "sqlite: prepare insert base material")
	}
	defer stmt.Close()

	for _, bm := range materials {
		if _, err := stmt.ExecContext(ctx, bm.Name, bm.Specification, bm.Unit,
			bm.Price.String(), bm.EffectiveDate, bm.Province, bm.City, bm.District,
			bm.RegionLabel, string(bm.PriceType), bm.PriceDate); err != nil {
			return 0, wrapRepo(err, "sqlite: insert base material")
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapRepo(err, "sqlite: commit insert base materials")
	}
	return len(materials), nil
}

func (s *SQLiteStore) GetProjectMaterial(ctx context.Context, materialID int64) (*model.ProjectMaterial, error) {
	var m model.ProjectMaterial
	var quantity, unitPrice string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, specification, unit, quantity, unit_price, is_matched, matched_base_id, match_score, match_method, needs_review, is_analyzed, is_problematic
		 FROM project_materials WHERE id = ?`,
		materialID,
	).Scan(&m.ID, &m.ProjectID, &m.Name, &m.Specification, &m.Unit,
		&quantity, &unitPrice, &m.IsMatched, &m.MatchedBaseID, &m.MatchScore,
		&m.MatchMethod, &m.NeedsReview, &m.IsAnalyzed, &m.IsProblematic)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, model.Errorf(model.KindRepository, "material not found: %d", materialID)
		}
		return nil, wrapRepo(err, fmt.Sprintf("sqlite: get project material %d", materialID))
	}
	m.Quantity = parseDecimal(quantity)
	m.UnitPrice = parseDecimal(unitPrice)
	return &m, nil
}
