package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/material-audit/internal/db"
	"github.com/sells-group/material-audit/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot matching and analysis paths.
var preparedStatements = map[string]string{
	"list_project_materials": `SELECT id, project_id, name, specification, unit, quantity, unit_price, is_matched, matched_base_id, match_score, match_method, needs_review, is_analyzed, is_problematic FROM project_materials WHERE project_id = $1 ORDER BY id LIMIT $2 OFFSET $3`,
	"update_match":           `UPDATE project_materials SET is_matched = $1, matched_base_id = $2, match_score = $3, match_method = $4, needs_review = $5 WHERE id = $6`,
	"update_analysis_flags":  `UPDATE project_materials SET is_analyzed = $1, is_problematic = $2 WHERE id = $3`,
	"append_history":         `INSERT INTO price_analysis_history (id, analysis_id, material_id, status, band_min, band_avg, band_max, confidence, is_reasonable, variance, risk_level, tier, failed_reason, model_id, cost_usd, elapsed_ms, note, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access (bulk catalogue imports).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id         BIGSERIAL PRIMARY KEY,
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
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS project_materials (
	id              BIGSERIAL PRIMARY KEY,
	project_id      BIGINT NOT NULL REFERENCES projects(id),
	name            TEXT NOT NULL,
	specification   TEXT NOT NULL DEFAULT '',
	unit            TEXT NOT NULL DEFAULT '',
	quantity        NUMERIC(18,4) NOT NULL DEFAULT 0,
	unit_price      NUMERIC(18,4) NOT NULL DEFAULT 0,
	is_matched      BOOLEAN NOT NULL DEFAULT false,
	matched_base_id BIGINT,
	match_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	match_method    TEXT NOT NULL DEFAULT '',
	needs_review    BOOLEAN NOT NULL DEFAULT false,
	is_analyzed     BOOLEAN NOT NULL DEFAULT false,
	is_problematic  BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS base_materials (
	id             BIGSERIAL PRIMARY KEY,
	name           TEXT NOT NULL,
	specification  TEXT NOT NULL DEFAULT '',
	unit           TEXT NOT NULL DEFAULT '',
	price          NUMERIC(18,4) NOT NULL,
	effective_date TIMESTAMPTZ,
	province       TEXT NOT NULL DEFAULT '',
	city           TEXT NOT NULL DEFAULT '',
	district       TEXT NOT NULL DEFAULT '',
	region_label   TEXT NOT NULL DEFAULT '',
	price_type     TEXT NOT NULL DEFAULT 'provincial',
	price_date     TEXT NOT NULL DEFAULT '',
	UNIQUE (name, specification, unit, province, city, district, price_date)
);

CREATE TABLE IF NOT EXISTS material_aliases (
	id                  BIGSERIAL PRIMARY KEY,
	base_material_id    BIGINT NOT NULL REFERENCES base_materials(id),
	alias_name          TEXT NOT NULL,
	alias_specification TEXT NOT NULL DEFAULT '',
	similarity_score    DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS price_analyses (
	id            TEXT PRIMARY KEY,
	material_id   BIGINT NOT NULL UNIQUE REFERENCES project_materials(id),
	status        TEXT NOT NULL,
	band_min      NUMERIC(18,4),
	band_avg      NUMERIC(18,4),
	band_max      NUMERIC(18,4),
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_reasonable BOOLEAN NOT NULL DEFAULT false,
	variance      DOUBLE PRECISION,
	risk_level    TEXT NOT NULL DEFAULT 'unknown',
	tier          TEXT NOT NULL DEFAULT '',
	failed_reason TEXT NOT NULL DEFAULT '',
	model_id      TEXT NOT NULL DEFAULT '',
	cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
	elapsed_ms    BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS price_analysis_history (
	id            TEXT PRIMARY KEY,
	analysis_id   TEXT NOT NULL,
	material_id   BIGINT NOT NULL,
	status        TEXT NOT NULL,
	band_min      NUMERIC(18,4),
	band_avg      NUMERIC(18,4),
	band_max      NUMERIC(18,4),
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_reasonable BOOLEAN NOT NULL DEFAULT false,
	variance      DOUBLE PRECISION,
	risk_level    TEXT NOT NULL DEFAULT 'unknown',
	tier          TEXT NOT NULL DEFAULT '',
	failed_reason TEXT NOT NULL DEFAULT '',
	model_id      TEXT NOT NULL DEFAULT '',
	cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
	elapsed_ms    BIGINT NOT NULL DEFAULT 0,
	note          TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_project_materials_project ON project_materials(project_id);
CREATE INDEX IF NOT EXISTS idx_project_materials_review ON project_materials(project_id, needs_review);
CREATE INDEX IF NOT EXISTS idx_base_materials_scope ON base_materials(price_date, province, city, district);
CREATE INDEX IF NOT EXISTS idx_material_aliases_base ON material_aliases(base_material_id);
CREATE INDEX IF NOT EXISTS idx_history_material ON price_analysis_history(material_id, created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const projectMaterialCols = `id, project_id, name, specification, unit, quantity, unit_price, is_matched, matched_base_id, match_score, match_method, needs_review, is_analyzed, is_problematic`

func scanProjectMaterial(row pgx.Row) (model.ProjectMaterial, error) {
	var m model.ProjectMaterial
	var method *string
	err := row.Scan(&m.ID, &m.ProjectID, &m.Name, &m.Specification, &m.Unit,
		&m.Quantity, &m.UnitPrice, &m.IsMatched, &m.MatchedBaseID, &m.MatchScore,
		&method, &m.NeedsReview, &m.IsAnalyzed, &m.IsProblematic)
	if err != nil {
		return m, err
	}
	if method != nil {
		m.MatchMethod = model.MatchMethod(*method)
	}
	return m, nil
}

func (s *PostgresStore) ListProjectMaterials(ctx context.Context, projectID int64, offset, limit int) ([]model.ProjectMaterial, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+projectMaterialCols+` FROM project_materials WHERE project_id = $1 ORDER BY id LIMIT $2 OFFSET $3`,
		projectID, limit, offset,
	)
	if err != nil {
		return nil, wrapRepo(err, "postgres: list project materials")
	}
	defer rows.Close()

	var out []model.ProjectMaterial
	for rows.Next() {
		m, err := scanProjectMaterial(rows)
		if err != nil {
			return nil, wrapRepo(err, "postgres: scan project material")
		}
		out = append(out, m)
	}
	return out, wrapRepo(rows.Err(), "postgres: list project materials iterate")
}

func (s *PostgresStore) UpdateMatch(ctx context.Context, materialID int64, upd MatchUpdate) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE project_materials SET is_matched = $1, matched_base_id = $2, match_score = $3, match_method = $4, needs_review = $5 WHERE id = $6`,
		upd.BaseID != nil, upd.BaseID, upd.Score, string(upd.Method), upd.NeedsReview, materialID,
	)
	if err != nil {
		return wrapRepo(err, fmt.Sprintf("postgres: update match %d", materialID))
	}
	if tag.RowsAffected() == 0 {
		return model.Errorf(model.KindRepository, "material not found: %d", materialID)
	}
	return nil
}

func (s *PostgresStore) UpdateAnalysisFlags(ctx context.Context, materialID int64, analyzed, problematic bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE project_materials SET is_analyzed = $1, is_problematic = $2 WHERE id = $3`,
		analyzed, problematic, materialID,
	)
	if err != nil {
		return wrapRepo(err, fmt.Sprintf("postgres: update analysis flags %d", materialID))
	}
	if tag.RowsAffected() == 0 {
		return model.Errorf(model.KindRepository, "material not found: %d", materialID)
	}
	return nil
}

func (s *PostgresStore) WriteAnalysis(ctx context.Context, a model.PriceAnalysis) error {
	var min, avg, max *decimal.Decimal
	if a.Band != nil {
		min, avg, max = &a.Band.Min, &a.Band.Avg, &a.Band.Max
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_analyses (id, material_id, status, band_min, band_avg, band_max, confidence, is_reasonable, variance, risk_level, tier, failed_reason, model_id, cost_usd, elapsed_ms, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (material_id) DO UPDATE SET
		   status = $3, band_min = $4, band_avg = $5, band_max = $6, confidence = $7,
		   is_reasonable = $8, variance = $9, risk_level = $10, tier = $11,
		   failed_reason = $12, model_id = $13, cost_usd = $14, elapsed_ms = $15, updated_at = $17`,
		a.ID, a.MaterialID, string(a.Status), min, avg, max, a.Confidence,
		a.IsReasonable, a.PriceVariance, string(a.RiskLevel), string(a.Tier),
		a.FailedReason, a.ModelID, a.CostUSD, a.Elapsed.Milliseconds(),
		a.CreatedAt, a.UpdatedAt,
	)
	return wrapRepo(err, "postgres: write analysis")
}

func (s *PostgresStore) AppendHistory(ctx context.Context, snap model.AnalysisSnapshot) error {
	var min, avg, max *decimal.Decimal
	if snap.Band != nil {
		min, avg, max = &snap.Band.Min, &snap.Band.Avg, &snap.Band.Max
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_analysis_history (id, analysis_id, material_id, status, band_min, band_avg, band_max, confidence, is_reasonable, variance, risk_level, tier, failed_reason, model_id, cost_usd, elapsed_ms, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		snap.ID, snap.AnalysisID, snap.MaterialID, string(snap.Status),
		min, avg, max, snap.Confidence, snap.IsReasonable, snap.Variance,
		string(snap.RiskLevel), string(snap.Tier), snap.FailedReason,
		snap.ModelID, snap.CostUSD, snap.Elapsed.Milliseconds(), snap.Note, snap.CreatedAt,
	)
	return wrapRepo(err, "postgres: append history")
}

func (s *PostgresStore) ListHistory(ctx context.Context, materialID int64, page HistoryPage) ([]model.AnalysisSnapshot, error) {
	if page.Limit <= 0 {
		page.Limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, analysis_id, material_id, status, band_min, band_avg, band_max, confidence, is_reasonable, variance, risk_level, tier, failed_reason, model_id, cost_usd, elapsed_ms, note, created_at
		 FROM price_analysis_history WHERE material_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		materialID, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, wrapRepo(err, "postgres: list history")
	}
	defer rows.Close()

	var out []model.AnalysisSnapshot
	for rows.Next() {
		var snap model.AnalysisSnapshot
		var min, avg, max *decimal.Decimal
		var elapsedMS int64
		if err := rows.Scan(&snap.ID, &snap.AnalysisID, &snap.MaterialID, &snap.Status,
			&min, &avg, &max, &snap.Confidence, &snap.IsReasonable, &snap.Variance,
			&snap.RiskLevel, &snap.Tier, &snap.FailedReason, &snap.ModelID,
			&snap.CostUSD, &elapsedMS, &snap.Note, &snap.CreatedAt); err != nil {
			return nil, wrapRepo(err, "postgres: scan history row")
		}
		snap.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if min != nil && avg != nil && max != nil {
			snap.Band = &model.PriceBand{Min: *min, Avg: *avg, Max: *max}
		}
		out = append(out, snap)
	}
	return out, wrapRepo(rows.Err(), "postgres: list history iterate")
}

func (s *PostgresStore) UpdateProjectStats(ctx context.Context, projectID int64, stats model.ProjectStats) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET total_count = $1, priced_count = $2, unpriced_count = $3, review_count = $4, problematic_count = $5, updated_at = $6 WHERE id = $7`,
		stats.Total, stats.Priced, stats.Unpriced, stats.NeedsReview, stats.Problematic,
		time.Now().UTC(), projectID,
	)
	if err != nil {
		return wrapRepo(err, fmt.Sprintf("postgres: update project stats %d", projectID))
	}
	if tag.RowsAffected() == 0 {
		return model.Errorf(model.KindRepository, "project not found: %d", projectID)
	}
	return nil
}

func (s *PostgresStore) LoadScope(ctx context.Context, scope model.MatchingScope) ([]model.BaseMaterial, []model.MaterialAlias, error) {
	query := `SELECT id, name, specification, unit, price, effective_date, province, city, district, region_label, price_type, price_date FROM base_materials WHERE true`
	args := []any{}
	argIdx := 1

	add := func(col, val string) {
		if val == "" {
			return
		}
		query += fmt.Sprintf(` AND %s = $%d`, col, argIdx)
		args = append(args, val)
		argIdx++
	}
	add("price_date", scope.PriceDate)
	add("province", scope.Province)
	add("city", scope.City)
	add("district", scope.District)
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, wrapRepo(err, "postgres: load scope")
	}
	defer rows.Close()

	var materials []model.BaseMaterial
	ids := []int64{}
	for rows.Next() {
		var bm model.BaseMaterial
		var effective *time.Time
		if err := rows.Scan(&bm.ID, &bm.Name, &bm.Specification, &bm.Unit, &bm.Price,
			&effective, &bm.Province, &bm.City, &bm.District, &bm.RegionLabel,
			&bm.PriceType, &bm.PriceDate); err != nil {
			return nil, nil, wrapRepo(err, "postgres: scan base material")
		}
		if effective != nil {
			bm.EffectiveDate = *effective
		}
		materials = append(materials, bm)
		ids = append(ids, bm.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrapRepo(err, "postgres: load scope iterate")
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}

	aliasRows, err := s.pool.Query(ctx,
		`SELECT base_material_id, alias_name, alias_specification, similarity_score
		 FROM material_aliases WHERE base_material_id = ANY($1)`, ids)
	if err != nil {
		return nil, nil, wrapRepo(err, "postgres: load aliases")
	}
	defer aliasRows.Close()

	var aliases []model.MaterialAlias
	for aliasRows.Next() {
		var a model.MaterialAlias
		if err := aliasRows.Scan(&a.BaseMaterialID, &a.AliasName, &a.AliasSpecification, &a.SimilarityScore); err != nil {
			return nil, nil, wrapRepo(err, "postgres: scan alias")
		}
		aliases = append(aliases, a)
	}
	return materials, aliases, wrapRepo(aliasRows.Err(), "postgres: load aliases iterate")
}

func (s *PostgresStore) CreateProject(ctx context.Context, p model.Project) (int64, error) {
	now := time.Now().UTC()
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO projects (name, province, city, district, price_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		p.Name, p.Province, p.City, p.District, p.PriceDate, now, now,
	).Scan(&id)
	return id, wrapRepo(err, "postgres: create project")
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID int64) (*model.Project, error) {
	var p model.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, province, city, district, price_date, total_count, priced_count, unpriced_count, review_count, problematic_count, created_at, updated_at
		 FROM projects WHERE id = $1`,
		projectID,
	).Scan(&p.ID, &p.Name, &p.Province, &p.City, &p.District, &p.PriceDate,
		&p.Stats.Total, &p.Stats.Priced, &p.Stats.Unpriced, &p.Stats.NeedsReview,
		&p.Stats.Problematic, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.Errorf(model.KindRepository, "project not found: %d", projectID)
		}
		return nil, wrapRepo(err, fmt.Sprintf("postgres: get project %d", projectID))
	}
	return &p, nil
}

func (s *PostgresStore) InsertProjectMaterials(ctx context.Context, projectID int64, materials []model.ProjectMaterial) (int, error) {
	if len(materials) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(materials))
	for _, m := range materials {
		rows = append(rows, []any{projectID, m.Name, m.Specification, m.Unit, m.Quantity, m.UnitPrice})
	}
	n, err := db.CopyFrom(ctx, s.pool, "project_materials",
		[]string{"project_id", "name", "specification", "unit", "quantity", "unit_price"}, rows)
	if err != nil {
		return 0, wrapRepo(err, "postgres: insert project materials")
	}
	return int(n), nil
}

func (s *PostgresStore) InsertBaseMaterials(ctx context.Context, materials []model.BaseMaterial) (int, error) {
	if len(materials) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(materials))
	for _, bm := range materials {
		rows = append(rows, []any{bm.Name, bm.Specification, bm.Unit, bm.Price,
			bm.EffectiveDate, bm.Province, bm.City, bm.District, bm.RegionLabel,
			string(bm.PriceType), bm.PriceDate})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "base_materials",
		Columns:      []string{"name", "specification", "unit", "price", "effective_date", "province", "city", "district", "region_label", "price_type", "price_date"},
		ConflictKeys: []string{"name", "specification", "unit", "province", "city", "district", "price_date"},
	}, rows)
	if err != nil {
		return 0, wrapRepo(err, "postgres: insert base materials")
	}
	return int(n), nil
}

func (s *PostgresStore) GetProjectMaterial(ctx context.Context, materialID int64) (*model.ProjectMaterial, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+projectMaterialCols+` FROM project_materials WHERE id = $1`, materialID)
	m, err := scanProjectMaterial(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.Errorf(model.KindRepository, "material not found: %d", materialID)
		}
		return nil, wrapRepo(err, fmt.Sprintf("postgres: get project material %d", materialID))
	}
	return &m, nil
}

// wrapRepo tags a non-nil error with the repository kind.
func wrapRepo(err error, msg string) error {
	if err == nil {
		return nil
	}
	return model.NewError(model.KindRepository, eris.Wrap(err, msg))
}
