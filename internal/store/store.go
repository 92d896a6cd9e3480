package store

import (
	"context"

	"github.com/sells-group/material-audit/internal/model"
)

// MatchUpdate is the persisted outcome of matching one project material.
// A nil BaseID clears the match.
type MatchUpdate struct {
	BaseID      *int64
	Score       float64
	Method      model.MatchMethod
	NeedsReview bool
}

// HistoryPage selects a page of analysis history, newest first.
type HistoryPage struct {
	Limit  int
	Offset int
}

// MaterialRepository is the persistence contract the core sees for project
// materials and their analyses. The storage layout behind it is opaque.
type MaterialRepository interface {
	// ListProjectMaterials returns one chunk of a project's bill of
	// materials, ordered by id. An empty slice signals the end.
	ListProjectMaterials(ctx context.Context, projectID int64, offset, limit int) ([]model.ProjectMaterial, error)

	// UpdateMatch persists matching state for a material.
	UpdateMatch(ctx context.Context, materialID int64, upd MatchUpdate) error

	// UpdateAnalysisFlags persists the is_analyzed / is_problematic flags.
	UpdateAnalysisFlags(ctx context.Context, materialID int64, analyzed, problematic bool) error

	// WriteAnalysis replaces the current verdict for a material.
	WriteAnalysis(ctx context.Context, analysis model.PriceAnalysis) error

	// AppendHistory writes an append-only snapshot. Implementations must
	// never update or delete existing rows.
	AppendHistory(ctx context.Context, snap model.AnalysisSnapshot) error

	// ListHistory returns snapshots for a material, newest first.
	ListHistory(ctx context.Context, materialID int64, page HistoryPage) ([]model.AnalysisSnapshot, error)

	// UpdateProjectStats stores the aggregate counters for a project.
	UpdateProjectStats(ctx context.Context, projectID int64, stats model.ProjectStats) error
}

// CatalogueRepository loads the reference catalogue restricted to a scope.
type CatalogueRepository interface {
	// LoadScope returns the base materials visible under the given scope
	// together with their aliases, bounded by the implementation.
	LoadScope(ctx context.Context, scope model.MatchingScope) ([]model.BaseMaterial, []model.MaterialAlias, error)
}

// ProjectRepository manages projects and raw material rows outside the
// matching path (ingest, HTTP adapter).
type ProjectRepository interface {
	CreateProject(ctx context.Context, p model.Project) (int64, error)
	GetProject(ctx context.Context, projectID int64) (*model.Project, error)
	InsertProjectMaterials(ctx context.Context, projectID int64, materials []model.ProjectMaterial) (int, error)
	InsertBaseMaterials(ctx context.Context, materials []model.BaseMaterial) (int, error)
	GetProjectMaterial(ctx context.Context, materialID int64) (*model.ProjectMaterial, error)
}

// Store bundles the repository contracts plus lifecycle management. Both
// the postgres and sqlite backends implement it.
type Store interface {
	MaterialRepository
	CatalogueRepository
	ProjectRepository

	Migrate(ctx context.Context) error
	Close() error
}
