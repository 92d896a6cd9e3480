package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/material-audit/internal/model"
	"github.com/sells-group/material-audit/internal/scope"
	"github.com/sells-group/material-audit/internal/store"
)

// Importer loads parsed spreadsheets into the store.
type Importer struct {
	repo store.ProjectRepository
}

// NewImporter creates an importer over the project repository.
func NewImporter(repo store.ProjectRepository) *Importer {
	return &Importer{repo: repo}
}

// ImportProject creates a project and loads its bill of materials from
// an xlsx file. Returns the new project id and the row count.
func (i *Importer) ImportProject(ctx context.Context, name string, sc model.MatchingScope, path string, opts Options) (int64, int, error) {
	materials, err := ParseBoM(path, opts)
	if err != nil {
		return 0, 0, err
	}
	if len(materials) == 0 {
		return 0, 0, eris.Errorf("ingest: no material rows in %s", path)
	}

	projectID, err := i.repo.CreateProject(ctx, model.Project{
		Name:      name,
		Province:  sc.Province,
		City:      sc.City,
		District:  sc.District,
		PriceDate: sc.PriceDate,
	})
	if err != nil {
		return 0, 0, err
	}

	n, err := i.repo.InsertProjectMaterials(ctx, projectID, materials)
	if err != nil {
		return projectID, 0, err
	}
	zap.L().Info("ingest: project imported",
		zap.Int64("project_id", projectID),
		zap.String("name", name),
		zap.Int("materials", n),
	)
	return projectID, n, nil
}

// ImportCatalogue loads a base price sheet. Each row gets a region label
// derived from its administrative codes before insert.
func (i *Importer) ImportCatalogue(ctx context.Context, path, priceDate string, priceType model.PriceType, opts Options) (int, error) {
	materials, err := ParseCatalogue(path, priceDate, priceType, opts)
	if err != nil {
		return 0, err
	}
	for idx := range materials {
		m := &materials[idx]
		if m.RegionLabel == "" {
			m.RegionLabel = scope.RegionLabel(m.Province, m.City, m.District)
		}
	}

	n, err := i.repo.InsertBaseMaterials(ctx, materials)
	if err != nil {
		return 0, err
	}
	zap.L().Info("ingest: catalogue imported",
		zap.String("price_date", priceDate),
		zap.String("price_type", string(priceType)),
		zap.Int("rows", n),
	)
	return n, nil
}
