package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/material-audit/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteStore_ProjectRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.CreateProject(ctx, model.Project{
		Name:      "某市政道路工程",
		Province:  "广东省",
		City:      "深圳市",
		District:  "南山区",
		PriceDate: "2026-05",
	})
	require.NoError(t, err)
	require.Positive(t, id)

	p, err := s.GetProject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "某市政道路工程", p.Name)
	assert.Equal(t, "深圳市", p.City)
	assert.Equal(t, "2026-05", p.PriceDate)

	err = s.UpdateProjectStats(ctx, id, model.ProjectStats{Total: 3, Priced: 2, Unpriced: 1})
	require.NoError(t, err)

	p, err = s.GetProject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stats.Total)
	assert.Equal(t, 2, p.Stats.Priced)
	assert.Equal(t, 1, p.Stats.Unpriced)
}

func TestSQLiteStore_GetProject_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	_, err := s.GetProject(context.Background(), 12345)
	require.Error(t, err)
	assert.Equal(t, model.KindRepository, model.KindOf(err))
}

func TestSQLiteStore_MaterialMatchLifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	projectID, err := s.CreateProject(ctx, model.Project{Name: "test", PriceDate: "2026-05"})
	require.NoError(t, err)

	n, err := s.InsertProjectMaterials(ctx, projectID, []model.ProjectMaterial{
		{Name: "商品混凝土", Specification: "C30", Unit: "m3",
			Quantity: decimal.NewFromInt(120), UnitPrice: decimal.RequireFromString("465.50")},
		{Name: "热轧带肋钢筋", Specification: "HRB400 Φ12", Unit: "t",
			Quantity: decimal.NewFromInt(8), UnitPrice: decimal.RequireFromString("3980")},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	materials, err := s.ListProjectMaterials(ctx, projectID, 0, 10)
	require.NoError(t, err)
	require.Len(t, materials, 2)
	assert.Equal(t, "商品混凝土", materials[0].Name)
	assert.True(t, materials[0].UnitPrice.Equal(decimal.RequireFromString("465.50")))
	assert.False(t, materials[0].IsMatched)

	baseID := int64(77)
	err = s.UpdateMatch(ctx, materials[0].ID, MatchUpdate{
		BaseID: &baseID,
		Score:  0.97,
		Method: model.MatchMethodAuto,
	})
	require.NoError(t, err)

	m, err := s.GetProjectMaterial(ctx, materials[0].ID)
	require.NoError(t, err)
	assert.True(t, m.IsMatched)
	require.NotNil(t, m.MatchedBaseID)
	assert.Equal(t, baseID, *m.MatchedBaseID)
	assert.Equal(t, model.MatchMethodAuto, m.MatchMethod)

	err = s.UpdateAnalysisFlags(ctx, materials[0].ID, true, true)
	require.NoError(t, err)
	m, err = s.GetProjectMaterial(ctx, materials[0].ID)
	require.NoError(t, err)
	assert.True(t, m.IsAnalyzed)
	assert.True(t, m.IsProblematic)
}

func TestSQLiteStore_UpdateMatch_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	err := s.UpdateMatch(context.Background(), 999, MatchUpdate{Score: 0.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "material not found")
}

func TestSQLiteStore_WriteAnalysis_ReplacesInPlace(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	projectID, err := s.CreateProject(ctx, model.Project{Name: "test"})
	require.NoError(t, err)
	_, err = s.InsertProjectMaterials(ctx, projectID, []model.ProjectMaterial{
		{Name: "水泥", Unit: "t", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(400)},
	})
	require.NoError(t, err)
	materials, err := s.ListProjectMaterials(ctx, projectID, 0, 1)
	require.NoError(t, err)

	now := time.Now().UTC()
	variance := 12.5
	first := model.PriceAnalysis{
		ID:         "an-1",
		MaterialID: materials[0].ID,
		Status:     model.StatusCompleted,
		Band: &model.PriceBand{
			Min: decimal.NewFromInt(380),
			Avg: decimal.NewFromInt(420),
			Max: decimal.NewFromInt(460),
		},
		Confidence:    0.9,
		IsReasonable:  true,
		PriceVariance: &variance,
		RiskLevel:     model.RiskLow,
		Tier:          model.TierCity,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, s.WriteAnalysis(ctx, first))

	second := first
	second.ID = "an-2"
	second.RiskLevel = model.RiskHigh
	second.IsReasonable = false
	second.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, s.WriteAnalysis(ctx, second))
}

func TestSQLiteStore_HistoryAppendOnlyNewestFirst(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := s.AppendHistory(ctx, model.AnalysisSnapshot{
			ID:         string(rune('a' + i)),
			AnalysisID: "an-1",
			MaterialID: 42,
			Status:     model.StatusCompleted,
			RiskLevel:  model.RiskLow,
			Note:       "audit run",
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	history, err := s.ListHistory(ctx, 42, HistoryPage{})
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "c", history[0].ID)
	assert.Equal(t, "a", history[2].ID)
	assert.True(t, history[0].CreatedAt.After(history[1].CreatedAt))

	page, err := s.ListHistory(ctx, 42, HistoryPage{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)
}

func TestSQLiteStore_LoadScope_FiltersAndAliases(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	seed := []model.BaseMaterial{
		{Name: "商品混凝土", Specification: "C30", Unit: "m3",
			Price: decimal.RequireFromString("450.00"), Province: "广东省", City: "深圳市",
			District: "南山区", PriceType: model.PriceTypeMunicipal, PriceDate: "2026-05"},
		{Name: "商品混凝土", Specification: "C30", Unit: "m3",
			Price: decimal.RequireFromString("440.00"), Province: "广东省", City: "广州市",
			PriceType: model.PriceTypeMunicipal, PriceDate: "2026-05"},
		{Name: "商品混凝土", Specification: "C30", Unit: "m3",
			Price: decimal.RequireFromString("430.00"), Province: "广东省", City: "深圳市",
			District: "南山区", PriceType: model.PriceTypeMunicipal, PriceDate: "2026-04"},
	}
	n, err := s.InsertBaseMaterials(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	materials, aliases, err := s.LoadScope(ctx, model.MatchingScope{
		PriceDate: "2026-05",
		Province:  "广东省",
		City:      "深圳市",
		District:  "南山区",
	})
	require.NoError(t, err)
	require.Len(t, materials, 1)
	assert.True(t, materials[0].Price.Equal(decimal.RequireFromString("450.00")))
	assert.Empty(t, aliases)

	materials, _, err = s.LoadScope(ctx, model.MatchingScope{PriceDate: "2026-05", Province: "广东省"})
	require.NoError(t, err)
	assert.Len(t, materials, 2)
}

func TestSQLiteStore_InsertBaseMaterials_UpsertKeepsOneRow(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	row := model.BaseMaterial{
		Name: "中砂", Unit: "t",
		Price: decimal.RequireFromString("120.00"), Province: "广东省",
		PriceType: model.PriceTypeProvincial, PriceDate: "2026-05",
	}
	_, err := s.InsertBaseMaterials(ctx, []model.BaseMaterial{row})
	require.NoError(t, err)

	row.Price = decimal.RequireFromString("128.00")
	_, err = s.InsertBaseMaterials(ctx, []model.BaseMaterial{row})
	require.NoError(t, err)

	materials, _, err := s.LoadScope(ctx, model.MatchingScope{PriceDate: "2026-05", Province: "广东省"})
	require.NoError(t, err)
	require.Len(t, materials, 1)
	assert.True(t, materials[0].Price.Equal(decimal.RequireFromString("128.00")))
}
