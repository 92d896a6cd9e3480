package matching

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/material-audit/internal/catalogue"
	"github.com/sells-group/material-audit/internal/model"
	"github.com/sells-group/material-audit/internal/store"
)

// recordingRepo captures UpdateMatch calls.
type recordingRepo struct {
	store.MaterialRepository
	updates map[int64]store.MatchUpdate
}

func newRecordingRepo() *recordingRepo {
	return &recordingRepo{updates: map[int64]store.MatchUpdate{}}
}

func (r *recordingRepo) UpdateMatch(_ context.Context, materialID int64, upd store.MatchUpdate) error {
	r.updates[materialID] = upd
	return nil
}

func buildIndex(t *testing.T) *catalogue.Index {
	t.Helper()
	ix := catalogue.New()
	materials := []model.BaseMaterial{
		{ID: 1, Name: "商品混凝土", Specification: "C30", Unit: "m³",
			Price: decimal.RequireFromString("450.00"), PriceDate: "2026-05"},
		{ID: 2, Name: "商品混凝土", Specification: "C40", Unit: "m³",
			Price: decimal.RequireFromString("480.00"), PriceDate: "2026-05"},
		{ID: 3, Name: "热轧带肋钢筋", Specification: "HRB400 Φ12", Unit: "t",
			Price: decimal.RequireFromString("3980.00"), PriceDate: "2026-05"},
		{ID: 4, Name: "钢化玻璃", Specification: "8mm", Unit: "m²",
			Price: decimal.RequireFromString("95.00"), PriceDate: "2026-05"},
	}
	aliases := []model.MaterialAlias{
		{BaseMaterialID: 1, AliasName: "预拌砼", AliasSpecification: "C30", SimilarityScore: 0.9},
	}
	ix.Rebuild(model.MatchingScope{PriceDate: "2026-05"}, materials, aliases)
	return ix
}

func TestEngine_Match_ExactIsAuto(t *testing.T) {
	e := NewEngine(DefaultConfig(), buildIndex(t), nil)

	out := e.Match(model.ProjectMaterial{
		Name: "商品混凝土", Specification: "C30", Unit: "m3",
	}, "2026-05")

	assert.Equal(t, model.ClassAuto, out.Class)
	best := out.Best()
	require.NotNil(t, best)
	assert.Equal(t, int64(1), best.Material.ID)
	assert.GreaterOrEqual(t, best.Result.Score, 0.85)
}

func TestEngine_Match_EmptyNameUnmatched(t *testing.T) {
	e := NewEngine(DefaultConfig(), buildIndex(t), nil)

	out := e.Match(model.ProjectMaterial{Specification: "C30"}, "2026-05")
	assert.Equal(t, model.ClassUnmatched, out.Class)
	assert.Nil(t, out.Best())
}

func TestEngine_Match_NoCandidatesUnmatched(t *testing.T) {
	e := NewEngine(DefaultConfig(), buildIndex(t), nil)

	out := e.Match(model.ProjectMaterial{Name: "电缆桥架", Unit: "m"}, "2026-05")
	assert.Equal(t, model.ClassUnmatched, out.Class)
}

func TestEngine_Match_AliasScoresCount(t *testing.T) {
	e := NewEngine(DefaultConfig(), buildIndex(t), nil)

	out := e.Match(model.ProjectMaterial{
		Name: "预拌砼", Specification: "C30", Unit: "m³",
	}, "2026-05")

	best := out.Best()
	require.NotNil(t, best)
	assert.Equal(t, int64(1), best.Material.ID)
	assert.True(t, best.ViaAlias)
}

func TestEngine_Match_TopKCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopK = 1
	e := NewEngine(cfg, buildIndex(t), nil)

	out := e.Match(model.ProjectMaterial{
		Name: "商品混凝土", Specification: "C30", Unit: "m³",
	}, "2026-05")
	assert.Len(t, out.Candidates, 1)
}

func TestEngine_Classify(t *testing.T) {
	e := NewEngine(DefaultConfig(), catalogue.New(), nil)

	assert.Equal(t, model.ClassAuto, e.classify(0.85))
	assert.Equal(t, model.ClassNeedsReview, e.classify(0.84))
	assert.Equal(t, model.ClassNeedsReview, e.classify(0.65))
	assert.Equal(t, model.ClassUnmatched, e.classify(0.64))
}

func TestEngine_MatchAndPersist_Auto(t *testing.T) {
	repo := newRecordingRepo()
	e := NewEngine(DefaultConfig(), buildIndex(t), repo)

	out, err := e.MatchAndPersist(context.Background(), model.ProjectMaterial{
		ID: 10, Name: "商品混凝土", Specification: "C30", Unit: "m³",
	}, "2026-05")
	require.NoError(t, err)
	assert.Equal(t, model.ClassAuto, out.Class)

	upd, ok := repo.updates[10]
	require.True(t, ok)
	require.NotNil(t, upd.BaseID)
	assert.Equal(t, int64(1), *upd.BaseID)
	assert.Equal(t, model.MatchMethodAuto, upd.Method)
	assert.False(t, upd.NeedsReview)
}

func TestEngine_MatchAndPersist_NeedsReviewLeavesUnmatched(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoThreshold = 0.99
	repo := newRecordingRepo()
	e := NewEngine(cfg, buildIndex(t), repo)

	out, err := e.MatchAndPersist(context.Background(), model.ProjectMaterial{
		ID: 11, Name: "商品混凝土", Specification: "C35", Unit: "m³",
	}, "2026-05")
	require.NoError(t, err)
	assert.Equal(t, model.ClassNeedsReview, out.Class)

	upd := repo.updates[11]
	assert.Nil(t, upd.BaseID)
	assert.True(t, upd.NeedsReview)
	assert.Greater(t, upd.Score, 0.0)
}

func TestEngine_ConfirmManual(t *testing.T) {
	repo := newRecordingRepo()
	e := NewEngine(DefaultConfig(), buildIndex(t), repo)

	require.NoError(t, e.ConfirmManual(context.Background(), 12, 3))

	upd := repo.updates[12]
	require.NotNil(t, upd.BaseID)
	assert.Equal(t, int64(3), *upd.BaseID)
	assert.Equal(t, model.MatchMethodManual, upd.Method)
	assert.Equal(t, 1.0, upd.Score)
}

func TestEngine_Unmatch(t *testing.T) {
	repo := newRecordingRepo()
	e := NewEngine(DefaultConfig(), buildIndex(t), repo)

	require.NoError(t, e.Unmatch(context.Background(), 13))
	upd, ok := repo.updates[13]
	require.True(t, ok)
	assert.Nil(t, upd.BaseID)
	assert.False(t, upd.NeedsReview)
}
