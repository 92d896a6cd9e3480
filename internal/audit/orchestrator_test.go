package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/material-audit/internal/model"
	"github.com/sells-group/material-audit/internal/store"
)

// memStore is an in-memory Store for orchestrator tests.
type memStore struct {
	mu sync.Mutex

	project   *model.Project
	materials []model.ProjectMaterial
	catalogue []model.BaseMaterial
	aliases   []model.MaterialAlias

	analyses  map[int64]model.PriceAnalysis
	history   []model.AnalysisSnapshot
	lastStats model.ProjectStats

	listErr error
}

func newMemStore() *memStore {
	return &memStore{
		project:  &model.Project{ID: 1, Name: "test", PriceDate: "2026-05"},
		analyses: map[int64]model.PriceAnalysis{},
	}
}

func (s *memStore) ListProjectMaterials(_ context.Context, projectID int64, offset, limit int) ([]model.ProjectMaterial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	if offset >= len(s.materials) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.materials) {
		end = len(s.materials)
	}
	out := make([]model.ProjectMaterial, end-offset)
	copy(out, s.materials[offset:end])
	return out, nil
}

func (s *memStore) UpdateMatch(_ context.Context, materialID int64, upd store.MatchUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.materials {
		if s.materials[i].ID == materialID {
			s.materials[i].IsMatched = upd.BaseID != nil
			s.materials[i].MatchedBaseID = upd.BaseID
			s.materials[i].MatchScore = upd.Score
			s.materials[i].MatchMethod = upd.Method
			s.materials[i].NeedsReview = upd.NeedsReview
			return nil
		}
	}
	return model.Errorf(model.KindRepository, "material not found: %d", materialID)
}

func (s *memStore) UpdateAnalysisFlags(_ context.Context, materialID int64, analyzed, problematic bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.materials {
		if s.materials[i].ID == materialID {
			s.materials[i].IsAnalyzed = analyzed
			s.materials[i].IsProblematic = problematic
			return nil
		}
	}
	return model.Errorf(model.KindRepository, "material not found: %d", materialID)
}

func (s *memStore) WriteAnalysis(_ context.Context, a model.PriceAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses[a.MaterialID] = a
	return nil
}

func (s *memStore) AppendHistory(_ context.Context, snap model.AnalysisSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, snap)
	return nil
}

func (s *memStore) ListHistory(_ context.Context, materialID int64, _ store.HistoryPage) ([]model.AnalysisSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AnalysisSnapshot
	for _, snap := range s.history {
		if snap.MaterialID == materialID {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *memStore) UpdateProjectStats(_ context.Context, _ int64, stats model.ProjectStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStats = stats
	return nil
}

func (s *memStore) LoadScope(_ context.Context, scope model.MatchingScope) ([]model.BaseMaterial, []model.MaterialAlias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.BaseMaterial
	for _, bm := range s.catalogue {
		if scope.PriceDate != "" && bm.PriceDate != scope.PriceDate {
			continue
		}
		if scope.Province != "" && bm.Province != scope.Province {
			continue
		}
		if scope.City != "" && bm.City != scope.City {
			continue
		}
		if scope.District != "" && bm.District != scope.District {
			continue
		}
		out = append(out, bm)
	}
	return out, s.aliases, nil
}

func (s *memStore) CreateProject(context.Context, model.Project) (int64, error) { return 1, nil }

func (s *memStore) GetProject(_ context.Context, projectID int64) (*model.Project, error) {
	if s.project == nil || s.project.ID != projectID {
		return nil, model.Errorf(model.KindRepository, "project not found: %d", projectID)
	}
	return s.project, nil
}

func (s *memStore) InsertProjectMaterials(_ context.Context, _ int64, materials []model.ProjectMaterial) (int, error) {
	return len(materials), nil
}

func (s *memStore) InsertBaseMaterials(_ context.Context, materials []model.BaseMaterial) (int, error) {
	return len(materials), nil
}

func (s *memStore) GetProjectMaterial(_ context.Context, materialID int64) (*model.ProjectMaterial, error) {
	for _, m := range s.materials {
		if m.ID == materialID {
			return &m, nil
		}
	}
	return nil, model.Errorf(model.KindRepository, "material not found: %d", materialID)
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }

func seedStore() *memStore {
	st := newMemStore()
	st.catalogue = []model.BaseMaterial{
		{ID: 1, Name: "商品混凝土", Specification: "C30", Unit: "m³",
			Price: decimal.RequireFromString("450.00"), Province: "广东省", City: "深圳市",
			PriceDate: "2026-05"},
		{ID: 2, Name: "热轧带肋钢筋", Specification: "HRB400 Φ12", Unit: "t",
			Price: decimal.RequireFromString("3980.00"), Province: "广东省", City: "深圳市",
			PriceDate: "2026-05"},
	}
	st.materials = []model.ProjectMaterial{
		{ID: 10, ProjectID: 1, Name: "商品混凝土", Specification: "C30", Unit: "m³",
			Quantity: decimal.NewFromInt(100), UnitPrice: decimal.RequireFromString("470.00")},
		{ID: 11, ProjectID: 1, Name: "热轧带肋钢筋", Specification: "HRB400 Φ12", Unit: "t",
			Quantity: decimal.NewFromInt(5), UnitPrice: decimal.RequireFromString("9000.00")},
		{ID: 12, ProjectID: 1, Name: "某种不存在的材料", Unit: "个",
			Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(10)},
	}
	return st
}

func testScope() model.MatchingScope {
	return model.MatchingScope{PriceDate: "2026-05", Province: "广东省", City: "深圳市"}
}

// testConfig enables hierarchical resolution so scope tiers are observable.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Hierarchical = true
	return cfg
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestOrchestrator_Run_FullAudit(t *testing.T) {
	st := seedStore()
	o := New(testConfig(), st, nil, nil)

	report, err := o.Run(context.Background(), 1, testScope())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, model.TierCity, report.Scope.Tier)
	assert.Equal(t, 3, report.Stats.Total)
	assert.Equal(t, 2, report.Stats.Priced)
	assert.Equal(t, 1, report.Stats.Unpriced)
	assert.Empty(t, report.Failures)

	// The concrete line is within 5% of reference: low risk.
	an, ok := st.analyses[10]
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, an.Status)
	assert.Equal(t, model.RiskLow, an.RiskLevel)
	assert.True(t, an.IsReasonable)

	// The rebar line is +126%: severe and problematic.
	an, ok = st.analyses[11]
	require.True(t, ok)
	assert.Equal(t, model.RiskSevere, an.RiskLevel)
	assert.False(t, an.IsReasonable)
	assert.Equal(t, 1, report.Stats.Problematic)

	// Unmatched materials get no analysis.
	_, ok = st.analyses[12]
	assert.False(t, ok)

	// Each analysis also appended one history snapshot.
	assert.Len(t, st.history, 2)

	// Stats were persisted.
	assert.Equal(t, report.Stats, st.lastStats)
}

func TestOrchestrator_Run_HierarchicalOffUsesNationwide(t *testing.T) {
	st := seedStore()
	o := New(DefaultConfig(), st, nil, nil)

	// Hierarchical resolution is off by default: the requested geo is
	// ignored and the nationwide view is used directly.
	report, err := o.Run(context.Background(), 1, testScope())
	require.NoError(t, err)
	assert.Equal(t, model.TierNationwide, report.Scope.Tier)
	assert.Equal(t, 2, report.Stats.Priced)
}

func TestOrchestrator_Run_SerialRunsAreDeterministic(t *testing.T) {
	clock := fixedClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}

	type runState struct {
		materials []model.ProjectMaterial
		analyses  map[int64]model.PriceAnalysis
		history   []model.AnalysisSnapshot
		stats     model.ProjectStats
	}

	runOnce := func() runState {
		st := seedStore()
		cfg := testConfig()
		cfg.MaxWorkers = 1
		o := New(cfg, st, nil, clock)

		_, err := o.Run(context.Background(), 1, testScope())
		require.NoError(t, err)

		// Row ids are random; every other field must reproduce exactly.
		out := runState{materials: st.materials, stats: st.lastStats}
		out.analyses = map[int64]model.PriceAnalysis{}
		for id, a := range st.analyses {
			a.ID = ""
			out.analyses[id] = a
		}
		for _, snap := range st.history {
			snap.ID = ""
			snap.AnalysisID = ""
			out.history = append(out.history, snap)
		}
		return out
	}

	first := runOnce()
	second := runOnce()

	assert.Equal(t, first.materials, second.materials)
	assert.Equal(t, first.analyses, second.analyses)
	assert.Equal(t, first.history, second.history)
	assert.Equal(t, first.stats, second.stats)
}

func TestOrchestrator_Run_IncompatibleUnitsFailAnalysis(t *testing.T) {
	st := seedStore()
	st.materials = []model.ProjectMaterial{
		{ID: 13, ProjectID: 1, Name: "热轧带肋钢筋", Specification: "HRB400 Φ12", Unit: "m",
			Quantity: decimal.NewFromInt(5), UnitPrice: decimal.RequireFromString("9000.00")},
	}
	o := New(testConfig(), st, nil, nil)

	report, err := o.Run(context.Background(), 1, testScope())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)

	// The name and spec match exactly, so the line still auto-matches.
	an, ok := st.analyses[13]
	require.True(t, ok)
	assert.Equal(t, model.StatusFailed, an.Status)
	assert.Equal(t, model.RiskUnknown, an.RiskLevel)
	assert.Nil(t, an.PriceVariance)

	m, err := st.GetProjectMaterial(context.Background(), 13)
	require.NoError(t, err)
	assert.True(t, m.IsMatched)
	assert.False(t, m.IsAnalyzed)
	assert.False(t, m.IsProblematic)

	// Failed verdicts are still recorded in history.
	assert.Len(t, st.history, 1)
}

func TestOrchestrator_RunMatch_SkipsAnalysis(t *testing.T) {
	st := seedStore()
	o := New(testConfig(), st, nil, nil)

	report, err := o.RunMatch(context.Background(), 1, testScope())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Stats.Priced)
	assert.Empty(t, st.analyses)
	assert.Empty(t, st.history)

	m, err := st.GetProjectMaterial(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, m.IsMatched)
	assert.False(t, m.IsAnalyzed)
}

func TestOrchestrator_RunAnalyze_OnlyMatchedMaterials(t *testing.T) {
	st := seedStore()
	baseID := int64(1)
	st.materials[0].IsMatched = true
	st.materials[0].MatchedBaseID = &baseID

	o := New(testConfig(), st, nil, nil)
	report, err := o.RunAnalyze(context.Background(), 1, testScope())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Processed)
	assert.Len(t, st.analyses, 1)
	_, ok := st.analyses[10]
	assert.True(t, ok)
}

func TestOrchestrator_Run_NeedsReviewNotAnalyzed(t *testing.T) {
	st := seedStore()
	cfg := testConfig()
	cfg.Matching.AutoThreshold = 1.01
	o := New(cfg, st, nil, nil)

	report, err := o.Run(context.Background(), 1, testScope())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Stats.NeedsReview)
	assert.Equal(t, 0, report.Stats.Priced)
	assert.Empty(t, st.analyses)
}

func TestOrchestrator_Run_ProjectNotFound(t *testing.T) {
	st := seedStore()
	o := New(testConfig(), st, nil, nil)

	_, err := o.Run(context.Background(), 99, testScope())
	require.Error(t, err)
	assert.Equal(t, model.KindRepository, model.KindOf(err))
}

func TestOrchestrator_Run_EmptyCatalogue(t *testing.T) {
	st := seedStore()
	st.catalogue = nil
	o := New(testConfig(), st, nil, nil)

	_, err := o.Run(context.Background(), 1, testScope())
	require.Error(t, err)
	assert.Equal(t, model.KindScopeEmpty, model.KindOf(err))
}

func TestOrchestrator_Run_Cancelled(t *testing.T) {
	st := seedStore()
	o := New(testConfig(), st, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Run(ctx, 1, testScope())
	require.Error(t, err)
	assert.Equal(t, model.KindCancelled, model.KindOf(err))
}

func TestOrchestrator_Run_RepositoryGoneAborts(t *testing.T) {
	st := seedStore()
	st.listErr = eris.New("connection refused")
	o := New(testConfig(), st, nil, nil)

	report, err := o.Run(context.Background(), 1, testScope())
	require.Error(t, err)
	assert.Equal(t, model.KindRepository, model.KindOf(err))
	assert.Equal(t, 3, report.Failures[model.KindRepository])
}

func TestOrchestrator_Run_ChunkedPaging(t *testing.T) {
	st := seedStore()
	cfg := testConfig()
	cfg.BatchSize = 1
	o := New(cfg, st, nil, nil)

	report, err := o.Run(context.Background(), 1, testScope())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 3, report.Stats.Total)
}
