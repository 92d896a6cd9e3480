// Package history records the append-only trail of price analyses.
// Every analysis run appends a snapshot; nothing is ever rewritten.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/material-audit/internal/model"
	"github.com/sells-group/material-audit/internal/store"
)

// Clock supplies timestamps. The indirection keeps ordering testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// lockShards bounds the lock pool: materials hash onto a fixed set of
// shards instead of one lock per material id, so memory stays constant
// no matter how many materials a long-lived process appends for.
const lockShards = 64

// Log appends analysis snapshots and serves them newest-first. Appends
// for the same material are serialized so their timestamps strictly
// increase even under concurrent callers. Materials sharing a shard
// also serialize with each other, which only makes the ordering
// guarantee stronger.
type Log struct {
	repo  store.MaterialRepository
	clock Clock

	locks [lockShards]shardLock
}

type shardLock struct {
	sync.Mutex
	last time.Time
}

// NewLog creates a history log. A nil clock falls back to SystemClock.
func NewLog(repo store.MaterialRepository, clock Clock) *Log {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Log{repo: repo, clock: clock}
}

func (l *Log) lockFor(materialID int64) *shardLock {
	return &l.locks[uint64(materialID)%lockShards]
}

// Append records one snapshot for the analysis and returns it with its
// assigned ID and timestamp.
func (l *Log) Append(ctx context.Context, a model.PriceAnalysis, note string) (model.AnalysisSnapshot, error) {
	ml := l.lockFor(a.MaterialID)
	ml.Lock()
	defer ml.Unlock()

	now := l.clock.Now()
	if !now.After(ml.last) {
		now = ml.last.Add(time.Microsecond)
	}
	ml.last = now

	snap := model.AnalysisSnapshot{
		ID:           uuid.NewString(),
		AnalysisID:   a.ID,
		MaterialID:   a.MaterialID,
		Status:       a.Status,
		Band:         a.Band,
		Confidence:   a.Confidence,
		IsReasonable: a.IsReasonable,
		Variance:     a.PriceVariance,
		RiskLevel:    a.RiskLevel,
		Tier:         a.Tier,
		FailedReason: a.FailedReason,
		ModelID:      a.ModelID,
		Elapsed:      a.Elapsed,
		CostUSD:      a.CostUSD,
		Note:         note,
		CreatedAt:    now,
	}
	if err := l.repo.AppendHistory(ctx, snap); err != nil {
		return model.AnalysisSnapshot{}, eris.Wrap(err, "history: append")
	}
	zap.L().Debug("history appended",
		zap.Int64("material_id", a.MaterialID),
		zap.String("snapshot_id", snap.ID),
		zap.String("status", string(a.Status)),
	)
	return snap, nil
}

// List returns snapshots for a material, newest first.
func (l *Log) List(ctx context.Context, materialID int64, page store.HistoryPage) ([]model.AnalysisSnapshot, error) {
	if page.Limit <= 0 {
		page.Limit = 50
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	snaps, err := l.repo.ListHistory(ctx, materialID, page)
	if err != nil {
		return nil, eris.Wrap(err, "history: list")
	}
	return snaps, nil
}
