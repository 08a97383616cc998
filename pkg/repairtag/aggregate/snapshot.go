package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/cognicore/repairtag/pkg/repairtag/store"
)

// SnapshotMatrix is the snapshot type of the product x tag matrix.
const SnapshotMatrix = store.SnapshotMatrix

// CachedMatrix returns the month's matrix from the snapshot cache, or
// computes and stores it when absent or when refresh is set. The store drops
// the snapshot whenever the month's cases or tags change.
func (a *Aggregator) CachedMatrix(ctx context.Context, yearMonth string, refresh bool) (Matrix, error) {
	var m Matrix
	if !refresh {
		hit, err := a.loadSnapshot(ctx, yearMonth, SnapshotMatrix, &m)
		if err != nil || hit {
			return m, err
		}
	}
	m, err := a.ProductTagMatrix(ctx, yearMonth)
	if err != nil {
		return Matrix{}, err
	}
	if err := a.saveSnapshot(ctx, yearMonth, SnapshotMatrix, m, m.TotalCases); err != nil {
		return Matrix{}, err
	}
	return m, nil
}

// TrendSnapshotType names the cached trend of n months ending at a month.
func TrendSnapshotType(n int) string { return store.SnapshotTrendPrefix + strconv.Itoa(n) }

// CachedTrend is MultiMonthTrend through the snapshot cache, keyed by the
// last month and the window length. A cached trend over different months
// is recomputed.
func (a *Aggregator) CachedTrend(ctx context.Context, months []string, refresh bool) (Trend, error) {
	if len(months) == 0 {
		return a.MultiMonthTrend(ctx, months)
	}
	last, typ := months[len(months)-1], TrendSnapshotType(len(months))
	if !refresh {
		var t Trend
		hit, err := a.loadSnapshot(ctx, last, typ, &t)
		if err != nil {
			return Trend{}, err
		}
		if hit && slices.Equal(t.Months, months) {
			return t, nil
		}
	}
	t, err := a.MultiMonthTrend(ctx, months)
	if err != nil {
		return Trend{}, err
	}
	if err := a.saveSnapshot(ctx, last, typ, t, t.TotalByMonth[last]); err != nil {
		return Trend{}, err
	}
	return t, nil
}

func (a *Aggregator) loadSnapshot(ctx context.Context, yearMonth, typ string, dst any) (bool, error) {
	snap, ok, err := a.store.LoadSnapshot(ctx, yearMonth, typ)
	if err != nil {
		return false, fmt.Errorf("load snapshot %s/%s: %w", yearMonth, typ, err)
	}
	if !ok {
		a.log.Debug("snapshot miss", zap.String("year_month", yearMonth), zap.String("type", typ))
		return false, nil
	}
	if err := json.Unmarshal(snap.Data, dst); err != nil {
		// unreadable rows are recomputed and overwritten
		a.log.Warn("discarding unreadable snapshot",
			zap.String("year_month", yearMonth),
			zap.String("type", typ),
			zap.Error(err))
		return false, nil
	}
	a.log.Debug("snapshot hit",
		zap.String("year_month", yearMonth),
		zap.String("type", typ),
		zap.Time("computed_at", snap.ComputedAt))
	return true, nil
}

func (a *Aggregator) saveSnapshot(ctx context.Context, yearMonth, typ string, v any, totalCases int) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot %s/%s: %w", yearMonth, typ, err)
	}
	cost, err := a.store.MonthCost(ctx, yearMonth)
	if err != nil {
		return fmt.Errorf("load cost %s: %w", yearMonth, err)
	}
	if err := a.store.SaveSnapshot(ctx, store.Snapshot{
		YearMonth:  yearMonth,
		Type:       typ,
		Data:       data,
		TotalCost:  cost,
		TotalCases: totalCases,
		ComputedAt: a.now(),
	}); err != nil {
		return fmt.Errorf("save snapshot %s/%s: %w", yearMonth, typ, err)
	}
	return nil
}
