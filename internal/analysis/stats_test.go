package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clauselens/clauselens/internal/contract"
)

type fakeStatsStore struct {
	total    int
	analyzed int
	highRisk int
	avg      float64
	dates    []contract.KeyDate

	levels []contract.RiskLevel
	from   time.Time
	to     time.Time

	err error
}

func (f *fakeStatsStore) CountAll(ctx context.Context) (int, error) {
	return f.total, f.err
}

func (f *fakeStatsStore) CountByStatus(ctx context.Context, status contract.Status) (int, error) {
	if status != contract.StatusAnalyzed {
		return 0, nil
	}
	return f.analyzed, nil
}

func (f *fakeStatsStore) CountByRiskLevels(ctx context.Context, levels []contract.RiskLevel) (int, error) {
	f.levels = levels
	return f.highRisk, nil
}

func (f *fakeStatsStore) AverageComplianceScore(ctx context.Context) (float64, error) {
	return f.avg, nil
}

func (f *fakeStatsStore) KeyDatesBetween(ctx context.Context, from, to time.Time) ([]contract.KeyDate, error) {
	f.from = from
	f.to = to
	return f.dates, nil
}

func TestComputeDashboardStats(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStatsStore{
		total:    12,
		analyzed: 8,
		highRisk: 3,
		avg:      71.5,
		dates:    []contract.KeyDate{{DateType: "renewal"}, {DateType: "expiry"}},
	}

	stats, err := ComputeDashboardStats(context.Background(), store, now)
	if err != nil {
		t.Fatalf("ComputeDashboardStats returned error: %v", err)
	}
	if stats.TotalContracts != 12 || stats.AnalyzedContracts != 8 || stats.HighRiskContracts != 3 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.AvgComplianceScore != 71.5 {
		t.Fatalf("unexpected average: %v", stats.AvgComplianceScore)
	}
	if stats.UpcomingDeadlines != 2 {
		t.Fatalf("unexpected deadline count: %d", stats.UpcomingDeadlines)
	}

	if len(store.levels) != 2 || store.levels[0] != contract.RiskHigh || store.levels[1] != contract.RiskCritical {
		t.Fatalf("high risk must cover high and critical, got %v", store.levels)
	}
	if !store.from.Equal(now) || !store.to.Equal(now.Add(DeadlineWindow)) {
		t.Fatalf("deadline window mismatch: %v .. %v", store.from, store.to)
	}
}

func TestComputeDashboardStatsPropagatesError(t *testing.T) {
	store := &fakeStatsStore{err: errors.New("db closed")}
	if _, err := ComputeDashboardStats(context.Background(), store, time.Now()); err == nil {
		t.Fatal("expected error")
	}
}
