package analysis

import (
	"context"
	"time"

	"github.com/clauselens/clauselens/internal/contract"
)

// StatsStore is the aggregation surface for the dashboard.
type StatsStore interface {
	CountAll(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context, status contract.Status) (int, error)
	CountByRiskLevels(ctx context.Context, levels []contract.RiskLevel) (int, error)
	AverageComplianceScore(ctx context.Context) (float64, error)
	KeyDatesBetween(ctx context.Context, from, to time.Time) ([]contract.KeyDate, error)
}

type DashboardStats struct {
	TotalContracts     int     `json:"total_contracts"`
	AnalyzedContracts  int     `json:"analyzed_contracts"`
	HighRiskContracts  int     `json:"high_risk_contracts"`
	AvgComplianceScore float64 `json:"avg_compliance_score"`
	UpcomingDeadlines  int     `json:"upcoming_deadlines"`
}

// ComputeDashboardStats aggregates over the stored corpus. The deadline count
// uses the same inclusive 30-day window as the orchestrator's notification
// step.
func ComputeDashboardStats(ctx context.Context, store StatsStore, now time.Time) (DashboardStats, error) {
	stats := DashboardStats{}

	total, err := store.CountAll(ctx)
	if err != nil {
		return stats, err
	}
	stats.TotalContracts = total

	analyzed, err := store.CountByStatus(ctx, contract.StatusAnalyzed)
	if err != nil {
		return stats, err
	}
	stats.AnalyzedContracts = analyzed

	highRisk, err := store.CountByRiskLevels(ctx, []contract.RiskLevel{contract.RiskHigh, contract.RiskCritical})
	if err != nil {
		return stats, err
	}
	stats.HighRiskContracts = highRisk

	avg, err := store.AverageComplianceScore(ctx)
	if err != nil {
		return stats, err
	}
	stats.AvgComplianceScore = avg

	dates, err := store.KeyDatesBetween(ctx, now, now.Add(DeadlineWindow))
	if err != nil {
		return stats, err
	}
	stats.UpcomingDeadlines = len(dates)

	return stats, nil
}
