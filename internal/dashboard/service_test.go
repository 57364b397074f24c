package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk/opsdesk/internal/domain"
	"github.com/opsdesk/opsdesk/internal/policy"
)

type fakeRepo struct {
	counts     *StatusCounts
	bySeverity map[domain.IncidentSeverity]int
	byCategory map[string]int
	created    map[string]int
	resolved   map[string]int
	resolution []ResolutionRow
	operators  []OperatorRow
	unresolved []*domain.Incident

	lastScope policy.Scope
}

func (f *fakeRepo) StatusCounts(_ context.Context, scope policy.Scope) (*StatusCounts, error) {
	f.lastScope = scope
	return f.counts, nil
}

func (f *fakeRepo) CountBySeverity(_ context.Context, scope policy.Scope) (map[domain.IncidentSeverity]int, error) {
	return f.bySeverity, nil
}

func (f *fakeRepo) CountByCategory(_ context.Context, scope policy.Scope) (map[string]int, error) {
	return f.byCategory, nil
}

func (f *fakeRepo) CreatedPerDay(_ context.Context, scope policy.Scope, _ time.Time) (map[string]int, error) {
	return f.created, nil
}

func (f *fakeRepo) ResolvedPerDay(_ context.Context, scope policy.Scope, _ time.Time) (map[string]int, error) {
	return f.resolved, nil
}

func (f *fakeRepo) ResolutionTimes(_ context.Context, scope policy.Scope) ([]ResolutionRow, error) {
	return f.resolution, nil
}

func (f *fakeRepo) OperatorPerformance(_ context.Context) ([]OperatorRow, error) {
	return f.operators, nil
}

func (f *fakeRepo) UnresolvedIncidents(_ context.Context, scope policy.Scope) ([]*domain.Incident, error) {
	f.lastScope = scope
	return f.unresolved, nil
}

var (
	dashReporter = domain.Actor{ID: 1, Role: domain.RoleReporter}
	dashAdmin    = domain.Actor{ID: 3, Role: domain.RoleAdmin}
)

func newDashService(repo *fakeRepo) *Service {
	svc := NewService(repo)
	svc.now = func() time.Time { return time.Date(2025, 1, 14, 10, 30, 0, 0, time.UTC) }
	return svc
}

func TestOverview_BreakdownsAreOrderedAndZeroFilled(t *testing.T) {
	repo := &fakeRepo{
		counts:     &StatusCounts{Total: 3, Open: 2, Resolved: 1},
		bySeverity: map[domain.IncidentSeverity]int{domain.SeverityHigh: 2, domain.SeverityLow: 1},
		byCategory: map[string]int{"network": 2, "other": 1},
	}
	svc := newDashService(repo)

	overview, err := svc.Overview(context.Background(), dashAdmin)
	require.NoError(t, err)

	require.Len(t, overview.BySeverity, 4)
	assert.Equal(t, "critical", overview.BySeverity[0].Key)
	assert.Equal(t, 0, overview.BySeverity[0].Count)
	assert.Equal(t, "high", overview.BySeverity[1].Key)
	assert.Equal(t, 2, overview.BySeverity[1].Count)

	require.Len(t, overview.ByCategory, 2)
	assert.Equal(t, "network", overview.ByCategory[0].Key)
	assert.Equal(t, "Network", overview.ByCategory[0].Label)

	assert.True(t, repo.lastScope.All, "admin queries run unscoped")
}

func TestOverview_ReporterScope(t *testing.T) {
	repo := &fakeRepo{counts: &StatusCounts{}}
	svc := newDashService(repo)

	_, err := svc.Overview(context.Background(), dashReporter)
	require.NoError(t, err)

	assert.False(t, repo.lastScope.All)
	assert.Equal(t, int64(1), repo.lastScope.UserID)
	assert.False(t, repo.lastScope.IncludeAssigned)
}

func TestTrends_ZeroFillsQuietDays(t *testing.T) {
	repo := &fakeRepo{
		created:  map[string]int{"2025-01-13": 2, "2025-01-14": 1},
		resolved: map[string]int{"2025-01-14": 3},
	}
	svc := newDashService(repo)

	points, err := svc.Trends(context.Background(), dashAdmin, 3)
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, TrendPoint{Day: "2025-01-12"}, points[0])
	assert.Equal(t, TrendPoint{Day: "2025-01-13", Created: 2}, points[1])
	assert.Equal(t, TrendPoint{Day: "2025-01-14", Created: 1, Resolved: 3}, points[2])
}

func TestTrends_InvalidDaysFallsBackToDefault(t *testing.T) {
	repo := &fakeRepo{}
	svc := newDashService(repo)

	points, err := svc.Trends(context.Background(), dashAdmin, 0)
	require.NoError(t, err)
	assert.Len(t, points, DefaultTrendDays)

	points, err = svc.Trends(context.Background(), dashAdmin, MaxTrendDays+1)
	require.NoError(t, err)
	assert.Len(t, points, DefaultTrendDays)
}

func TestMTTR_WeightedOverall(t *testing.T) {
	repo := &fakeRepo{resolution: []ResolutionRow{
		{Severity: domain.SeverityHigh, AvgSeconds: 3600, Resolved: 3},
		{Severity: domain.SeverityLow, AvgSeconds: 7200, Resolved: 1},
	}}
	svc := newDashService(repo)

	report, err := svc.MTTR(context.Background(), dashAdmin)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Resolved)
	assert.InDelta(t, 4500, report.OverallSeconds, 0.001)
	assert.Len(t, report.BySeverity, 2)
}

func TestMTTR_NothingResolved(t *testing.T) {
	svc := newDashService(&fakeRepo{})

	report, err := svc.MTTR(context.Background(), dashAdmin)
	require.NoError(t, err)
	assert.Zero(t, report.OverallSeconds)
	assert.Zero(t, report.Resolved)
}

func TestOperatorPerformance_ReporterForbidden(t *testing.T) {
	svc := newDashService(&fakeRepo{})

	_, err := svc.OperatorPerformance(context.Background(), dashReporter)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name     string
		severity domain.IncidentSeverity
		age      time.Duration
		score    int
		level    RiskLevel
	}{
		{"fresh low", domain.SeverityLow, time.Hour, 1, RiskLow},
		{"fresh critical", domain.SeverityCritical, time.Hour, 4, RiskMedium},
		{"stale medium", domain.SeverityMedium, 9 * time.Hour, 4, RiskMedium},
		{"stale high", domain.SeverityHigh, 9 * time.Hour, 6, RiskHigh},
		{"old high", domain.SeverityHigh, 25 * time.Hour, 9, RiskCritical},
		{"old critical", domain.SeverityCritical, 48 * time.Hour, 12, RiskCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := riskScore(tt.severity, tt.age)
			assert.Equal(t, tt.score, score)
			assert.Equal(t, tt.level, riskLevel(score))
		})
	}
}

func TestEscalations_WorstFirst(t *testing.T) {
	now := time.Date(2025, 1, 14, 10, 30, 0, 0, time.UTC)
	repo := &fakeRepo{unresolved: []*domain.Incident{
		{ID: 1, Severity: domain.SeverityLow, CreatedAt: now.Add(-1 * time.Hour)},
		{ID: 2, Severity: domain.SeverityCritical, CreatedAt: now.Add(-30 * time.Hour)},
		{ID: 3, Severity: domain.SeverityHigh, CreatedAt: now.Add(-10 * time.Hour)},
	}}
	svc := newDashService(repo)

	alerts, err := svc.Escalations(context.Background(), dashAdmin)
	require.NoError(t, err)
	require.Len(t, alerts, 3)

	assert.Equal(t, int64(2), alerts[0].Incident.ID)
	assert.Equal(t, RiskCritical, alerts[0].RiskLevel)
	assert.Equal(t, 12, alerts[0].RiskScore)

	assert.Equal(t, int64(3), alerts[1].Incident.ID)
	assert.Equal(t, RiskHigh, alerts[1].RiskLevel)

	assert.Equal(t, int64(1), alerts[2].Incident.ID)
	assert.Equal(t, RiskLow, alerts[2].RiskLevel)
	assert.InDelta(t, 1.0, alerts[2].AgeHours, 0.001)
}
