// Package dashboard aggregates incident statistics for the overview screens.
package dashboard

import (
	"context"
	"time"

	"github.com/opsdesk/opsdesk/internal/domain"
	"github.com/opsdesk/opsdesk/internal/policy"
)

// StatusCounts holds incident totals by lifecycle status.
type StatusCounts struct {
	Total         int `json:"total"`
	Open          int `json:"open"`
	Investigating int `json:"investigating"`
	Resolved      int `json:"resolved"`
	Closed        int `json:"closed"`
	Unassigned    int `json:"unassigned"`
}

// BreakdownRow is one slice of a grouped count.
type BreakdownRow struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// ResolutionRow is the average resolution time for one severity.
type ResolutionRow struct {
	Severity   domain.IncidentSeverity `json:"severity"`
	AvgSeconds float64                 `json:"avg_seconds"`
	Resolved   int                     `json:"resolved"`
}

// OperatorRow is per-operator workload and throughput.
type OperatorRow struct {
	Operator   domain.UserRef `json:"operator"`
	OpenCount  int            `json:"open_count"`
	Resolved   int            `json:"resolved"`
	AvgSeconds float64        `json:"avg_seconds"`
}

// Repository defines the aggregate queries behind the dashboard. Every
// query takes the caller's visibility scope.
type Repository interface {
	StatusCounts(ctx context.Context, scope policy.Scope) (*StatusCounts, error)
	CountBySeverity(ctx context.Context, scope policy.Scope) (map[domain.IncidentSeverity]int, error)
	CountByCategory(ctx context.Context, scope policy.Scope) (map[string]int, error)
	CreatedPerDay(ctx context.Context, scope policy.Scope, from time.Time) (map[string]int, error)
	ResolvedPerDay(ctx context.Context, scope policy.Scope, from time.Time) (map[string]int, error)
	ResolutionTimes(ctx context.Context, scope policy.Scope) ([]ResolutionRow, error)
	OperatorPerformance(ctx context.Context) ([]OperatorRow, error)
	UnresolvedIncidents(ctx context.Context, scope policy.Scope) ([]*domain.Incident, error)
}
