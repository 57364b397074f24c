package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/opsdesk/opsdesk/internal/domain"
	"github.com/opsdesk/opsdesk/internal/policy"
)

// ErrForbidden is returned for staff-only views requested by reporters.
var ErrForbidden = errors.New("operation not permitted")

// Trend window limits.
const (
	DefaultTrendDays = 14
	MaxTrendDays     = 90
)

// RiskLevel buckets escalation scores for display.
type RiskLevel string

// Risk levels, worst first.
const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
)

// Overview is the main dashboard payload.
type Overview struct {
	Counts     *StatusCounts  `json:"counts"`
	BySeverity []BreakdownRow `json:"by_severity"`
	ByCategory []BreakdownRow `json:"by_category"`
}

// TrendPoint is one day in the created/resolved series.
type TrendPoint struct {
	Day      string `json:"day"`
	Created  int    `json:"created"`
	Resolved int    `json:"resolved"`
}

// MTTRReport is average time to resolution, overall and per severity.
type MTTRReport struct {
	OverallSeconds float64         `json:"overall_seconds"`
	Resolved       int             `json:"resolved"`
	BySeverity     []ResolutionRow `json:"by_severity"`
}

// EscalationAlert is an unresolved incident flagged by age and severity.
type EscalationAlert struct {
	Incident  *domain.Incident `json:"incident"`
	AgeHours  float64          `json:"age_hours"`
	RiskScore int              `json:"risk_score"`
	RiskLevel RiskLevel        `json:"risk_level"`
}

// Service implements dashboard operations.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new dashboard service.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// Overview returns status counts and severity/category breakdowns under
// the actor's visibility.
func (s *Service) Overview(ctx context.Context, actor domain.Actor) (*Overview, error) {
	scope := policy.ScopeFor(actor)

	counts, err := s.repo.StatusCounts(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}

	bySeverity, err := s.repo.CountBySeverity(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("severity breakdown: %w", err)
	}

	byCategory, err := s.repo.CountByCategory(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("category breakdown: %w", err)
	}

	return &Overview{
		Counts:     counts,
		BySeverity: severityBreakdown(bySeverity),
		ByCategory: categoryBreakdown(byCategory),
	}, nil
}

// Trends returns a continuous created/resolved series for the last N days,
// zero-filled so charts do not skip quiet days.
func (s *Service) Trends(ctx context.Context, actor domain.Actor, days int) ([]TrendPoint, error) {
	if days < 1 || days > MaxTrendDays {
		days = DefaultTrendDays
	}

	scope := policy.ScopeFor(actor)
	today := s.now().UTC().Truncate(24 * time.Hour)
	from := today.AddDate(0, 0, -(days - 1))

	created, err := s.repo.CreatedPerDay(ctx, scope, from)
	if err != nil {
		return nil, fmt.Errorf("created per day: %w", err)
	}
	resolved, err := s.repo.ResolvedPerDay(ctx, scope, from)
	if err != nil {
		return nil, fmt.Errorf("resolved per day: %w", err)
	}

	points := make([]TrendPoint, 0, days)
	for d := 0; d < days; d++ {
		day := from.AddDate(0, 0, d).Format("2006-01-02")
		points = append(points, TrendPoint{
			Day:      day,
			Created:  created[day],
			Resolved: resolved[day],
		})
	}
	return points, nil
}

// MTTR returns mean time to resolution, overall and per severity.
func (s *Service) MTTR(ctx context.Context, actor domain.Actor) (*MTTRReport, error) {
	scope := policy.ScopeFor(actor)

	rows, err := s.repo.ResolutionTimes(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("resolution times: %w", err)
	}

	report := &MTTRReport{BySeverity: rows}
	var weighted float64
	for _, row := range rows {
		weighted += row.AvgSeconds * float64(row.Resolved)
		report.Resolved += row.Resolved
	}
	if report.Resolved > 0 {
		report.OverallSeconds = weighted / float64(report.Resolved)
	}
	return report, nil
}

// OperatorPerformance returns workload and throughput per operator.
// Staff only; reporters have no business seeing team throughput.
func (s *Service) OperatorPerformance(ctx context.Context, actor domain.Actor) ([]OperatorRow, error) {
	if !actor.Role.CanManageIncidents() {
		return nil, ErrForbidden
	}
	return s.repo.OperatorPerformance(ctx)
}

// Escalations flags unresolved incidents by severity and staleness,
// worst first.
func (s *Service) Escalations(ctx context.Context, actor domain.Actor) ([]EscalationAlert, error) {
	scope := policy.ScopeFor(actor)

	incidents, err := s.repo.UnresolvedIncidents(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("unresolved incidents: %w", err)
	}

	now := s.now()
	alerts := make([]EscalationAlert, 0, len(incidents))
	for _, inc := range incidents {
		age := now.Sub(inc.CreatedAt)
		score := riskScore(inc.Severity, age)
		alerts = append(alerts, EscalationAlert{
			Incident:  inc,
			AgeHours:  age.Hours(),
			RiskScore: score,
			RiskLevel: riskLevel(score),
		})
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].RiskScore != alerts[j].RiskScore {
			return alerts[i].RiskScore > alerts[j].RiskScore
		}
		return alerts[i].AgeHours > alerts[j].AgeHours
	})
	return alerts, nil
}

// riskScore combines severity weight with a staleness factor: incidents
// sitting unresolved past 8h and past 24h climb a band each time.
func riskScore(severity domain.IncidentSeverity, age time.Duration) int {
	staleness := 1
	switch {
	case age >= 24*time.Hour:
		staleness = 3
	case age >= 8*time.Hour:
		staleness = 2
	}
	return severity.Weight() * staleness
}

func riskLevel(score int) RiskLevel {
	switch {
	case score >= 9:
		return RiskCritical
	case score >= 6:
		return RiskHigh
	case score >= 3:
		return RiskMedium
	}
	return RiskLow
}

func severityBreakdown(counts map[domain.IncidentSeverity]int) []BreakdownRow {
	// Fixed order, worst first, zero rows included.
	order := []domain.IncidentSeverity{
		domain.SeverityCritical,
		domain.SeverityHigh,
		domain.SeverityMedium,
		domain.SeverityLow,
	}
	rows := make([]BreakdownRow, 0, len(order))
	for _, sev := range order {
		rows = append(rows, BreakdownRow{
			Key:   string(sev),
			Label: sev.Label(),
			Count: counts[sev],
		})
	}
	return rows
}

func categoryBreakdown(counts map[string]int) []BreakdownRow {
	rows := make([]BreakdownRow, 0, len(counts))
	for key, count := range counts {
		label, ok := domain.IncidentCategories[key]
		if !ok {
			label = key
		}
		rows = append(rows, BreakdownRow{Key: key, Label: label, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Key < rows[j].Key
	})
	return rows
}
