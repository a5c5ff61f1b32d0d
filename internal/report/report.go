// Package report computes read-side summaries. Every call folds over the
// stored records; nothing is cached.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"vision/internal/model"
	"vision/internal/store"
)

const (
	// DefaultHistoryWindow is used when a history query has no start date.
	DefaultHistoryWindow = 30 * 24 * time.Hour
	DefaultLogLimit      = 50
	MaxLogLimit          = 500
	DefaultThreshold     = 75.0
	recentProxyAlerts    = 5
)

// Stats counts attendance outcomes. Total always equals Present+Late+Absent.
type Stats struct {
	Total   int `json:"total"`
	Present int `json:"present"`
	Late    int `json:"late"`
	Absent  int `json:"absent"`
}

func (s *Stats) add(status model.AttendanceStatus) {
	switch status {
	case model.StatusPresent:
		s.Present++
	case model.StatusLate:
		s.Late++
	case model.StatusAbsent:
		s.Absent++
	default:
		return
	}
	s.Total++
}

// DepartmentStats is Stats for every student of one department.
type DepartmentStats struct {
	Department string `json:"department"`
	Stats
}

// ProxyAlerts summarises records flagged as proxy attendance.
type ProxyAlerts struct {
	Count  int                      `json:"count"`
	Recent []model.AttendanceRecord `json:"recent"`
}

// KPIs is the admin dashboard snapshot.
type KPIs struct {
	AutomatedEntries int     `json:"automatedEntries"`
	AvgMarkingTime   float64 `json:"avgMarkingTime"`
	ProxyFailsCaught int     `json:"proxyFailsCaught"`
	SystemUptime     float64 `json:"systemUptime"`
}

// Defaulter is a student below the attendance threshold.
type Defaulter struct {
	StudentID     string  `json:"studentId"`
	Name          string  `json:"name"`
	Percentage    float64 `json:"percentage"`
	MissedClasses int     `json:"missedClasses"`
}

// Reporter reads from the store.
type Reporter struct {
	store store.Store
	now   func() time.Time
}

func New(s store.Store) *Reporter {
	return &Reporter{store: s, now: store.Now}
}

// StudentStats counts the student's records by status.
func (r *Reporter) StudentStats(ctx context.Context, studentID string) (Stats, error) {
	recs, err := r.store.ListAttendance(ctx, store.AttendanceFilter{StudentID: studentID})
	if err != nil {
		return Stats{}, fmt.Errorf("list attendance: %w", err)
	}
	return fold(recs), nil
}

// DepartmentStats returns a one-element list with the department totals.
func (r *Reporter) DepartmentStats(ctx context.Context, department string) ([]DepartmentStats, error) {
	recs, err := r.store.ListAttendance(ctx, store.AttendanceFilter{Department: department})
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return []DepartmentStats{{Department: department, Stats: fold(recs)}}, nil
}

// History returns the student's records whose session lies within
// [from, to], inclusive at both ends. A nil from means 30 days before now,
// a nil to means now.
func (r *Reporter) History(ctx context.Context, studentID string, from, to *time.Time) ([]model.AttendanceRecord, error) {
	now := r.now()
	if to == nil {
		to = &now
	}
	if from == nil {
		start := to.Add(-DefaultHistoryWindow)
		from = &start
	}
	if to.Before(*from) {
		return nil, fmt.Errorf("%w: endDate before startDate", model.ErrValidation)
	}
	recs, err := r.store.ListAttendance(ctx, store.AttendanceFilter{StudentID: studentID, From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return recs, nil
}

// ProxyAlerts counts every proxy-flagged record and returns the newest five.
func (r *Reporter) ProxyAlerts(ctx context.Context) (ProxyAlerts, error) {
	recs, err := r.store.ListAttendance(ctx, store.AttendanceFilter{ProxyOnly: true})
	if err != nil {
		return ProxyAlerts{}, fmt.Errorf("list attendance: %w", err)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	recent := recs
	if len(recent) > recentProxyAlerts {
		recent = recent[:recentProxyAlerts]
	}
	return ProxyAlerts{Count: len(recs), Recent: recent}, nil
}

// SystemLogs returns the newest entries first. limit defaults to 50 and is
// capped at 500.
func (r *Reporter) SystemLogs(ctx context.Context, limit int) ([]model.SystemLog, error) {
	switch {
	case limit <= 0:
		limit = DefaultLogLimit
	case limit > MaxLogLimit:
		limit = MaxLogLimit
	}
	return r.store.ListLogs(ctx, limit)
}

// KPIs is a fixed snapshot; no formula backs these figures yet.
func (r *Reporter) KPIs() KPIs {
	return KPIs{
		AutomatedEntries: 87,
		AvgMarkingTime:   2.3,
		ProxyFailsCaught: 12,
		SystemUptime:     99.8,
	}
}

var stubDefaulters = []Defaulter{
	{StudentID: "1", Name: "Shivam Mishra", Percentage: 45, MissedClasses: 12},
	{StudentID: "2", Name: "Rajesh Kumar", Percentage: 52, MissedClasses: 10},
	{StudentID: "3", Name: "Priya Sharma", Percentage: 58, MissedClasses: 8},
}

// Defaulters returns the fixed defaulter list filtered to percentages below
// threshold. Like KPIs it is not computed from stored records.
func (r *Reporter) Defaulters(threshold float64) []Defaulter {
	out := []Defaulter{}
	for _, d := range stubDefaulters {
		if d.Percentage < threshold {
			out = append(out, d)
		}
	}
	return out
}

func fold(recs []model.AttendanceRecord) Stats {
	var s Stats
	for _, rec := range recs {
		s.add(rec.Status)
	}
	return s
}
