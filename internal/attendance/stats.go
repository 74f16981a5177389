package attendance

import (
	"context"
	"math"
	"sort"
)

// RosterEntry is one enrolled student's attendance record for a course.
type RosterEntry struct {
	StudentID      string `json:"student_id"`
	Name           string `json:"name"`
	Attended       int    `json:"attended"`
	TotalClasses   int    `json:"total_classes"`
	AttendanceRate int    `json:"attendance_rate"`
}

// Stats derives attendance rates from accumulated sessions and check-ins.
// Read-only; every session ever started counts toward the denominator,
// the currently open one included.
type Stats struct {
	repo    Repository
	courses CourseDirectory
}

// NewStats creates an aggregator.
func NewStats(repo Repository, courses CourseDirectory) *Stats {
	return &Stats{repo: repo, courses: courses}
}

// AttendanceRate returns round(100 * checkIns / sessions) for the student in
// the course, 0 when the course has no sessions yet.
func (s *Stats) AttendanceRate(ctx context.Context, studentID, courseID string) (int, error) {
	total, err := s.repo.CountSessions(ctx, courseID)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	attended, err := s.repo.CountStudentCheckIns(ctx, courseID, studentID)
	if err != nil {
		return 0, err
	}
	return rate(attended, total), nil
}

// CourseRoster returns one entry per enrolled student, sorted by rate
// descending. The sort is stable: ties keep enrollment order.
func (s *Stats) CourseRoster(ctx context.Context, courseID string) ([]RosterEntry, error) {
	students, err := s.courses.ListStudents(ctx, courseID)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.CountSessions(ctx, courseID)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CheckInCounts(ctx, courseID)
	if err != nil {
		return nil, err
	}

	roster := make([]RosterEntry, 0, len(students))
	for _, st := range students {
		attended := counts[st.ID]
		roster = append(roster, RosterEntry{
			StudentID:      st.ID,
			Name:           st.Name,
			Attended:       attended,
			TotalClasses:   total,
			AttendanceRate: rate(attended, total),
		})
	}
	sort.SliceStable(roster, func(i, j int) bool {
		return roster[i].AttendanceRate > roster[j].AttendanceRate
	})
	return roster, nil
}

func rate(attended, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(attended) / float64(total)))
}
