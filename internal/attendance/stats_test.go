package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rollcall/internal/course"
)

type statsFixture struct {
	repo    *MemoryRepository
	courses *course.MemoryRepository
	manager *Manager
	stats   *Stats
	crs     course.Course
}

func newStatsFixture(t *testing.T) *statsFixture {
	t.Helper()
	ctx := context.Background()
	repo := NewMemoryRepository(nil)
	courses := course.NewMemoryRepository()
	crs, err := courses.CreateCourse(ctx, course.Course{ProfessorID: "prof-1", Name: "Numerical Analysis", Code: "CS 450"})
	require.NoError(t, err)
	return &statsFixture{
		repo:    repo,
		courses: courses,
		manager: NewManager(repo),
		stats:   NewStats(repo, courses),
		crs:     crs,
	}
}

// runSession opens a session, records check-ins for the given students, and
// closes it.
func (f *statsFixture) runSession(t *testing.T, studentIDs ...string) {
	t.Helper()
	ctx := context.Background()
	s, err := f.manager.StartSession(ctx, f.crs.ID)
	require.NoError(t, err)
	for _, id := range studentIDs {
		_, inserted, err := f.repo.InsertCheckIn(ctx, CheckIn{SessionID: s.ID, StudentID: id})
		require.NoError(t, err)
		require.True(t, inserted)
	}
	_, err = f.manager.StopSession(ctx, f.crs.ID)
	require.NoError(t, err)
}

func (f *statsFixture) enroll(t *testing.T, name string) string {
	t.Helper()
	ctx := context.Background()
	u, err := f.courses.CreateUser(ctx, course.User{Email: name + "@test.test", Name: name})
	require.NoError(t, err)
	_, err = f.courses.Enroll(ctx, u.ID, f.crs.ID)
	require.NoError(t, err)
	// keep enrollment order deterministic
	time.Sleep(time.Millisecond)
	return u.ID
}

func TestAttendanceRateThreeOfFour(t *testing.T) {
	ctx := context.Background()
	f := newStatsFixture(t)
	alice := f.enroll(t, "alice")

	f.runSession(t, alice)
	f.runSession(t, alice)
	f.runSession(t)
	f.runSession(t, alice)

	rate, err := f.stats.AttendanceRate(ctx, alice, f.crs.ID)
	require.NoError(t, err)
	require.Equal(t, 75, rate)
}

func TestAttendanceRateNoSessions(t *testing.T) {
	ctx := context.Background()
	f := newStatsFixture(t)
	alice := f.enroll(t, "alice")

	rate, err := f.stats.AttendanceRate(ctx, alice, f.crs.ID)
	require.NoError(t, err)
	require.Equal(t, 0, rate)
}

func TestAttendanceRateCountsOpenSession(t *testing.T) {
	ctx := context.Background()
	f := newStatsFixture(t)
	alice := f.enroll(t, "alice")
	f.runSession(t, alice)

	// a session counts toward the denominator from the moment it starts
	_, err := f.manager.StartSession(ctx, f.crs.ID)
	require.NoError(t, err)

	rate, err := f.stats.AttendanceRate(ctx, alice, f.crs.ID)
	require.NoError(t, err)
	require.Equal(t, 50, rate)
}

func TestCourseRosterOrdering(t *testing.T) {
	ctx := context.Background()
	f := newStatsFixture(t)
	alice := f.enroll(t, "alice")
	bob := f.enroll(t, "bob")
	carol := f.enroll(t, "carol")
	dave := f.enroll(t, "dave")

	f.runSession(t, alice, bob)
	f.runSession(t, alice, carol)

	roster, err := f.stats.CourseRoster(ctx, f.crs.ID)
	require.NoError(t, err)
	require.Len(t, roster, 4)

	// alice 100, then bob and carol tied at 50 in enrollment order, dave 0
	require.Equal(t, alice, roster[0].StudentID)
	require.Equal(t, 100, roster[0].AttendanceRate)
	require.Equal(t, bob, roster[1].StudentID)
	require.Equal(t, carol, roster[2].StudentID)
	require.Equal(t, 50, roster[1].AttendanceRate)
	require.Equal(t, dave, roster[3].StudentID)
	require.Equal(t, 0, roster[3].AttendanceRate)

	require.Equal(t, 2, roster[0].TotalClasses)
	require.Equal(t, 2, roster[0].Attended)
	require.Equal(t, 1, roster[1].Attended)
	require.Equal(t, "alice", roster[0].Name)
}

func TestCourseRosterEmptyCourse(t *testing.T) {
	ctx := context.Background()
	f := newStatsFixture(t)

	roster, err := f.stats.CourseRoster(ctx, f.crs.ID)
	require.NoError(t, err)
	require.Empty(t, roster)
}
