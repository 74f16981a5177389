package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rollcall/internal/course"
	"rollcall/internal/geo"
)

const (
	anchorLat = 40.1000
	anchorLon = -88.2000
)

func f64(v float64) *float64 { return &v }

type gateFixture struct {
	repo    *MemoryRepository
	courses *course.MemoryRepository
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	return &gateFixture{
		repo:    NewMemoryRepository(nil),
		courses: course.NewMemoryRepository(),
	}
}

// addCourse creates a course with an optional anchor and opens a session.
func (f *gateFixture) addCourse(t *testing.T, lat, lon *float64) (course.Course, Session) {
	t.Helper()
	ctx := context.Background()
	crs, err := f.courses.CreateCourse(ctx, course.Course{
		ProfessorID: "prof-1",
		Name:        "Data Structures",
		Code:        "CS 225",
		Latitude:    lat,
		Longitude:   lon,
	})
	require.NoError(t, err)
	session, err := f.repo.InsertSession(ctx, Session{CourseID: crs.ID})
	require.NoError(t, err)
	return crs, session
}

func TestCheckInAtAnchorSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)
	_, session := f.addCourse(t, f64(anchorLat), f64(anchorLon))
	gate := NewGate(f.repo, f.courses, 500)

	ci, err := gate.CheckIn(ctx, &session, "student-1", Location{Latitude: anchorLat, Longitude: anchorLon})
	require.NoError(t, err)
	require.Equal(t, session.ID, ci.SessionID)
	require.Equal(t, "student-1", ci.StudentID)
	require.False(t, ci.Timestamp.IsZero())
}

func TestCheckInTooFarFails(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)
	_, session := f.addCourse(t, f64(anchorLat), f64(anchorLon))
	gate := NewGate(f.repo, f.courses, 500)

	// roughly 1000 ft north of the anchor
	farLat := anchorLat + 0.0027411
	_, err := gate.CheckIn(ctx, &session, "student-1", Location{Latitude: farLat, Longitude: anchorLon})

	var proximity *ProximityError
	require.ErrorAs(t, err, &proximity)
	require.InDelta(t, 1000, proximity.DistanceFt, 15)
	require.Equal(t, 500.0, proximity.ThresholdFt)

	// the failed attempt must not have written anything
	list, err := f.repo.ListCheckIns(ctx, session.ID)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestCheckInBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)
	_, session := f.addCourse(t, f64(anchorLat), f64(anchorLon))

	studentLat := anchorLat + 0.001
	distance := geo.DistanceFeet(studentLat, anchorLon, anchorLat, anchorLon)

	// exactly at the threshold passes
	gate := NewGate(f.repo, f.courses, distance)
	_, err := gate.CheckIn(ctx, &session, "student-1", Location{Latitude: studentLat, Longitude: anchorLon})
	require.NoError(t, err)

	// a hair under the measured distance fails
	strict := NewGate(f.repo, f.courses, distance-0.001)
	_, err = strict.CheckIn(ctx, &session, "student-2", Location{Latitude: studentLat, Longitude: anchorLon})
	var proximity *ProximityError
	require.ErrorAs(t, err, &proximity)
}

func TestCheckInDuplicateFails(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)
	_, session := f.addCourse(t, f64(anchorLat), f64(anchorLon))
	gate := NewGate(f.repo, f.courses, 500)

	loc := Location{Latitude: anchorLat, Longitude: anchorLon}
	_, err := gate.CheckIn(ctx, &session, "student-1", loc)
	require.NoError(t, err)

	_, err = gate.CheckIn(ctx, &session, "student-1", loc)
	require.ErrorIs(t, err, ErrAlreadyCheckedIn)

	// a different student is unaffected
	_, err = gate.CheckIn(ctx, &session, "student-2", loc)
	require.NoError(t, err)
}

func TestCheckInWithoutAnchorSkipsProximity(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)
	_, session := f.addCourse(t, nil, nil)
	gate := NewGate(f.repo, f.courses, 500)

	// nowhere near campus, still accepted
	_, err := gate.CheckIn(ctx, &session, "student-1", Location{Latitude: -33.8568, Longitude: 151.2153})
	require.NoError(t, err)
}

func TestCheckInRejectsInactiveSession(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)
	_, session := f.addCourse(t, f64(anchorLat), f64(anchorLon))
	gate := NewGate(f.repo, f.courses, 500)

	_, err := gate.CheckIn(ctx, nil, "student-1", Location{Latitude: anchorLat, Longitude: anchorLon})
	require.ErrorIs(t, err, ErrSessionNotActive)

	closed, err := f.repo.CloseSession(ctx, session.ID, session.StartTime.Add(time.Hour))
	require.NoError(t, err)
	_, err = gate.CheckIn(ctx, &closed, "student-1", Location{Latitude: anchorLat, Longitude: anchorLon})
	require.ErrorIs(t, err, ErrSessionNotActive)
}
