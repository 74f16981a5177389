package attendance

import (
	"context"
	"fmt"
	"time"

	"rollcall/internal/geo"
)

// DefaultCheckInRadiusFt is how close to the classroom anchor a student must
// be for a check-in to be accepted.
const DefaultCheckInRadiusFt = 500.0

// Gate validates and records a student's check-in against an active session.
type Gate struct {
	repo        Repository
	courses     CourseDirectory
	thresholdFt float64
	now         func() time.Time
}

// NewGate creates a gate; thresholdFt <= 0 selects the default radius.
func NewGate(repo Repository, courses CourseDirectory, thresholdFt float64) *Gate {
	if thresholdFt <= 0 {
		thresholdFt = DefaultCheckInRadiusFt
	}
	return &Gate{
		repo:        repo,
		courses:     courses,
		thresholdFt: thresholdFt,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CheckIn records the student's presence for the session. Checks run in
// order: session active, not already checked in, within the course's radius.
// A course without a geo-anchor skips the proximity test entirely.
//
// The existence check is a fast-fail nicety; the store's unique constraint
// on (session, student) is what keeps duplicate taps from double-writing.
func (g *Gate) CheckIn(ctx context.Context, session *Session, studentID string, loc Location) (CheckIn, error) {
	if session == nil || !session.IsActive {
		checkInsRejected.WithLabelValues("session_not_active").Inc()
		return CheckIn{}, ErrSessionNotActive
	}

	existing, err := g.repo.GetCheckIn(ctx, session.ID, studentID)
	if err != nil {
		return CheckIn{}, err
	}
	if existing != nil {
		checkInsRejected.WithLabelValues("duplicate").Inc()
		return CheckIn{}, ErrAlreadyCheckedIn
	}

	crs, err := g.courses.GetCourse(ctx, session.CourseID)
	if err != nil {
		return CheckIn{}, err
	}
	if crs == nil {
		return CheckIn{}, fmt.Errorf("course %s not found", session.CourseID)
	}
	if lat, lon, ok := crs.Anchor(); ok {
		distance := geo.DistanceFeet(loc.Latitude, loc.Longitude, lat, lon)
		if distance > g.thresholdFt {
			checkInsRejected.WithLabelValues("too_far").Inc()
			return CheckIn{}, &ProximityError{DistanceFt: distance, ThresholdFt: g.thresholdFt}
		}
	}

	ci, inserted, err := g.repo.InsertCheckIn(ctx, CheckIn{
		SessionID: session.ID,
		StudentID: studentID,
		Timestamp: g.now(),
	})
	if err != nil {
		return CheckIn{}, err
	}
	if !inserted {
		checkInsRejected.WithLabelValues("duplicate").Inc()
		return CheckIn{}, ErrAlreadyCheckedIn
	}
	checkInsAccepted.Inc()
	return ci, nil
}
