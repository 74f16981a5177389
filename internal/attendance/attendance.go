package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rollcall/internal/course"
)

var (
	// ErrSessionAlreadyActive blocks starting a second session for a course.
	ErrSessionAlreadyActive = errors.New("an attendance session is already active for this course")
	// ErrSessionNotActive rejects check-ins against a closed or missing session.
	ErrSessionNotActive = errors.New("attendance session is not active")
	// ErrAlreadyCheckedIn rejects a second check-in for the same session.
	ErrAlreadyCheckedIn = errors.New("already checked in for this session")
	// ErrStoreUnavailable wraps transient store failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	// errNoActiveFlagFilter is returned by backends that cannot filter
	// sessions on the active flag; the manager degrades to a client-side scan.
	errNoActiveFlagFilter = errors.New("backend cannot filter on active flag")
)

// ProximityError reports a check-in attempt from outside the allowed radius.
type ProximityError struct {
	DistanceFt  float64
	ThresholdFt float64
}

func (e *ProximityError) Error() string {
	return fmt.Sprintf("too far from classroom: %.0f ft away, must be within %.0f ft", e.DistanceFt, e.ThresholdFt)
}

// Session is one open/closed window during which check-ins are accepted for a
// course. At most one session per course is active at any time. A closed
// session is terminal; the next active period gets a new row.
type Session struct {
	ID        string     `json:"id"`
	CourseID  string     `json:"course_id"`
	IsActive  bool       `json:"is_active"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// CheckIn records one student's presence for one session. Append-only, at
// most one per (session, student) pair.
type CheckIn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	StudentID string    `json:"student_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Location is a client-reported GPS sample.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Repository persists sessions and check-ins.
type Repository interface {
	// InsertSession creates an active session; ErrSessionAlreadyActive when
	// the backend's uniqueness constraint rejects a second active row.
	InsertSession(ctx context.Context, s Session) (Session, error)
	// CloseSession deactivates the session and stamps its end time.
	CloseSession(ctx context.Context, sessionID string, end time.Time) (Session, error)
	// GetSession returns a session by id, nil when missing.
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	// ActiveSession returns the unique active session for the course, or nil.
	// Backends without boolean filtering return errNoActiveFlagFilter.
	ActiveSession(ctx context.Context, courseID string) (*Session, error)
	ListSessions(ctx context.Context, courseID string) ([]Session, error)
	CountSessions(ctx context.Context, courseID string) (int, error)

	// InsertCheckIn writes the check-in; inserted=false when the uniqueness
	// constraint on (session, student) rejected a duplicate.
	InsertCheckIn(ctx context.Context, ci CheckIn) (checkIn CheckIn, inserted bool, err error)
	GetCheckIn(ctx context.Context, sessionID, studentID string) (*CheckIn, error)
	ListCheckIns(ctx context.Context, sessionID string) ([]CheckIn, error)
	// CheckInCounts returns, per student, how many of the course's sessions
	// they checked in to.
	CheckInCounts(ctx context.Context, courseID string) (map[string]int, error)
	CountStudentCheckIns(ctx context.Context, courseID, studentID string) (int, error)
}

// CourseDirectory is the slice of the course store the attendance core needs.
type CourseDirectory interface {
	GetCourse(ctx context.Context, id string) (*course.Course, error)
	ListStudents(ctx context.Context, courseID string) ([]course.User, error)
}
