package course

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a user, course or enrollment does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyEnrolled is returned when a student enrolls twice in a course.
	ErrAlreadyEnrolled = errors.New("already enrolled")
)

// User is an account holder, either a student or a professor.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	IsProfessor bool      `json:"is_professor"`
	CreatedAt   time.Time `json:"created_at"`
}

// Course is a class taught by one professor. Schedule and Location are
// free-text labels. Latitude/Longitude form an optional geo-anchor; when
// absent, proximity-gated check-in is disabled for the course.
type Course struct {
	ID          string     `json:"id"`
	ProfessorID string     `json:"professor_id"`
	Name        string     `json:"name"`
	Code        string     `json:"code"`
	Schedule    string     `json:"schedule"`
	Location    string     `json:"location"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Anchor returns the course geo-anchor, ok=false when none is set.
func (c *Course) Anchor() (lat, lon float64, ok bool) {
	if c == nil || c.Latitude == nil || c.Longitude == nil {
		return 0, 0, false
	}
	return *c.Latitude, *c.Longitude, true
}

// Enrollment records a student's membership in a course, unique per pair.
type Enrollment struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	CourseID  string    `json:"course_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists users, courses and enrollments.
type Repository interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	CreateCourse(ctx context.Context, c Course) (Course, error)
	GetCourse(ctx context.Context, id string) (*Course, error)
	UpdateCourse(ctx context.Context, c Course) (Course, error)
	// DeleteCourse removes the course and cascades to its sessions,
	// check-ins and enrollments.
	DeleteCourse(ctx context.Context, id string) error
	ListCourses(ctx context.Context) ([]Course, error)
	ListProfessorCourses(ctx context.Context, professorID string) ([]Course, error)
	ListStudentCourses(ctx context.Context, studentID string) ([]Course, error)

	Enroll(ctx context.Context, studentID, courseID string) (Enrollment, error)
	Drop(ctx context.Context, studentID, courseID string) error
	// ListStudents returns enrolled students in enrollment order.
	ListStudents(ctx context.Context, courseID string) ([]User, error)
}
