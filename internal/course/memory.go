package course

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository for dev and tests. Course
// deletes cascade sequentially; OnCourseDelete hooks let the attendance
// store participate in the cascade.
type MemoryRepository struct {
	mu          sync.Mutex
	users       map[string]User
	courses     map[string]Course
	enrollments []Enrollment

	// cascadeFns run inside DeleteCourse for each deleted course id.
	cascadeFns []func(courseID string)
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:   make(map[string]User),
		courses: make(map[string]Course),
	}
}

// OnCourseDelete registers fn to run whenever a course is deleted.
func (r *MemoryRepository) OnCourseDelete(fn func(courseID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cascadeFns = append(r.cascadeFns, fn)
}

// CreateUser stores a user.
func (r *MemoryRepository) CreateUser(_ context.Context, u User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()
	r.users[u.ID] = u
	return u, nil
}

// GetUser returns a user by id, nil when missing.
func (r *MemoryRepository) GetUser(_ context.Context, id string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

// GetUserByEmail returns a user by email, nil when missing.
func (r *MemoryRepository) GetUserByEmail(_ context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

// CreateCourse stores a course.
func (r *MemoryRepository) CreateCourse(_ context.Context, c Course) (Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()
	r.courses[c.ID] = c
	return c, nil
}

// GetCourse returns a course by id, nil when missing.
func (r *MemoryRepository) GetCourse(_ context.Context, id string) (*Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.courses[id]; ok {
		return &c, nil
	}
	return nil, nil
}

// UpdateCourse rewrites the mutable fields of an existing course.
func (r *MemoryRepository) UpdateCourse(_ context.Context, c Course) (Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.courses[c.ID]
	if !ok {
		return Course{}, ErrNotFound
	}
	cur.Name = c.Name
	cur.Code = c.Code
	cur.Schedule = c.Schedule
	cur.Location = c.Location
	cur.Latitude = c.Latitude
	cur.Longitude = c.Longitude
	r.courses[c.ID] = cur
	return cur, nil
}

// DeleteCourse removes the course, its enrollments, and invokes cascade hooks.
func (r *MemoryRepository) DeleteCourse(_ context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.courses[id]; !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.courses, id)
	kept := r.enrollments[:0]
	for _, e := range r.enrollments {
		if e.CourseID != id {
			kept = append(kept, e)
		}
	}
	r.enrollments = kept
	fns := append([]func(string){}, r.cascadeFns...)
	r.mu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
	return nil
}

// ListCourses returns every course ordered by creation time.
func (r *MemoryRepository) ListCourses(_ context.Context) ([]Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]Course, 0, len(r.courses))
	for _, c := range r.courses {
		res = append(res, c)
	}
	sortCoursesByCreation(res)
	return res, nil
}

// ListProfessorCourses returns courses owned by a professor.
func (r *MemoryRepository) ListProfessorCourses(_ context.Context, professorID string) ([]Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []Course
	for _, c := range r.courses {
		if c.ProfessorID == professorID {
			res = append(res, c)
		}
	}
	sortCoursesByCreation(res)
	return res, nil
}

// ListStudentCourses returns courses the student is enrolled in, in
// enrollment order.
func (r *MemoryRepository) ListStudentCourses(_ context.Context, studentID string) ([]Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []Course
	for _, e := range r.enrollments {
		if e.StudentID != studentID {
			continue
		}
		if c, ok := r.courses[e.CourseID]; ok {
			res = append(res, c)
		}
	}
	return res, nil
}

// Enroll creates the (student, course) pair, ErrAlreadyEnrolled on repeat.
func (r *MemoryRepository) Enroll(_ context.Context, studentID, courseID string) (Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID {
			return Enrollment{}, ErrAlreadyEnrolled
		}
	}
	e := Enrollment{
		ID:        uuid.NewString(),
		StudentID: studentID,
		CourseID:  courseID,
		CreatedAt: time.Now().UTC(),
	}
	r.enrollments = append(r.enrollments, e)
	return e, nil
}

// Drop removes the enrollment pair.
func (r *MemoryRepository) Drop(_ context.Context, studentID, courseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID {
			r.enrollments = append(r.enrollments[:i], r.enrollments[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// ListStudents returns enrolled students in enrollment order.
func (r *MemoryRepository) ListStudents(_ context.Context, courseID string) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []User
	for _, e := range r.enrollments {
		if e.CourseID != courseID {
			continue
		}
		if u, ok := r.users[e.StudentID]; ok {
			res = append(res, u)
		}
	}
	return res, nil
}

func sortCoursesByCreation(cs []Course) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].CreatedAt.Before(cs[j].CreatedAt) })
}

var _ Repository = (*MemoryRepository)(nil)
