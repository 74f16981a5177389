package course

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// PostgresRepository persists course data in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateUser inserts a user row.
func (r *PostgresRepository) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, is_professor)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, u.ID, u.Email, u.Name, u.IsProfessor)
	if err := row.Scan(&u.CreatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUser returns a user by id, nil when missing.
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, name, is_professor, created_at FROM users WHERE id = $1
	`, id)
	return scanUser(row)
}

// GetUserByEmail returns a user by email, nil when missing.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, name, is_professor, created_at FROM users WHERE email = $1
	`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.IsProfessor, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// CreateCourse inserts a course row.
func (r *PostgresRepository) CreateCourse(ctx context.Context, c Course) (Course, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO courses (id, professor_id, name, code, schedule, location, latitude, longitude)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, c.ID, c.ProfessorID, c.Name, c.Code, c.Schedule, c.Location, c.Latitude, c.Longitude)
	if err := row.Scan(&c.CreatedAt); err != nil {
		return Course{}, err
	}
	return c, nil
}

// GetCourse returns a course by id, nil when missing.
func (r *PostgresRepository) GetCourse(ctx context.Context, id string) (*Course, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, professor_id, name, code, schedule, location, latitude, longitude, created_at
		FROM courses WHERE id = $1
	`, id)
	var c Course
	err := row.Scan(&c.ID, &c.ProfessorID, &c.Name, &c.Code, &c.Schedule, &c.Location, &c.Latitude, &c.Longitude, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// UpdateCourse rewrites the mutable course fields.
func (r *PostgresRepository) UpdateCourse(ctx context.Context, c Course) (Course, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE courses
		SET name = $2, code = $3, schedule = $4, location = $5, latitude = $6, longitude = $7
		WHERE id = $1
	`, c.ID, c.Name, c.Code, c.Schedule, c.Location, c.Latitude, c.Longitude)
	if err != nil {
		return Course{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Course{}, ErrNotFound
	}
	updated, err := r.GetCourse(ctx, c.ID)
	if err != nil {
		return Course{}, err
	}
	return *updated, nil
}

// DeleteCourse removes the course row. Sessions, check-ins and enrollments go
// with it via ON DELETE CASCADE, all inside the one statement's transaction.
func (r *PostgresRepository) DeleteCourse(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCourses returns every course.
func (r *PostgresRepository) ListCourses(ctx context.Context) ([]Course, error) {
	return r.queryCourses(ctx, `
		SELECT id, professor_id, name, code, schedule, location, latitude, longitude, created_at
		FROM courses ORDER BY created_at
	`)
}

// ListProfessorCourses returns courses owned by a professor.
func (r *PostgresRepository) ListProfessorCourses(ctx context.Context, professorID string) ([]Course, error) {
	return r.queryCourses(ctx, `
		SELECT id, professor_id, name, code, schedule, location, latitude, longitude, created_at
		FROM courses WHERE professor_id = $1 ORDER BY created_at
	`, professorID)
}

// ListStudentCourses returns courses a student is enrolled in.
func (r *PostgresRepository) ListStudentCourses(ctx context.Context, studentID string) ([]Course, error) {
	return r.queryCourses(ctx, `
		SELECT c.id, c.professor_id, c.name, c.code, c.schedule, c.location, c.latitude, c.longitude, c.created_at
		FROM courses c
		JOIN enrollments e ON e.course_id = c.id
		WHERE e.student_id = $1
		ORDER BY e.created_at
	`, studentID)
}

func (r *PostgresRepository) queryCourses(ctx context.Context, query string, args ...any) ([]Course, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.ProfessorID, &c.Name, &c.Code, &c.Schedule, &c.Location, &c.Latitude, &c.Longitude, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// Enroll creates the (student, course) pair. The unique index makes a repeat
// enrollment a no-op that surfaces as ErrAlreadyEnrolled.
func (r *PostgresRepository) Enroll(ctx context.Context, studentID, courseID string) (Enrollment, error) {
	e := Enrollment{ID: uuid.NewString(), StudentID: studentID, CourseID: courseID}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO enrollments (id, student_id, course_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (student_id, course_id) DO NOTHING
		RETURNING created_at
	`, e.ID, e.StudentID, e.CourseID)
	if err := row.Scan(&e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Enrollment{}, ErrAlreadyEnrolled
		}
		return Enrollment{}, err
	}
	return e, nil
}

// Drop removes the enrollment pair.
func (r *PostgresRepository) Drop(ctx context.Context, studentID, courseID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM enrollments WHERE student_id = $1 AND course_id = $2
	`, studentID, courseID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStudents returns enrolled students in enrollment order.
func (r *PostgresRepository) ListStudents(ctx context.Context, courseID string) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.email, u.name, u.is_professor, u.created_at
		FROM users u
		JOIN enrollments e ON e.student_id = u.id
		WHERE e.course_id = $1
		ORDER BY e.created_at
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.IsProfessor, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

var _ Repository = (*PostgresRepository)(nil)
