package store

import (
	"database/sql"
	"log"
)

// Migrate applies the schema idempotently at startup.
//
// Two indexes carry the core invariants so they hold even when concurrent
// clients race past the application-level checks: the partial unique index
// keeps at most one active session per course, and the (session, student)
// unique constraint keeps at most one check-in per student per session.
func Migrate(db *sql.DB) error {
	log.Println("applying schema...")
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			is_professor BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS courses (
			id UUID PRIMARY KEY,
			professor_id UUID NOT NULL REFERENCES users(id),
			name TEXT NOT NULL,
			code TEXT NOT NULL,
			schedule TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS enrollments (
			id UUID PRIMARY KEY,
			student_id UUID NOT NULL REFERENCES users(id),
			course_id UUID NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (student_id, course_id)
		)`,
		`CREATE TABLE IF NOT EXISTS attendance_sessions (
			id UUID PRIMARY KEY,
			course_id UUID NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			start_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			end_time TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS attendance_sessions_one_active
			ON attendance_sessions (course_id) WHERE is_active`,
		`CREATE TABLE IF NOT EXISTS check_ins (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES attendance_sessions(id) ON DELETE CASCADE,
			student_id UUID NOT NULL REFERENCES users(id),
			checked_in_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (session_id, student_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	log.Println("schema up to date")
	return nil
}
