package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/queue"
)

// PostgresRepository persists attendance data in Postgres. Every successful
// session or check-in write is announced on the change bus.
type PostgresRepository struct {
	db  *sql.DB
	bus queue.Bus
}

// NewPostgresRepository creates a repo publishing changes to bus.
func NewPostgresRepository(db *sql.DB, bus queue.Bus) *PostgresRepository {
	return &PostgresRepository{db: db, bus: bus}
}

// InsertSession creates an active session row. The partial unique index on
// (course_id) WHERE is_active makes concurrent starts race-safe: exactly one
// insert wins, the rest see ErrSessionAlreadyActive.
func (r *PostgresRepository) InsertSession(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartTime.IsZero() {
		s.StartTime = time.Now().UTC()
	}
	s.IsActive = true
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_sessions (id, course_id, is_active, start_time)
		VALUES ($1, $2, TRUE, $3)
		ON CONFLICT (course_id) WHERE is_active DO NOTHING
		RETURNING id
	`, s.ID, s.CourseID, s.StartTime)
	if err := row.Scan(&s.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionAlreadyActive
		}
		return Session{}, storeErr(err)
	}
	r.announce(ctx, queue.EventCreate, queue.TableSessions, s.ID, s.CourseID, "")
	return s, nil
}

// CloseSession deactivates the session and stamps its end time.
func (r *PostgresRepository) CloseSession(ctx context.Context, sessionID string, end time.Time) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_sessions
		SET is_active = FALSE, end_time = $2
		WHERE id = $1
		RETURNING id, course_id, is_active, start_time, end_time
	`, sessionID, end)
	var s Session
	if err := row.Scan(&s.ID, &s.CourseID, &s.IsActive, &s.StartTime, &s.EndTime); err != nil {
		return Session{}, storeErr(err)
	}
	r.announce(ctx, queue.EventUpdate, queue.TableSessions, s.ID, s.CourseID, "")
	return s, nil
}

// GetSession returns a session by id, nil when missing.
func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, course_id, is_active, start_time, end_time
		FROM attendance_sessions WHERE id = $1
	`, sessionID)
	var s Session
	if err := row.Scan(&s.ID, &s.CourseID, &s.IsActive, &s.StartTime, &s.EndTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr(err)
	}
	return &s, nil
}

// ActiveSession returns the unique active session for the course, or nil.
func (r *PostgresRepository) ActiveSession(ctx context.Context, courseID string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, course_id, is_active, start_time, end_time
		FROM attendance_sessions
		WHERE course_id = $1 AND is_active
		ORDER BY start_time DESC
		LIMIT 1
	`, courseID)
	var s Session
	if err := row.Scan(&s.ID, &s.CourseID, &s.IsActive, &s.StartTime, &s.EndTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr(err)
	}
	return &s, nil
}

// ListSessions returns all sessions ever created for the course.
func (r *PostgresRepository) ListSessions(ctx context.Context, courseID string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, course_id, is_active, start_time, end_time
		FROM attendance_sessions
		WHERE course_id = $1
		ORDER BY start_time
	`, courseID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.CourseID, &s.IsActive, &s.StartTime, &s.EndTime); err != nil {
			return nil, storeErr(err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CountSessions counts every session ever started for the course.
func (r *PostgresRepository) CountSessions(ctx context.Context, courseID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_sessions WHERE course_id = $1
	`, courseID).Scan(&n)
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}

// InsertCheckIn writes the check-in. The unique constraint on
// (session_id, student_id) is the real duplicate guard; inserted=false means
// the row already existed.
func (r *PostgresRepository) InsertCheckIn(ctx context.Context, ci CheckIn) (CheckIn, bool, error) {
	if ci.ID == "" {
		ci.ID = uuid.NewString()
	}
	if ci.Timestamp.IsZero() {
		ci.Timestamp = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO check_ins (id, session_id, student_id, checked_in_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, student_id) DO NOTHING
		RETURNING id
	`, ci.ID, ci.SessionID, ci.StudentID, ci.Timestamp)
	if err := row.Scan(&ci.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CheckIn{}, false, nil
		}
		return CheckIn{}, false, storeErr(err)
	}
	r.announce(ctx, queue.EventCreate, queue.TableCheckIns, ci.ID, "", ci.SessionID)
	return ci, true, nil
}

// GetCheckIn returns the check-in for (session, student), nil when missing.
func (r *PostgresRepository) GetCheckIn(ctx context.Context, sessionID, studentID string) (*CheckIn, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, student_id, checked_in_at
		FROM check_ins
		WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	var ci CheckIn
	if err := row.Scan(&ci.ID, &ci.SessionID, &ci.StudentID, &ci.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr(err)
	}
	return &ci, nil
}

// ListCheckIns returns the full check-in list for a session in arrival order.
func (r *PostgresRepository) ListCheckIns(ctx context.Context, sessionID string) ([]CheckIn, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, student_id, checked_in_at
		FROM check_ins
		WHERE session_id = $1
		ORDER BY checked_in_at
	`, sessionID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	var res []CheckIn
	for rows.Next() {
		var ci CheckIn
		if err := rows.Scan(&ci.ID, &ci.SessionID, &ci.StudentID, &ci.Timestamp); err != nil {
			return nil, storeErr(err)
		}
		res = append(res, ci)
	}
	return res, rows.Err()
}

// CheckInCounts returns per-student check-in counts across the course.
func (r *PostgresRepository) CheckInCounts(ctx context.Context, courseID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ci.student_id, COUNT(*)
		FROM check_ins ci
		JOIN attendance_sessions s ON s.id = ci.session_id
		WHERE s.course_id = $1
		GROUP BY ci.student_id
	`, courseID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var studentID string
		var n int
		if err := rows.Scan(&studentID, &n); err != nil {
			return nil, storeErr(err)
		}
		counts[studentID] = n
	}
	return counts, rows.Err()
}

// CountStudentCheckIns counts one student's check-ins across the course.
func (r *PostgresRepository) CountStudentCheckIns(ctx context.Context, courseID, studentID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM check_ins ci
		JOIN attendance_sessions s ON s.id = ci.session_id
		WHERE s.course_id = $1 AND ci.student_id = $2
	`, courseID, studentID).Scan(&n)
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}

func (r *PostgresRepository) announce(ctx context.Context, typ, table, rowID, courseID, sessionID string) {
	if r.bus == nil {
		return
	}
	evt := queue.Event{Type: typ, Table: table, RowID: rowID, CourseID: courseID, SessionID: sessionID}
	if err := r.bus.Publish(ctx, evt); err != nil {
		log.Printf("change publish failed for %s %s: %v", table, rowID, err)
	}
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

var _ Repository = (*PostgresRepository)(nil)
