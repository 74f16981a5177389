package attendance

import (
	"context"
	"errors"
	"time"
)

// Manager owns the attendance-session lifecycle for courses: start, stop,
// query-active. All times are UTC.
type Manager struct {
	repo Repository
	now  func() time.Time
}

// NewManager creates a manager over the given store.
func NewManager(repo Repository) *Manager {
	return &Manager{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// StartSession opens a new session for the course. ErrSessionAlreadyActive
// when one is already open. The read-first check gives a friendly error on
// the common path; the store's uniqueness constraint is what actually
// guarantees a single winner when two starts race.
func (m *Manager) StartSession(ctx context.Context, courseID string) (Session, error) {
	active, err := m.ActiveSession(ctx, courseID)
	if err != nil {
		return Session{}, err
	}
	if active != nil {
		return Session{}, ErrSessionAlreadyActive
	}

	s, err := m.repo.InsertSession(ctx, Session{CourseID: courseID, StartTime: m.now()})
	if err != nil {
		return Session{}, err
	}
	sessionsStarted.Inc()
	return s, nil
}

// StopSession closes the active session for the course. When nothing is
// active it returns (nil, nil): a documented no-op, never an error, so a
// double stop stays idempotent.
func (m *Manager) StopSession(ctx context.Context, courseID string) (*Session, error) {
	active, err := m.ActiveSession(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, nil
	}

	closed, err := m.repo.CloseSession(ctx, active.ID, m.now())
	if err != nil {
		return nil, err
	}
	sessionsStopped.Inc()
	return &closed, nil
}

// ActiveSession returns the unique active session, or nil. Backends that
// cannot filter on the active flag degrade to a scan over the course's
// session list; if a race ever produced more than one active row, the most
// recently started wins.
func (m *Manager) ActiveSession(ctx context.Context, courseID string) (*Session, error) {
	s, err := m.repo.ActiveSession(ctx, courseID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, errNoActiveFlagFilter) {
		return nil, err
	}

	sessions, err := m.repo.ListSessions(ctx, courseID)
	if err != nil {
		return nil, err
	}
	var latest *Session
	for i := range sessions {
		s := &sessions[i]
		if !s.IsActive {
			continue
		}
		if latest == nil || s.StartTime.After(latest.StartTime) {
			latest = s
		}
	}
	return latest, nil
}
