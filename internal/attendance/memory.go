package attendance

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/queue"
)

// MemoryRepository is an in-process Repository for dev and tests. It models
// the capabilities of a document store: no boolean filtering (ActiveSession
// reports errNoActiveFlagFilter so callers exercise the client-side scan),
// but uniqueness checks run under the repo mutex, closing the
// check-then-write races a real deployment closes with unique indexes.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]Session
	checkIns map[string]CheckIn
	bus      queue.Bus
}

// NewMemoryRepository creates an empty repository publishing changes to bus.
func NewMemoryRepository(bus queue.Bus) *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]Session),
		checkIns: make(map[string]CheckIn),
		bus:      bus,
	}
}

// InsertSession creates an active session unless one already exists for the
// course.
func (r *MemoryRepository) InsertSession(ctx context.Context, s Session) (Session, error) {
	r.mu.Lock()
	for _, existing := range r.sessions {
		if existing.CourseID == s.CourseID && existing.IsActive {
			r.mu.Unlock()
			return Session{}, ErrSessionAlreadyActive
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartTime.IsZero() {
		s.StartTime = time.Now().UTC()
	}
	s.IsActive = true
	s.EndTime = nil
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.announce(ctx, queue.EventCreate, queue.TableSessions, s.ID, s.CourseID, "")
	return s, nil
}

// CloseSession deactivates the session and stamps its end time.
func (r *MemoryRepository) CloseSession(ctx context.Context, sessionID string, end time.Time) (Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return Session{}, ErrStoreUnavailable
	}
	s.IsActive = false
	s.EndTime = &end
	r.sessions[sessionID] = s
	r.mu.Unlock()

	r.announce(ctx, queue.EventUpdate, queue.TableSessions, s.ID, s.CourseID, "")
	return s, nil
}

// GetSession returns a session by id, nil when missing.
func (r *MemoryRepository) GetSession(_ context.Context, sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		return &s, nil
	}
	return nil, nil
}

// ActiveSession always reports errNoActiveFlagFilter; this backend stands in
// for stores that cannot query on the active flag.
func (r *MemoryRepository) ActiveSession(context.Context, string) (*Session, error) {
	return nil, errNoActiveFlagFilter
}

// ListSessions returns all sessions for the course ordered by start time.
func (r *MemoryRepository) ListSessions(_ context.Context, courseID string) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []Session
	for _, s := range r.sessions {
		if s.CourseID == courseID {
			res = append(res, s)
		}
	}
	sortSessionsByStart(res)
	return res, nil
}

// CountSessions counts every session ever started for the course.
func (r *MemoryRepository) CountSessions(_ context.Context, courseID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.CourseID == courseID {
			n++
		}
	}
	return n, nil
}

// InsertCheckIn writes the check-in unless the (session, student) pair
// already has one.
func (r *MemoryRepository) InsertCheckIn(ctx context.Context, ci CheckIn) (CheckIn, bool, error) {
	r.mu.Lock()
	for _, existing := range r.checkIns {
		if existing.SessionID == ci.SessionID && existing.StudentID == ci.StudentID {
			r.mu.Unlock()
			return CheckIn{}, false, nil
		}
	}
	if ci.ID == "" {
		ci.ID = uuid.NewString()
	}
	if ci.Timestamp.IsZero() {
		ci.Timestamp = time.Now().UTC()
	}
	r.checkIns[ci.ID] = ci
	r.mu.Unlock()

	r.announce(ctx, queue.EventCreate, queue.TableCheckIns, ci.ID, "", ci.SessionID)
	return ci, true, nil
}

// GetCheckIn returns the check-in for (session, student), nil when missing.
func (r *MemoryRepository) GetCheckIn(_ context.Context, sessionID, studentID string) (*CheckIn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ci := range r.checkIns {
		if ci.SessionID == sessionID && ci.StudentID == studentID {
			ci := ci
			return &ci, nil
		}
	}
	return nil, nil
}

// ListCheckIns returns the full check-in list for a session in arrival order.
func (r *MemoryRepository) ListCheckIns(_ context.Context, sessionID string) ([]CheckIn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []CheckIn
	for _, ci := range r.checkIns {
		if ci.SessionID == sessionID {
			res = append(res, ci)
		}
	}
	sortCheckInsByTime(res)
	return res, nil
}

// CheckInCounts returns per-student check-in counts across the course.
func (r *MemoryRepository) CheckInCounts(_ context.Context, courseID string) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, ci := range r.checkIns {
		s, ok := r.sessions[ci.SessionID]
		if ok && s.CourseID == courseID {
			counts[ci.StudentID]++
		}
	}
	return counts, nil
}

// CountStudentCheckIns counts one student's check-ins across the course.
func (r *MemoryRepository) CountStudentCheckIns(_ context.Context, courseID, studentID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ci := range r.checkIns {
		if ci.StudentID != studentID {
			continue
		}
		if s, ok := r.sessions[ci.SessionID]; ok && s.CourseID == courseID {
			n++
		}
	}
	return n, nil
}

// DeleteCourseData drops all sessions and check-ins for a course; hooked into
// the course store's cascade delete.
func (r *MemoryRepository) DeleteCourseData(courseID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.CourseID != courseID {
			continue
		}
		delete(r.sessions, id)
		for ciID, ci := range r.checkIns {
			if ci.SessionID == id {
				delete(r.checkIns, ciID)
			}
		}
	}
}

func (r *MemoryRepository) announce(ctx context.Context, typ, table, rowID, courseID, sessionID string) {
	if r.bus == nil {
		return
	}
	evt := queue.Event{Type: typ, Table: table, RowID: rowID, CourseID: courseID, SessionID: sessionID}
	if err := r.bus.Publish(ctx, evt); err != nil {
		log.Printf("change publish failed for %s %s: %v", table, rowID, err)
	}
}

func sortSessionsByStart(ss []Session) {
	sort.Slice(ss, func(i, j int) bool { return ss[i].StartTime.Before(ss[j].StartTime) })
}

func sortCheckInsByTime(cis []CheckIn) {
	sort.Slice(cis, func(i, j int) bool { return cis[i].Timestamp.Before(cis[j].Timestamp) })
}

var _ Repository = (*MemoryRepository)(nil)
