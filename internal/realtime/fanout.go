// Package realtime translates the store's change events into per-course and
// per-session observable feeds.
package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rollcall/internal/attendance"
	"rollcall/internal/queue"
)

var subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "rollcall_realtime_subscribers",
	Help: "Currently attached realtime feed subscribers.",
})

// CourseUpdate is the course feed payload: the active session row or nil.
type CourseUpdate struct {
	Session  *attendance.Session `json:"session"`
	IsActive bool                `json:"is_active"`
}

// SessionSource answers "what is the active session for this course".
type SessionSource interface {
	ActiveSession(ctx context.Context, courseID string) (*attendance.Session, error)
}

// CheckInSource answers "what is the full check-in list for this session".
type CheckInSource interface {
	ListCheckIns(ctx context.Context, sessionID string) ([]attendance.CheckIn, error)
}

// Fanout is an observer registry over the change bus. Each subscription
// primes with a snapshot, then receives a fresh full-state emission whenever
// a relevant row changes. Emissions are full replacements, never deltas, so
// duplicate or re-ordered delivery cannot corrupt a consumer.
type Fanout struct {
	bus      queue.Bus
	sessions SessionSource
	checkIns CheckInSource

	mu          sync.Mutex
	nextID      int
	courseSubs  map[string]map[int]func(CourseUpdate)
	sessionSubs map[string]map[int]func([]attendance.CheckIn)
}

// NewFanout creates a fanout over the given bus and snapshot sources.
func NewFanout(bus queue.Bus, sessions SessionSource, checkIns CheckInSource) *Fanout {
	return &Fanout{
		bus:         bus,
		sessions:    sessions,
		checkIns:    checkIns,
		courseSubs:  make(map[string]map[int]func(CourseUpdate)),
		sessionSubs: make(map[string]map[int]func([]attendance.CheckIn)),
	}
}

// Run consumes the change bus until ctx is done. A dropped bus stream is
// handled by resubscribing and resyncing every attached subscriber with a
// fresh snapshot; queued delivery is never assumed to resume.
func (f *Fanout) Run(ctx context.Context) {
	for {
		events, cancel, err := f.bus.Subscribe(ctx)
		if err != nil {
			log.Printf("change bus subscribe failed: %v", err)
			select {
			case <-time.After(2 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		f.resync(ctx)
	stream:
		for {
			select {
			case evt, ok := <-events:
				if !ok {
					break stream
				}
				f.dispatch(ctx, evt)
			case <-ctx.Done():
				cancel()
				return
			}
		}
		cancel()

		if ctx.Err() != nil {
			return
		}
		log.Printf("change bus stream ended, reconnecting")
	}
}

// SubscribeCourse attaches fn to the course session feed. fn is called
// immediately with the current state, then on every session change for the
// course. The returned cancel detaches fn for all future emissions.
func (f *Fanout) SubscribeCourse(ctx context.Context, courseID string, fn func(CourseUpdate)) (func(), error) {
	update, err := f.courseSnapshot(ctx, courseID)
	if err != nil {
		return nil, err
	}
	fn(update)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	if f.courseSubs[courseID] == nil {
		f.courseSubs[courseID] = make(map[int]func(CourseUpdate))
	}
	f.courseSubs[courseID][id] = fn
	f.mu.Unlock()
	subscribersGauge.Inc()

	return func() { f.detachCourse(courseID, id) }, nil
}

// SubscribeSession attaches fn to the session check-in feed. fn is called
// immediately with the current full list, then with the full list again on
// every check-in change for the session.
func (f *Fanout) SubscribeSession(ctx context.Context, sessionID string, fn func([]attendance.CheckIn)) (func(), error) {
	list, err := f.checkIns.ListCheckIns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	fn(list)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	if f.sessionSubs[sessionID] == nil {
		f.sessionSubs[sessionID] = make(map[int]func([]attendance.CheckIn))
	}
	f.sessionSubs[sessionID][id] = fn
	f.mu.Unlock()
	subscribersGauge.Inc()

	return func() { f.detachSession(sessionID, id) }, nil
}

func (f *Fanout) detachCourse(courseID string, id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if subs, ok := f.courseSubs[courseID]; ok {
		if _, attached := subs[id]; attached {
			delete(subs, id)
			subscribersGauge.Dec()
		}
		if len(subs) == 0 {
			delete(f.courseSubs, courseID)
		}
	}
}

func (f *Fanout) detachSession(sessionID string, id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if subs, ok := f.sessionSubs[sessionID]; ok {
		if _, attached := subs[id]; attached {
			delete(subs, id)
			subscribersGauge.Dec()
		}
		if len(subs) == 0 {
			delete(f.sessionSubs, sessionID)
		}
	}
}

// dispatch routes one change event. Events for keys nobody watches are
// dropped without a store round-trip.
func (f *Fanout) dispatch(ctx context.Context, evt queue.Event) {
	switch evt.Table {
	case queue.TableSessions:
		fns := f.courseFns(evt.CourseID)
		if len(fns) == 0 {
			return
		}
		update, err := f.courseSnapshot(ctx, evt.CourseID)
		if err != nil {
			log.Printf("course feed refresh failed for %s: %v", evt.CourseID, err)
			return
		}
		for _, fn := range fns {
			fn(update)
		}
	case queue.TableCheckIns:
		fns := f.sessionFns(evt.SessionID)
		if len(fns) == 0 {
			return
		}
		list, err := f.checkIns.ListCheckIns(ctx, evt.SessionID)
		if err != nil {
			log.Printf("check-in feed refresh failed for %s: %v", evt.SessionID, err)
			return
		}
		for _, fn := range fns {
			fn(list)
		}
	}
}

// resync re-emits a fresh snapshot to every attached subscriber.
func (f *Fanout) resync(ctx context.Context) {
	f.mu.Lock()
	courseIDs := make([]string, 0, len(f.courseSubs))
	for id := range f.courseSubs {
		courseIDs = append(courseIDs, id)
	}
	sessionIDs := make([]string, 0, len(f.sessionSubs))
	for id := range f.sessionSubs {
		sessionIDs = append(sessionIDs, id)
	}
	f.mu.Unlock()

	for _, courseID := range courseIDs {
		f.dispatch(ctx, queue.Event{Type: queue.EventUpdate, Table: queue.TableSessions, CourseID: courseID})
	}
	for _, sessionID := range sessionIDs {
		f.dispatch(ctx, queue.Event{Type: queue.EventUpdate, Table: queue.TableCheckIns, SessionID: sessionID})
	}
}

func (f *Fanout) courseSnapshot(ctx context.Context, courseID string) (CourseUpdate, error) {
	s, err := f.sessions.ActiveSession(ctx, courseID)
	if err != nil {
		return CourseUpdate{}, err
	}
	return CourseUpdate{Session: s, IsActive: s != nil && s.IsActive}, nil
}

// courseFns copies the callback set so emission happens outside the lock; a
// cancel racing an in-flight emission may still see one last delivery.
func (f *Fanout) courseFns(courseID string) []func(CourseUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := f.courseSubs[courseID]
	fns := make([]func(CourseUpdate), 0, len(subs))
	for _, fn := range subs {
		fns = append(fns, fn)
	}
	return fns
}

func (f *Fanout) sessionFns(sessionID string) []func([]attendance.CheckIn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := f.sessionSubs[sessionID]
	fns := make([]func([]attendance.CheckIn), 0, len(subs))
	for _, fn := range subs {
		fns = append(fns, fn)
	}
	return fns
}
