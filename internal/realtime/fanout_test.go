package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rollcall/internal/attendance"
	"rollcall/internal/queue"
)

type fanoutFixture struct {
	repo    *attendance.MemoryRepository
	manager *attendance.Manager
	fanout  *Fanout
	cancel  context.CancelFunc
}

func newFanoutFixture(t *testing.T) *fanoutFixture {
	t.Helper()
	bus := queue.NewMemoryBus()
	repo := attendance.NewMemoryRepository(bus)
	manager := attendance.NewManager(repo)
	fanout := NewFanout(bus, manager, repo)

	ctx, cancel := context.WithCancel(context.Background())
	go fanout.Run(ctx)
	// give the dispatch loop a beat to attach to the bus
	time.Sleep(50 * time.Millisecond)

	t.Cleanup(cancel)
	return &fanoutFixture{repo: repo, manager: manager, fanout: fanout, cancel: cancel}
}

func recvUpdate(t *testing.T, ch <-chan CourseUpdate) CourseUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for course update")
		return CourseUpdate{}
	}
}

func recvCheckIns(t *testing.T, ch <-chan []attendance.CheckIn) []attendance.CheckIn {
	t.Helper()
	select {
	case list := <-ch:
		return list
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for check-in list")
		return nil
	}
}

func assertSilent(t *testing.T, ch <-chan CourseUpdate) {
	t.Helper()
	select {
	case u := <-ch:
		t.Fatalf("unexpected emission: %+v", u)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubscribePrimesWithSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFanoutFixture(t)

	started, err := f.manager.StartSession(ctx, "course-1")
	require.NoError(t, err)

	updates := make(chan CourseUpdate, 16)
	cancel, err := f.fanout.SubscribeCourse(ctx, "course-1", func(u CourseUpdate) { updates <- u })
	require.NoError(t, err)
	defer cancel()

	// initial value arrives without any bus event
	u := recvUpdate(t, updates)
	require.True(t, u.IsActive)
	require.NotNil(t, u.Session)
	require.Equal(t, started.ID, u.Session.ID)
}

func TestCourseFeedFollowsLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFanoutFixture(t)

	updates := make(chan CourseUpdate, 16)
	cancel, err := f.fanout.SubscribeCourse(ctx, "course-1", func(u CourseUpdate) { updates <- u })
	require.NoError(t, err)
	defer cancel()

	// snapshot: nothing active yet
	u := recvUpdate(t, updates)
	require.False(t, u.IsActive)
	require.Nil(t, u.Session)

	_, err = f.manager.StartSession(ctx, "course-1")
	require.NoError(t, err)
	u = recvUpdate(t, updates)
	require.True(t, u.IsActive)
	require.NotNil(t, u.Session)

	_, err = f.manager.StopSession(ctx, "course-1")
	require.NoError(t, err)
	u = recvUpdate(t, updates)
	require.False(t, u.IsActive)
	require.Nil(t, u.Session)
}

func TestSessionFeedEmitsFullList(t *testing.T) {
	ctx := context.Background()
	f := newFanoutFixture(t)

	session, err := f.manager.StartSession(ctx, "course-1")
	require.NoError(t, err)

	lists := make(chan []attendance.CheckIn, 16)
	cancel, err := f.fanout.SubscribeSession(ctx, session.ID, func(l []attendance.CheckIn) { lists <- l })
	require.NoError(t, err)
	defer cancel()

	require.Empty(t, recvCheckIns(t, lists))

	_, _, err = f.repo.InsertCheckIn(ctx, attendance.CheckIn{SessionID: session.ID, StudentID: "student-1"})
	require.NoError(t, err)
	require.Len(t, recvCheckIns(t, lists), 1)

	_, _, err = f.repo.InsertCheckIn(ctx, attendance.CheckIn{SessionID: session.ID, StudentID: "student-2"})
	require.NoError(t, err)

	// every emission is the complete roster, never a delta
	list := recvCheckIns(t, lists)
	require.Len(t, list, 2)
	ids := []string{list[0].StudentID, list[1].StudentID}
	require.ElementsMatch(t, []string{"student-1", "student-2"}, ids)
}

func TestIrrelevantEventsDropped(t *testing.T) {
	ctx := context.Background()
	f := newFanoutFixture(t)

	updates := make(chan CourseUpdate, 16)
	cancel, err := f.fanout.SubscribeCourse(ctx, "course-1", func(u CourseUpdate) { updates <- u })
	require.NoError(t, err)
	defer cancel()
	recvUpdate(t, updates) // drain the snapshot

	_, err = f.manager.StartSession(ctx, "course-2")
	require.NoError(t, err)
	assertSilent(t, updates)
}

func TestCancelDetaches(t *testing.T) {
	ctx := context.Background()
	f := newFanoutFixture(t)

	updates := make(chan CourseUpdate, 16)
	cancel, err := f.fanout.SubscribeCourse(ctx, "course-1", func(u CourseUpdate) { updates <- u })
	require.NoError(t, err)
	recvUpdate(t, updates)

	cancel()
	// calling cancel twice is harmless
	cancel()

	_, err = f.manager.StartSession(ctx, "course-1")
	require.NoError(t, err)
	assertSilent(t, updates)
}

func TestConcurrentSubscribersAreIndependent(t *testing.T) {
	ctx := context.Background()
	f := newFanoutFixture(t)

	first := make(chan CourseUpdate, 16)
	second := make(chan CourseUpdate, 16)

	cancelFirst, err := f.fanout.SubscribeCourse(ctx, "course-1", func(u CourseUpdate) { first <- u })
	require.NoError(t, err)
	defer cancelFirst()
	cancelSecond, err := f.fanout.SubscribeCourse(ctx, "course-1", func(u CourseUpdate) { second <- u })
	require.NoError(t, err)
	defer cancelSecond()

	recvUpdate(t, first)
	recvUpdate(t, second)

	_, err = f.manager.StartSession(ctx, "course-1")
	require.NoError(t, err)

	require.True(t, recvUpdate(t, first).IsActive)
	require.True(t, recvUpdate(t, second).IsActive)

	// detaching one must not silence the other
	cancelFirst()
	_, err = f.manager.StopSession(ctx, "course-1")
	require.NoError(t, err)
	require.False(t, recvUpdate(t, second).IsActive)
	assertSilent(t, first)
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	bus := queue.NewMemoryBus()
	repo := attendance.NewMemoryRepository(bus)
	fanout := NewFanout(bus, attendance.NewManager(repo), repo)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fanout.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not stop after cancellation")
	}
}

// droppableBus wraps MemoryBus so a test can sever active streams the way a
// transport drop would.
type droppableBus struct {
	*queue.MemoryBus
	mu      sync.Mutex
	cancels []func()
}

func (b *droppableBus) Subscribe(ctx context.Context) (<-chan queue.Event, func(), error) {
	ch, cancel, err := b.MemoryBus.Subscribe(ctx)
	if err == nil {
		b.mu.Lock()
		b.cancels = append(b.cancels, cancel)
		b.mu.Unlock()
	}
	return ch, cancel, err
}

func (b *droppableBus) dropStreams() {
	b.mu.Lock()
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func TestStreamDropResubscribesAndResyncs(t *testing.T) {
	ctx := context.Background()
	bus := &droppableBus{MemoryBus: queue.NewMemoryBus()}
	repo := attendance.NewMemoryRepository(bus)
	manager := attendance.NewManager(repo)
	fanout := NewFanout(bus, manager, repo)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go fanout.Run(runCtx)
	time.Sleep(50 * time.Millisecond)

	session, err := manager.StartSession(ctx, "course-1")
	require.NoError(t, err)

	updates := make(chan CourseUpdate, 16)
	cancelCourse, err := fanout.SubscribeCourse(ctx, "course-1", func(u CourseUpdate) { updates <- u })
	require.NoError(t, err)
	defer cancelCourse()
	require.True(t, recvUpdate(t, updates).IsActive)

	lists := make(chan []attendance.CheckIn, 16)
	cancelSession, err := fanout.SubscribeSession(ctx, session.ID, func(l []attendance.CheckIn) { lists <- l })
	require.NoError(t, err)
	defer cancelSession()
	require.Empty(t, recvCheckIns(t, lists))

	_, _, err = repo.InsertCheckIn(ctx, attendance.CheckIn{SessionID: session.ID, StudentID: "student-1"})
	require.NoError(t, err)
	require.Len(t, recvCheckIns(t, lists), 1)

	// sever the stream: the run loop must resubscribe and push a fresh
	// snapshot to every attached subscriber without any new write
	bus.dropStreams()

	u := recvUpdate(t, updates)
	require.True(t, u.IsActive)
	require.NotNil(t, u.Session)
	require.Equal(t, session.ID, u.Session.ID)
	require.Len(t, recvCheckIns(t, lists), 1)

	// the reconnected stream keeps delivering live changes
	_, err = manager.StopSession(ctx, "course-1")
	require.NoError(t, err)
	require.False(t, recvUpdate(t, updates).IsActive)
}
