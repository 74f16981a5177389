package queue

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Change event types.
const (
	EventCreate = "create"
	EventUpdate = "update"
)

// Tables that emit change events.
const (
	TableSessions = "attendance_sessions"
	TableCheckIns = "check_ins"
)

// Event describes a single row mutation in the store. CourseID is set for
// session rows, SessionID for check-in rows.
type Event struct {
	Type      string `json:"type"`
	Table     string `json:"table"`
	RowID     string `json:"row_id"`
	CourseID  string `json:"course_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Bus fans row-change events out to every subscriber. Unlike Queue, every
// subscriber sees every event.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	// Subscribe returns a stream of events and a detach func. The stream is
	// closed when the detach func is called or the underlying transport drops;
	// consumers are expected to resubscribe and resync after a close.
	Subscribe(ctx context.Context) (<-chan Event, func(), error)
}

// MemoryBus is an in-process Bus for dev and tests.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]chan Event)}
}

// Publish delivers evt to all current subscribers. Slow subscribers drop
// events rather than block the writer.
func (b *MemoryBus) Publish(_ context.Context, evt Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe registers a buffered event channel.
func (b *MemoryBus) Subscribe(_ context.Context) (<-chan Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

// RedisBus broadcasts events over a Redis pub/sub channel so every API
// instance observes writes made by any other instance.
type RedisBus struct {
	client  *redis.Client
	channel string
}

// NewRedisBus builds a bus on the given pub/sub channel.
func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = "rollcall:changes"
	}
	return &RedisBus{client: client, channel: channel}
}

// Publish sends the event as JSON.
func (b *RedisBus) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe opens a pub/sub subscription and decodes events onto a channel.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}
