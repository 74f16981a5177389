package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/course"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

// Worker consumes queue messages and refreshes the cached roster for any
// course whose attendance session just closed.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:work")
	}

	courses := course.NewPostgresRepository(db.Client)
	// The worker only reads, so no change bus is attached.
	repo := attendance.NewPostgresRepository(db.Client, nil)
	stats := attendance.NewStats(repo, courses)
	cache := store.NewRosterCache(redisClient.Client, cfg.RosterCacheTTL)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != "session_closed" {
			continue
		}

		courseID := string(msg.Body)
		log.Printf("refreshing roster for course %s", courseID)

		roster, err := stats.CourseRoster(ctx, courseID)
		if err != nil {
			log.Printf("roster compute failed for %s: %v", courseID, err)
			continue
		}
		if err := cache.Set(ctx, courseID, roster); err != nil {
			log.Printf("roster cache set failed for %s: %v", courseID, err)
			continue
		}
		log.Printf("roster cached for course %s (%d students)", courseID, len(roster))
	}

	log.Println("worker stopped")
}
