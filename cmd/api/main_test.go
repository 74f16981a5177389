package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rollcall/internal/config"
)

func TestRedisRequired(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.App
		want bool
	}{
		{"all memory", config.App{StoreBackend: "memory", BusBackend: "memory", QueueBackend: "memory"}, false},
		{"redis bus", config.App{StoreBackend: "memory", BusBackend: "redis", QueueBackend: "memory"}, true},
		{"redis queue", config.App{StoreBackend: "memory", BusBackend: "memory", QueueBackend: "redis"}, true},
		{"full redis", config.App{StoreBackend: "postgres", BusBackend: "redis", QueueBackend: "redis"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, redisRequired(tc.cfg))
		})
	}
}
