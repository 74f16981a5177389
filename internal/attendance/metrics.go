package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sessions_started_total",
		Help: "Attendance sessions opened.",
	})
	sessionsStopped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sessions_stopped_total",
		Help: "Attendance sessions closed.",
	})
	checkInsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_checkins_accepted_total",
		Help: "Check-ins written.",
	})
	checkInsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_checkins_rejected_total",
		Help: "Check-ins rejected, by reason.",
	}, []string{"reason"})
)
