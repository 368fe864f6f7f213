package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SeatReservationsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ecocommute", Name: "seat_reservations_total", Help: "Successful seat reservations"})
	SeatReleasesTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ecocommute", Name: "seat_releases_total", Help: "Successful seat releases"})
	SeatConflictsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ecocommute", Name: "seat_conflicts_total", Help: "Reservations rejected for lack of seats or duplicate join"})

	RideTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ecocommute", Name: "ride_transitions_total", Help: "Ride lifecycle transitions by target status"},
		[]string{"to"},
	)

	LocationUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ecocommute", Name: "location_updates_total", Help: "Live location updates accepted"})
	LocationPurgesTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ecocommute", Name: "location_purges_total", Help: "Live location rows purged when a ride left the started state"})

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ecocommute", Name: "notifications_total", Help: "Outbound notifications by outcome"},
		[]string{"outcome"},
	)

	IdentityChallengesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ecocommute", Name: "identity_challenges_total", Help: "Identity verification calls by phase and outcome"},
		[]string{"phase", "outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ecocommute", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ecocommute",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
