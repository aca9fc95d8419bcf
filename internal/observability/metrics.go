package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreated  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_hail", Name: "bookings_created_total", Help: "Total bookings created"})
	BookingsAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_hail", Name: "bookings_accepted_total", Help: "Total bookings accepted by a driver"})
	BookingsCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_hail", Name: "bookings_completed_total", Help: "Total bookings completed"})

	BookingsCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_hail", Name: "bookings_cancelled_total", Help: "Total bookings cancelled, by reason"},
		[]string{"reason"},
	)

	OffersExtended = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_hail", Name: "offers_extended_total", Help: "Total job offers extended to candidate drivers"})
	OfferDeclines  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_hail", Name: "offer_declines_total", Help: "Total offers declined by drivers"})
	OfferTimeouts  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_hail", Name: "offer_timeouts_total", Help: "Total offers that expired before a driver responded"})

	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "driver_hail", Name: "drivers_online", Help: "Number of drivers reporting locations"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_hail", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "driver_hail",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
