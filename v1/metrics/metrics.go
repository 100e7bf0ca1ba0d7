package metrics

import "github.com/prometheus/client_golang/prometheus"

// Watchdog holds the collectors of one watchdog instance.
type Watchdog struct {
	// Submitted counts watches that were started.
	Submitted prometheus.Counter
	// Duplicates counts submissions ignored because the project was already watched.
	Duplicates prometheus.Counter
	// Interrupted counts holders interrupted for holding a lock too long.
	Interrupted prometheus.Counter
	// Panics counts watcher goroutines that panicked.
	Panics prometheus.Counter
	// Active reports the number of registered watches.
	Active prometheus.Gauge
	// Wait observes how long watchers waited for the lock, by outcome.
	Wait *prometheus.HistogramVec
}

// NewWatchdog creates the watchdog collectors. They are not registered.
func NewWatchdog() *Watchdog {
	return &Watchdog{
		Submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_watches_submitted_total",
			Help: "Total number of watches started",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_watches_duplicate_total",
			Help: "Total number of submissions ignored for an already watched project",
		}),
		Interrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_watches_interrupted_total",
			Help: "Total number of holders interrupted for holding a lock past the threshold",
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_watches_panics_total",
			Help: "Total number of watcher panics recovered",
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_watches_active",
			Help: "Current number of active watches",
		}),
		Wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_watch_wait_seconds",
			Help:    "Time a watcher waited for the project lock",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
}

// Register registers every collector on reg. It panics on duplicate
// registration, like prometheus.MustRegister.
func (w *Watchdog) Register(reg prometheus.Registerer) {
	reg.MustRegister(w.Submitted, w.Duplicates, w.Interrupted, w.Panics, w.Active, w.Wait)
}

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}
