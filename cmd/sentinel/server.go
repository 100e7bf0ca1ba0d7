package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	sentinelerrors "github.com/mirkobrombin/go-sentinel/v1/errors"
	"github.com/mirkobrombin/go-sentinel/v1/farm"
	"github.com/mirkobrombin/go-sentinel/v1/project"
	"github.com/mirkobrombin/go-sentinel/v1/watchbus"
	"github.com/mirkobrombin/go-sentinel/v1/watchdog"
)

const (
	maxDemoHold  = 10 * time.Minute
	maxDemoHolds = 64
)

// server is the HTTP surface of the daemon.
type server struct {
	log    *slog.Logger
	wd     *watchdog.Watchdog
	events watchbus.WatchBus
	gather prometheus.Gatherer

	// Set only when the demo endpoint is enabled.
	farm *farm.Farm
	sync *farm.Sync

	// holds bounds concurrent demo holds; shutdown takes every slot to
	// wait for them.
	holds *semaphore.Weighted
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /events", watchbus.SSEHandler(s.events))
	mux.Handle("GET /events/ws", watchbus.WebSocketHandler(s.events))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	if s.sync != nil {
		mux.HandleFunc("POST /demo/hold", s.handleHold)
	}
	return mux
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.wd.Snapshot()

	var (
		body []byte
		err  error
	)
	if r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		body, err = snap.JSON()
	} else {
		w.Header().Set("Content-Type", "application/xml")
		body, err = snap.XML()
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(body)
}

type holdResponse struct {
	Project string `json:"pid"`
	File    string `json:"file"`
	Holder  string `json:"holder"`
	Hold    string `json:"hold"`
}

// handleHold acquires a project item and keeps it for the requested
// duration, or until the watchdog interrupts it.
func (s *server) handleHold(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := project.Parse(q.Get("pid"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file := q.Get("file")
	if file == "" {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	hold, err := time.ParseDuration(q.Get("hold"))
	if err != nil || hold <= 0 || hold > maxDemoHold {
		http.Error(w, "hold must be a positive duration up to "+maxDemoHold.String(), http.StatusBadRequest)
		return
	}

	if !s.holds.TryAcquire(1) {
		http.Error(w, "too many demo holds", http.StatusServiceUnavailable)
		return
	}
	started := false
	defer func() {
		if !started {
			s.holds.Release(1)
		}
	}()

	p, err := s.farm.Project(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// The item outlives the request.
	it, err := s.sync.Acquire(context.WithoutCancel(r.Context()), p, file)
	switch {
	case errors.Is(err, sentinelerrors.ErrTimeout):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	started = true
	go func() {
		defer s.holds.Release(1)
		s.work(it, hold)
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(holdResponse{
		Project: id.String(),
		File:    file,
		Holder:  it.Holder(),
		Hold:    hold.String(),
	})
}

// work stands in for real project work: it holds the item, then records
// when it finished unless it was interrupted first.
func (s *server) work(it *farm.Item, hold time.Duration) {
	defer func() {
		if err := it.Close(); err != nil {
			s.log.Warn("Failed to close demo item", "holder", it.Holder(), "err", err)
		}
	}()

	timer := time.NewTimer(hold)
	defer timer.Stop()
	select {
	case <-timer.C:
		if err := it.Write([]byte(time.Now().UTC().Format(time.RFC3339Nano) + "\n")); err != nil {
			s.log.Warn("Demo work failed", "holder", it.Holder(), "err", err)
			return
		}
		s.log.Info("Demo work finished", "holder", it.Holder(), "hold", hold)
	case <-it.Context().Done():
		s.log.Info("Demo work interrupted", "holder", it.Holder(), "cause", context.Cause(it.Context()))
	}
}

// waitHolds blocks until in-flight demo holds end or ctx is done.
func (s *server) waitHolds(ctx context.Context) error {
	if err := s.holds.Acquire(ctx, maxDemoHolds); err != nil {
		return context.Cause(ctx)
	}
	return nil
}
