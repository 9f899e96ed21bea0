// Package admin exposes the balancer's /admin/status, /admin/backends,
// and /admin/metrics surface, adapted from the teacher's internal/admin
// package (Srskip-shadowgate) — the same http.Server-plus-mux shape and
// runtime.MemStats status payload, generalized from a per-profile pool
// map to the single registry.Registry this balancer keeps. There is no
// /admin/reload equivalent: backends are fixed at process startup, so
// there is nothing a reload would re-read.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/srskip/inferlb/internal/metrics"
	"github.com/srskip/inferlb/internal/registry"
)

// API serves the administrative HTTP surface.
type API struct {
	registry  *registry.Registry
	metrics   *metrics.Metrics
	server    *http.Server
	startTime time.Time
	version   string
}

// Config configures the Admin API.
type Config struct {
	Addr     string
	Registry *registry.Registry
	Metrics  *metrics.Metrics
	Version  string
}

// New builds an Admin API bound to cfg.Addr.
func New(cfg Config) *API {
	api := &API{
		registry:  cfg.Registry,
		metrics:   cfg.Metrics,
		startTime: time.Now(),
		version:   cfg.Version,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/admin/health", api.handleHealth)
	mux.HandleFunc("/admin/status", api.handleStatus)
	mux.HandleFunc("/admin/metrics", api.handleMetrics)
	mux.HandleFunc("/admin/backends", api.handleBackends)

	api.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return api
}

// Start runs the Admin API's listener in the background.
func (a *API) Start() error {
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			_ = err
		}
	}()
	return nil
}

// Stop gracefully shuts the Admin API down.
func (a *API) Stop(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// StatusResponse is the /admin/status payload.
type StatusResponse struct {
	Status     string      `json:"status"`
	Version    string      `json:"version"`
	Uptime     string      `json:"uptime"`
	GoVersion  string      `json:"go_version"`
	NumCPU     int         `json:"num_cpu"`
	Goroutines int         `json:"goroutines"`
	Backends   int         `json:"backends"`
	Memory     MemoryStats `json:"memory"`
}

// MemoryStats reports a subset of runtime.MemStats.
type MemoryStats struct {
	Alloc      uint64 `json:"alloc_bytes"`
	TotalAlloc uint64 `json:"total_alloc_bytes"`
	Sys        uint64 `json:"sys_bytes"`
	NumGC      uint32 `json:"num_gc"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := StatusResponse{
		Status:     "running",
		Version:    a.version,
		Uptime:     time.Since(a.startTime).Round(time.Second).String(),
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		Backends:   a.registry.Len(),
		Memory: MemoryStats{
			Alloc:      mem.Alloc,
			TotalAlloc: mem.TotalAlloc,
			Sys:        mem.Sys,
			NumGC:      mem.NumGC,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.metrics == nil {
		http.Error(w, "Metrics not available", http.StatusServiceUnavailable)
		return
	}
	a.metrics.Handler().ServeHTTP(w, r)
}

// BackendsResponse is the /admin/backends payload.
type BackendsResponse struct {
	Total    int              `json:"total"`
	Backends []BackendSummary `json:"backends"`
}

// BackendSummary reports one backend's current reliability/health state.
type BackendSummary struct {
	Addr        string  `json:"addr"`
	Name        string  `json:"name"`
	Busy        bool    `json:"busy"`
	Reliability string  `json:"reliability"`
	Dead        bool    `json:"dead"`
	Health      float64 `json:"health,omitempty"`
	Models      int     `json:"models"`
	Actives     int     `json:"actives"`
}

func (a *API) handleBackends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snaps := a.registry.Snapshot(false)
	resp := BackendsResponse{
		Total:    len(snaps),
		Backends: make([]BackendSummary, 0, len(snaps)),
	}
	for _, s := range snaps {
		summary := BackendSummary{
			Addr:        s.Addr,
			Name:        s.Name,
			Busy:        s.Busy,
			Reliability: s.Reliability.String(),
			Dead:        s.Health.Dead,
			Models:      len(s.Models),
			Actives:     len(s.Actives),
		}
		if !s.Health.Dead {
			summary.Health = s.Health.Score
		}
		resp.Backends = append(resp.Backends, summary)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
