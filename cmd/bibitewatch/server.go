package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bibitewatch/internal/export"
	"bibitewatch/internal/poller"
	"bibitewatch/internal/registry"
	"bibitewatch/pkg/domain"
)

// newMux wires the HTTP surface: prometheus metrics, simulation and
// lineage queries, and the export job API.
func newMux(reg *registry.Registry, p *poller.Poller, exporter *export.Worker, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /simulations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, reg.Simulations())
	})

	mux.HandleFunc("GET /simulations/{name}/lineage", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		edges := p.Lineage(name)
		if edges == nil {
			edges = []domain.LineageEdge{}
		}
		writeJSON(w, http.StatusOK, struct {
			Simulation string               `json:"simulation"`
			Edges      []domain.LineageEdge `json:"edges"`
		}{name, edges})
	})

	mux.HandleFunc("POST /exports", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Simulation string   `json:"simulation"`
			Formats    []string `json:"formats"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		handle, ok := lookupHandle(reg, req.Simulation)
		if !ok {
			http.Error(w, "unknown simulation", http.StatusNotFound)
			return
		}
		formats := make([]export.Format, 0, len(req.Formats))
		for _, f := range req.Formats {
			formats = append(formats, export.Format(strings.ToLower(f)))
		}
		job, err := exporter.Enqueue(r.Context(), export.Request{Handle: handle, Formats: formats})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	})

	mux.HandleFunc("GET /exports/{id}", func(w http.ResponseWriter, r *http.Request) {
		job, ok := exporter.Job(r.PathValue("id"))
		if !ok {
			http.Error(w, "unknown export job", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, job)
	})

	return mux
}

func lookupHandle(reg *registry.Registry, name string) (domain.SimulationHandle, bool) {
	for _, sim := range reg.Simulations() {
		if sim.Name == name {
			return domain.SimulationHandle{Name: sim.Name, Dir: sim.Dir}, true
		}
	}
	return domain.SimulationHandle{}, false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
