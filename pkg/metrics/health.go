// Copyright 2024-2026 Aiku AI

package metrics

import (
	"encoding/json"
	"net/http"
)

// HealthStatus represents the overall health state.
type HealthStatus struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks,omitempty"`
}

// Check represents an individual health check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Probe reports the state of one dependency. A nil error means healthy.
type Probe struct {
	Name  string
	Check func() error
}

// HealthChecker runs readiness probes.
type HealthChecker struct {
	probes []Probe
}

// NewHealthChecker creates a checker over the given probes.
func NewHealthChecker(probes ...Probe) *HealthChecker {
	return &HealthChecker{probes: probes}
}

// Liveness checks if the process is alive.
func (h *HealthChecker) Liveness() HealthStatus {
	return HealthStatus{OK: true}
}

// Readiness runs every probe.
func (h *HealthChecker) Readiness() HealthStatus {
	status := HealthStatus{OK: true}
	for _, probe := range h.probes {
		if err := probe.Check(); err != nil {
			status.OK = false
			status.Checks = append(status.Checks, Check{
				Name: probe.Name, Status: "error", Error: err.Error(),
			})
		} else {
			status.Checks = append(status.Checks, Check{
				Name: probe.Name, Status: "ok",
			})
		}
	}
	return status
}

func (h *HealthChecker) serveLiveness(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.Liveness())
}

func (h *HealthChecker) serveReadiness(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.Readiness())
}

func writeStatus(w http.ResponseWriter, status HealthStatus) {
	code := http.StatusOK
	if !status.OK {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
