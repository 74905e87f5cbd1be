package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/Shavakan/lease-leader/pkg/coordinator"
	"github.com/Shavakan/lease-leader/pkg/election"
	"github.com/Shavakan/lease-leader/pkg/logging"
)

// stateReporter is implemented by coordinators that run a real election.
type stateReporter interface {
	State() election.State
}

// leaderReporter is implemented by coordinators that know the current holder.
type leaderReporter interface {
	Leader() string
}

// tokenReporter is implemented by coordinators that hand out fencing tokens.
type tokenReporter interface {
	Token() election.Token
}

type leaderStatus struct {
	Identity string `json:"identity"`
	Leader   bool   `json:"leader"`
	State    string `json:"state"`
	Holder   string `json:"holder"`
	Epoch    int64  `json:"epoch,omitempty"`
}

type statusHandler struct {
	identity     string
	coord        coordinator.Coordinator
	shuttingDown atomic.Bool
}

func newStatusHandler(identity string, coord coordinator.Coordinator) *statusHandler {
	return &statusHandler{identity: identity, coord: coord}
}

func (h *statusHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.health)
	mux.HandleFunc("/ready", h.ready)
	mux.HandleFunc("/leader", h.leader)
}

func (h *statusHandler) markShuttingDown() {
	h.shuttingDown.Store(true)
}

func (h *statusHandler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK\n")
}

// ready fails once shutdown begins so traffic drains before the lease is released.
func (h *statusHandler) ready(w http.ResponseWriter, _ *http.Request) {
	if h.shuttingDown.Load() {
		http.Error(w, "Shutting down", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK\n")
}

func (h *statusHandler) leader(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.status()); err != nil {
		serverLog.Warn("failed to encode leader status", logging.KeyError, err)
	}
}

func (h *statusHandler) status() leaderStatus {
	s := leaderStatus{
		Identity: h.identity,
		Leader:   h.coord.IsLeader(),
		State:    "disabled",
	}
	if sr, ok := h.coord.(stateReporter); ok {
		s.State = sr.State().String()
	}
	if lr, ok := h.coord.(leaderReporter); ok {
		s.Holder = lr.Leader()
	}
	if tr, ok := h.coord.(tokenReporter); ok {
		if tok := tr.Token(); !tok.IsZero() {
			s.Epoch = tok.Epoch
		}
	}
	return s
}
