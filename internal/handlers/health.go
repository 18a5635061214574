// Package handlers serves the daemon's HTTP status endpoints.
package handlers

import (
	"encoding/json"
	"net/http"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// RelayStatus is the connection state of the heart-rate relay feed
type RelayStatus interface {
	Connected() bool
	Devices() []string
}

// ReadyHandler reports not ready while a configured relay feed is down.
// A nil Relay means the relay is disabled.
type ReadyHandler struct {
	Relay RelayStatus
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type relayResp struct {
		Enabled   bool     `json:"enabled"`
		Connected bool     `json:"connected"`
		Devices   []string `json:"devices"`
	}
	type readyResp struct {
		OK     bool      `json:"ok"`
		Relay  relayResp `json:"relay"`
		Issues []string  `json:"issues,omitempty"`
	}

	resp := readyResp{Relay: relayResp{Devices: []string{}}}
	if h.Relay != nil {
		resp.Relay.Enabled = true
		resp.Relay.Connected = h.Relay.Connected()
		if devices := h.Relay.Devices(); devices != nil {
			resp.Relay.Devices = devices
		}
		if !resp.Relay.Connected {
			resp.Issues = append(resp.Issues, "heart-rate relay is not connected")
		}
	}

	resp.OK = len(resp.Issues) == 0
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
