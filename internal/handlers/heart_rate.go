package handlers

import (
	"net/http"
	"time"

	"screen-hr-sync/internal/models"
)

// HeartRateSource is the live view of the heart-rate buffer
type HeartRateSource interface {
	Latest() (models.HeartRateEvent, bool)
	Devices() []string
	LatestFor(deviceName string) (models.HeartRateEvent, bool)
}

type reading struct {
	Device     string    `json:"devName"`
	HeartRate  float64   `json:"heartRate"`
	ReceivedAt time.Time `json:"receivedAt"`
	Source     string    `json:"source,omitempty"`
}

func toReading(ev models.HeartRateEvent) *reading {
	return &reading{
		Device:     ev.DeviceName,
		HeartRate:  ev.HeartRate,
		ReceivedAt: ev.ArrivedAt.Round(0).UTC(),
		Source:     ev.Source,
	}
}

// HeartRateHandler serves the latest reading overall and per device.
// ?device= narrows the response to one device and 404s if it never reported.
type HeartRateHandler struct {
	Source HeartRateSource
}

func (h HeartRateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if device := r.URL.Query().Get("device"); device != "" {
		ev, ok := h.Source.LatestFor(device)
		if !ok {
			writeError(w, http.StatusNotFound, "no readings from "+device)
			return
		}
		writeJSON(w, http.StatusOK, toReading(ev))
		return
	}

	type heartRateResp struct {
		Latest  *reading   `json:"latest"`
		Devices []*reading `json:"devices"`
	}

	resp := heartRateResp{Devices: []*reading{}}
	if ev, ok := h.Source.Latest(); ok {
		resp.Latest = toReading(ev)
	}
	for _, device := range h.Source.Devices() {
		if ev, ok := h.Source.LatestFor(device); ok {
			resp.Devices = append(resp.Devices, toReading(ev))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
