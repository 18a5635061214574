package aggregator

import (
	"sort"
	"sync"
	"time"

	"screen-hr-sync/internal/models"
)

// DeviceState holds the latest heart-rate reading for a device
type DeviceState struct {
	DeviceName string
	Last       models.HeartRateEvent
	FirstSeen  time.Time
	Samples    int
}

// HeartRateBuffer is the FIFO queue that heart-rate transports append to.
// Drain hands the queued samples to exactly one consumer and clears the
// queue in the same critical section, so an Append racing a Drain lands
// either in the returned snapshot or in the next one, never in neither.
type HeartRateBuffer struct {
	mu      sync.Mutex
	events  []models.HeartRateEvent
	devices map[string]*DeviceState
	latest  *models.HeartRateEvent
}

// NewHeartRateBuffer creates an empty buffer
func NewHeartRateBuffer() *HeartRateBuffer {
	return &HeartRateBuffer{
		devices: make(map[string]*DeviceState),
	}
}

// Append queues an event and updates the per-device latest reading
func (b *HeartRateBuffer) Append(ev models.HeartRateEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, ev)

	device, exists := b.devices[ev.DeviceName]
	if !exists {
		device = &DeviceState{DeviceName: ev.DeviceName, FirstSeen: ev.ArrivedAt}
		b.devices[ev.DeviceName] = device
	}
	device.Last = ev
	device.Samples++

	latest := ev
	b.latest = &latest
}

// Drain returns every queued event in arrival order and empties the queue.
// A second Drain with no intervening Append returns an empty slice.
func (b *HeartRateBuffer) Drain() []models.HeartRateEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.events
	b.events = nil
	if out == nil {
		return []models.HeartRateEvent{}
	}
	return out
}

// DrainUntil returns the queued events that arrived at or before cutoff and
// keeps the later ones queued for the next consumer.
func (b *HeartRateBuffer) DrainUntil(cutoff time.Time) []models.HeartRateEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.HeartRateEvent, 0, len(b.events))
	var kept []models.HeartRateEvent
	for _, ev := range b.events {
		if ev.ArrivedAt.After(cutoff) {
			kept = append(kept, ev)
			continue
		}
		out = append(out, ev)
	}
	b.events = kept
	return out
}

// Len returns the number of queued events
func (b *HeartRateBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Latest returns the most recent event from any device
func (b *HeartRateBuffer) Latest() (models.HeartRateEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.latest == nil {
		return models.HeartRateEvent{}, false
	}
	return *b.latest, true
}

// LatestFor returns the most recent event from one device
func (b *HeartRateBuffer) LatestFor(deviceName string) (models.HeartRateEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	device, exists := b.devices[deviceName]
	if !exists {
		return models.HeartRateEvent{}, false
	}
	return device.Last, true
}

// Devices returns the names of every device seen, sorted
func (b *HeartRateBuffer) Devices() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.devices))
	for name := range b.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetDeviceState returns a copy of the state tracked for a device
func (b *HeartRateBuffer) GetDeviceState(deviceName string) (DeviceState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	device, exists := b.devices[deviceName]
	if !exists {
		return DeviceState{}, false
	}
	return *device, true
}
