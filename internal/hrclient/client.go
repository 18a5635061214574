// Package hrclient talks to a heart-rate relay: REST calls for device
// discovery and subscription, and a websocket feed of samples.
package hrclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"screen-hr-sync/internal/models"
)

// SourceName tags heart-rate samples received from the relay
const SourceName = "relay"

const (
	eventAddData       = "addData"
	eventUpdateDevices = "updateDevices"
)

// frame is one websocket message from the relay
type frame struct {
	Event      string   `json:"event"`
	DeviceName string   `json:"devName,omitempty"`
	HeartRate  float64  `json:"heartRate,omitempty"`
	DeviceList []string `json:"devNames,omitempty"`
}

// Client connects to a relay at a base URL such as http://localhost:5000
type Client struct {
	rest           *resty.Client
	wsURL          string
	logger         *zap.SugaredLogger
	clock          func() time.Time
	dialer         websocket.Dialer
	reconnectDelay time.Duration

	mu        sync.RWMutex
	devices   []string
	connected bool
}

// Option configures a Client
type Option func(*Client)

// WithClock sets the clock stamping sample arrival
func WithClock(clock func() time.Time) Option {
	return func(c *Client) { c.clock = clock }
}

// WithReconnectDelay sets the pause between feed reconnects
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// New creates a relay client
func New(baseURL string, logger *zap.SugaredLogger, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay URL: %w", err)
	}

	ws := *u
	switch u.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported relay URL scheme %q", u.Scheme)
	}
	ws.Path += "/ws"

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	c := &Client{
		rest: resty.New().
			SetBaseURL(u.String()).
			SetTimeout(10 * time.Second),
		wsURL:          ws.String(),
		logger:         logger,
		clock:          time.Now,
		dialer:         websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		reconnectDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RefreshDevices asks the relay to scan for devices. The list itself arrives
// later on the feed as an updateDevices event.
func (c *Client) RefreshDevices(ctx context.Context) error {
	resp, err := c.rest.R().SetContext(ctx).Get("/api/devices")
	if err != nil {
		return fmt.Errorf("failed to fetch devices: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to fetch devices: %s", resp.Status())
	}
	return nil
}

// Subscribe asks the relay to start streaming samples from devName
func (c *Client) Subscribe(ctx context.Context, devName string) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("devName", devName).
		Get("/api/subscribe/{devName}")
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", devName, err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to subscribe to %s: %s", devName, resp.Status())
	}
	c.logger.Infof("HR Relay: Subscribed to %s", devName)
	return nil
}

// Devices returns the last device list announced by the relay
func (c *Client) Devices() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.devices...)
}

// Connected reports whether the feed is currently open
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Stream reads the feed until ctx is cancelled or the connection closes.
// Every addData sample is stamped at receipt and sent to out. A normal
// closure by the relay returns nil.
func (c *Client) Stream(ctx context.Context, out chan<- models.HeartRateEvent) error {
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, http.Header{})
	if err != nil {
		return fmt.Errorf("failed to connect to relay feed: %w", err)
	}
	c.setConnected(true)
	defer c.setConnected(false)
	c.logger.Infof("HR Relay: Connected to %s", c.wsURL)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
			_ = conn.Close()
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("HR Relay: Feed closed by relay")
				return nil
			}
			return fmt.Errorf("relay feed read error: %w", err)
		}
		at := c.clock()

		var f frame
		if err := json.Unmarshal(message, &f); err != nil {
			c.logger.Warnf("HR Relay: Failed to decode frame: %v", err)
			continue
		}

		switch f.Event {
		case eventAddData:
			if f.DeviceName == "" {
				c.logger.Warn("HR Relay: addData without device name")
				continue
			}
			select {
			case out <- models.HeartRateEvent{DeviceName: f.DeviceName, HeartRate: f.HeartRate, ArrivedAt: at, Source: SourceName}:
			case <-ctx.Done():
				return ctx.Err()
			}
		case eventUpdateDevices:
			devices := append([]string(nil), f.DeviceList...)
			sort.Strings(devices)
			c.mu.Lock()
			c.devices = devices
			c.mu.Unlock()
			c.logger.Infof("HR Relay: Devices updated: %v", devices)
		default:
			c.logger.Debugf("HR Relay: Ignoring %q event", f.Event)
		}
	}
}

// Run subscribes to device and keeps the feed open until ctx is cancelled,
// reconnecting after failures.
func (c *Client) Run(ctx context.Context, device string, out chan<- models.HeartRateEvent) error {
	for {
		err := c.connectOnce(ctx, device, out)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.logger.Warnf("HR Relay: %v; reconnecting in %s", err, c.reconnectDelay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) connectOnce(ctx context.Context, device string, out chan<- models.HeartRateEvent) error {
	if err := c.RefreshDevices(ctx); err != nil {
		return err
	}
	if device != "" {
		if err := c.Subscribe(ctx, device); err != nil {
			return err
		}
	}
	return c.Stream(ctx, out)
}
