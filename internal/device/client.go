package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/glasssync/gallery/internal/models"
	"github.com/glasssync/gallery/internal/observability"
)

// Message types on the glasses command channel
const (
	MsgTypeDeviceInfo          = "device_info"
	MsgTypeGalleryStatus       = "gallery_status"
	MsgTypeHotspotStatusChange = "hotspot_status_change"
	MsgTypeHotspotError        = "hotspot_error"
	MsgTypeSetHotspotState     = "set_hotspot_state"
	MsgTypeQueryGalleryStatus  = "query_gallery_status"
	MsgTypePing                = "ping"
	MsgTypePong                = "pong"
)

// Envelope wraps every message on the command channel
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DeviceInfo is announced by the glasses right after the channel opens.
type DeviceInfo struct {
	Model     string `json:"model"`
	HasCamera bool   `json:"hasCamera"`
}

type setHotspotStatePayload struct {
	Enabled bool `json:"enabled"`
}

// Client is the host side of the glasses command channel. Inbound events are
// decoded into the typed DeviceEvent union and delivered on a single queue
// consumed by the sync orchestrator; commands are fire-and-forget.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	events chan models.DeviceEvent
	logger *observability.Logger

	done      chan struct{}
	closeOnce sync.Once

	mu        sync.RWMutex
	connected bool
	info      DeviceInfo
}

// Dial connects to the glasses command channel and starts the pumps.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial glasses command channel: %w", err)
	}

	c := &Client{
		conn:      conn,
		send:      make(chan []byte, 64),
		events:    make(chan models.DeviceEvent, 64),
		logger:    observability.GetLogger().WithField("component", "device"),
		done:      make(chan struct{}),
		connected: true,
	}

	go c.writePump()
	go c.readPump()

	return c, nil
}

// Events returns the inbound event queue. The channel is closed when the
// connection ends.
func (c *Client) Events() <-chan models.DeviceEvent {
	return c.events
}

// Connected reports whether the command channel is up.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HasCamera reports whether the glasses announced a camera/gallery capability.
func (c *Client) HasCamera() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info.HasCamera
}

// SetHotspotState asks the glasses to enable or disable their hotspot.
// Fire-and-forget: the outcome arrives as a hotspot status or error event.
func (c *Client) SetHotspotState(enabled bool) error {
	return c.sendCommand(MsgTypeSetHotspotState, setHotspotStatePayload{Enabled: enabled})
}

// QueryGalleryStatus asks the glasses for their gallery status. The reply
// arrives asynchronously as a GalleryStatus event.
func (c *Client) QueryGalleryStatus() error {
	return c.sendCommand(MsgTypeQueryGalleryStatus, nil)
}

// Close shuts the channel down. Safe to call repeatedly.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	})
}

func (c *Client) sendCommand(msgType string, payload interface{}) error {
	if !c.Connected() {
		return models.ErrDeviceNotConnected
	}

	env := Envelope{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Payload = data
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return models.ErrDeviceNotConnected
	}
}

// writePump pumps outbound commands to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// readPump pumps inbound messages into the typed event queue
func (c *Client) readPump() {
	defer func() {
		c.Close()
		close(c.events)
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warnf("Command channel error: %v", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Warnf("Malformed message on command channel: %v", err)
			continue
		}

		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	switch env.Type {
	case MsgTypeDeviceInfo:
		var info DeviceInfo
		if err := json.Unmarshal(env.Payload, &info); err != nil {
			c.logger.Warnf("Malformed device_info payload: %v", err)
			return
		}
		c.mu.Lock()
		c.info = info
		c.mu.Unlock()
		c.deliver(models.DeviceReady{Model: info.Model, HasCamera: info.HasCamera})

	case MsgTypeGalleryStatus:
		var ev models.GalleryStatus
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			c.logger.Warnf("Malformed gallery_status payload: %v", err)
			return
		}
		c.deliver(ev)

	case MsgTypeHotspotStatusChange:
		var ev models.HotspotStatus
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			c.logger.Warnf("Malformed hotspot_status_change payload: %v", err)
			return
		}
		c.deliver(ev)

	case MsgTypeHotspotError:
		var ev models.HotspotErrorEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			c.logger.Warnf("Malformed hotspot_error payload: %v", err)
			return
		}
		c.deliver(ev)

	case MsgTypePing:
		c.sendCommand(MsgTypePong, nil)

	default:
		c.logger.Debugf("Ignoring message type %q", env.Type)
	}
}

func (c *Client) deliver(ev models.DeviceEvent) {
	select {
	case c.events <- ev:
	default:
		// Queue full: the consumer is wedged, dropping is better than blocking
		// the read pump and losing the connection.
		c.logger.Warnf("Event queue full, dropping %T", ev)
	}
}
