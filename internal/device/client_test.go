package device

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glasssync/gallery/internal/models"
)

type fakeGlasses struct {
	t        *testing.T
	srv      *httptest.Server
	conns    chan *websocket.Conn
	received chan Envelope
}

func newFakeGlasses(t *testing.T) *fakeGlasses {
	t.Helper()

	f := &fakeGlasses{
		t:        t,
		conns:    make(chan *websocket.Conn, 1),
		received: make(chan Envelope, 16),
	}

	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		f.conns <- conn

		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			f.received <- env
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGlasses) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeGlasses) send(t *testing.T, msgType string, payload interface{}) {
	t.Helper()
	conn := <-f.conns
	f.conns <- conn

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Type: msgType, Payload: data}))
}

func (f *fakeGlasses) expect(t *testing.T, msgType string) Envelope {
	t.Helper()
	select {
	case env := <-f.received:
		require.Equal(t, msgType, env.Type)
		return env
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", msgType)
		return Envelope{}
	}
}

func waitEvent(t *testing.T, c *Client) models.DeviceEvent {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestClient(t *testing.T) {
	t.Run("decodes inbound events", func(t *testing.T) {
		glasses := newFakeGlasses(t)
		c, err := Dial(context.Background(), glasses.url())
		require.NoError(t, err)
		defer c.Close()

		glasses.send(t, MsgTypeDeviceInfo, DeviceInfo{Model: "GL-2", HasCamera: true})
		ev := waitEvent(t, c)
		ready, ok := ev.(models.DeviceReady)
		require.True(t, ok)
		assert.True(t, ready.HasCamera)
		assert.True(t, c.HasCamera())

		glasses.send(t, MsgTypeGalleryStatus, models.GalleryStatus{Photos: 3, Total: 5, HasContent: true})
		ev = waitEvent(t, c)
		status, ok := ev.(models.GalleryStatus)
		require.True(t, ok)
		assert.Equal(t, 5, status.Total)

		glasses.send(t, MsgTypeHotspotStatusChange, models.HotspotStatus{Enabled: true, SSID: "GlassesHotspot"})
		ev = waitEvent(t, c)
		hotspot, ok := ev.(models.HotspotStatus)
		require.True(t, ok)
		assert.Equal(t, "GlassesHotspot", hotspot.SSID)
	})

	t.Run("sends commands", func(t *testing.T) {
		glasses := newFakeGlasses(t)
		c, err := Dial(context.Background(), glasses.url())
		require.NoError(t, err)
		defer c.Close()

		require.NoError(t, c.QueryGalleryStatus())
		glasses.expect(t, MsgTypeQueryGalleryStatus)

		require.NoError(t, c.SetHotspotState(true))
		env := glasses.expect(t, MsgTypeSetHotspotState)
		var payload struct {
			Enabled bool `json:"enabled"`
		}
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.True(t, payload.Enabled)
	})

	t.Run("malformed messages are skipped", func(t *testing.T) {
		glasses := newFakeGlasses(t)
		c, err := Dial(context.Background(), glasses.url())
		require.NoError(t, err)
		defer c.Close()

		conn := <-glasses.conns
		glasses.conns <- conn
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

		glasses.send(t, MsgTypeGalleryStatus, models.GalleryStatus{Total: 1, HasContent: true})
		ev := waitEvent(t, c)
		_, ok := ev.(models.GalleryStatus)
		assert.True(t, ok)
	})

	t.Run("close ends the event stream", func(t *testing.T) {
		glasses := newFakeGlasses(t)
		c, err := Dial(context.Background(), glasses.url())
		require.NoError(t, err)

		c.Close()
		c.Close() // idempotent

		assert.False(t, c.Connected())
		assert.Error(t, c.QueryGalleryStatus())

		select {
		case _, open := <-c.Events():
			assert.False(t, open)
		case <-time.After(3 * time.Second):
			t.Fatal("event channel not closed")
		}
	})

	t.Run("dial failure", func(t *testing.T) {
		_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws")
		assert.Error(t, err)
	})
}
