package sync

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glasssync/gallery/internal/config"
	"github.com/glasssync/gallery/internal/media"
	"github.com/glasssync/gallery/internal/models"
	"github.com/glasssync/gallery/internal/network"
	"github.com/glasssync/gallery/internal/remote"
	"github.com/glasssync/gallery/internal/store"
)

const waitTimeout = 3 * time.Second

type fakeBus struct {
	events chan models.DeviceEvent

	mu           stdsync.Mutex
	connected    bool
	hasCamera    bool
	queries      int
	hotspotCalls []bool
	hotspotErr   error
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		events:    make(chan models.DeviceEvent, 16),
		connected: true,
		hasCamera: true,
	}
}

func (b *fakeBus) Events() <-chan models.DeviceEvent { return b.events }

func (b *fakeBus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBus) HasCamera() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasCamera
}

func (b *fakeBus) QueryGalleryStatus() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries++
	return nil
}

func (b *fakeBus) SetHotspotState(enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hotspotErr != nil {
		return b.hotspotErr
	}
	b.hotspotCalls = append(b.hotspotCalls, enabled)
	return nil
}

func (b *fakeBus) hotspotRequests(enabled bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.hotspotCalls {
		if c == enabled {
			n++
		}
	}
	return n
}

type fakeConnector struct {
	mu          stdsync.Mutex
	connectErr  error
	currentSSID string
	connects    int
	disconnects int
}

func (c *fakeConnector) Connect(_ context.Context, ssid, password, gatewayIP string) (*network.ConnectResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	c.currentSSID = ssid
	return &network.ConnectResult{SSID: ssid, GatewayIP: gatewayIP}, nil
}

func (c *fakeConnector) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.currentSSID = ""
	return nil
}

func (c *fakeConnector) CurrentSSID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSSID, nil
}

type fakeGallery struct {
	mu            stdsync.Mutex
	endpoint      string
	files         []models.RemotePhoto
	content       map[string][]byte
	serverTime    int64
	listErrs      []error
	listCalls     int
	syncReqs      []models.SyncRequest
	failDownloads map[string]bool
}

func newFakeGallery() *fakeGallery {
	return &fakeGallery{
		content:       make(map[string][]byte),
		serverTime:    1756500000000,
		failDownloads: make(map[string]bool),
	}
}

func (g *fakeGallery) add(name string, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.files = append(g.files, models.RemotePhoto{
		Name:  name,
		Index: len(g.files),
		Size:  int64(len(data)),
		URL:   "/download/" + name,
	})
	g.content[name] = data
}

func (g *fakeGallery) has(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, f := range g.files {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (g *fakeGallery) remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.files)
}

func (g *fakeGallery) SetEndpoint(host string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.endpoint = host
}

func (g *fakeGallery) ListPhotos(_ context.Context, limit, offset int) (*models.PhotoListing, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listCalls++

	if len(g.listErrs) > 0 {
		err := g.listErrs[0]
		g.listErrs = g.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	end := offset + limit
	if offset > len(g.files) {
		offset = len(g.files)
	}
	if end > len(g.files) {
		end = len(g.files)
	}
	page := make([]models.RemotePhoto, end-offset)
	copy(page, g.files[offset:end])
	return &models.PhotoListing{TotalCount: len(g.files), Photos: page}, nil
}

func (g *fakeGallery) SyncDelta(_ context.Context, req models.SyncRequest) (*models.SyncDelta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.syncReqs = append(g.syncReqs, req)
	changed := make([]models.RemotePhoto, len(g.files))
	copy(changed, g.files)
	return &models.SyncDelta{ServerTime: g.serverTime, ChangedFiles: changed}, nil
}

func (g *fakeGallery) BatchDownload(ctx context.Context, files []models.RemotePhoto, opts remote.BatchOptions, sink remote.DownloadSink, progress models.ProgressFunc) (*models.BatchResult, error) {
	result := &models.BatchResult{}
	for i, f := range files {
		if progress != nil {
			progress(models.DownloadProgress{CurrentIndex: i, Total: len(files), FileName: f.Name, FileProgress: 0})
		}

		g.mu.Lock()
		data := g.content[f.Name]
		fail := g.failDownloads[f.Name]
		g.mu.Unlock()

		if fail {
			result.Failed = append(result.Failed, f.Name)
			continue
		}
		if err := sink.Persist(ctx, f, bytes.NewReader(data)); err != nil {
			result.Failed = append(result.Failed, f.Name)
			continue
		}

		result.Downloaded = append(result.Downloaded, f.Name)
		result.TotalBytes += int64(len(data))

		if progress != nil {
			progress(models.DownloadProgress{CurrentIndex: i, Total: len(files), FileName: f.Name, FileProgress: 100})
		}
		if opts.DeleteOnSuccess {
			g.removeFile(f.Name)
		}
	}
	return result, nil
}

func (g *fakeGallery) DeleteFiles(_ context.Context, names []string) (*models.DeleteResult, error) {
	result := &models.DeleteResult{}
	for _, name := range names {
		if g.has(name) {
			g.removeFile(name)
			result.Deleted = append(result.Deleted, name)
		} else {
			result.Failed = append(result.Failed, name)
		}
	}
	return result, nil
}

func (g *fakeGallery) removeFile(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, f := range g.files {
		if f.Name == name {
			g.files = append(g.files[:i], g.files[i+1:]...)
			break
		}
	}
	delete(g.content, name)
}

type fakeNotifier struct {
	mu     stdsync.Mutex
	alerts []string
}

func (n *fakeNotifier) Alert(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, title)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type harness struct {
	o      *Orchestrator
	bus    *fakeBus
	conn   *fakeConnector
	gal    *fakeGallery
	notes  *fakeNotifier
	st     *store.PhotoStore
	states chan models.GalleryState
}

func newHarness(t *testing.T, mutate func(cfg *config.Config, opts *Options)) *harness {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		Sync: config.Sync{
			PageSize:         30,
			HotspotSettleMs:  1,
			ConnectSettleMs:  1,
			RateLimitRetryMs: 1,
			CompleteResetMs:  1,
			ProgressClearMs:  1,
		},
	}

	storage, err := media.NewStorage(filepath.Join(dir, "gallery"), nil, 100)
	require.NoError(t, err)

	db, err := store.NewSQLiteDB(filepath.Join(dir, "gallery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	photoStore := store.NewPhotoStore(db, storage)

	h := &harness{
		bus:    newFakeBus(),
		conn:   &fakeConnector{},
		gal:    newFakeGallery(),
		notes:  &fakeNotifier{},
		st:     photoStore,
		states: make(chan models.GalleryState, 64),
	}

	opts := Options{AutoSync: true, Notifier: h.notes}
	if mutate != nil {
		mutate(cfg, &opts)
	}

	h.o = NewOrchestrator(cfg, h.bus, h.conn, h.gal, photoStore, storage, opts)
	h.o.OnStateChange(func(_, next models.GalleryState) {
		h.states <- next
	})
	t.Cleanup(h.o.Close)
	h.o.Start()
	return h
}

func (h *harness) waitState(t *testing.T, want models.GalleryState) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-h.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, currently %s", want, h.o.State())
		}
	}
}

func (h *harness) announceMedia(t *testing.T, total int) {
	t.Helper()
	h.waitState(t, models.StateQueryingGlasses)
	h.bus.events <- models.GalleryStatus{Photos: total, Total: total, HasContent: total > 0}
}

func (h *harness) announceHotspot() {
	h.bus.events <- models.HotspotStatus{
		Enabled:  true,
		SSID:     "GlassesHotspot",
		Password: "pw123",
		LocalIP:  "192.168.43.1",
	}
}

func rateLimitErr() error {
	return &remote.StatusError{Code: http.StatusTooManyRequests, Body: "slow down"}
}

func TestOrchestrator_HappyPath(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 5; i++ {
		h.gal.add(fmt.Sprintf("IMG_%04d.mp4", i), []byte(fmt.Sprintf("video-%d", i)))
	}

	h.announceMedia(t, 5)
	h.waitState(t, models.StateMediaAvailable)

	h.o.Connect()
	h.waitState(t, models.StateRequestingHotspot)

	h.announceHotspot()
	h.waitState(t, models.StateWaitingForWifiPrompt)
	h.waitState(t, models.StateConnectingToHotspot)
	h.waitState(t, models.StateConnectedLoading)
	h.waitState(t, models.StateSyncing)
	h.waitState(t, models.StateSyncComplete)

	// Downloads landed locally and were reclaimed from the device
	photos, err := h.st.ListDownloaded(context.Background())
	require.NoError(t, err)
	assert.Len(t, photos, 5)
	assert.Zero(t, h.gal.remaining())

	// Cursor advanced to the server's clock, not the host's
	state, err := h.st.GetSyncState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h.gal.serverTime, state.LastSyncTime)
	assert.Equal(t, int64(5), state.TotalDownloaded)

	// The delta request carried the stored identity and watermark
	require.Len(t, h.gal.syncReqs, 1)
	assert.Equal(t, state.ClientID, h.gal.syncReqs[0].ClientID)
	assert.Zero(t, h.gal.syncReqs[0].LastSyncTime)

	// Hotspot torn down exactly once: host side and glasses side
	h.waitState(t, models.StateNoMediaOnGlasses)
	assert.Equal(t, 1, h.bus.hotspotRequests(false))
	assert.GreaterOrEqual(t, h.conn.disconnects, 1)

	assert.Zero(t, h.notes.count())
}

func TestOrchestrator_SecondRoundEchoesWatermark(t *testing.T) {
	h := newHarness(t, nil)
	h.gal.add("IMG_0001.mp4", []byte("one"))

	h.announceMedia(t, 1)
	h.waitState(t, models.StateMediaAvailable)
	h.o.Connect()
	h.announceHotspot()
	h.waitState(t, models.StateSyncComplete)
	h.waitState(t, models.StateQueryingGlasses)

	// A new file appears; the session runs again
	h.gal.add("IMG_0002.mp4", []byte("two"))
	h.gal.serverTime = 1756500099999

	h.bus.events <- models.GalleryStatus{Photos: 1, Total: 1, HasContent: true}
	h.waitState(t, models.StateMediaAvailable)
	h.o.Connect()
	h.announceHotspot()
	h.waitState(t, models.StateSyncComplete)

	require.Len(t, h.gal.syncReqs, 2)
	assert.Equal(t, int64(1756500000000), h.gal.syncReqs[1].LastSyncTime)
	assert.Equal(t, h.gal.syncReqs[0].ClientID, h.gal.syncReqs[1].ClientID)
}

func TestOrchestrator_CameraBusy(t *testing.T) {
	h := newHarness(t, nil)

	h.waitState(t, models.StateQueryingGlasses)
	h.bus.events <- models.GalleryStatus{Total: 3, HasContent: true, CameraBusy: "video"}

	h.waitState(t, models.StateNoMediaOnGlasses)
	assert.Equal(t, 1, h.notes.count())
	// Busy camera must never trigger a hotspot request
	assert.Zero(t, h.bus.hotspotRequests(true))
}

func TestOrchestrator_EmptyGallery(t *testing.T) {
	h := newHarness(t, nil)

	h.announceMedia(t, 0)
	h.waitState(t, models.StateNoMediaOnGlasses)
	assert.Zero(t, h.notes.count())
}

func TestOrchestrator_UserCancelsWifi(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.connectErr = &network.ConnectError{Kind: network.ErrKindUserCancelled, Message: "denied"}
	h.gal.add("IMG_0001.mp4", []byte("x"))

	h.announceMedia(t, 1)
	h.waitState(t, models.StateMediaAvailable)
	h.o.Connect()
	h.announceHotspot()

	h.waitState(t, models.StateUserCancelledWifi)
	// A cancellation is not an error dialog
	assert.Zero(t, h.notes.count())

	// The state stays tappable for a retry
	h.conn.mu.Lock()
	h.conn.connectErr = nil
	h.conn.mu.Unlock()
	h.o.Connect()
	h.announceHotspot()
	h.waitState(t, models.StateSyncComplete)
}

func TestOrchestrator_WifiDisabled(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.connectErr = &network.ConnectError{Kind: network.ErrKindWifiDisabled, Message: "radio off"}
	h.gal.add("IMG_0001.mp4", []byte("x"))

	h.announceMedia(t, 1)
	h.waitState(t, models.StateMediaAvailable)
	h.o.Connect()
	h.announceHotspot()

	h.waitState(t, models.StateUserCancelledWifi)
	assert.Equal(t, 1, h.notes.count())
}

func TestOrchestrator_StaleStatusDoesNotDowngrade(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, _ *Options) {
		// Park the machine in WAITING_FOR_WIFI_PROMPT
		cfg.Sync.HotspotSettleMs = 60000
	})
	h.gal.add("IMG_0001.mp4", []byte("x"))

	h.announceMedia(t, 1)
	h.waitState(t, models.StateMediaAvailable)
	h.o.Connect()
	h.announceHotspot()
	h.waitState(t, models.StateWaitingForWifiPrompt)

	// A late status reply arrives mid-connection
	h.bus.events <- models.GalleryStatus{Total: 1, HasContent: true}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, models.StateWaitingForWifiPrompt, h.o.State())
}

func TestOrchestrator_RateLimit(t *testing.T) {
	t.Run("retries exactly once then succeeds", func(t *testing.T) {
		h := newHarness(t, nil)
		h.gal.add("IMG_0001.mp4", []byte("x"))
		h.gal.listErrs = []error{rateLimitErr()}

		h.announceMedia(t, 1)
		h.waitState(t, models.StateMediaAvailable)
		h.o.Connect()
		h.announceHotspot()

		h.waitState(t, models.StateSyncComplete)
		h.gal.mu.Lock()
		calls := h.gal.listCalls
		h.gal.mu.Unlock()
		assert.Equal(t, 2, calls)
	})

	t.Run("zero total from the retry resolves to no media", func(t *testing.T) {
		h := newHarness(t, nil)
		h.gal.listErrs = []error{rateLimitErr()}

		// The glasses claimed content, but by the time the listing loads the
		// device has nothing left.
		h.announceMedia(t, 1)
		h.waitState(t, models.StateMediaAvailable)
		h.o.Connect()
		h.announceHotspot()

		h.waitState(t, models.StateNoMediaOnGlasses)
		assert.Equal(t, 1, h.bus.hotspotRequests(false))
	})

	t.Run("second 429 fails without a retry storm", func(t *testing.T) {
		h := newHarness(t, nil)
		h.gal.add("IMG_0001.mp4", []byte("x"))
		h.gal.listErrs = []error{rateLimitErr(), rateLimitErr(), rateLimitErr(), rateLimitErr()}

		h.announceMedia(t, 1)
		h.waitState(t, models.StateMediaAvailable)
		h.o.Connect()
		h.announceHotspot()
		h.waitState(t, models.StateConnectedLoading)

		// First 429 retries, second gives up
		h.waitState(t, models.StateMediaAvailable)
		require.Eventually(t, func() bool { return h.notes.count() > 0 }, waitTimeout, 5*time.Millisecond)

		time.Sleep(50 * time.Millisecond)
		h.gal.mu.Lock()
		calls := h.gal.listCalls
		h.gal.mu.Unlock()
		assert.Equal(t, 2, calls)
		assert.Equal(t, models.StateMediaAvailable, h.o.State())
	})
}

func TestOrchestrator_PartialBatch(t *testing.T) {
	h := newHarness(t, nil)
	h.gal.add("IMG_0001.mp4", []byte("ok"))
	h.gal.add("IMG_0002.mp4", []byte("bad"))
	h.gal.add("IMG_0003.mp4", []byte("ok too"))
	h.gal.failDownloads["IMG_0002.mp4"] = true

	h.announceMedia(t, 3)
	h.waitState(t, models.StateMediaAvailable)
	h.o.Connect()
	h.announceHotspot()
	h.waitState(t, models.StateSyncComplete)

	photos, err := h.st.ListDownloaded(context.Background())
	require.NoError(t, err)
	assert.Len(t, photos, 2)

	// The failed file stays on the glasses for the next round
	assert.True(t, h.gal.has("IMG_0002.mp4"))
	assert.Equal(t, 1, h.notes.count())

	state, err := h.st.GetSyncState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.TotalDownloaded)
}

func TestOrchestrator_DeltaFilesBeyondLoadedPage(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, opts *Options) {
		cfg.Sync.PageSize = 1
		cfg.Sync.CompleteResetMs = 60000
		opts.AutoSync = false
	})
	h.gal.add("IMG_0001.mp4", []byte("a"))
	h.gal.add("IMG_0002.mp4", []byte("b"))
	h.gal.add("IMG_0003.mp4", []byte("c"))

	h.announceMedia(t, 3)
	h.waitState(t, models.StateMediaAvailable)
	h.o.Connect()
	h.announceHotspot()
	h.waitState(t, models.StateReadyToSync)

	// Only the first listing page has loaded
	require.Len(t, h.o.RemotePhotos(), 1)

	h.o.Sync()
	h.waitState(t, models.StateSyncComplete)

	// Every delta file got a gallery entry, not just the loaded page
	names := make([]string, 0, 3)
	for _, p := range h.o.RemotePhotos() {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"IMG_0001.mp4", "IMG_0002.mp4", "IMG_0003.mp4"}, names)
}

func TestOrchestrator_ProgressCursorAdvance(t *testing.T) {
	o := NewOrchestrator(&config.Config{}, newFakeBus(), &fakeConnector{}, newFakeGallery(), nil, nil, Options{})

	o.mu.Lock()
	o.syncStates = map[string]models.PhotoSyncState{
		"IMG_0001.mp4": {Status: models.PhotoSyncPending},
		"IMG_0002.mp4": {Status: models.PhotoSyncPending},
	}
	o.mu.Unlock()

	o.onProgress(models.DownloadProgress{CurrentIndex: 0, Total: 2, FileName: "IMG_0001.mp4", FileProgress: 40})
	// The first file's final tick is lost; the next file's tick arrives.
	o.onProgress(models.DownloadProgress{CurrentIndex: 1, Total: 2, FileName: "IMG_0002.mp4", FileProgress: 0})

	states := o.SyncStates()
	assert.Equal(t, models.PhotoSyncCompleted, states["IMG_0001.mp4"].Status)
	assert.Equal(t, 100, states["IMG_0001.mp4"].Progress)
	assert.Equal(t, models.PhotoSyncDownloading, states["IMG_0002.mp4"].Status)
}

func TestOrchestrator_ManualSyncGuards(t *testing.T) {
	h := newHarness(t, func(_ *config.Config, opts *Options) {
		opts.AutoSync = false
	})
	h.gal.add("IMG_0001.mp4", []byte("x"))

	// Sync in the wrong state is ignored
	h.o.Sync()

	h.announceMedia(t, 1)
	h.waitState(t, models.StateMediaAvailable)
	h.o.Connect()
	h.announceHotspot()
	h.waitState(t, models.StateReadyToSync)

	h.gal.mu.Lock()
	deltasBefore := len(h.gal.syncReqs)
	h.gal.mu.Unlock()
	assert.Zero(t, deltasBefore)

	h.o.Sync()
	h.waitState(t, models.StateSyncComplete)
}

func TestOrchestrator_DeleteSelected(t *testing.T) {
	h := newHarness(t, func(_ *config.Config, opts *Options) {
		opts.AutoSync = false
	})
	h.gal.add("REMOTE_1.mp4", []byte("r1"))
	h.gal.add("REMOTE_2.mp4", []byte("r2"))

	h.announceMedia(t, 2)
	h.waitState(t, models.StateMediaAvailable)
	h.o.Connect()
	h.announceHotspot()
	h.waitState(t, models.StateReadyToSync)

	h.o.DeleteSelected([]string{"REMOTE_1.mp4"})
	require.Eventually(t, func() bool { return !h.gal.has("REMOTE_1.mp4") }, waitTimeout, 5*time.Millisecond)
	assert.True(t, h.gal.has("REMOTE_2.mp4"))

	require.Eventually(t, func() bool {
		return len(h.o.RemotePhotos()) == 1
	}, waitTimeout, 5*time.Millisecond)
}

func TestOrchestrator_DirectPathSkipsHotspot(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, _ *Options) {
		cfg.Device.DirectHost = "192.168.1.20"
	})
	h.gal.add("IMG_0001.mp4", []byte("x"))

	h.announceMedia(t, 1)
	h.waitState(t, models.StateConnectedLoading)
	h.waitState(t, models.StateSyncComplete)

	assert.Zero(t, h.bus.hotspotRequests(true))
	h.conn.mu.Lock()
	defer h.conn.mu.Unlock()
	assert.Zero(t, h.conn.connects)
}

func TestOrchestrator_HotspotErrorFromGlasses(t *testing.T) {
	h := newHarness(t, nil)
	h.gal.add("IMG_0001.mp4", []byte("x"))

	h.announceMedia(t, 1)
	h.waitState(t, models.StateMediaAvailable)
	h.o.Connect()
	h.waitState(t, models.StateRequestingHotspot)

	h.bus.events <- models.HotspotErrorEvent{Message: "hotspot failed to start"}
	h.waitState(t, models.StateMediaAvailable)
	assert.Equal(t, 1, h.notes.count())
}

func TestOrchestrator_CloseIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.o.Close()
	h.o.Close()
}
