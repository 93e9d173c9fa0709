package sync

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/glasssync/gallery/internal/config"
	"github.com/glasssync/gallery/internal/models"
	"github.com/glasssync/gallery/internal/network"
	"github.com/glasssync/gallery/internal/observability"
	"github.com/glasssync/gallery/internal/remote"
)

// DeviceBus is the command channel to the glasses.
type DeviceBus interface {
	Events() <-chan models.DeviceEvent
	QueryGalleryStatus() error
	SetHotspotState(enabled bool) error
	Connected() bool
	HasCamera() bool
}

// RemoteGallery is the media server the glasses expose once a network path is up.
type RemoteGallery interface {
	SetEndpoint(host string)
	ListPhotos(ctx context.Context, limit, offset int) (*models.PhotoListing, error)
	SyncDelta(ctx context.Context, req models.SyncRequest) (*models.SyncDelta, error)
	BatchDownload(ctx context.Context, files []models.RemotePhoto, opts remote.BatchOptions, sink remote.DownloadSink, progress models.ProgressFunc) (*models.BatchResult, error)
	DeleteFiles(ctx context.Context, names []string) (*models.DeleteResult, error)
}

// LocalStore persists download records and the sync cursor.
type LocalStore interface {
	ListDownloaded(ctx context.Context) ([]models.PhotoRecord, error)
	Get(ctx context.Context, name string) (*models.PhotoRecord, error)
	Save(ctx context.Context, rec *models.PhotoRecord) error
	Delete(ctx context.Context, name string) (*models.PhotoRecord, error)
	GetSyncState(ctx context.Context) (*models.SyncState, error)
	UpdateSyncState(ctx context.Context, upd models.SyncStateUpdate) (*models.SyncState, error)
}

// MediaStore writes and removes media files on disk.
type MediaStore interface {
	Store(reader io.Reader, filename string, taken time.Time, size int64) (string, error)
	Delete(storedPath string) bool
	FullPath(storedPath string) (string, error)
}

// ThumbnailGenerator produces gallery thumbnails for downloaded images.
type ThumbnailGenerator interface {
	Generate(imageData []byte, storedPath string, orientation int) (string, error)
}

// Exporter mirrors a downloaded file to a secondary destination.
type Exporter interface {
	Name() string
	Export(ctx context.Context, rec models.PhotoRecord, fullPath string) error
}

// Notifier surfaces user-facing alerts. Implementations must not block.
type Notifier interface {
	Alert(title, message string)
}

// Options tunes optional orchestrator behavior.
type Options struct {
	// AutoSync starts a sync automatically once the remote gallery has loaded.
	// At most one auto-sync fires per connection session.
	AutoSync bool

	Thumbnailer ThumbnailGenerator
	Exporter    Exporter
	Notifier    Notifier
	Metrics     *observability.SyncMetrics
}

// timer names; scheduling a timer cancels the previous one of the same name
const (
	timerHotspotSettle  = "hotspot-settle"
	timerConnectSettle  = "connect-settle"
	timerRateLimitRetry = "rate-limit-retry"
	timerCompleteReset  = "complete-reset"
	timerProgressClear  = "progress-clear"
)

// session holds the per-connection guard flags. It is zeroed whenever the
// connection attempt ends, so a new session starts clean.
type session struct {
	hotspotOpened    bool // we asked the glasses to open the hotspot, we must close it
	autoSyncFired    bool
	rateLimitRetried bool
	syncing          bool
}

// Orchestrator drives the gallery session state machine. All state changes
// happen on a single run loop goroutine; events from the glasses and actions
// from the UI are serialized through it, and every event is applied against
// the current state, never against a remembered one.
type Orchestrator struct {
	cfg       *config.Config
	bus       DeviceBus
	connector network.Connector
	gallery   RemoteGallery
	store     LocalStore
	media     MediaStore
	opts      Options
	logger    *observability.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	actions chan func()
	done    chan struct{}

	closeOnce sync.Once

	mu            sync.RWMutex
	state         models.GalleryState
	remotePhotos  map[string]models.RemotePhoto
	totalRemote   int
	loadedPages   map[int]bool
	pagesInFlight map[int]bool
	localPhotos   []models.PhotoRecord
	syncStates    map[string]models.PhotoSyncState
	progress      *models.DownloadProgress
	session       session
	lastHotspot   *models.HotspotStatus
	timers        map[string]*time.Timer
	listeners     []func(old, new models.GalleryState)
}

// NewOrchestrator wires the state machine. Call Start to begin processing.
func NewOrchestrator(cfg *config.Config, bus DeviceBus, connector network.Connector, gallery RemoteGallery, store LocalStore, media MediaStore, opts Options) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:           cfg,
		bus:           bus,
		connector:     connector,
		gallery:       gallery,
		store:         store,
		media:         media,
		opts:          opts,
		logger:        observability.GetLogger().WithField("component", "sync"),
		ctx:           ctx,
		cancel:        cancel,
		actions:       make(chan func(), 64),
		done:          make(chan struct{}),
		state:         models.StateInitializing,
		remotePhotos:  make(map[string]models.RemotePhoto),
		loadedPages:   make(map[int]bool),
		pagesInFlight: make(map[int]bool),
		syncStates:    make(map[string]models.PhotoSyncState),
		timers:        make(map[string]*time.Timer),
	}
}

// OnStateChange registers a listener invoked on the run loop after every
// transition. Register before Start.
func (o *Orchestrator) OnStateChange(fn func(old, new models.GalleryState)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// Start launches the run loop.
func (o *Orchestrator) Start() {
	go o.run()
}

// Close stops the run loop and tears the hotspot down if this session opened
// it. Safe to call repeatedly.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.cancel()
		close(o.done)

		o.mu.Lock()
		for _, t := range o.timers {
			t.Stop()
		}
		o.timers = make(map[string]*time.Timer)
		opened := o.session.hotspotOpened
		o.session.hotspotOpened = false
		o.mu.Unlock()

		if err := o.connector.Disconnect(); err != nil {
			o.logger.Warnf("Failed to leave hotspot on shutdown: %v", err)
		}
		if opened {
			if err := o.bus.SetHotspotState(false); err != nil {
				o.logger.Warnf("Failed to close hotspot on shutdown: %v", err)
			}
		}
	})
}

func (o *Orchestrator) run() {
	events := o.bus.Events()
	o.initialize()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				o.handleDisconnect()
				continue
			}
			o.handleEvent(ev)
		case fn := <-o.actions:
			fn()
		case <-o.done:
			return
		}
	}
}

// post queues fn onto the run loop.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.actions <- fn:
	case <-o.done:
	}
}

// schedule arms a named timer that posts fn onto the run loop. Re-arming a
// name cancels the previous timer.
func (o *Orchestrator) schedule(name string, d time.Duration, fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.timers[name]; ok {
		t.Stop()
	}
	o.timers[name] = time.AfterFunc(d, func() { o.post(fn) })
}

func (o *Orchestrator) cancelTimer(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.timers[name]; ok {
		t.Stop()
		delete(o.timers, name)
	}
}

func (o *Orchestrator) setState(next models.GalleryState) {
	o.mu.Lock()
	prev := o.state
	if prev == next {
		o.mu.Unlock()
		return
	}
	o.state = next
	listeners := o.listeners
	o.mu.Unlock()

	o.logger.Infof("Gallery state %s -> %s", prev, next)
	for _, fn := range listeners {
		fn(prev, next)
	}
}

func (o *Orchestrator) alert(title, message string) {
	o.logger.Warnf("Alert: %s: %s", title, message)
	if o.opts.Notifier != nil {
		o.opts.Notifier.Alert(title, message)
	}
}

// --- public actions, callable from any goroutine ---

// Connect is the user tap on the gallery banner: ask the glasses to open
// their hotspot and begin the connection flow.
func (o *Orchestrator) Connect() {
	o.post(o.startConnect)
}

// Sync starts a sync round manually. Normally auto-sync runs one for you.
func (o *Orchestrator) Sync() {
	o.post(func() {
		if o.State() != models.StateReadyToSync {
			return
		}
		o.runSync()
	})
}

// DeleteSelected removes the named items everywhere they exist: from the
// glasses when still there, and from local storage when downloaded.
func (o *Orchestrator) DeleteSelected(names []string) {
	o.post(func() { o.deleteSelected(names) })
}

// EnsureVisible requests the listing page containing index, for lazy range
// loading as the user scrolls. Already-loaded and in-flight pages are skipped.
func (o *Orchestrator) EnsureVisible(index int) {
	o.post(func() { o.ensureVisible(index) })
}

// Refresh re-queries the glasses' gallery status.
func (o *Orchestrator) Refresh() {
	o.post(o.queryGlasses)
}

// --- snapshots, callable from any goroutine ---

// State returns the current gallery state.
func (o *Orchestrator) State() models.GalleryState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// RemotePhotos returns the loaded remote listing ordered by device index.
func (o *Orchestrator) RemotePhotos() []models.RemotePhoto {
	o.mu.RLock()
	defer o.mu.RUnlock()
	photos := make([]models.RemotePhoto, 0, len(o.remotePhotos))
	for _, p := range o.remotePhotos {
		photos = append(photos, p)
	}
	sort.Slice(photos, func(i, j int) bool { return photos[i].Index < photos[j].Index })
	return photos
}

// LocalPhotos returns the downloaded records, newest first.
func (o *Orchestrator) LocalPhotos() []models.PhotoRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.PhotoRecord, len(o.localPhotos))
	copy(out, o.localPhotos)
	return out
}

// TotalRemote returns the device-reported total media count, 0 when unknown.
func (o *Orchestrator) TotalRemote() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.totalRemote
}

// SyncStates returns a copy of the per-file transfer states of the current
// (or just finished) sync batch.
func (o *Orchestrator) SyncStates() map[string]models.PhotoSyncState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]models.PhotoSyncState, len(o.syncStates))
	for k, v := range o.syncStates {
		out[k] = v
	}
	return out
}

// Progress returns the latest batch download progress tick, nil when idle.
func (o *Orchestrator) Progress() *models.DownloadProgress {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.progress == nil {
		return nil
	}
	p := *o.progress
	return &p
}

// --- run loop handlers ---

func (o *Orchestrator) initialize() {
	o.reloadLocal()
	o.queryGlasses()
}

func (o *Orchestrator) queryGlasses() {
	if o.State().ConnectionInProgress() {
		return
	}
	if !o.bus.Connected() || !o.bus.HasCamera() {
		o.setState(models.StateNoMediaOnGlasses)
		return
	}

	o.setState(models.StateQueryingGlasses)
	if err := o.bus.QueryGalleryStatus(); err != nil {
		o.logger.Warnf("Gallery status query failed: %v", err)
		o.setState(models.StateNoMediaOnGlasses)
	}
}

func (o *Orchestrator) handleDisconnect() {
	o.logger.Warn("Command channel closed")
	if o.State().ConnectionInProgress() {
		o.failSession("Glasses disconnected", nil)
		return
	}
	o.setState(models.StateNoMediaOnGlasses)
}

func (o *Orchestrator) handleEvent(ev models.DeviceEvent) {
	switch e := ev.(type) {
	case models.DeviceReady:
		// Capabilities just became known; re-evaluate the idle state.
		o.logger.Infof("Glasses announced: %s (camera: %t)", e.Model, e.HasCamera)
		o.queryGlasses()
	case models.GalleryStatus:
		o.handleGalleryStatus(e)
	case models.HotspotStatus:
		o.handleHotspotStatus(e)
	case models.HotspotErrorEvent:
		o.handleHotspotError(e)
	default:
		o.logger.Debugf("Unhandled device event %T", ev)
	}
}

func (o *Orchestrator) handleGalleryStatus(ev models.GalleryStatus) {
	state := o.State()
	if state.ConnectionInProgress() {
		// A stale status reply must not yank an active connection attempt
		// back to the idle states.
		o.logger.Debugf("Ignoring gallery status in state %s", state)
		return
	}

	if ev.CameraBusy != "" {
		busy := models.CameraBusyError{Activity: ev.CameraBusy}
		o.alert("Camera in use", "The glasses are "+busy.ActivityLabel()+". Try again when they finish.")
		o.setState(models.StateNoMediaOnGlasses)
		return
	}

	if !ev.HasContent || ev.Total == 0 {
		o.setState(models.StateNoMediaOnGlasses)
		return
	}

	// A configured direct path or an existing hotspot association skips the
	// whole negotiation and goes straight to loading.
	if o.tryDirectPath() || o.resumeExistingConnection() {
		return
	}

	o.setState(models.StateMediaAvailable)
}

// tryDirectPath reaches the media server over the current network when a
// direct host is configured, no hotspot involved.
func (o *Orchestrator) tryDirectPath() bool {
	host := o.cfg.Device.DirectHost
	if host == "" {
		return false
	}

	o.logger.Infof("Using direct media path at %s", host)
	o.gallery.SetEndpoint(host)
	o.setState(models.StateConnectedLoading)
	o.schedule(timerConnectSettle, o.cfg.Sync.ConnectSettle(), o.loadFirstPage)
	return true
}

// resumeExistingConnection short-circuits the hotspot flow when the host is
// already associated with the glasses' network from a previous session.
func (o *Orchestrator) resumeExistingConnection() bool {
	o.mu.RLock()
	hotspot := o.lastHotspot
	o.mu.RUnlock()

	if hotspot == nil || !hotspot.Enabled || hotspot.SSID == "" {
		return false
	}

	current, err := o.connector.CurrentSSID()
	if err != nil || current != hotspot.SSID {
		return false
	}

	o.logger.Infof("Already on hotspot %s, resuming", current)
	o.gallery.SetEndpoint(hotspot.LocalIP)
	o.setState(models.StateConnectedLoading)
	o.schedule(timerConnectSettle, o.cfg.Sync.ConnectSettle(), o.loadFirstPage)
	return true
}

func (o *Orchestrator) startConnect() {
	state := o.State()
	if !state.Tappable() {
		o.logger.Debugf("Ignoring connect tap in state %s", state)
		return
	}

	if err := o.bus.SetHotspotState(true); err != nil {
		o.alert("Connection failed", "Could not ask the glasses to open their hotspot.")
		return
	}

	o.mu.Lock()
	o.session = session{hotspotOpened: true}
	o.mu.Unlock()

	o.setState(models.StateRequestingHotspot)
}

func (o *Orchestrator) handleHotspotStatus(ev models.HotspotStatus) {
	if !ev.Enabled {
		o.mu.Lock()
		o.lastHotspot = nil
		o.mu.Unlock()

		state := o.State()
		if state == models.StateRequestingHotspot || state == models.StateWaitingForWifiPrompt {
			o.failSession("Connection failed", nil)
		}
		return
	}

	o.mu.Lock()
	hotspot := ev
	o.lastHotspot = &hotspot
	o.mu.Unlock()

	if o.State() != models.StateRequestingHotspot {
		return
	}

	o.setState(models.StateWaitingForWifiPrompt)
	// The hotspot needs a moment to become discoverable before a join
	// attempt can succeed.
	o.schedule(timerHotspotSettle, o.cfg.Sync.HotspotSettle(), func() {
		o.connectToHotspot(hotspot)
	})
}

func (o *Orchestrator) handleHotspotError(ev models.HotspotErrorEvent) {
	state := o.State()
	if state != models.StateRequestingHotspot && state != models.StateWaitingForWifiPrompt {
		o.logger.Warnf("Hotspot error outside connection attempt: %s", ev.Message)
		return
	}
	o.failSession("Connection failed", nil)
}

func (o *Orchestrator) connectToHotspot(hotspot models.HotspotStatus) {
	if o.State() != models.StateWaitingForWifiPrompt {
		return
	}

	o.setState(models.StateConnectingToHotspot)

	res, err := o.connector.Connect(o.ctx, hotspot.SSID, hotspot.Password, hotspot.LocalIP)
	if err != nil {
		switch {
		case network.IsUserCancelled(err):
			// The user said no; that is a state, not an error dialog.
			o.setState(models.StateUserCancelledWifi)
		case network.IsWifiDisabled(err):
			o.alert("WiFi is off", "Turn WiFi on to sync media from your glasses.")
			o.setState(models.StateUserCancelledWifi)
		default:
			o.logger.Errorf("Hotspot join failed: %v", err)
			o.failSession("Connection failed", err)
		}
		return
	}

	o.gallery.SetEndpoint(res.GatewayIP)
	o.setState(models.StateConnectedLoading)
	o.schedule(timerConnectSettle, o.cfg.Sync.ConnectSettle(), o.loadFirstPage)
}

func (o *Orchestrator) loadFirstPage() {
	if o.State() != models.StateConnectedLoading {
		return
	}

	listing, err := o.gallery.ListPhotos(o.ctx, o.cfg.Sync.PageSize, 0)
	if err != nil {
		o.handleListingError(err)
		return
	}

	o.mu.Lock()
	o.session.rateLimitRetried = false
	o.totalRemote = listing.TotalCount
	o.remotePhotos = make(map[string]models.RemotePhoto, len(listing.Photos))
	for _, p := range listing.Photos {
		o.remotePhotos[p.Name] = p
	}
	o.loadedPages = map[int]bool{0: true}
	o.pagesInFlight = make(map[int]bool)
	autoSync := o.opts.AutoSync && !o.session.autoSyncFired
	if autoSync {
		o.session.autoSyncFired = true
	}
	o.mu.Unlock()

	if listing.TotalCount == 0 {
		o.logger.Info("Remote gallery is empty")
		o.closeHotspot()
		o.setState(models.StateNoMediaOnGlasses)
		return
	}

	o.setState(models.StateReadyToSync)

	if autoSync {
		o.runSync()
	}
}

// handleListingError applies the rate-limit policy: a single automatic retry
// per session, then plain failure. No retry storms against a busy device.
func (o *Orchestrator) handleListingError(err error) {
	if remote.IsRateLimited(err) {
		o.mu.Lock()
		retried := o.session.rateLimitRetried
		o.session.rateLimitRetried = true
		o.mu.Unlock()

		if !retried {
			o.logger.Warn("Media server is rate limiting, retrying once")
			o.setState(models.StateMediaAvailable)
			o.schedule(timerRateLimitRetry, o.cfg.Sync.RateLimitRetry(), func() {
				if o.State() != models.StateMediaAvailable {
					return
				}
				o.setState(models.StateConnectedLoading)
				o.loadFirstPage()
			})
			return
		}

		o.alert("Glasses are busy", "The glasses are handling too many requests. Try again in a moment.")
		o.setState(models.StateMediaAvailable)
		return
	}

	if remote.IsBadRequest(err) {
		o.logger.Errorf("Media server rejected listing request: %v", err)
	} else {
		o.logger.Errorf("Failed to load remote gallery: %v", err)
	}
	o.alert("Loading failed", "Could not load the gallery from your glasses.")
	o.setState(models.StateMediaAvailable)
}

func (o *Orchestrator) ensureVisible(index int) {
	state := o.State()
	if state != models.StateReadyToSync && state != models.StateSyncing {
		return
	}

	pageSize := o.cfg.Sync.PageSize
	if pageSize <= 0 || index < 0 {
		return
	}
	page := index / pageSize

	o.mu.Lock()
	if index >= o.totalRemote || o.loadedPages[page] || o.pagesInFlight[page] {
		o.mu.Unlock()
		return
	}
	o.pagesInFlight[page] = true
	o.mu.Unlock()

	listing, err := o.gallery.ListPhotos(o.ctx, pageSize, page*pageSize)

	o.mu.Lock()
	delete(o.pagesInFlight, page)
	if err == nil {
		o.loadedPages[page] = true
		o.totalRemote = listing.TotalCount
		for _, p := range listing.Photos {
			o.remotePhotos[p.Name] = p
		}
	}
	o.mu.Unlock()

	if err != nil {
		// Scroll-driven loads fail quietly; the user can scroll again.
		o.logger.Warnf("Failed to load listing page %d: %v", page, err)
	}
}

func (o *Orchestrator) runSync() {
	o.mu.Lock()
	if o.session.syncing {
		o.mu.Unlock()
		return
	}
	o.session.syncing = true
	o.mu.Unlock()

	o.setState(models.StateSyncing)

	ctx, span := observability.StartServiceSpan(o.ctx, "sync", "round")
	defer span.End()
	started := time.Now()

	cursor, err := o.store.GetSyncState(ctx)
	if err != nil {
		observability.RecordError(span, err)
		o.failSync("Sync failed", err)
		return
	}

	delta, err := o.gallery.SyncDelta(ctx, models.SyncRequest{
		ClientID:     cursor.ClientID,
		LastSyncTime: cursor.LastSyncTime,
	})
	if err != nil {
		observability.RecordError(span, err)
		o.failSync("Sync failed", err)
		return
	}

	files := delta.ChangedFiles
	o.logger.Infof("Sync delta: %d changed files since %d", len(files), cursor.LastSyncTime)

	if len(files) == 0 {
		o.finishSync(ctx, span, started, delta.ServerTime, cursor, &models.BatchResult{})
		return
	}

	o.mu.Lock()
	o.syncStates = make(map[string]models.PhotoSyncState, len(files))
	for _, f := range files {
		o.syncStates[f.Name] = models.PhotoSyncState{Status: models.PhotoSyncPending}
		// Delta files beyond the loaded listing pages still need a gallery
		// entry while they download.
		if _, ok := o.remotePhotos[f.Name]; !ok {
			o.remotePhotos[f.Name] = f
		}
	}
	o.mu.Unlock()

	sink := &downloadSink{o: o}
	result, err := o.gallery.BatchDownload(ctx, files, remote.BatchOptions{DeleteOnSuccess: true}, sink, o.onProgress)
	if err != nil {
		observability.RecordError(span, err)
		o.failSync("Sync failed", err)
		return
	}

	o.mu.Lock()
	for _, name := range result.Downloaded {
		o.syncStates[name] = models.PhotoSyncState{Status: models.PhotoSyncCompleted, Progress: 100}
	}
	for _, name := range result.Failed {
		o.syncStates[name] = models.PhotoSyncState{Status: models.PhotoSyncFailed}
	}
	o.mu.Unlock()

	o.exportDownloads(ctx, result.Downloaded)
	o.finishSync(ctx, span, started, delta.ServerTime, cursor, result)
}

// onProgress runs on the downloader's call stack while the run loop is inside
// runSync, so it touches shared state only under the lock.
func (o *Orchestrator) onProgress(p models.DownloadProgress) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// The downloader moving to the next file means the prior one is done even
	// when its final tick was lost; the batch-end sweep corrects failures.
	if prev := o.progress; prev != nil && prev.FileName != p.FileName {
		if st, ok := o.syncStates[prev.FileName]; ok && !st.Status.Terminal() {
			o.syncStates[prev.FileName] = models.PhotoSyncState{Status: models.PhotoSyncCompleted, Progress: 100}
		}
	}

	prog := p
	o.progress = &prog

	st := o.syncStates[p.FileName]
	switch {
	case p.FileProgress >= 100:
		st = models.PhotoSyncState{Status: models.PhotoSyncCompleted, Progress: 100}
	case st.Status.Terminal():
		// keep terminal status
	default:
		st = models.PhotoSyncState{Status: models.PhotoSyncDownloading, Progress: p.FileProgress}
	}
	o.syncStates[p.FileName] = st
}

func (o *Orchestrator) exportDownloads(ctx context.Context, names []string) {
	if o.opts.Exporter == nil {
		return
	}
	for _, name := range names {
		rec, err := o.store.Get(ctx, name)
		if err != nil || rec == nil {
			continue
		}
		fullPath, err := o.media.FullPath(rec.LocalPath)
		if err != nil {
			continue
		}
		if err := o.opts.Exporter.Export(ctx, *rec, fullPath); err != nil {
			// The local copy is the source of truth; a failed mirror is
			// logged and retried implicitly on the next export.
			o.logger.Warnf("Auto-save of %s via %s failed: %v", name, o.opts.Exporter.Name(), err)
		}
	}
}

func (o *Orchestrator) finishSync(ctx context.Context, span trace.Span, started time.Time, serverTime int64, cursor *models.SyncState, result *models.BatchResult) {
	observability.SetSuccess(span)

	newDownloaded := cursor.TotalDownloaded + int64(len(result.Downloaded))
	newSize := cursor.TotalSize + result.TotalBytes
	if _, err := o.store.UpdateSyncState(ctx, models.SyncStateUpdate{
		LastSyncTime:    &serverTime,
		TotalDownloaded: &newDownloaded,
		TotalSize:       &newSize,
	}); err != nil {
		o.logger.Errorf("Failed to persist sync cursor: %v", err)
	}

	o.opts.Metrics.RecordRound(ctx, float64(time.Since(started).Milliseconds()),
		len(result.Downloaded), len(result.Failed), result.TotalBytes)

	o.logger.Infof("Sync round complete: %d downloaded, %d failed, %d bytes",
		len(result.Downloaded), len(result.Failed), result.TotalBytes)

	if len(result.Failed) > 0 {
		o.alert("Some files were skipped", "A few files could not be downloaded and remain on the glasses.")
	}

	o.reloadLocal()

	o.mu.Lock()
	o.session.syncing = false
	o.progress = nil
	o.mu.Unlock()

	o.schedule(timerProgressClear, o.cfg.Sync.ProgressClear(), o.clearTerminalStates)

	o.setState(models.StateSyncComplete)
	o.closeHotspot()
	o.schedule(timerCompleteReset, o.cfg.Sync.CompleteReset(), o.resetAfterComplete)
}

func (o *Orchestrator) clearTerminalStates() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for name, st := range o.syncStates {
		if st.Status.Terminal() {
			delete(o.syncStates, name)
		}
	}
}

// resetAfterComplete clears the remote view and re-queries the glasses, which
// picks up any files a partial sync left behind.
func (o *Orchestrator) resetAfterComplete() {
	if o.State() != models.StateSyncComplete {
		return
	}

	o.mu.Lock()
	o.remotePhotos = make(map[string]models.RemotePhoto)
	o.totalRemote = 0
	o.loadedPages = make(map[int]bool)
	o.pagesInFlight = make(map[int]bool)
	o.session = session{}
	o.mu.Unlock()

	o.setState(models.StateNoMediaOnGlasses)
	o.queryGlasses()
}

// failSync aborts a sync round. The hotspot stays up so the user can retry
// without renegotiating.
func (o *Orchestrator) failSync(title string, err error) {
	if err != nil {
		o.logger.Errorf("%s: %v", title, err)
	}
	o.alert(title, "Syncing stopped partway. Your downloaded media is safe.")

	o.mu.Lock()
	o.session.syncing = false
	o.progress = nil
	o.syncStates = make(map[string]models.PhotoSyncState)
	o.mu.Unlock()

	o.reloadLocal()
	o.setState(models.StateError)
	o.queryGlasses()
}

// failSession aborts a connection attempt before any sync started.
func (o *Orchestrator) failSession(title string, err error) {
	if err != nil {
		o.logger.Errorf("%s: %v", title, err)
	}
	o.alert(title, "Could not connect to your glasses. Tap to try again.")

	o.closeHotspot()

	o.mu.Lock()
	o.session = session{}
	o.mu.Unlock()

	o.setState(models.StateMediaAvailable)
}

// closeHotspot tears down the network path this session opened. Calling it
// when nothing was opened is a no-op; calling it twice is harmless.
func (o *Orchestrator) closeHotspot() {
	o.mu.Lock()
	opened := o.session.hotspotOpened
	o.session.hotspotOpened = false
	o.mu.Unlock()

	if err := o.connector.Disconnect(); err != nil {
		o.logger.Warnf("Failed to leave hotspot: %v", err)
	}
	o.gallery.SetEndpoint("")

	if !opened {
		return
	}
	if err := o.bus.SetHotspotState(false); err != nil {
		o.logger.Warnf("Failed to ask glasses to close hotspot: %v", err)
	}
}

func (o *Orchestrator) deleteSelected(names []string) {
	var remoteNames []string
	o.mu.RLock()
	for _, name := range names {
		if _, ok := o.remotePhotos[name]; ok {
			remoteNames = append(remoteNames, name)
		}
	}
	o.mu.RUnlock()

	deletedRemote := map[string]bool{}
	if len(remoteNames) > 0 {
		result, err := o.gallery.DeleteFiles(o.ctx, remoteNames)
		if err != nil {
			o.logger.Warnf("Remote delete failed: %v", err)
			o.alert("Delete failed", "Could not delete files from the glasses.")
		} else {
			for _, name := range result.Deleted {
				deletedRemote[name] = true
			}
			if len(result.Failed) > 0 {
				o.logger.Warnf("Glasses refused to delete %d files", len(result.Failed))
			}
		}
	}

	o.mu.Lock()
	for name := range deletedRemote {
		delete(o.remotePhotos, name)
		if o.totalRemote > 0 {
			o.totalRemote--
		}
	}
	o.mu.Unlock()

	for _, name := range names {
		rec, err := o.store.Delete(o.ctx, name)
		if err == models.ErrRecordNotFound {
			continue
		}
		if err != nil {
			o.logger.Warnf("Failed to delete local record %s: %v", name, err)
			continue
		}
		if rec.LocalPath != "" && !o.media.Delete(rec.LocalPath) {
			o.logger.Warnf("Failed to remove local file %s", rec.LocalPath)
		}
		if rec.ThumbnailPath != "" {
			o.media.Delete(rec.ThumbnailPath)
		}
	}

	o.reloadLocal()
}

func (o *Orchestrator) reloadLocal() {
	photos, err := o.store.ListDownloaded(o.ctx)
	if err != nil {
		o.logger.Errorf("Failed to list downloaded media: %v", err)
		return
	}
	o.mu.Lock()
	o.localPhotos = photos
	o.mu.Unlock()
}
