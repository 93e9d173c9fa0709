package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/glasssync/gallery/internal/config"
	"github.com/glasssync/gallery/internal/device"
	"github.com/glasssync/gallery/internal/export"
	"github.com/glasssync/gallery/internal/media"
	"github.com/glasssync/gallery/internal/models"
	"github.com/glasssync/gallery/internal/network"
	"github.com/glasssync/gallery/internal/observability"
	"github.com/glasssync/gallery/internal/remote"
	"github.com/glasssync/gallery/internal/store"
	gallerysync "github.com/glasssync/gallery/internal/sync"
	"github.com/glasssync/gallery/internal/view"
)

var version = "dev"

var (
	flagAutoConnect bool
	flagNoSync      bool
)

func main() {
	root := &cobra.Command{
		Use:   "gallerysync",
		Short: "Sync photos and videos from your smart glasses",
		Long: `gallerysync talks to paired smart glasses over their command channel,
negotiates a WiFi hotspot when media is available, and downloads new photos
and videos into a local gallery, freeing space on the glasses as it goes.`,
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the glasses and sync their gallery",
		RunE:  runSession,
	}
	runCmd.Flags().BoolVarP(&flagAutoConnect, "yes", "y", false, "connect without asking for confirmation")
	runCmd.Flags().BoolVar(&flagNoSync, "no-sync", false, "load the gallery but do not start a sync")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the local gallery and sync cursor",
		RunE:  showStatus,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gallerysync %s\n", version)
		},
	}

	root.AddCommand(runCmd, statusCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.Initialize(ctx, observability.NewConfig("gallerysync", version))
	if err != nil {
		logger.Warnf("Telemetry unavailable: %v", err)
	}
	if telemetry != nil {
		defer telemetry.Shutdown(context.Background())
	}

	db, err := store.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	storage, err := media.NewStorage(cfg.MediaStorage.BasePath, cfg.MediaStorage.AllowedExtensions, cfg.MediaStorage.MaxFileSizeMB)
	if err != nil {
		return fmt.Errorf("init media storage: %w", err)
	}
	photoStore := store.NewPhotoStore(db, storage)

	exporter, err := export.New(ctx, cfg.AutoSave)
	if err != nil {
		return fmt.Errorf("init auto-save: %w", err)
	}
	if exporter != nil {
		logger.Infof("Auto-save enabled via %s", exporter.Name())
	}

	metrics, err := observability.NewSyncMetrics()
	if err != nil {
		logger.Warnf("Metrics unavailable: %v", err)
	}

	logger.Infof("Connecting to glasses at %s", cfg.Device.CommandURL)
	bus, err := device.Dial(ctx, cfg.Device.CommandURL)
	if err != nil {
		return fmt.Errorf("connect to glasses: %w", err)
	}
	defer bus.Close()

	orch := gallerysync.NewOrchestrator(
		cfg,
		bus,
		network.NewNMCLIConnector(cfg.Device.WifiInterface),
		remote.NewClient(cfg.Device.MediaPort),
		photoStore,
		storage,
		gallerysync.Options{
			AutoSync:    !flagNoSync,
			Thumbnailer: media.NewThumbnailer(storage.BasePath()),
			Exporter:    exporter,
			Notifier:    consoleNotifier{},
			Metrics:     metrics,
		},
	)

	states := make(chan models.GalleryState, 16)
	orch.OnStateChange(func(_, next models.GalleryState) {
		select {
		case states <- next:
		default:
		}
	})

	orch.Start()
	defer orch.Close()

	gallery := view.NewGallery(orch)

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			color.Yellow("Shutting down...")
			return nil

		case state := <-states:
			switch state {
			case models.StateMediaAvailable:
				if !promptConnect(ctx) {
					continue
				}
				orch.Connect()

			case models.StateSyncing:
				color.Cyan("Syncing media from glasses...")
				go reportProgress(ctx, gallery)

			case models.StateSyncComplete:
				printSummary(ctx, gallery, photoStore)

			case models.StateUserCancelledWifi:
				color.Yellow("WiFi join was cancelled. Run again or press enter to retry.")

			case models.StateNoMediaOnGlasses:
				remoteCount, localCount := gallery.Counts()
				if remoteCount == 0 && localCount > 0 {
					color.Green("Nothing new on the glasses. %d items in the local gallery.", localCount)
				}
			}
		}
	}
}

// promptConnect asks before opening the glasses' hotspot, since that
// interrupts whatever the glasses are doing and costs battery.
func promptConnect(ctx context.Context) bool {
	if flagAutoConnect {
		return true
	}

	var confirmed bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Media found on your glasses").
			Description("Open their hotspot and download it now?").
			Value(&confirmed),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return false
	}
	return confirmed
}

func reportProgress(ctx context.Context, gallery *view.Gallery) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := gallery.Progress()
			if p == nil {
				return
			}
			fmt.Printf("\r  [%d/%d] %s %3d%%   ", p.CurrentIndex+1, p.Total, p.FileName, p.FileProgress)
		}
	}
}

func printSummary(ctx context.Context, gallery *view.Gallery, photoStore *store.PhotoStore) {
	fmt.Println()
	state, err := photoStore.GetSyncState(ctx)
	if err != nil {
		color.Red("Sync finished, but reading the cursor failed: %v", err)
		return
	}

	_, localCount := gallery.Counts()
	color.Green("Sync complete.")
	fmt.Printf("  Local gallery:    %d items\n", localCount)
	fmt.Printf("  Total downloaded: %s in %s\n",
		humanize.Comma(state.TotalDownloaded), humanize.Bytes(uint64(state.TotalSize)))
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	db, err := store.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	storage, err := media.NewStorage(cfg.MediaStorage.BasePath, cfg.MediaStorage.AllowedExtensions, cfg.MediaStorage.MaxFileSizeMB)
	if err != nil {
		return fmt.Errorf("init media storage: %w", err)
	}
	photoStore := store.NewPhotoStore(db, storage)

	ctx := context.Background()
	photos, err := photoStore.ListDownloaded(ctx)
	if err != nil {
		return fmt.Errorf("list gallery: %w", err)
	}
	state, err := photoStore.GetSyncState(ctx)
	if err != nil {
		return fmt.Errorf("read sync cursor: %w", err)
	}

	var videos int
	var bytes int64
	for _, p := range photos {
		if p.IsVideo {
			videos++
		}
		bytes += p.FileSize
	}

	color.Cyan("Gallery at %s", cfg.MediaStorage.BasePath)
	fmt.Printf("  Items:      %d (%d videos), %s on disk\n", len(photos), videos, humanize.Bytes(uint64(bytes)))
	fmt.Printf("  Client ID:  %s\n", state.ClientID)
	if state.LastSyncTime > 0 {
		fmt.Printf("  Last sync:  %s\n", humanize.Time(time.UnixMilli(state.LastSyncTime)))
	} else {
		fmt.Println("  Last sync:  never")
	}
	fmt.Printf("  Lifetime:   %s files, %s\n",
		humanize.Comma(state.TotalDownloaded), humanize.Bytes(uint64(state.TotalSize)))
	return nil
}

func setupLogging(cfg *config.Config) *observability.Logger {
	logger := observability.GetLogger()
	if cfg.Logging.Level != "" {
		logger.SetLevel(observability.ParseLevel(cfg.Logging.Level))
	}
	if cfg.Logging.File != "" {
		logger.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
	}
	return logger
}

// consoleNotifier surfaces orchestrator alerts on the terminal.
type consoleNotifier struct{}

func (consoleNotifier) Alert(title, message string) {
	color.Red("%s: %s", title, message)
}
