package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Device       Device       `json:"device"`
	MediaStorage MediaStorage `json:"mediaStorage"`
	DatabasePath string       `json:"databasePath"`
	Sync         Sync         `json:"sync"`
	AutoSave     AutoSave     `json:"autoSave"`
	Logging      Logging      `json:"logging"`
}

// Device describes how to reach the paired glasses.
type Device struct {
	CommandURL    string `json:"commandUrl"`    // WebSocket command channel, e.g. ws://192.168.1.20:8081/ws
	MediaPort     int    `json:"mediaPort"`     // on-device media server port, same on direct WiFi and hotspot
	DirectHost    string `json:"directHost"`    // media server host on the direct WiFi path, may be empty
	WifiInterface string `json:"wifiInterface"` // host WiFi interface used for hotspot joins
}

// MediaStorage configuration
type MediaStorage struct {
	BasePath          string   `json:"basePath"`
	MaxFileSizeMB     int64    `json:"maxFileSizeMB"`
	AllowedExtensions []string `json:"allowedExtensions"`
}

// Sync tuning knobs. The defaults mirror the timing the glasses need: the
// hotspot takes a moment to become discoverable, and the media server a moment
// to accept connections after association.
type Sync struct {
	PageSize         int `json:"pageSize"`
	HotspotSettleMs  int `json:"hotspotSettleMs"`
	ConnectSettleMs  int `json:"connectSettleMs"`
	RateLimitRetryMs int `json:"rateLimitRetryMs"`
	CompleteResetMs  int `json:"completeResetMs"`
	ProgressClearMs  int `json:"progressClearMs"`
}

// AutoSave configures the post-sync export of downloaded media.
type AutoSave struct {
	Enabled   bool   `json:"enabled"`
	Target    string `json:"target"` // "cameraroll" or "s3"
	Directory string `json:"directory"`
	S3        S3     `json:"s3"`
}

// S3 holds the optional S3 mirror settings.
type S3 struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	KeyPrefix       string `json:"keyPrefix"`
}

// Logging configuration
type Logging struct {
	Level      string `json:"level"`
	File       string `json:"file"` // empty logs to stdout
	MaxSizeMB  int    `json:"maxSizeMb"`
	MaxBackups int    `json:"maxBackups"`
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		Device: Device{
			CommandURL:    "ws://192.168.2.1:8081/ws",
			MediaPort:     8089,
			WifiInterface: "wlan0",
		},
		MediaStorage: MediaStorage{
			BasePath:      "./gallery",
			MaxFileSizeMB: 500,
			AllowedExtensions: []string{
				".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic", ".heif", ".mp4", ".mov",
			},
		},
		DatabasePath: "gallery.db",
		Sync: Sync{
			PageSize:         30,
			HotspotSettleMs:  3000,
			ConnectSettleMs:  1500,
			RateLimitRetryMs: 5000,
			CompleteResetMs:  2000,
			ProgressClearMs:  1500,
		},
		AutoSave: AutoSave{
			Enabled:   false,
			Target:    "cameraroll",
			Directory: "",
		},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if url := os.Getenv("DEVICE_COMMAND_URL"); url != "" {
		cfg.Device.CommandURL = url
	}
	if host := os.Getenv("DEVICE_DIRECT_HOST"); host != "" {
		cfg.Device.DirectHost = host
	}
	if port := os.Getenv("DEVICE_MEDIA_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			cfg.Device.MediaPort = p
		}
	}
	if basePath := os.Getenv("MEDIA_STORAGE_PATH"); basePath != "" {
		cfg.MediaStorage.BasePath = basePath
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if autoSave := os.Getenv("AUTO_SAVE_ENABLED"); autoSave != "" {
		cfg.AutoSave.Enabled = autoSave == "true" || autoSave == "1"
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	// Ensure media storage directory exists
	if err := os.MkdirAll(cfg.MediaStorage.BasePath, 0755); err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(cfg.MediaStorage.BasePath)
	if err != nil {
		return nil, err
	}
	cfg.MediaStorage.BasePath = absPath

	return cfg, nil
}

// HotspotSettle returns the delay before joining a freshly announced hotspot.
func (s Sync) HotspotSettle() time.Duration { return time.Duration(s.HotspotSettleMs) * time.Millisecond }

// ConnectSettle returns the delay between association and the first listing.
func (s Sync) ConnectSettle() time.Duration { return time.Duration(s.ConnectSettleMs) * time.Millisecond }

// RateLimitRetry returns the backoff before the single automatic 429 retry.
func (s Sync) RateLimitRetry() time.Duration {
	return time.Duration(s.RateLimitRetryMs) * time.Millisecond
}

// CompleteReset returns how long SYNC_COMPLETE stays visible.
func (s Sync) CompleteReset() time.Duration {
	return time.Duration(s.CompleteResetMs) * time.Millisecond
}

// ProgressClear returns how long terminal per-file progress stays visible.
func (s Sync) ProgressClear() time.Duration {
	return time.Duration(s.ProgressClearMs) * time.Millisecond
}
