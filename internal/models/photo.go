package models

import (
	"path/filepath"
	"strings"
	"time"
)

// PhotoRecord represents one media item: remote-only (still on the glasses),
// local-only (downloaded, since deleted from the glasses), or both.
type PhotoRecord struct {
	Name          string     `json:"name"`
	IsVideo       bool       `json:"isVideo"`
	RemoteIndex   *int       `json:"remoteIndex,omitempty"`
	LocalPath     string     `json:"localPath,omitempty"`
	ThumbnailPath string     `json:"thumbnailPath,omitempty"`
	MimeType      string     `json:"mimeType,omitempty"`
	FileSize      int64      `json:"fileSize,omitempty"`
	DownloadedAt  *time.Time `json:"downloadedAt,omitempty"`
}

// IsDownloaded reports whether the record has a local copy.
func (r *PhotoRecord) IsDownloaded() bool {
	return r.LocalPath != ""
}

// IsOnGlasses reports whether the record is still server-resident.
func (r *PhotoRecord) IsOnGlasses() bool {
	return r.RemoteIndex != nil
}

// Valid reports whether the record is consistent. A record with neither a
// remote index nor a local path points at nothing and must be purged.
func (r *PhotoRecord) Valid() bool {
	return strings.TrimSpace(r.Name) != "" && (r.IsDownloaded() || r.IsOnGlasses())
}

// SanitizeFilename removes path components and invalid characters from a
// filename reported by the glasses before it is used on the host filesystem.
func SanitizeFilename(filename string) string {
	name := filepath.Base(filename)

	replacer := strings.NewReplacer(
		"..", "",
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	name = replacer.Replace(name)

	const maxLength = 200
	if len(name) > maxLength {
		ext := filepath.Ext(name)
		base := strings.TrimSuffix(name, ext)
		if len(base) > maxLength-len(ext) {
			base = base[:maxLength-len(ext)]
		}
		name = base + ext
	}

	return name
}

// GalleryError is a domain error value.
type GalleryError struct {
	Message string
}

func (e GalleryError) Error() string {
	return e.Message
}

var (
	ErrEmptyName           = GalleryError{"photo name cannot be empty"}
	ErrInvalidRecord       = GalleryError{"photo record has neither a remote index nor a local path"}
	ErrRecordNotFound      = GalleryError{"photo record not found"}
	ErrDeviceNotConnected  = GalleryError{"glasses are not connected"}
	ErrNoGalleryCapability = GalleryError{"connected glasses do not expose a gallery"}
	ErrInvalidExtension    = GalleryError{"file extension not allowed"}
	ErrFileTooLarge        = GalleryError{"file size exceeds maximum allowed"}
	ErrPathTraversal       = GalleryError{"invalid path - path traversal detected"}
	ErrSyncInProgress      = GalleryError{"a sync is already running"}
)

// CameraBusyError is returned when the glasses report that the camera is held
// by another activity (recording, streaming) and the gallery cannot be served.
type CameraBusyError struct {
	Activity string
}

func (e CameraBusyError) Error() string {
	return "camera busy: " + e.ActivityLabel()
}

// ActivityLabel returns the user-facing name of the conflicting activity.
func (e CameraBusyError) ActivityLabel() string {
	switch e.Activity {
	case "video", "recording":
		return "recording video"
	case "stream", "streaming":
		return "streaming"
	default:
		if e.Activity == "" {
			return "another camera activity"
		}
		return e.Activity
	}
}
