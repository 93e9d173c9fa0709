package models

// RemotePhoto is one entry of the glasses' media server listing.
type RemotePhoto struct {
	Name         string `json:"name"`
	Index        int    `json:"index"`
	IsVideo      bool   `json:"isVideo"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimeType,omitempty"`
	Modified     int64  `json:"modified"` // epoch millis
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// PhotoListing is the response to GET /photos.
type PhotoListing struct {
	TotalCount int           `json:"totalCount"`
	Photos     []RemotePhoto `json:"photos"`
}

// SyncRequest is the body of POST /sync. LastSyncTime echoes the server-time
// watermark from the previous delta verbatim; the host clock never substitutes.
type SyncRequest struct {
	ClientID          string `json:"clientId"`
	LastSyncTime      int64  `json:"lastSyncTime"`
	IncludeThumbnails bool   `json:"includeThumbnails"`
}

// SyncDelta is the response to POST /sync: files changed since the watermark.
type SyncDelta struct {
	ServerTime   int64         `json:"serverTime"`
	ChangedFiles []RemotePhoto `json:"changedFiles"`
}

// DeleteFilesRequest is the body of DELETE /photos.
type DeleteFilesRequest struct {
	Names []string `json:"names"`
}

// DeleteResult reports a batch delete, possibly partial.
type DeleteResult struct {
	Deleted []string `json:"deleted"`
	Failed  []string `json:"failed"`
}

// BatchResult summarizes one sequential batch download.
type BatchResult struct {
	Downloaded []string
	Failed     []string
	TotalBytes int64
}

// DownloadProgress is reported once per progress tick of a batch download.
// Exactly one file is downloading at any time.
type DownloadProgress struct {
	CurrentIndex int    // 0-based position within the batch
	Total        int    // batch size
	FileName     string
	FileProgress int // 0-100
}

// ProgressFunc receives download progress ticks.
type ProgressFunc func(DownloadProgress)
