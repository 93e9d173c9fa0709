package models

import "time"

// SyncState is the durable per-pairing sync cursor. It is created on the first
// sync, updated only after a sync round completes, and never rolled back.
type SyncState struct {
	ClientID        string    `json:"clientId"`
	LastSyncTime    int64     `json:"lastSyncTime"` // server-reported epoch millis watermark
	TotalDownloaded int64     `json:"totalDownloaded"`
	TotalSize       int64     `json:"totalSize"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// SyncStateUpdate is a partial update. Nil fields are left unchanged. The
// counters are monotonically non-decreasing; the store rejects regressions.
type SyncStateUpdate struct {
	LastSyncTime    *int64
	TotalDownloaded *int64
	TotalSize       *int64
}

// PhotoSyncStatus is the lifecycle of one in-flight transfer.
type PhotoSyncStatus string

const (
	PhotoSyncPending     PhotoSyncStatus = "pending"
	PhotoSyncDownloading PhotoSyncStatus = "downloading"
	PhotoSyncCompleted   PhotoSyncStatus = "completed"
	PhotoSyncFailed      PhotoSyncStatus = "failed"
)

// Terminal reports whether the status will not change again.
func (s PhotoSyncStatus) Terminal() bool {
	return s == PhotoSyncCompleted || s == PhotoSyncFailed
}

// PhotoSyncState tracks one file of the current sync batch. Entries are
// created when the batch starts and cleared a short display interval after
// reaching a terminal status.
type PhotoSyncState struct {
	Status   PhotoSyncStatus `json:"status"`
	Progress int             `json:"progress"` // 0-100
}
