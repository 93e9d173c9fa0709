package models

// GalleryState is the single active state of a gallery session. It is held in
// memory by the sync orchestrator and never persisted.
type GalleryState int

const (
	StateInitializing GalleryState = iota
	StateQueryingGlasses
	StateNoMediaOnGlasses
	StateMediaAvailable
	StateRequestingHotspot
	StateWaitingForWifiPrompt
	StateConnectingToHotspot
	StateUserCancelledWifi
	StateConnectedLoading
	StateReadyToSync
	StateSyncing
	StateSyncComplete
	StateError
)

func (s GalleryState) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateQueryingGlasses:
		return "QUERYING_GLASSES"
	case StateNoMediaOnGlasses:
		return "NO_MEDIA_ON_GLASSES"
	case StateMediaAvailable:
		return "MEDIA_AVAILABLE"
	case StateRequestingHotspot:
		return "REQUESTING_HOTSPOT"
	case StateWaitingForWifiPrompt:
		return "WAITING_FOR_WIFI_PROMPT"
	case StateConnectingToHotspot:
		return "CONNECTING_TO_HOTSPOT"
	case StateUserCancelledWifi:
		return "USER_CANCELLED_WIFI"
	case StateConnectedLoading:
		return "CONNECTED_LOADING"
	case StateReadyToSync:
		return "READY_TO_SYNC"
	case StateSyncing:
		return "SYNCING"
	case StateSyncComplete:
		return "SYNC_COMPLETE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ConnectionInProgress reports whether a hotspot connection attempt or sync is
// currently active. While true, a stale gallery status event must not downgrade
// the session back to MEDIA_AVAILABLE.
func (s GalleryState) ConnectionInProgress() bool {
	switch s {
	case StateRequestingHotspot,
		StateWaitingForWifiPrompt,
		StateConnectingToHotspot,
		StateConnectedLoading,
		StateReadyToSync,
		StateSyncing:
		return true
	default:
		return false
	}
}

// Tappable reports whether the state accepts a user-initiated connect action.
func (s GalleryState) Tappable() bool {
	return s == StateMediaAvailable || s == StateUserCancelledWifi
}
