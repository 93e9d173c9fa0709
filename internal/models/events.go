package models

// DeviceEvent is the tagged union of glasses-originated events consumed by the
// sync orchestrator. Every event is applied against the current gallery state,
// never against a queued or expected one.
type DeviceEvent interface {
	deviceEvent()
}

// GalleryStatus is the glasses' reply to a gallery status query. It may arrive
// at any time after the query, including while a connection is in progress.
type GalleryStatus struct {
	Photos     int    `json:"photos"`
	Videos     int    `json:"videos"`
	Total      int    `json:"total"`
	HasContent bool   `json:"hasContent"`
	CameraBusy string `json:"cameraBusy,omitempty"` // "video", "stream", ... empty when free
}

// HotspotStatus is broadcast by the glasses when their WiFi hotspot changes
// state. When Enabled, SSID/Password/LocalIP describe the network to join.
type HotspotStatus struct {
	Enabled  bool   `json:"enabled"`
	SSID     string `json:"ssid,omitempty"`
	Password string `json:"password,omitempty"`
	LocalIP  string `json:"localIp,omitempty"`
}

// HotspotErrorEvent is broadcast when the glasses fail to bring the hotspot up.
type HotspotErrorEvent struct {
	Message string `json:"errorMessage"`
}

// DeviceReady is delivered once the glasses have announced themselves on the
// command channel and their capabilities are known.
type DeviceReady struct {
	Model     string `json:"model"`
	HasCamera bool   `json:"hasCamera"`
}

func (GalleryStatus) deviceEvent()     {}
func (HotspotStatus) deviceEvent()     {}
func (HotspotErrorEvent) deviceEvent() {}
func (DeviceReady) deviceEvent()       {}
