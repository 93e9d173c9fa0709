package view

import (
	"sort"

	"github.com/glasssync/gallery/internal/models"
)

// Source is the session snapshot the view renders from.
type Source interface {
	State() models.GalleryState
	RemotePhotos() []models.RemotePhoto
	LocalPhotos() []models.PhotoRecord
	TotalRemote() int
	SyncStates() map[string]models.PhotoSyncState
	Progress() *models.DownloadProgress
	EnsureVisible(index int)
}

// Item is one gallery tile: server-resident, downloaded, or both. A file being
// downloaded carries its transfer state.
type Item struct {
	Name     string
	IsVideo  bool
	Remote   *models.RemotePhoto
	Local    *models.PhotoRecord
	Transfer *models.PhotoSyncState
}

// OnGlasses reports whether the item still lives on the glasses.
func (i Item) OnGlasses() bool { return i.Remote != nil }

// Downloaded reports whether the item has a local copy.
func (i Item) Downloaded() bool { return i.Local != nil }

// Gallery merges the remote listing and the local store into the single list
// the gallery screen shows: device media first in device order, then
// local-only media, newest first. A file present on both sides appears once.
type Gallery struct {
	source Source
}

// NewGallery creates a view over a session snapshot source.
func NewGallery(source Source) *Gallery {
	return &Gallery{source: source}
}

// State returns the current session state for the gallery banner.
func (g *Gallery) State() models.GalleryState {
	return g.source.State()
}

// Items returns the merged gallery list.
func (g *Gallery) Items() []Item {
	remote := g.source.RemotePhotos()
	local := g.source.LocalPhotos()
	transfers := g.source.SyncStates()

	localByName := make(map[string]*models.PhotoRecord, len(local))
	for i := range local {
		localByName[local[i].Name] = &local[i]
	}

	items := make([]Item, 0, len(remote)+len(local))
	seen := make(map[string]bool, len(remote))

	for i := range remote {
		rp := &remote[i]
		item := Item{
			Name:    rp.Name,
			IsVideo: rp.IsVideo,
			Remote:  rp,
			Local:   localByName[rp.Name],
		}
		if st, ok := transfers[rp.Name]; ok {
			item.Transfer = &st
		}
		items = append(items, item)
		seen[rp.Name] = true
	}

	// Local photos come back newest first from the store.
	for i := range local {
		lp := &local[i]
		if seen[lp.Name] {
			continue
		}
		item := Item{
			Name:    lp.Name,
			IsVideo: lp.IsVideo,
			Local:   lp,
		}
		if st, ok := transfers[lp.Name]; ok {
			item.Transfer = &st
		}
		items = append(items, item)
		seen[lp.Name] = true
	}

	// A file from an unloaded listing page can be mid-download with neither a
	// remote nor a local entry yet; it still gets a placeholder tile.
	var pending []string
	for name := range transfers {
		if !seen[name] {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)
	for _, name := range pending {
		st := transfers[name]
		items = append(items, Item{Name: name, Transfer: &st})
	}

	return items
}

// Counts returns how many items are on the glasses and how many are local.
// The remote count uses the device-reported total, which can exceed the number
// of listing entries loaded so far.
func (g *Gallery) Counts() (remote, local int) {
	return g.source.TotalRemote(), len(g.source.LocalPhotos())
}

// Progress returns the overall batch position and the current file, or nil
// when no download is running.
func (g *Gallery) Progress() *models.DownloadProgress {
	return g.source.Progress()
}

// EnsureVisible tells the session which item index the user scrolled to so the
// listing page containing it gets loaded.
func (g *Gallery) EnsureVisible(index int) {
	g.source.EnsureVisible(index)
}
