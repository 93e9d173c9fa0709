package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glasssync/gallery/internal/models"
)

type fakeSource struct {
	state       models.GalleryState
	remote      []models.RemotePhoto
	local       []models.PhotoRecord
	total       int
	transfers   map[string]models.PhotoSyncState
	progress    *models.DownloadProgress
	visibleReqs []int
}

func (f *fakeSource) State() models.GalleryState { return f.state }

func (f *fakeSource) RemotePhotos() []models.RemotePhoto { return f.remote }

func (f *fakeSource) LocalPhotos() []models.PhotoRecord { return f.local }

func (f *fakeSource) TotalRemote() int { return f.total }

func (f *fakeSource) SyncStates() map[string]models.PhotoSyncState { return f.transfers }

func (f *fakeSource) Progress() *models.DownloadProgress { return f.progress }

func (f *fakeSource) EnsureVisible(index int) { f.visibleReqs = append(f.visibleReqs, index) }

func ts(offset int) *time.Time {
	t := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(offset) * time.Hour)
	return &t
}

func TestGallery_Items(t *testing.T) {
	t.Run("remote first in device order, then local newest first", func(t *testing.T) {
		src := &fakeSource{
			remote: []models.RemotePhoto{
				{Name: "ON_DEVICE_1.jpg", Index: 0},
				{Name: "ON_DEVICE_2.jpg", Index: 1},
			},
			local: []models.PhotoRecord{
				{Name: "LOCAL_NEW.jpg", LocalPath: "2026/08/LOCAL_NEW.jpg", DownloadedAt: ts(2)},
				{Name: "LOCAL_OLD.jpg", LocalPath: "2026/07/LOCAL_OLD.jpg", DownloadedAt: ts(0)},
			},
			total: 2,
		}
		g := NewGallery(src)

		items := g.Items()
		require.Len(t, items, 4)
		assert.Equal(t, "ON_DEVICE_1.jpg", items[0].Name)
		assert.Equal(t, "ON_DEVICE_2.jpg", items[1].Name)
		assert.Equal(t, "LOCAL_NEW.jpg", items[2].Name)
		assert.Equal(t, "LOCAL_OLD.jpg", items[3].Name)

		assert.True(t, items[0].OnGlasses())
		assert.False(t, items[0].Downloaded())
		assert.True(t, items[2].Downloaded())
		assert.False(t, items[2].OnGlasses())
	})

	t.Run("file on both sides appears once", func(t *testing.T) {
		src := &fakeSource{
			remote: []models.RemotePhoto{{Name: "BOTH.jpg", Index: 0}},
			local: []models.PhotoRecord{
				{Name: "BOTH.jpg", LocalPath: "2026/08/BOTH.jpg", DownloadedAt: ts(0)},
			},
			total: 1,
		}
		g := NewGallery(src)

		items := g.Items()
		require.Len(t, items, 1)
		assert.True(t, items[0].OnGlasses())
		assert.True(t, items[0].Downloaded())
	})

	t.Run("transfer state rides along", func(t *testing.T) {
		src := &fakeSource{
			remote: []models.RemotePhoto{
				{Name: "DOWNLOADING.jpg", Index: 0},
				{Name: "WAITING.jpg", Index: 1},
			},
			transfers: map[string]models.PhotoSyncState{
				"DOWNLOADING.jpg": {Status: models.PhotoSyncDownloading, Progress: 40},
				"WAITING.jpg":     {Status: models.PhotoSyncPending},
			},
			total: 2,
		}
		g := NewGallery(src)

		items := g.Items()
		require.Len(t, items, 2)
		require.NotNil(t, items[0].Transfer)
		assert.Equal(t, models.PhotoSyncDownloading, items[0].Transfer.Status)
		assert.Equal(t, 40, items[0].Transfer.Progress)
		assert.Equal(t, models.PhotoSyncPending, items[1].Transfer.Status)
	})

	t.Run("downloading file beyond the loaded pages gets a placeholder", func(t *testing.T) {
		src := &fakeSource{
			remote: []models.RemotePhoto{{Name: "IMG_0001.jpg", Index: 0}},
			transfers: map[string]models.PhotoSyncState{
				"IMG_0031.jpg": {Status: models.PhotoSyncDownloading, Progress: 25},
				"IMG_0032.jpg": {Status: models.PhotoSyncPending},
			},
			total: 40,
		}
		g := NewGallery(src)

		items := g.Items()
		require.Len(t, items, 3)
		assert.Equal(t, "IMG_0031.jpg", items[1].Name)
		assert.False(t, items[1].OnGlasses())
		assert.False(t, items[1].Downloaded())
		require.NotNil(t, items[1].Transfer)
		assert.Equal(t, models.PhotoSyncDownloading, items[1].Transfer.Status)
		assert.Equal(t, "IMG_0032.jpg", items[2].Name)
	})

	t.Run("empty everywhere", func(t *testing.T) {
		g := NewGallery(&fakeSource{})
		assert.Empty(t, g.Items())
	})
}

func TestGallery_Counts(t *testing.T) {
	src := &fakeSource{
		remote: []models.RemotePhoto{{Name: "A.jpg"}},
		local:  []models.PhotoRecord{{Name: "B.jpg", LocalPath: "x"}},
		// Device reports more media than the pages loaded so far
		total: 120,
	}
	g := NewGallery(src)

	remote, local := g.Counts()
	assert.Equal(t, 120, remote)
	assert.Equal(t, 1, local)
}

func TestGallery_EnsureVisible(t *testing.T) {
	src := &fakeSource{}
	g := NewGallery(src)

	g.EnsureVisible(42)
	g.EnsureVisible(90)
	assert.Equal(t, []int{42, 90}, src.visibleReqs)
}
