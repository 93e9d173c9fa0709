package sync

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/glasssync/gallery/internal/media"
	"github.com/glasssync/gallery/internal/models"
)

// downloadSink persists one downloaded file: media file on disk, thumbnail
// beside it, record in the store. Only when all of that succeeded does the
// batch downloader count the file and delete it from the glasses.
type downloadSink struct {
	o *Orchestrator
}

func (s *downloadSink) Persist(ctx context.Context, photo models.RemotePhoto, body io.Reader) error {
	o := s.o

	taken := time.Now()
	if photo.Modified > 0 {
		taken = time.UnixMilli(photo.Modified)
	}

	var storedPath, thumbPath string
	size := photo.Size

	if media.IsSupportedImage(photo.Name) {
		// Images are buffered so EXIF and thumbnail generation can reuse the
		// bytes; videos stream straight to disk below.
		data, err := io.ReadAll(body)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			size = int64(len(data))
		}
		if exifTaken, ok := media.DateTaken(data); ok {
			taken = exifTaken
		}

		storedPath, err = o.media.Store(bytes.NewReader(data), photo.Name, taken, size)
		if err != nil {
			return err
		}

		if o.opts.Thumbnailer != nil {
			thumbPath, err = o.opts.Thumbnailer.Generate(data, storedPath, media.Orientation(data))
			if err != nil {
				// Gallery falls back to the full image when no thumbnail exists.
				o.logger.Warnf("Thumbnail generation for %s failed: %v", photo.Name, err)
				thumbPath = ""
			}
		}
	} else {
		var err error
		storedPath, err = o.media.Store(body, photo.Name, taken, size)
		if err != nil {
			return err
		}
	}

	rec := &models.PhotoRecord{
		Name:          photo.Name,
		IsVideo:       photo.IsVideo,
		LocalPath:     storedPath,
		ThumbnailPath: thumbPath,
		MimeType:      photo.MimeType,
		FileSize:      size,
	}
	if err := o.store.Save(ctx, rec); err != nil {
		// Without the record the file would be invisible and never cleaned
		// up, so treat this as a failed download and keep the file remote.
		o.media.Delete(storedPath)
		if thumbPath != "" {
			o.media.Delete(thumbPath)
		}
		return err
	}

	return nil
}
