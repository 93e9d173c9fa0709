package media

import (
	"bytes"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Orientation extracts the EXIF orientation value, returning 1 (normal) when
// the data carries none.
func Orientation(imageData []byte) int {
	x, err := exif.Decode(bytes.NewReader(imageData))
	if err != nil {
		return 1
	}

	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}

	orientation, err := tag.Int(0)
	if err != nil || orientation < 1 || orientation > 8 {
		return 1
	}
	return orientation
}

// DateTaken extracts the capture time from EXIF data. The second return is
// false when no usable timestamp is present.
func DateTaken(imageData []byte) (time.Time, bool) {
	x, err := exif.Decode(bytes.NewReader(imageData))
	if err != nil {
		return time.Time{}, false
	}

	taken, err := x.DateTime()
	if err != nil {
		return time.Time{}, false
	}
	return taken, true
}
