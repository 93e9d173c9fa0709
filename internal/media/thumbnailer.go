package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
)

const (
	thumbMaxDim  = 500
	thumbQuality = 85
)

// Thumbnailer generates the gallery thumbnail for a downloaded photo. The
// thumbnail lives in a .thumbs directory next to the photo.
type Thumbnailer struct {
	basePath string
}

// NewThumbnailer creates a new Thumbnailer rooted at the storage base path
func NewThumbnailer(basePath string) *Thumbnailer {
	return &Thumbnailer{basePath: basePath}
}

// Generate creates a thumbnail for imageData and returns its relative path.
// storedPath is the photo's relative storage path; orientation is the EXIF
// orientation value (1 when unknown).
func (t *Thumbnailer) Generate(imageData []byte, storedPath string, orientation int) (string, error) {
	var img image.Image
	var err error

	if IsHEIC(storedPath) {
		img, err = goheif.Decode(bytes.NewReader(imageData))
		if err != nil {
			return "", fmt.Errorf("failed to decode HEIC image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return "", fmt.Errorf("failed to decode image: %w", err)
		}
	}

	img = applyOrientation(img, orientation)

	thumbDir := filepath.Join(filepath.Dir(filepath.FromSlash(storedPath)), ".thumbs")
	if err := os.MkdirAll(filepath.Join(t.basePath, thumbDir), 0755); err != nil {
		return "", fmt.Errorf("failed to create thumbnail directory: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var newWidth, newHeight int
	if width > height {
		if width > thumbMaxDim {
			newWidth = thumbMaxDim
			newHeight = height * thumbMaxDim / width
		} else {
			newWidth, newHeight = width, height
		}
	} else {
		if height > thumbMaxDim {
			newHeight = thumbMaxDim
			newWidth = width * thumbMaxDim / height
		} else {
			newWidth, newHeight = width, height
		}
	}

	resized := imaging.Resize(img, newWidth, newHeight, imaging.Lanczos)

	name := filepath.Base(filepath.FromSlash(storedPath))
	name = strings.TrimSuffix(name, filepath.Ext(name)) + "_thumb.jpg"
	relativePath := filepath.Join(thumbDir, name)
	fullPath := filepath.Join(t.basePath, relativePath)

	out, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create thumbnail file: %w", err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, resized, &jpeg.Options{Quality: thumbQuality}); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return strings.ReplaceAll(relativePath, string(os.PathSeparator), "/"), nil
}

// FromFile generates a thumbnail from an already stored photo.
func (t *Thumbnailer) FromFile(storedPath string) (string, error) {
	fullPath := filepath.Join(t.basePath, filepath.FromSlash(storedPath))

	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return "", fmt.Errorf("file not found: %s", storedPath)
	}
	if !IsSupportedImage(storedPath) {
		return "", fmt.Errorf("unsupported format: %s", storedPath)
	}

	imageData, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	return t.Generate(imageData, storedPath, Orientation(imageData))
}

// applyOrientation corrects image orientation based on EXIF data
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Rotate270(imaging.FlipH(img))
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Rotate90(imaging.FlipH(img))
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// IsSupportedImage checks if the extension is supported for thumbnail generation
func IsSupportedImage(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	supported := map[string]bool{
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".gif":  true,
		".webp": true,
		".heic": true,
		".heif": true,
	}
	return supported[ext]
}

// IsHEIC checks if the file is HEIC/HEIF format (requires special handling)
func IsHEIC(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".heic" || ext == ".heif"
}
