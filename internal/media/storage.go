package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glasssync/gallery/internal/models"
)

// Storage writes downloaded media into a Year/Month tree under a base path.
// Paths handed back (and accepted) are relative, forward-slashed.
type Storage struct {
	basePath          string
	allowedExtensions map[string]bool
	maxFileSizeBytes  int64
}

// NewStorage creates a new Storage rooted at basePath
func NewStorage(basePath string, allowedExtensions []string, maxFileSizeMB int64) (*Storage, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, err
	}

	extSet := make(map[string]bool)
	if len(allowedExtensions) == 0 {
		for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic", ".heif", ".mp4", ".mov"} {
			extSet[strings.ToLower(ext)] = true
		}
	} else {
		for _, ext := range allowedExtensions {
			extSet[strings.ToLower(ext)] = true
		}
	}

	return &Storage{
		basePath:          absPath,
		allowedExtensions: extSet,
		maxFileSizeBytes:  maxFileSizeMB * 1024 * 1024,
	}, nil
}

// Store saves a file and returns the relative storage path. taken determines
// the Year/Month folder; size is the expected byte count (0 when unknown).
func (s *Storage) Store(reader io.Reader, filename string, taken time.Time, size int64) (string, error) {
	if s.maxFileSizeBytes > 0 && size > s.maxFileSizeBytes {
		return "", models.ErrFileTooLarge
	}

	sanitized := models.SanitizeFilename(filename)
	ext := strings.ToLower(filepath.Ext(sanitized))
	if !s.allowedExtensions[ext] {
		return "", models.ErrInvalidExtension
	}

	relativeFolder := filepath.Join(taken.Format("2006"), taken.Format("01"))
	absoluteFolder := filepath.Join(s.basePath, relativeFolder)
	if err := os.MkdirAll(absoluteFolder, 0755); err != nil {
		return "", err
	}

	unique := uniqueFilename(sanitized, absoluteFolder)
	relativePath := filepath.Join(relativeFolder, unique)
	absolutePath := filepath.Join(s.basePath, relativePath)

	if !s.contains(absolutePath) {
		return "", models.ErrPathTraversal
	}

	file, err := os.OpenFile(absolutePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		os.Remove(absolutePath)
		return "", err
	}

	return strings.ReplaceAll(relativePath, string(os.PathSeparator), "/"), nil
}

// Delete removes a file by its stored path
func (s *Storage) Delete(storedPath string) bool {
	if strings.TrimSpace(storedPath) == "" {
		return false
	}

	fullPath, err := s.FullPath(storedPath)
	if err != nil {
		return false
	}

	return os.Remove(fullPath) == nil
}

// FullPath returns the absolute path for a stored path
func (s *Storage) FullPath(storedPath string) (string, error) {
	if strings.TrimSpace(storedPath) == "" {
		return "", fmt.Errorf("stored path cannot be empty")
	}

	fullPath := filepath.Join(s.basePath, filepath.FromSlash(storedPath))

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", err
	}
	if !s.contains(absPath) {
		return "", models.ErrPathTraversal
	}

	return absPath, nil
}

// contains reports whether absPath lies under the storage root. A plain prefix
// match would also accept sibling directories like <base>-other.
func (s *Storage) contains(absPath string) bool {
	return absPath == s.basePath || strings.HasPrefix(absPath, s.basePath+string(os.PathSeparator))
}

// Exists checks if a file exists at the given stored path
func (s *Storage) Exists(storedPath string) bool {
	fullPath, err := s.FullPath(storedPath)
	if err != nil {
		return false
	}

	_, err = os.Stat(fullPath)
	return err == nil
}

// BasePath returns the storage root.
func (s *Storage) BasePath() string {
	return s.basePath
}

// uniqueFilename creates a unique filename if a collision exists
func uniqueFilename(filename, folderPath string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	ext := filepath.Ext(filename)
	candidate := filename
	counter := 1

	for {
		fullPath := filepath.Join(folderPath, candidate)
		if _, err := os.Stat(fullPath); os.IsNotExist(err) {
			break
		}

		candidate = fmt.Sprintf("%s_%03d%s", base, counter, ext)
		counter++

		if counter > 9999 {
			candidate = fmt.Sprintf("%s_%d%s", base, time.Now().UnixNano(), ext)
			break
		}
	}

	return candidate
}
