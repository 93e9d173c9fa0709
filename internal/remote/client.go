package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/glasssync/gallery/internal/models"
	"github.com/glasssync/gallery/internal/observability"
)

const (
	requestTimeout   = 30 * time.Second
	downloadTimeout  = 10 * time.Minute
	maxDownloadTries = 3
)

// StatusError is a non-2xx reply from the glasses' media server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("media server returned %d: %s", e.Code, e.Body)
}

// IsRateLimited reports whether err is an HTTP 429 from the media server.
func IsRateLimited(err error) bool {
	return statusCode(err) == http.StatusTooManyRequests
}

// IsBadRequest reports whether err is an HTTP 400 from the media server.
func IsBadRequest(err error) bool {
	return statusCode(err) == http.StatusBadRequest
}

func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// DownloadSink persists one downloaded file. The reader streams the file body;
// the sink owns reading it to completion.
type DownloadSink interface {
	Persist(ctx context.Context, photo models.RemotePhoto, body io.Reader) error
}

// BatchOptions tunes a sequential batch download.
type BatchOptions struct {
	// DeleteOnSuccess removes each file from the glasses immediately after it
	// was persisted, reclaiming space file by file.
	DeleteOnSuccess bool
}

// Client talks to the media server the glasses expose on their hotspot. The
// endpoint is not known at construction; it arrives with the hotspot gateway
// and is set before the first request.
type Client struct {
	port       int
	httpClient *http.Client
	downloader *http.Client
	logger     *observability.Logger

	mu      sync.RWMutex
	baseURL string
}

// NewClient creates a client that will talk to the given media server port.
func NewClient(port int) *Client {
	return &Client{
		port:       port,
		httpClient: &http.Client{Timeout: requestTimeout},
		downloader: &http.Client{Timeout: downloadTimeout},
		logger:     observability.GetLogger().WithField("component", "remote"),
	}
}

// SetEndpoint points the client at the media server reachable through host.
// An empty host clears the endpoint.
func (c *Client) SetEndpoint(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if host == "" {
		c.baseURL = ""
		return
	}
	c.baseURL = fmt.Sprintf("http://%s:%d", host, c.port)
}

// Endpoint returns the current base URL, empty when not connected.
func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// ListPhotos fetches one page of the gallery listing.
func (c *Client) ListPhotos(ctx context.Context, limit, offset int) (*models.PhotoListing, error) {
	base, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/photos?limit=%s&offset=%s", base,
		strconv.Itoa(limit), strconv.Itoa(offset))

	var listing models.PhotoListing
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// SyncDelta asks the media server which files changed since the watermark.
func (c *Client) SyncDelta(ctx context.Context, req models.SyncRequest) (*models.SyncDelta, error) {
	base, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	var delta models.SyncDelta
	if err := c.doJSON(ctx, http.MethodPost, base+"/sync", req, &delta); err != nil {
		return nil, err
	}
	return &delta, nil
}

// DeleteFiles removes files from the glasses. A partial failure is reported in
// the result, not as an error.
func (c *Client) DeleteFiles(ctx context.Context, names []string) (*models.DeleteResult, error) {
	base, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	var result models.DeleteResult
	if err := c.doJSON(ctx, http.MethodDelete, base+"/photos", models.DeleteFilesRequest{Names: names}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BatchDownload fetches files strictly one at a time. Each file that persists
// successfully is counted (and optionally deleted from the glasses) before the
// next begins; a failed file is skipped and left on the device. The error
// return covers only setup failures, not per-file ones.
func (c *Client) BatchDownload(ctx context.Context, files []models.RemotePhoto, opts BatchOptions, sink DownloadSink, progress models.ProgressFunc) (*models.BatchResult, error) {
	if _, err := c.endpoint(); err != nil {
		return nil, err
	}

	ctx, span := observability.StartDeviceSpan(ctx, "batch_download")
	defer span.End()

	result := &models.BatchResult{}
	for i, photo := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if progress != nil {
			progress(models.DownloadProgress{
				CurrentIndex: i,
				Total:        len(files),
				FileName:     photo.Name,
				FileProgress: 0,
			})
		}

		size, err := c.downloadOne(ctx, i, len(files), photo, sink, progress)
		if err != nil {
			c.logger.Warnf("Download of %s failed, leaving it on device: %v", photo.Name, err)
			result.Failed = append(result.Failed, photo.Name)
			continue
		}

		result.Downloaded = append(result.Downloaded, photo.Name)
		result.TotalBytes += size

		if progress != nil {
			progress(models.DownloadProgress{
				CurrentIndex: i,
				Total:        len(files),
				FileName:     photo.Name,
				FileProgress: 100,
			})
		}

		if opts.DeleteOnSuccess {
			if _, err := c.DeleteFiles(ctx, []string{photo.Name}); err != nil {
				// The local copy is safe; the next delta will offer the file
				// again and dedup happens by name.
				c.logger.Warnf("Failed to delete %s from device: %v", photo.Name, err)
			}
		}
	}

	span.SetAttributes(
		attribute.Int("download.succeeded", len(result.Downloaded)),
		attribute.Int("download.failed", len(result.Failed)),
		attribute.Int64("download.bytes", result.TotalBytes),
	)
	observability.SetSuccess(span)
	return result, nil
}

// downloadOne fetches a single file with bounded retries on transport errors.
// Server-side rejections are not retried.
func (c *Client) downloadOne(ctx context.Context, index, total int, photo models.RemotePhoto, sink DownloadSink, progress models.ProgressFunc) (int64, error) {
	u, err := c.resolveURL(photo.URL)
	if err != nil {
		return 0, err
	}

	operation := func() (int64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return 0, backoff.Permanent(err)
		}

		resp, err := c.downloader.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return 0, backoff.Permanent(&StatusError{Code: resp.StatusCode, Body: string(body)})
		}

		size := photo.Size
		if size == 0 {
			size = resp.ContentLength
		}

		counter := &progressReader{
			reader: resp.Body,
			total:  size,
			report: func(pct int) {
				if progress != nil {
					progress(models.DownloadProgress{
						CurrentIndex: index,
						Total:        total,
						FileName:     photo.Name,
						FileProgress: pct,
					})
				}
			},
		}

		if err := sink.Persist(ctx, photo, counter); err != nil {
			return 0, backoff.Permanent(err)
		}
		return counter.read, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxDownloadTries))
}

func (c *Client) endpoint() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.baseURL == "" {
		return "", models.ErrDeviceNotConnected
	}
	return c.baseURL, nil
}

// resolveURL accepts both absolute URLs and server-relative paths in listings.
func (c *Client) resolveURL(raw string) (string, error) {
	base, err := c.endpoint()
	if err != nil {
		return "", err
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.IsAbs() {
		return raw, nil
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(parsed).String(), nil
}

func (c *Client) doJSON(ctx context.Context, method, u string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// progressReader reports percentage milestones while a body streams through.
type progressReader struct {
	reader  io.Reader
	total   int64
	read    int64
	lastPct int
	report  func(pct int)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)
	p.read += int64(n)

	if p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct > 99 {
			pct = 99 // 100 is reported only after the sink persisted the file
		}
		if pct >= p.lastPct+5 {
			p.lastPct = pct
			p.report(pct)
		}
	}
	return n, err
}
