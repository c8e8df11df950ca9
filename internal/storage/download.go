package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meltforce/cast2md/internal/logger"
	"github.com/meltforce/cast2md/internal/ports"
)

// HTTPDownloader implements ports.Downloader over a plain net/http client,
// streaming the response body straight to the destination writer so a large
// episode's audio never has to fit in memory at once.
type HTTPDownloader struct {
	log    *logger.Logger
	client *http.Client
}

var _ ports.Downloader = (*HTTPDownloader)(nil)

func NewHTTPDownloader(baseLog *logger.Logger, timeout time.Duration) *HTTPDownloader {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &HTTPDownloader{
		log:    baseLog.With("component", "storage.HTTPDownloader"),
		client: &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDownloader) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("storage: build download request: %w", err)
	}
	req.Header.Set("User-Agent", "cast2md/1.0 (+podcast transcription job engine)")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("storage: download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("storage: download %s: http %d", url, resp.StatusCode)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("storage: copy download body: %w", err)
	}
	return n, nil
}
