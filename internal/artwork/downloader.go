// Package artwork fetches album art pushed with stream metadata and
// caches it on disk, keyed by URL.
package artwork

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Downloader caches artwork images under one directory. URLs map to
// stable file names, so a track that comes around again is a cache
// hit, not a refetch.
type Downloader struct {
	cacheDir    string
	currentPath string
	client      *http.Client
	log         *slog.Logger
}

// NewDownloader creates a downloader caching under dir. An empty dir
// selects a tactus-artwork directory in the system temp location.
func NewDownloader(dir string, log *slog.Logger) (*Downloader, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "tactus-artwork")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artwork: create cache directory: %w", err)
	}

	return &Downloader{
		cacheDir: dir,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      log,
	}, nil
}

// Download fetches url into the cache and returns the local path. An
// empty url clears nothing and returns an empty path.
func (d *Downloader) Download(url string) (string, error) {
	if url == "" {
		return "", nil
	}

	hash := sha256.Sum256([]byte(url))
	cachePath := filepath.Join(d.cacheDir, fmt.Sprintf("%x%s", hash[:8], extension(url)))

	if _, err := os.Stat(cachePath); err == nil {
		d.log.Debug("artwork cache hit", "path", cachePath)
		d.currentPath = cachePath
		return cachePath, nil
	}

	d.log.Debug("downloading artwork", "url", url)
	resp, err := d.client.Get(url)
	if err != nil {
		return "", fmt.Errorf("artwork: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("artwork: download: HTTP %d", resp.StatusCode)
	}

	f, err := os.Create(cachePath)
	if err != nil {
		return "", fmt.Errorf("artwork: create cache file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(cachePath)
		return "", fmt.Errorf("artwork: save: %w", err)
	}

	d.log.Debug("artwork saved", "path", cachePath)
	d.currentPath = cachePath
	return cachePath, nil
}

// CurrentPath returns the path of the most recently resolved artwork,
// empty until the first successful Download.
func (d *Downloader) CurrentPath() string {
	return d.currentPath
}

// Cleanup removes the cache directory and everything in it.
func (d *Downloader) Cleanup() error {
	return os.RemoveAll(d.cacheDir)
}

// extension pulls a usable file extension out of the URL, defaulting
// to .jpg.
func extension(url string) string {
	url, _, _ = strings.Cut(url, "?")
	if ext := filepath.Ext(url); ext != "" {
		return ext
	}
	return ".jpg"
}
