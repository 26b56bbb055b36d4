package static

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mini-transit-live/server/internal/db"
	"github.com/mini-transit-live/server/internal/logger"
	"github.com/mini-transit-live/server/internal/static/gtfs"
)

// Manifest records the last successful schedule import. It is written next
// to the database as <db>.manifest.json.
type Manifest struct {
	UpdatedAt string `json:"updated_at"`
	SourceURL string `json:"source_url,omitempty"`
	Routes    int    `json:"routes"`
	Trips     int    `json:"trips"`
	StopTimes int    `json:"stop_times"`
}

// Options configures a refresh
type Options struct {
	URL          string        // static GTFS zip to download
	DBPath       string        // SQLite schedule database
	CacheDir     string        // where the zip is stored, defaults to the database directory
	MaxAge       time.Duration // a manifest older than this triggers a refresh
	Force        bool
	MaxRetryTime time.Duration
	Client       *http.Client
}

// ManifestPath returns the manifest location for a database path
func ManifestPath(dbPath string) string {
	return dbPath + ".manifest.json"
}

// RefreshIfStale downloads and imports the static GTFS feed when the
// manifest is missing, unreadable or older than MaxAge. It reports whether
// an import happened.
func RefreshIfStale(ctx context.Context, opts Options, log logger.Logger) (bool, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("static-refresh")

	manifestPath := ManifestPath(opts.DBPath)
	if !opts.Force && !isStaleOrMissing(manifestPath, opts.MaxAge, time.Now()) {
		log.Debug("static schedule is fresh, skipping refresh", "manifest", manifestPath)
		return false, nil
	}
	if opts.URL == "" {
		return false, fmt.Errorf("static schedule is stale and no GTFS URL is configured")
	}

	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Dir(opts.DBPath)
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return false, err
	}
	zipPath := filepath.Join(cacheDir, "gtfs_static.zip")

	log.Info("refreshing static schedule", "url", opts.URL)
	if err := Download(ctx, opts.Client, opts.URL, zipPath, opts.MaxRetryTime, log); err != nil {
		return false, err
	}

	feed, err := gtfs.NewParser(log).ParseFile(zipPath)
	if err != nil {
		return false, err
	}

	database, err := db.Connect(opts.DBPath, log)
	if err != nil {
		return false, err
	}
	defer database.Close()

	if err := database.EnsureSchema(ctx); err != nil {
		return false, err
	}
	stats, err := database.ImportFeed(ctx, feed)
	if err != nil {
		return false, err
	}

	manifest := Manifest{
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		SourceURL: opts.URL,
		Routes:    stats.Routes,
		Trips:     stats.Trips,
		StopTimes: stats.StopTimes,
	}
	if err := WriteManifest(manifestPath, manifest); err != nil {
		return true, err
	}

	log.Info("static schedule refreshed",
		"routes", stats.Routes,
		"trips", stats.Trips,
		"stop_times", stats.StopTimes,
		"duration", stats.Duration,
	)
	return true, nil
}

// WriteManifest stores m at path
func WriteManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func isStaleOrMissing(manifestPath string, maxAge time.Duration, now time.Time) bool {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return true
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return true
	}

	updatedAt, err := time.Parse(time.RFC3339, manifest.UpdatedAt)
	if err != nil {
		return true
	}
	return now.Sub(updatedAt) > maxAge
}

// Download fetches url into path, retrying transport errors and 5xx
// responses with exponential backoff. The file is replaced atomically.
func Download(ctx context.Context, client *http.Client, url, path string, maxRetryTime time.Duration, log logger.Logger) error {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	if log == nil {
		log = logger.Nop()
	}
	if maxRetryTime <= 0 {
		maxRetryTime = 2 * time.Minute
	}

	tmp := path + ".part"
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to download %s: %w", url, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("unexpected status code: %d", resp.StatusCode))
		}

		f, err := os.Create(tmp)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := io.Copy(f, resp.Body); err != nil {
			f.Close()
			return fmt.Errorf("failed to read body: %w", err)
		}
		return f.Close()
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxRetryTime
	notify := func(err error, wait time.Duration) {
		log.Warn("static download failed, retrying", "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
