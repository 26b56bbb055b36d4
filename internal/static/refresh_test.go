package static

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-transit-live/server/internal/db"
	"github.com/mini-transit-live/server/internal/logger"
)

func writeManifest(t *testing.T, dir string, updatedAt string) string {
	t.Helper()
	dbPath := filepath.Join(dir, "transit.db")
	if err := WriteManifest(ManifestPath(dbPath), Manifest{UpdatedAt: updatedAt}); err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}
	return ManifestPath(dbPath)
}

func TestIsStaleOrMissing_MissingFile(t *testing.T) {
	if !isStaleOrMissing(filepath.Join(t.TempDir(), "missing.json"), 7*24*time.Hour, time.Now()) {
		t.Error("isStaleOrMissing should return true for missing file")
	}
}

func TestIsStaleOrMissing_FreshManifest(t *testing.T) {
	now := time.Now()
	path := writeManifest(t, t.TempDir(), now.Add(-time.Hour).UTC().Format(time.RFC3339))
	if isStaleOrMissing(path, 7*24*time.Hour, now) {
		t.Error("isStaleOrMissing should return false for fresh manifest")
	}
}

func TestIsStaleOrMissing_StaleManifest(t *testing.T) {
	now := time.Now()
	path := writeManifest(t, t.TempDir(), now.Add(-10*24*time.Hour).UTC().Format(time.RFC3339))
	if !isStaleOrMissing(path, 7*24*time.Hour, now) {
		t.Error("isStaleOrMissing should return true for stale manifest")
	}
}

func TestIsStaleOrMissing_CorruptJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	os.WriteFile(path, []byte("{invalid json"), 0644)
	if !isStaleOrMissing(path, 7*24*time.Hour, time.Now()) {
		t.Error("isStaleOrMissing should return true for corrupt manifest")
	}
}

func gtfsZip(t *testing.T) []byte {
	t.Helper()
	files := map[string]string{
		"routes.txt":     "route_id,route_short_name,route_long_name,route_type\n66-1,66,UQ Lakes - RBWH,3\n",
		"trips.txt":      "route_id,service_id,trip_id,direction_id,shape_id\n66-1,WD,T1,0,S1\n",
		"stops.txt":      "stop_id,stop_code,stop_name,stop_lat,stop_lon\nA,001,Cultural Centre,-27.47,153.01\nB,002,RBWH,-27.44,153.02\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nT1,10:00:00,10:00:00,A,1\nT1,10:20:00,10:20:00,B,2\n",
	}
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestRefreshIfStale(t *testing.T) {
	body := gtfsZip(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	opts := Options{URL: srv.URL, DBPath: filepath.Join(dir, "transit.db"), MaxAge: 24 * time.Hour}

	refreshed, err := RefreshIfStale(context.Background(), opts, logger.Nop())
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, int32(2), calls.Load())

	database, err := db.Connect(opts.DBPath, logger.Nop())
	require.NoError(t, err)
	defer database.Close()
	var trips int
	require.NoError(t, database.Conn().QueryRow("SELECT COUNT(*) FROM trips").Scan(&trips))
	assert.Equal(t, 1, trips)

	// the manifest is fresh now
	refreshed, err = RefreshIfStale(context.Background(), opts, logger.Nop())
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, int32(2), calls.Load())

	opts.Force = true
	refreshed, err = RefreshIfStale(context.Background(), opts, logger.Nop())
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRefreshIfStale_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	opts := Options{URL: srv.URL, DBPath: filepath.Join(t.TempDir(), "transit.db"), MaxAge: time.Hour}
	refreshed, err := RefreshIfStale(context.Background(), opts, logger.Nop())
	require.Error(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, int32(1), calls.Load())
	assert.NoFileExists(t, filepath.Join(filepath.Dir(opts.DBPath), "gtfs_static.zip"))
}

func TestRefreshIfStale_StaleWithoutURL(t *testing.T) {
	opts := Options{DBPath: filepath.Join(t.TempDir(), "transit.db"), MaxAge: time.Hour}
	_, err := RefreshIfStale(context.Background(), opts, logger.Nop())
	assert.Error(t, err)
}
