package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-transit-live/server/internal/db"
	"github.com/mini-transit-live/server/internal/logger"
)

func TestWriteSchema(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSchema(&buf))

	for _, table := range []string{"routes", "stops", "trips", "stop_times", "shapes", "stats_delay_hourly"} {
		assert.Contains(t, buf.String(), "CREATE TABLE IF NOT EXISTS "+table)
	}

	// the printed schema applies cleanly to an empty database
	database, err := db.Connect(filepath.Join(t.TempDir(), "schema.db"), logger.Nop())
	require.NoError(t, err)
	defer database.Close()
	_, err = database.Conn().ExecContext(context.Background(), buf.String())
	require.NoError(t, err)
}
