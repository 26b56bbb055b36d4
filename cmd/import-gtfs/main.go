package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mini-transit-live/server/internal/db"
	"github.com/mini-transit-live/server/internal/logger"
	"github.com/mini-transit-live/server/internal/static"
	"github.com/mini-transit-live/server/internal/static/gtfs"
)

func main() {
	dbPath := flag.String("db", "data/transit.db", "Path to SQLite schedule database")
	gtfsPath := flag.String("gtfs", "data/gtfs.zip", "Path to static GTFS zip")
	url := flag.String("url", "", "Download the GTFS zip from this URL instead of reading -gtfs")
	maxAge := flag.Duration("max-age", 7*24*time.Hour, "With -url, skip the import when the last one is younger than this")
	force := flag.Bool("force", false, "With -url, import even when the schedule is fresh")
	level := flag.String("log-level", "info", "Log level")
	printSchema := flag.Bool("print-schema", false, "Print the schedule database schema and exit")
	flag.Parse()

	if *printSchema {
		if err := writeSchema(os.Stdout); err != nil {
			os.Exit(1)
		}
		return
	}

	log := logger.New(logger.Config{Level: *level, Console: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *url != "" {
		refreshed, err := static.RefreshIfStale(ctx, static.Options{
			URL:    *url,
			DBPath: *dbPath,
			MaxAge: *maxAge,
			Force:  *force,
		}, log)
		if err != nil {
			log.Fatal("static refresh failed", "url", *url, "error", err)
		}
		if !refreshed {
			log.Info("schedule is fresh, nothing to import", "manifest", static.ManifestPath(*dbPath))
		}
		return
	}

	feed, err := gtfs.NewParser(log).ParseFile(*gtfsPath)
	if err != nil {
		log.Fatal("failed to parse GTFS zip", "path", *gtfsPath, "error", err)
	}

	database, err := db.Connect(*dbPath, log)
	if err != nil {
		log.Fatal("failed to open database", "path", *dbPath, "error", err)
	}
	defer database.Close()

	if err := database.EnsureSchema(ctx); err != nil {
		log.Fatal("failed to ensure schema", "error", err)
	}

	stats, err := database.ImportFeed(ctx, feed)
	if err != nil {
		log.Fatal("import failed", "error", err)
	}

	err = static.WriteManifest(static.ManifestPath(*dbPath), static.Manifest{
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Routes:    stats.Routes,
		Trips:     stats.Trips,
		StopTimes: stats.StopTimes,
	})
	if err != nil {
		log.Warn("failed to write manifest", "error", err)
	}

	log.Info("schedule imported",
		"db", *dbPath,
		"routes", stats.Routes,
		"stops", stats.Stops,
		"trips", stats.Trips,
		"stop_times", stats.StopTimes,
		"shape_points", stats.Shapes,
		"duration", stats.Duration,
	)
}

// writeSchema prints the schedule schema so it can be applied by hand
func writeSchema(w io.Writer) error {
	_, err := fmt.Fprint(w, db.SchemaSQL())
	return err
}
