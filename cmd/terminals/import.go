package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/busterminals/internal/monitoring"
	"github.com/banshee-data/busterminals/internal/positions"
)

const dayFolderLayout = "2006-01-02"

// positionWriter stores imported records and reports how many were new.
type positionWriter interface {
	InsertPositions(ctx context.Context, records []positions.Record) (int, error)
}

// importStats counts what an import did.
type importStats struct {
	Files    int64
	Parsed   int64
	Inserted int64
	Rejected int64
}

func handleImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	common := addCommonFlags(fs)
	workers := fs.Int("workers", 6, "Day folders imported in parallel")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: terminals import [options] <dir>...")
		fs.PrintDefaults()
		os.Exit(1)
	}

	cfg := common.mustResolve()
	database := openSQLite(cfg)
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	folders, err := dayFolders(fs.Args())
	if err != nil {
		log.Fatalf("Failed to list day folders: %v", err)
	}
	if len(folders) == 0 {
		log.Fatalf("No YYYY-MM-DD folders found under %s", strings.Join(fs.Args(), ", "))
	}

	start := time.Now()
	stats, err := importFolders(ctx, database, folders, *workers)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}
	log.Printf("imported %d folders, %d files: %d records parsed, %d new, %d rejected in %s",
		len(folders), stats.Files, stats.Parsed, stats.Inserted, stats.Rejected, time.Since(start).Round(time.Millisecond))
}

// dayFolders expands args into day folders. An argument that is itself named
// YYYY-MM-DD is taken as is; otherwise its YYYY-MM-DD subdirectories are used.
func dayFolders(args []string) ([]string, error) {
	var folders []string
	for _, arg := range args {
		if isDayFolder(filepath.Base(arg)) {
			folders = append(folders, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() && isDayFolder(e.Name()) {
				folders = append(folders, filepath.Join(arg, e.Name()))
			}
		}
	}
	sort.Strings(folders)
	return folders, nil
}

func isDayFolder(name string) bool {
	_, err := time.Parse(dayFolderLayout, name)
	return err == nil
}

// importFolders loads the GPS files of each folder and stores its records.
// Folders run concurrently; bad records are logged and skipped, storage
// failures stop the import.
func importFolders(ctx context.Context, w positionWriter, folders []string, workers int) (importStats, error) {
	if workers <= 0 {
		workers = 1
	}
	var stats importStats

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, folder := range folders {
		g.Go(func() error {
			origin := positions.OriginForFolder(filepath.Base(folder))
			files, err := gpsFiles(folder)
			if err != nil {
				return err
			}

			for _, file := range files {
				if err := gctx.Err(); err != nil {
					return err
				}
				records, errs := positions.LoadGPSFile(file, origin)
				for _, err := range errs {
					monitoring.Debugf("skip: %v", err)
				}
				n, err := w.InsertPositions(gctx, records)
				if err != nil {
					return fmt.Errorf("store %s: %w", file, err)
				}

				atomic.AddInt64(&stats.Files, 1)
				atomic.AddInt64(&stats.Parsed, int64(len(records)))
				atomic.AddInt64(&stats.Inserted, int64(n))
				atomic.AddInt64(&stats.Rejected, int64(len(errs)))
			}
			monitoring.Logf("folder %s (%s): %d files", filepath.Base(folder), origin, len(files))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

// gpsFiles lists the position exports of a day folder: JSON files named
// after the folder's date. Task and answer files kept alongside are skipped.
func gpsFiles(folder string) ([]string, error) {
	day := filepath.Base(folder)
	matches, err := filepath.Glob(filepath.Join(folder, "*.json"))
	if err != nil {
		return nil, err
	}
	var files []string
	for _, m := range matches {
		if strings.HasPrefix(filepath.Base(m), day) {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

func handleImportGTFSRT(args []string) {
	fs := flag.NewFlagSet("import-gtfsrt", flag.ExitOnError)
	common := addCommonFlags(fs)
	origin := fs.String("origin", "gtfsrt", "Origin label stored with each record")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: terminals import-gtfsrt [options] <feed.pb>...")
		fs.PrintDefaults()
		os.Exit(1)
	}

	cfg := common.mustResolve()
	database := openSQLite(cfg)
	defer database.Close()

	stats, err := importFeeds(context.Background(), database, fs.Args(), *origin)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}
	log.Printf("imported %d feeds: %d vehicle positions, %d new, %d rejected",
		stats.Files, stats.Parsed, stats.Inserted, stats.Rejected)
}

// importFeeds stores the vehicle positions of each GTFS-RT feed file.
func importFeeds(ctx context.Context, w positionWriter, paths []string, origin string) (importStats, error) {
	var stats importStats
	for _, path := range paths {
		records, errs := positions.LoadVehiclePositionsFile(path, origin)
		for _, err := range errs {
			monitoring.Debugf("skip: %v", err)
		}
		n, err := w.InsertPositions(ctx, records)
		if err != nil {
			return stats, fmt.Errorf("store %s: %w", path, err)
		}
		stats.Files++
		stats.Parsed += int64(len(records))
		stats.Inserted += int64(n)
		stats.Rejected += int64(len(errs))
	}
	return stats, nil
}
