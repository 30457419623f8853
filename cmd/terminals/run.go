package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banshee-data/busterminals/internal/config"
	"github.com/banshee-data/busterminals/internal/db"
	"github.com/banshee-data/busterminals/internal/grid"
	"github.com/banshee-data/busterminals/internal/monitoring"
	"github.com/banshee-data/busterminals/internal/pgstore"
	"github.com/banshee-data/busterminals/internal/terminals"
	"github.com/banshee-data/busterminals/internal/visualiser"
)

type runRecorder interface {
	RecordRun(ctx context.Context, sum *terminals.Summary) error
}

// backend is where samples are read from and results written to.
type backend struct {
	source terminals.Source
	lister terminals.LineLister
	store  terminals.Store
	runs   runRecorder // nil when the backend keeps no run history
	close  func()
}

// openBackend picks PostGIS when a database URL is configured and the SQLite
// store otherwise.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if url := cfg.GetDatabaseURL(); url != "" {
		pg, err := pgstore.New(ctx, url)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return &backend{source: pg, lister: pg, store: pg, close: pg.Close}, nil
	}

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return nil, err
	}
	return sqliteBackend(database), nil
}

func sqliteBackend(database *db.DB) *backend {
	return &backend{
		source: database,
		lister: database,
		store:  database,
		runs:   database,
		close:  func() { database.Close() },
	}
}

// runOptions are the per-invocation settings of the run command.
type runOptions struct {
	Lines      []string
	Workers    int
	MapDir     string
	PlotDir    string
	GeoJSONDir string
}

func handleRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	common := addCommonFlags(fs)
	lines := fs.String("lines", "", "Comma-separated line ids (default: config lines, then every stored line)")
	workers := fs.Int("workers", 0, "Lines processed in parallel (default from config)")
	maps := fs.Bool("maps", false, "Write an HTML map per line into the configured map directory")
	plotDir := fs.String("plot-dir", "", "Write a PNG plot per line into this directory")
	geojsonDir := fs.String("geojson-dir", "", "Write a GeoJSON export per line into this directory")
	fs.Parse(args)

	cfg := common.mustResolve()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer b.close()

	opts := runOptions{
		Lines:      splitList(*lines),
		Workers:    *workers,
		PlotDir:    *plotDir,
		GeoJSONDir: *geojsonDir,
	}
	if *maps {
		opts.MapDir = cfg.GetMapDir()
	}

	sum, err := runTerminals(ctx, cfg, b, opts)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}
	for _, res := range sum.Results {
		logResult(res)
	}
}

// runTerminals builds the grid, infers terminals for every requested line,
// records the run and writes the requested per-line artifacts.
func runTerminals(ctx context.Context, cfg *config.Config, b *backend, opts runOptions) (*terminals.Summary, error) {
	g, err := grid.Build(cfg.GetBound(), cfg.GetGridCells())
	if err != nil {
		return nil, fmt.Errorf("build grid: %w", err)
	}
	loc, err := cfg.GetLocation()
	if err != nil {
		return nil, err
	}

	explicit := opts.Lines
	if len(explicit) == 0 {
		explicit = cfg.GetLines()
	}
	lines, err := terminals.Lines(ctx, explicit, b.lister)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = cfg.GetWorkers()
	}
	runner := &terminals.Runner{
		Source:    b.source,
		Store:     b.store,
		Estimator: terminals.NewEstimator(g, loc),
		Workers:   workers,
	}
	sum, err := runner.Run(ctx, lines)
	if err != nil {
		return sum, err
	}

	if b.runs != nil {
		if err := b.runs.RecordRun(ctx, sum); err != nil {
			return sum, err
		}
	}
	if err := writeArtifacts(sum.Results, opts); err != nil {
		return sum, err
	}
	return sum, nil
}

// writeArtifacts writes maps, plots and GeoJSON for every result that has
// something to draw.
func writeArtifacts(results []terminals.Result, opts runOptions) error {
	for _, res := range results {
		if res.Start == nil && len(res.RouteCells) == 0 {
			continue
		}
		if opts.MapDir != "" {
			path, err := visualiser.WriteMapFile(opts.MapDir, res)
			if err != nil {
				return err
			}
			monitoring.Debugf("line %s: map %s", res.LineID, path)
		}
		if opts.PlotDir != "" {
			path := filepath.Join(opts.PlotDir, visualiser.PlotFileName(res.LineID))
			if err := os.MkdirAll(opts.PlotDir, 0755); err != nil {
				return fmt.Errorf("create plot dir: %w", err)
			}
			if err := visualiser.SavePlot(path, res); err != nil {
				return err
			}
		}
		if opts.GeoJSONDir != "" {
			if _, err := visualiser.WriteGeoJSONFile(opts.GeoJSONDir, res); err != nil {
				return err
			}
		}
	}
	return nil
}

func logResult(res terminals.Result) {
	switch res.Status {
	case terminals.StatusDetermined:
		degenerate := ""
		if res.Degenerate {
			degenerate = " (tied candidates)"
		}
		log.Printf("line %s: start %v end %v%s", res.LineID, *res.Start, *res.End, degenerate)
	case terminals.StatusInconclusiveEnd:
		log.Printf("line %s: start %v, end unknown: %v", res.LineID, *res.Start, res.Reason)
	default:
		log.Printf("line %s: inconclusive: %v", res.LineID, res.Reason)
	}
}
