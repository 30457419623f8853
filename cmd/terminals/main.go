package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/banshee-data/busterminals/internal/config"
	"github.com/banshee-data/busterminals/internal/db"
	"github.com/banshee-data/busterminals/internal/monitoring"
	"github.com/banshee-data/busterminals/internal/version"
)

var (
	showVersion = flag.Bool("version", false, "Print version and exit")
	verbose     = flag.Bool("v", false, "Log skipped records and other per-sample detail")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	monitoring.InitLogging(os.Stderr)
	monitoring.SetVerbose(*verbose)

	if *showVersion {
		fmt.Printf("terminals %s\n", version.String())
		return
	}

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "migrate":
		handleMigrate(args)
	case "import":
		handleImport(args)
	case "import-gtfsrt":
		handleImportGTFSRT(args)
	case "run":
		handleRun(args)
	case "serve":
		handleServe(args)
	case "version":
		fmt.Printf("terminals %s\n", version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`terminals - infer bus line terminals from GPS positions

Usage: terminals [-v] [-version] <command> [options]

Commands:
  migrate        Manage the SQLite schema (up, down, status, version, force)
  import         Import raw GPS day folders into the SQLite store
  import-gtfsrt  Import GTFS-realtime vehicle position feeds
  run            Infer start and end terminals for every line
  serve          Serve stored terminals and maps over HTTP
  version        Show version
  help           Show this help message

Common Flags:
  -config <file>   Configuration file (.json, .yml or .yaml)
  -db <path>       SQLite database path (default terminals.db, env TERMINALS_DB)
  -pg <url>        PostGIS connection URL for run (env DATABASE_URL)

Examples:
  terminals import -workers 6 ./dados
  terminals run -config terminals.yaml -maps
  terminals run -lines 232,LECD101 -plot-dir plots
  terminals serve -listen :8080`)
}

// commonFlags are shared by every subcommand that touches a store.
type commonFlags struct {
	config *string
	db     *string
	pg     *string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		config: fs.String("config", "", "Configuration file (.json, .yml or .yaml)"),
		db:     fs.String("db", "", "SQLite database path"),
		pg:     fs.String("pg", "", "PostGIS connection URL"),
	}
}

// resolve loads the configuration and applies flag overrides on top of it.
func (c *commonFlags) resolve() (*config.Config, error) {
	cfg, err := config.Resolve(*c.config, ".env")
	if err != nil {
		return nil, err
	}
	if *c.db != "" {
		cfg.DBPath = c.db
	}
	if *c.pg != "" {
		cfg.DatabaseURL = c.pg
	}
	return cfg, cfg.Validate()
}

func (c *commonFlags) mustResolve() *config.Config {
	cfg, err := c.resolve()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return cfg
}

func openSQLite(cfg *config.Config) *db.DB {
	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	return database
}

func handleMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	common := addCommonFlags(fs)
	fs.Usage = func() { db.PrintMigrateHelp(os.Stdout) }
	fs.Parse(args)

	cfg := common.mustResolve()
	db.RunMigrateCommand(fs.Args(), cfg.GetDBPath())
}

// splitList parses a comma separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
