package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/busterminals/internal/grid"
)

// Defaults for fields omitted from the configuration file.
const (
	DefaultGridCells = 1500
	DefaultTimezone  = "America/Sao_Paulo"
	DefaultWorkers   = 6
	DefaultDBPath    = "terminals.db"
	DefaultMapDir    = "maps"
	DefaultListen    = ":8080"
)

// DefaultBoundingBox covers the municipality of Rio de Janeiro as
// (min lon, min lat, max lon, max lat).
var DefaultBoundingBox = [4]float64{-43.7955, -23.0824, -43.1039, -22.7448}

// Environment variables that override file values.
const (
	EnvDBPath      = "TERMINALS_DB"
	EnvDatabaseURL = "DATABASE_URL"
	EnvWorkers     = "TERMINALS_WORKERS"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

var validate = validator.New()

// Config holds the settings of a terminal inference run. Every field is
// optional; the Get* methods fall back to the defaults above.
type Config struct {
	// BoundingBox is min lon, min lat, max lon, max lat in WGS84 degrees.
	BoundingBox *[4]float64 `json:"bounding_box,omitempty" yaml:"bounding_box,omitempty"`
	GridCells   *int        `json:"grid_cells,omitempty" yaml:"grid_cells,omitempty" validate:"omitempty,min=1,max=20000"`
	Timezone    *string     `json:"timezone,omitempty" yaml:"timezone,omitempty" validate:"omitempty,min=1"`
	Workers     *int        `json:"workers,omitempty" yaml:"workers,omitempty" validate:"omitempty,min=1,max=256"`
	// Lines restricts a run to these line ids. Empty means every line in the store.
	Lines []string `json:"lines,omitempty" yaml:"lines,omitempty" validate:"dive,required"`

	DBPath      *string `json:"db_path,omitempty" yaml:"db_path,omitempty" validate:"omitempty,min=1"`
	DatabaseURL *string `json:"database_url,omitempty" yaml:"database_url,omitempty" validate:"omitempty,url"`
	MapDir      *string `json:"map_dir,omitempty" yaml:"map_dir,omitempty"`
	Listen      *string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

// Load reads a Config from a .json, .yml or .yaml file. Fields omitted from
// the file keep their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yml" && ext != ".yaml" {
		return nil, fmt.Errorf("config file must have .json, .yml or .yaml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides file values with the TERMINALS_DB, DATABASE_URL and
// TERMINALS_WORKERS variables found through getenv. Empty values are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvDBPath); v != "" {
		c.DBPath = &v
	}
	if v := getenv(EnvDatabaseURL); v != "" {
		c.DatabaseURL = &v
	}
	if v := getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvWorkers, v, err)
		}
		c.Workers = &n
	}
	return c.Validate()
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.BoundingBox != nil {
		b := *c.BoundingBox
		for _, v := range b {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("bounding_box must be finite, got %v", b)
			}
		}
		if b[0] < -180 || b[2] > 180 || b[1] < -90 || b[3] > 90 {
			return fmt.Errorf("bounding_box outside WGS84 range: %v", b)
		}
		if b[2] <= b[0] {
			return fmt.Errorf("bounding_box max lon %f must exceed min lon %f", b[2], b[0])
		}
		if b[3] < b[1] {
			return fmt.Errorf("bounding_box max lat %f is below min lat %f", b[3], b[1])
		}
	}

	if _, _, err := grid.Dimensions(c.GetBound(), c.GetGridCells()); err != nil {
		return fmt.Errorf("grid_cells %d over bounding_box: %w", c.GetGridCells(), err)
	}

	if c.Timezone != nil && !IsTimezoneValid(*c.Timezone) {
		return fmt.Errorf("unknown timezone %q", *c.Timezone)
	}
	return nil
}

// GetBound returns the bounding box of the grid.
func (c *Config) GetBound() orb.Bound {
	b := DefaultBoundingBox
	if c.BoundingBox != nil {
		b = *c.BoundingBox
	}
	return orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[2], b[3]}}
}

// GetGridCells returns the number of grid columns.
func (c *Config) GetGridCells() int {
	if c.GridCells == nil {
		return DefaultGridCells
	}
	return *c.GridCells
}

// GetTimezone returns the timezone name used for hours of day.
func (c *Config) GetTimezone() string {
	if c.Timezone == nil || *c.Timezone == "" {
		return DefaultTimezone
	}
	return *c.Timezone
}

// GetLocation loads the timezone returned by GetTimezone.
func (c *Config) GetLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.GetTimezone())
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", c.GetTimezone(), err)
	}
	return loc, nil
}

// GetWorkers returns the number of lines processed concurrently.
func (c *Config) GetWorkers() int {
	if c.Workers == nil {
		return DefaultWorkers
	}
	return *c.Workers
}

// GetLines returns the configured line ids, possibly empty.
func (c *Config) GetLines() []string {
	return c.Lines
}

// GetDBPath returns the SQLite database path.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return DefaultDBPath
	}
	return *c.DBPath
}

// GetDatabaseURL returns the PostGIS connection string, empty when unset.
func (c *Config) GetDatabaseURL() string {
	if c.DatabaseURL == nil {
		return ""
	}
	return *c.DatabaseURL
}

// GetMapDir returns the directory HTML maps are written to.
func (c *Config) GetMapDir() string {
	if c.MapDir == nil || *c.MapDir == "" {
		return DefaultMapDir
	}
	return *c.MapDir
}

// GetListen returns the HTTP listen address.
func (c *Config) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return DefaultListen
	}
	return *c.Listen
}
