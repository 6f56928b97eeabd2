// Package config holds the recalculation settings of a workbook and the
// logger construction shared by the command line tool.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Iteration controls circular reference handling
type Iteration struct {
	// Enabled turns on iterative calculation. when off, a cell that reenters
	// itself keeps its previous value.
	Enabled bool `toml:"enabled" yaml:"enabled"`
	// MaxIterations bounds the number of rounds a cycle is recomputed
	MaxIterations int `toml:"max_iterations" yaml:"max_iterations"`
	// Tolerance is the largest change between rounds treated as converged
	Tolerance float64 `toml:"tolerance" yaml:"tolerance"`
}

// Recalc controls how edits propagate
type Recalc struct {
	// RecursiveDirty marks the transitive dependents of an edit dirty right
	// away. when off they are marked at the start of the next recalc.
	RecursiveDirty bool `toml:"recursive_dirty" yaml:"recursive_dirty"`
	// Auto recalculates after every edit made through the workbook facade
	Auto bool `toml:"auto" yaml:"auto"`
}

// Log selects the logger level and output format
type Log struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Settings is the full configuration of a workbook
type Settings struct {
	Iteration Iteration `toml:"iteration" yaml:"iteration"`
	Recalc    Recalc    `toml:"recalc" yaml:"recalc"`
	Log       Log       `toml:"log" yaml:"log"`
}

// Default returns the settings a new workbook starts with
func Default() Settings {
	return Settings{
		Iteration: Iteration{
			Enabled:       false,
			MaxIterations: 100,
			Tolerance:     0.001,
		},
		Recalc: Recalc{
			RecursiveDirty: true,
			Auto:           true,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid settings")

// Validate rejects settings the engine cannot run with
func (s Settings) Validate() error {
	var errs []error
	if s.Iteration.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("%w: iteration.max_iterations must not be negative, got %d", ErrInvalid, s.Iteration.MaxIterations))
	}
	if s.Iteration.Tolerance < 0 {
		errs = append(errs, fmt.Errorf("%w: iteration.tolerance must not be negative, got %g", ErrInvalid, s.Iteration.Tolerance))
	}
	switch s.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown log.level %q", ErrInvalid, s.Log.Level))
	}
	switch s.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown log.format %q", ErrInvalid, s.Log.Format))
	}
	return errors.Join(errs...)
}

// Load reads settings from a .toml, .yaml or .yml file. keys missing from
// the file keep their Default values.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes settings in the format named by ext (".toml", ".yaml" or
// ".yml") on top of Default
func Parse(data []byte, ext string) (Settings, error) {
	s := Default()
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parsing toml settings: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parsing yaml settings: %w", err)
		}
	default:
		return Settings{}, fmt.Errorf("%w: unsupported settings format %q", ErrInvalid, ext)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// NewLogger creates and configures a new slog.Logger instance. It does not
// set the global logger, allowing for isolated logger instances.
func NewLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if formatStr == "json" {
		handler = slog.NewJSONHandler(outW, handlerOpts)
	} else {
		handler = slog.NewTextHandler(outW, handlerOpts)
	}
	return slog.New(handler)
}

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
