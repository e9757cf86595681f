// Package config loads the simulation settings from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/framecore/internal/core/collision"
	"github.com/zeusync/framecore/internal/core/geom"
	"github.com/zeusync/framecore/internal/core/observability/log"
	"github.com/zeusync/framecore/internal/core/spatial"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	World     spatial.Config  `yaml:"world"`
	Collision CollisionConfig `yaml:"collision"`
	Driver    DriverConfig    `yaml:"driver"`
	Log       LogConfig       `yaml:"log"`
}

type CollisionConfig struct {
	// Approximation is "circle" or "box".
	Approximation string `yaml:"approximation"`
	DefaultMask   uint64 `yaml:"default_mask"`
}

type DriverConfig struct {
	TickRate     int     `yaml:"tick_rate"`
	MaxFrames    uint64  `yaml:"max_frames"`
	GravityX     float64 `yaml:"gravity_x"`
	GravityY     float64 `yaml:"gravity_y"`
	Iterations   uint    `yaml:"iterations"`
	QueryWorkers int     `yaml:"query_workers"`
	DebugFeed    string  `yaml:"debug_feed"`
	DebugToken   string  `yaml:"debug_token"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	return Config{
		World: spatial.Config{Width: 800, Height: 600, Divisions: 8},
		Collision: CollisionConfig{
			Approximation: collision.ApproxCircle.String(),
			DefaultMask:   1,
		},
		Driver: DriverConfig{
			TickRate:     60,
			Iterations:   10,
			QueryWorkers: 4,
		},
		Log: LogConfig{Level: log.LevelInfo.String()},
	}
}

// Validate checks every section and fills the grid size limits.
func (c *Config) Validate() error {
	if err := c.World.Validate(); err != nil {
		return fmt.Errorf("%w: world: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Collision.Approx(); err != nil {
		return fmt.Errorf("%w: collision: %w", ErrInvalidConfig, err)
	}
	if c.Driver.TickRate <= 0 {
		return fmt.Errorf("%w: driver: tick_rate must be positive, got %d", ErrInvalidConfig, c.Driver.TickRate)
	}
	if c.Driver.QueryWorkers < 0 {
		return fmt.Errorf("%w: driver: query_workers must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c CollisionConfig) Approx() (collision.Approximation, error) {
	return collision.ParseApproximation(c.Approximation)
}

func (c CollisionConfig) Mask() collision.Mask { return collision.Mask(c.DefaultMask) }

// Tick is the frame period.
func (d DriverConfig) Tick() time.Duration {
	if d.TickRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(d.TickRate)
}

func (d DriverConfig) Gravity() geom.Vec2 { return geom.V(d.GravityX, d.GravityY) }

func (l LogConfig) ParsedLevel() log.Level { return log.ParseLevel(l.Level) }

// LoadYAML decodes r over Default and validates the result. Unknown keys are
// rejected. An empty document yields the defaults.
func LoadYAML(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return LoadYAML(f)
}
