package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/framecore/internal/core/collision"
	"github.com/zeusync/framecore/internal/core/observability/log"
	"github.com/zeusync/framecore/internal/core/spatial"
)

const sample = `
world:
  width: 400
  height: 300
  divisions: 4
collision:
  approximation: box
  default_mask: 3
driver:
  tick_rate: 30
  max_frames: 120
  gravity_y: -9.8
log:
  level: debug
`

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 600.0, cfg.World.Height)
	assert.Equal(t, 800.0, cfg.World.UpperLimit)
	assert.Equal(t, time.Second/60, cfg.Driver.Tick())
}

func TestLoadYAML(t *testing.T) {
	cfg, err := LoadYAML(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, spatial.Config{Width: 400, Height: 300, Divisions: 4, LowerLimit: 1, UpperLimit: 400}, cfg.World)
	approx, err := cfg.Collision.Approx()
	require.NoError(t, err)
	assert.Equal(t, collision.ApproxBox, approx)
	assert.Equal(t, collision.Mask(3), cfg.Collision.Mask())
	assert.Equal(t, uint64(120), cfg.Driver.MaxFrames)
	assert.Equal(t, -9.8, cfg.Driver.Gravity().Y)
	assert.Equal(t, uint(10), cfg.Driver.Iterations, "unset keys keep their defaults")
	assert.Equal(t, log.LevelDebug, cfg.Log.ParsedLevel())
}

func TestLoadYAMLEmpty(t *testing.T) {
	cfg, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	want := Default()
	require.NoError(t, want.Validate())
	assert.Equal(t, want, cfg)
}

func TestLoadYAMLRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "world:\n  depth: 3\n",
		"divisions":     "world:\n  divisions: 0\n",
		"approximation": "collision:\n  approximation: sphere\n",
		"tick rate":     "driver:\n  tick_rate: 0\n",
	}
	for name, doc := range cases {
		_, err := LoadYAML(strings.NewReader(doc))
		assert.Error(t, err, name)
	}

	_, err := LoadYAML(strings.NewReader("world:\n  width: -5\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, spatial.ErrInvalidConfig)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Driver.TickRate)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	type result struct {
		cfg Config
		err error
	}
	reloads := make(chan result, 8)
	w, err := Watch(path, func(cfg Config, err error) { reloads <- result{cfg, err} })
	require.NoError(t, err)
	defer w.Close()

	updated := strings.Replace(sample, "tick_rate: 30", "tick_rate: 20", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case r := <-reloads:
			if r.err == nil && r.cfg.Driver.TickRate == 20 {
				require.NoError(t, w.Close())
				assert.NoError(t, w.Close(), "close is idempotent")
				return
			}
		case <-deadline:
			t.Fatal("config was not reloaded")
		}
	}
}
