package goexpr_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goexpr "github.com/njchilds90/goexpr"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := goexpr.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, goexpr.DefaultMaxDepth, cfg.MaxDepth)
	assert.Equal(t, goexpr.DefaultMaxSteps, cfg.MaxSteps)
	assert.Equal(t, goexpr.DefaultMaxPoints, cfg.MaxPoints)
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeFile(t, "goexpr.yaml", "workers: 4\nmax_depth: 200\ntimeout: 2s\n")
	cfg, err := goexpr.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 200, cfg.MaxDepth)
	assert.Equal(t, goexpr.DefaultMaxSteps, cfg.MaxSteps)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := writeFile(t, "goexpr.yaml", "workers: 0\ncache_size: -1\nmax_points: 0\n")
	_, err := goexpr.LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers must be at least 1")
	assert.Contains(t, err.Error(), "cache_size must be at least 1")
	assert.Contains(t, err.Error(), "max_points must be at least 1")
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := goexpr.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_Options(t *testing.T) {
	cfg := goexpr.DefaultConfig()
	cfg.Workers = 3
	s, err := goexpr.NewSampler(goexpr.NewContext().DefVar("y", x), cfg.Options()...)
	require.NoError(t, err)
	got, err := s.Sample1D(t.Context(), "y", "x", goexpr.Range{Start: 0, End: 1}, 5)
	require.NoError(t, err)
	assert.Len(t, got, 6)
}

func TestConfig_OptionsBoundPoints(t *testing.T) {
	cfg := goexpr.DefaultConfig()
	cfg.MaxPoints = 3
	s, err := goexpr.NewSampler(goexpr.NewContext().DefVar("y", x), cfg.Options()...)
	require.NoError(t, err)
	_, err = s.Sample1D(t.Context(), "y", "x", goexpr.Range{Start: 0, End: 1}, 5)
	assert.ErrorIs(t, err, goexpr.ErrInvalidRange)
}
