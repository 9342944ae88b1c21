package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithFilePathWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hyperfs.log")
	logger, err := New(Options{FilePath: path, Level: "info"})
	require.NoError(t, err)

	logger.Info("hello")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"hello"`)
	require.Contains(t, string(data), `"ts":`)
}

func TestNewDefaultsToStderrWhenNoFilePath(t *testing.T) {
	logger, err := New(Options{})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "not-a-level"})
	require.Error(t, err)
}

func TestNewRespectsLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hyperfs.log")
	logger, err := New(Options{FilePath: path, Level: "error"})
	require.NoError(t, err)

	logger.Info("should be filtered out")
	logger.Error("should appear")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "should be filtered out")
	require.Contains(t, string(data), "should appear")
}

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	opts := Options{}.withDefaults()
	require.Equal(t, "info", opts.Level)
	require.Equal(t, 50, opts.MaxSizeMB)
	require.Equal(t, 5, opts.MaxBackups)
	require.Equal(t, 28, opts.MaxAgeDays)
}
