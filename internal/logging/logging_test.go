package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsoleOnly(t *testing.T) {
	logger, err := New(Options{})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("console only")
	require.NoError(t, logger.Sync())
}

func TestNewWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Options{Verbose: true, WorkDir: dir})
	require.NoError(t, err)

	logger.Debug("debug record reaches the file")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "quorum.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug record reaches the file")
}
