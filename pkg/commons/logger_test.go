package commons

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewApplicationLogger_Defaults(t *testing.T) {
	logger, err := NewApplicationLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
	logger.Infof("hello %s", "world")
}

func TestNewApplicationLogger_WritesFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewApplicationLogger(Name("test-logger"), Path(dir), Level("info"), Console(false))
	require.NoError(t, err)

	logger.Infow("session started", "session", "s1")
	logger.Debugf("dropped at info level")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "test-logger.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "session started")
	assert.NotContains(t, string(data), "dropped at info level")
}

func TestNewApplicationLogger_InvalidLevel(t *testing.T) {
	_, err := NewApplicationLogger(Level("loud"))
	assert.Error(t, err)
}

func TestLogger_WithKeepsInterface(t *testing.T) {
	logger, _ := NewApplicationLogger(Console(false))
	child := logger.With("session", "abc")
	assert.NotNil(t, child)
	child.Warnf("child %d", 1)
}
