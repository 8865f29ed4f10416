package telemetry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/robalyx/chatrank/internal/setup/config"
	"github.com/robalyx/chatrank/internal/setup/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLoggersCreatesSession(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()
	manager := telemetry.NewManager(logDir, &config.Debug{LogLevel: "debug", MaxLogsToKeep: 3, MaxLogLines: 100})
	t.Cleanup(manager.Close)

	mainLogger, dbLogger, err := manager.GetLoggers()
	require.NoError(t, err)

	mainLogger.Info("hello")
	dbLogger.Warn("slow query")

	sessionDir := manager.GetCurrentSessionDir()
	assert.Equal(t, logDir, filepath.Dir(sessionDir))
	assert.NotEmpty(t, manager.GetInstanceID())

	content, err := os.ReadFile(filepath.Join(sessionDir, "main.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "hello")
	assert.Contains(t, string(content), manager.GetInstanceID())

	content, err = os.ReadFile(filepath.Join(sessionDir, "database.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "slow query")
}

func TestGetLoggersRotatesOldSessions(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()
	for _, name := range []string{"2024-01-01_00-00-00", "2024-01-02_00-00-00", "2024-01-03_00-00-00"} {
		require.NoError(t, os.MkdirAll(filepath.Join(logDir, name), os.ModePerm))
	}

	manager := telemetry.NewManager(logDir, &config.Debug{LogLevel: "info", MaxLogsToKeep: 2, MaxLogLines: 100})
	t.Cleanup(manager.Close)

	_, _, err := manager.GetLoggers()
	require.NoError(t, err)

	sessions, err := filepath.Glob(filepath.Join(logDir, "*"))
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
	assert.NotContains(t, sessions, filepath.Join(logDir, "2024-01-01_00-00-00"))
	assert.NotContains(t, sessions, filepath.Join(logDir, "2024-01-02_00-00-00"))
}

func TestGetLoggersInvalidLevel(t *testing.T) {
	t.Parallel()

	manager := telemetry.NewManager(t.TempDir(), &config.Debug{LogLevel: "loud", MaxLogsToKeep: 1})
	t.Cleanup(manager.Close)

	_, _, err := manager.GetLoggers()
	require.Error(t, err)
}
