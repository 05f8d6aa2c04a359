package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/formic/internal/constants"
)

func TestSelectLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, selectLevel(false, false))
	assert.Equal(t, zerolog.DebugLevel, selectLevel(true, false))
	assert.Equal(t, zerolog.WarnLevel, selectLevel(false, true))
	assert.Equal(t, zerolog.DebugLevel, selectLevel(true, true), "verbose wins")
}

func TestInitLoggerWithWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLoggerWithWriter(false, true, &buf)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), `"time"`)
}

func TestInitLoggerWithWriter_FlagsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLoggerWithWriter(false, false, &buf)
	logger.Info().Msg("token=" + "testonly" + "abcdefgh")
	assert.Contains(t, buf.String(), `"redacted":true`)
}

func TestLogFilePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FORMIC_HOME", home)

	path, err := LogFilePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, constants.LogsDir, constants.CLILogFileName), path)
}

func TestFormicHome_DefaultsToUserHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("FORMIC_HOME", "")

	got, err := formicHome()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".formic"), got)
}

func TestInitLogger_RedactsSecretsInFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FORMIC_HOME", home)
	t.Cleanup(CloseLogFile)

	logger := InitLogger(false, false)
	logger.Info().Msg("connecting with key sk-" + "ant-api03-verysecretkey123")
	CloseLogFile()

	data, err := os.ReadFile(filepath.Join(home, constants.LogsDir, constants.CLILogFileName)) //#nosec G304 -- test temp dir
	require.NoError(t, err)
	content := string(data)
	assert.NotContains(t, content, "verysecretkey")
	assert.Contains(t, content, "[REDACTED]")
	assert.Contains(t, content, "connecting with key")
}

func TestCloseLogFile_NoOpWhenNil(t *testing.T) {
	CloseLogFile()
	CloseLogFile()
}
