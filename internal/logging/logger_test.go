package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"fieldsync/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testApp = config.AppConfig{Name: "fieldsync-test", Environment: "test", Version: "1.0.0"}

func TestNewLevelsAndStreams(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.LoggingConfig
		level zerolog.Level
	}{
		{"defaults", config.LoggingConfig{}, zerolog.InfoLevel},
		{"stdout debug", config.LoggingConfig{Level: "DEBUG", Output: "stdout"}, zerolog.DebugLevel},
		{"stderr warn", config.LoggingConfig{Level: " warn ", Output: "stderr"}, zerolog.WarnLevel},
		{"console", config.LoggingConfig{Level: "error", Format: "console"}, zerolog.ErrorLevel},
		{"unknown level", config.LoggingConfig{Level: "loud"}, zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, closer, err := New(tt.cfg, testApp)
			require.NoError(t, err)
			assert.Nil(t, closer)
			assert.Equal(t, tt.level, logger.GetLevel())
		})
	}
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Output: "syslog"}, testApp)
	assert.Error(t, err)

	_, _, err = New(config.LoggingConfig{Format: "xml"}, testApp)
	assert.Error(t, err)

	_, _, err = New(config.LoggingConfig{Output: "file"}, testApp)
	assert.Error(t, err)
}

func TestRotatedFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "fieldsync.log")
	cfg := config.LoggingConfig{Level: "error", Output: "file", FilePath: logPath, MaxSizeMB: 1}

	logger, closer, err := New(cfg, testApp)
	require.NoError(t, err)
	require.NotNil(t, closer)

	logger.Info().Msg("filtered out")
	Component(logger, "queue").Error().Msg("queue write failed")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "queue write failed", entry["message"])
	assert.Equal(t, "queue", entry["component"])
	assert.Equal(t, "fieldsync-test", entry["app"])
	assert.Equal(t, "test", entry["env"])
	assert.NotContains(t, string(data), "filtered out")
}
