package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetApplicationConfig_Defaults(t *testing.T) {
	t.Setenv("ENV_PATH", filepath.Join(t.TempDir(), "missing.env"))
	v, err := InitConfig()
	require.NoError(t, err)

	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "roleplay-api", cfg.Name)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/api/chat", cfg.Collaborator.ExchangePath)
	assert.Equal(t, 60*time.Second, cfg.Collaborator.Timeout())
	assert.Equal(t, 2, cfg.Playback.RetryAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Playback.RetryDelay())
	assert.Equal(t, "roleplay finalizado", cfg.Conversation.CompletionMarker)
	assert.Equal(t, []string{
		"audio/webm;codecs=opus", "audio/webm", "audio/ogg;codecs=opus", "audio/mp4", "audio/wav",
	}, cfg.Recorder.PreferredMimeTypes())
	assert.True(t, cfg.AnyOrigin())
}

func TestGetApplicationConfig_FromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "PORT=8181\nCOLLABORATOR__BASE_URL=https://roleplay.example.com\nCONVERSATION__COMPLETION_MARKER=\"fim da simulação\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("ENV_PATH", path)

	v, err := InitConfig()
	require.NoError(t, err)
	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Port)
	assert.Equal(t, "https://roleplay.example.com", cfg.Collaborator.BaseURL)
	assert.Equal(t, "fim da simulação", cfg.Conversation.CompletionMarker)
}

func TestGetApplicationConfig_AllowedOrigins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "ALLOWED_ORIGINS=\"https://app.example.com, https://admin.example.com\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("ENV_PATH", path)

	v, err := InitConfig()
	require.NoError(t, err)
	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.Origins())
	assert.False(t, cfg.AnyOrigin())
}

func TestGetApplicationConfig_InvalidBaseURL(t *testing.T) {
	t.Setenv("ENV_PATH", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("COLLABORATOR__BASE_URL", "not a url")
	v, err := InitConfig()
	require.NoError(t, err)

	_, err = GetApplicationConfig(v)
	assert.Error(t, err)
}

func TestRecorderConfig_PreferredMimeTypesDropsBlanks(t *testing.T) {
	c := RecorderConfig{MimeTypes: " audio/webm , ,audio/wav,"}
	assert.Equal(t, []string{"audio/webm", "audio/wav"}, c.PreferredMimeTypes())
}
