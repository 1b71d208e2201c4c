package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAMLAppliesDefaultsAndResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
basic_config:
  server_address: ":9000"
  file_base_dir: "uploads"
databases:
  sqlite3:
    dsn: "chat.db"
providers:
  openai:
    api_key: "from-file"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "anthropic-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, filepath.Join(dir, "uploads"), cfg.BasicConfig.FileBaseDir)
	assert.Equal(t, filepath.Join(dir, "chat.db"), cfg.Databases["sqlite3"].DSN)
	assert.Equal(t, "from-file", cfg.Provider(ProviderOpenAI).APIKey)
	assert.Equal(t, "anthropic-env", cfg.Provider(ProviderAnthropic).APIKey)
	assert.Equal(t, DefaultModel, cfg.Chat.DefaultModel)
	assert.Equal(t, DefaultSearchModel, cfg.Chat.WebSearch.Model)
	assert.Equal(t, []string{"gemini", "google", "duckduckgo"}, cfg.Chat.WebSearch.Backends)
	assert.Equal(t, 60, cfg.BasicConfig.UploadTTL)
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"basic_config":{"server_address":":8100"},"chat":{"default_model":"gpt-4o"}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8100", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, "gpt-4o", cfg.Chat.DefaultModel)
	assert.Equal(t, DefaultSystemPrompt, cfg.Chat.DefaultSystemPrompt)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
