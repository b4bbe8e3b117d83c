package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noDotenv points at a file that does not exist so tests never pick up a
// stray .env from the working directory.
func noDotenv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func writeFile(t *testing.T, name, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(LoadOptions{DotenvPath: noDotenv(t)})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", cfg.Redmine.URL)
	assert.Equal(t, ProviderOllama, cfg.AI.Provider)
	assert.Equal(t, "redmine_issues", cfg.VectorStore.Collection)
}

func TestLoad_EnvironmentNames(t *testing.T) {
	t.Setenv("REDMINE_URL", "http://redmine.internal:3000")
	t.Setenv("REDMINE_API_KEY", "abc123")
	t.Setenv("AI_PROVIDER", "openai")
	t.Setenv("AI_COMMENT_SIGNATURE", "Bot advice")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-large")
	t.Setenv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text")
	t.Setenv("API_PORT", "9000")
	t.Setenv("SCHEDULER_POLL_INTERVAL", "30s")
	t.Setenv("EMBEDDING_DIMENSION", "3072")

	cfg, err := Load(LoadOptions{DotenvPath: noDotenv(t)})
	require.NoError(t, err)

	assert.Equal(t, "http://redmine.internal:3000", cfg.Redmine.URL)
	assert.Equal(t, "abc123", cfg.Redmine.APIKey.Value())
	assert.Equal(t, ProviderOpenAI, cfg.AI.Provider)
	assert.Equal(t, "Bot advice", cfg.AI.CommentSignature)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey.Value())
	assert.Equal(t, "text-embedding-3-large", cfg.OpenAI.EmbeddingModel)
	assert.Equal(t, "nomic-embed-text", cfg.Ollama.EmbeddingModel)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.PollInterval.Duration())
	assert.Equal(t, 3072, cfg.Embedding.Dimension)
}

func TestLoad_LegacyAliases(t *testing.T) {
	t.Setenv("UPDATE_INTERVAL_MINUTES", "15")
	t.Setenv("POLLING_INTERVAL_MINUTES", "2")
	t.Setenv("AUTO_ADVICE_ENABLED", "false")
	t.Setenv("DISABLE_PROXY", "true")
	t.Setenv("CHROMADB_PATH", "/tmp/chroma")

	cfg, err := Load(LoadOptions{DotenvPath: noDotenv(t)})
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Scheduler.ResyncInterval.Duration())
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.PollInterval.Duration())
	assert.False(t, cfg.Scheduler.AutoAdvice)
	assert.True(t, cfg.Redmine.DisableProxy)
	assert.Equal(t, "/tmp/chroma", cfg.VectorStore.Path)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
tracker:
  kind: github
github:
  owner: acme
  repo: app
scheduler:
  resync_interval: 2h
  auto_advice: false
data:
  dir: /srv/remindmine
`, 0o600)

	cfg, err := Load(LoadOptions{ConfigPath: path, DotenvPath: noDotenv(t)})
	require.NoError(t, err)

	assert.Equal(t, TrackerGitHub, cfg.Tracker.Kind)
	assert.Equal(t, "acme", cfg.GitHub.Owner)
	assert.Equal(t, 2*time.Hour, cfg.Scheduler.ResyncInterval.Duration())
	assert.False(t, cfg.Scheduler.AutoAdvice)
	assert.Equal(t, "/srv/remindmine/chromadb", cfg.VectorStore.Path)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.PollInterval.Duration(), "unset keys keep defaults")
}

func TestLoad_Precedence(t *testing.T) {
	yamlPath := writeFile(t, "config.yaml", "ollama:\n  model: from-yaml\n  embedding_model: from-yaml\n", 0o600)
	dotenv := writeFile(t, ".env", "OLLAMA_MODEL=from-dotenv\nOLLAMA_EMBEDDING_MODEL=from-dotenv\nUNRELATED=x\n", 0o600)
	t.Setenv("OLLAMA_MODEL", "from-env")

	cfg, err := Load(LoadOptions{ConfigPath: yamlPath, DotenvPath: dotenv})
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Ollama.Model)
	assert.Equal(t, "from-dotenv", cfg.Ollama.EmbeddingModel)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", "tracker: [unclosed", 0o600)
	_, err := Load(LoadOptions{ConfigPath: path, DotenvPath: noDotenv(t)})
	assert.Error(t, err)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{ConfigPath: filepath.Join(t.TempDir(), "nope.yaml"), DotenvPath: noDotenv(t)})
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	t.Setenv("TRACKER_KIND", "jira")
	_, err := Load(LoadOptions{DotenvPath: noDotenv(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestLoad_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	path := writeFile(t, "config.yaml", "data:\n  dir: ./x\n", 0o644)
	_, err := Load(LoadOptions{ConfigPath: path, DotenvPath: noDotenv(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_FileTooLarge(t *testing.T) {
	path := writeFile(t, "config.yaml", "# "+strings.Repeat("x", maxConfigFileSize+1), 0o600)
	_, err := Load(LoadOptions{ConfigPath: path, DotenvPath: noDotenv(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"REDMINE_API_KEY":          "redmine.api_key",
		"OLLAMA_EMBEDDING_MODEL":   "ollama.embedding_model",
		"SCHEDULER_POLL_INTERVAL":  "scheduler.poll_interval",
		"POLLING_INTERVAL_MINUTES": "scheduler.poll_minutes",
		"PATH":                     "",
		"HOME_DIR":                 "",
		"API_":                     "",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}
