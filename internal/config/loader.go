package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// DefaultDotenvPath is read when LoadOptions.DotenvPath is empty.
	DefaultDotenvPath = ".env"
)

// sections are the top-level keys environment variables may populate.
// Anything else in the environment is ignored.
var sections = map[string]bool{
	"redmine":     true,
	"github":      true,
	"tracker":     true,
	"ai":          true,
	"ollama":      true,
	"openai":      true,
	"embedding":   true,
	"vectorstore": true,
	"qdrant":      true,
	"data":        true,
	"api":         true,
	"scheduler":   true,
	"logging":     true,
	"telemetry":   true,
}

// envAliases maps legacy variable names that do not follow the
// SECTION_FIELD pattern.
var envAliases = map[string]string{
	"UPDATE_INTERVAL_MINUTES":  "scheduler.resync_minutes",
	"POLLING_INTERVAL_MINUTES": "scheduler.poll_minutes",
	"AUTO_ADVICE_ENABLED":      "scheduler.auto_advice",
	"DISABLE_PROXY":            "redmine.disable_proxy",
	"CHROMADB_PATH":            "vectorstore.path",
	"LOG_LEVEL":                "logging.level",
}

// LoadOptions locates optional configuration files.
type LoadOptions struct {
	// ConfigPath is a YAML file. Empty means no file.
	ConfigPath string

	// DotenvPath is a .env file; missing files are ignored.
	// Empty means DefaultDotenvPath.
	DotenvPath string
}

// Load builds the configuration.
//
// Precedence (highest to lowest):
//  1. Environment variables (REDMINE_URL, SCHEDULER_POLL_INTERVAL, ...)
//  2. .env file
//  3. YAML config file
//  4. Built-in defaults
//
// Environment variables split on the first underscore into section and
// field, so OLLAMA_EMBEDDING_MODEL becomes ollama.embedding_model.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if opts.ConfigPath != "" {
		content, err := readConfigFile(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", opts.ConfigPath, err)
		}
	}

	dotenvPath := opts.DotenvPath
	if dotenvPath == "" {
		dotenvPath = DefaultDotenvPath
	}
	if err := k.Load(dotenvProvider{path: dotenvPath}, nil); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", dotenvPath, err)
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps an environment variable name to a koanf key, or "" to skip it.
func envKey(name string) string {
	if alias, ok := envAliases[name]; ok {
		return alias
	}
	parts := strings.SplitN(strings.ToLower(name), "_", 2)
	if len(parts) != 2 || parts[1] == "" || !sections[parts[0]] {
		return ""
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile opens the file once and validates it through the open
// descriptor so the checks and the read see the same file.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties rejects world-readable files (they may hold
// API keys) and oversized files.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// dotenvProvider is a koanf.Provider over a .env file. Keys go through the
// same mapping as real environment variables.
type dotenvProvider struct {
	path string
}

func (p dotenvProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("dotenv provider does not support ReadBytes")
}

func (p dotenvProvider) Read() (map[string]interface{}, error) {
	vars, err := godotenv.Read(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]interface{}{}, nil
		}
		return nil, err
	}

	out := make(map[string]interface{})
	for name, value := range vars {
		key := envKey(name)
		if key == "" {
			continue
		}
		section, field, _ := strings.Cut(key, ".")
		m, ok := out[section].(map[string]interface{})
		if !ok {
			m = make(map[string]interface{})
			out[section] = m
		}
		m[field] = value
	}
	return out, nil
}
