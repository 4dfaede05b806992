package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"audio-annotator/internal/session"
	"audio-annotator/internal/vocabulary"
)

var allowedExtensions = []string{
	".wav",
	".mp3",
	".flac",
	".ogg",
	".m4a",
}

const (
	defaultListenAddr        = "127.0.0.1:7860"
	defaultOutputFile        = "annotations.csv"
	defaultRefreshDebounceMS = 500
	defaultSessionTTLMinutes = 120
	defaultLogLevel          = "info"
)

// LoadDotEnv loads a .env file from the working directory when present.
// Variables already set in the environment win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// AllowedExtensions returns the list of supported audio file extensions (lowercase).
func AllowedExtensions() []string {
	result := make([]string, len(allowedExtensions))
	copy(result, allowedExtensions)
	return result
}

// ResolveOutputPath returns the absolute path of the persisted annotation
// table. Its parent directory is created when missing.
func ResolveOutputPath() (string, error) {
	path := strings.TrimSpace(os.Getenv("ANNOTATOR_OUTPUT"))
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		path = filepath.Join(cwd, defaultOutputFile)
	}

	abs, err := expandPath(path)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

// ListenAddr returns the TCP address the HTTP server should bind to.
func ListenAddr() string {
	addr := strings.TrimSpace(os.Getenv("ANNOTATOR_LISTEN_ADDR"))
	if addr == "" {
		return defaultListenAddr
	}
	return addr
}

// ValidateListenAddr ensures the configured listen address is restricted to localhost.
func ValidateListenAddr(addr string) error {
	addr = strings.TrimSpace(strings.ToLower(addr))
	if strings.HasPrefix(addr, "127.0.0.1:") || strings.HasPrefix(addr, "localhost:") || strings.HasPrefix(addr, "[::1]:") {
		return nil
	}
	return errors.New("listen address must bind to localhost for security")
}

// RefreshDebounce returns how long to wait after a label file change before
// reloading it.
func RefreshDebounce() time.Duration {
	return time.Duration(envInt("ANNOTATOR_REFRESH_DEBOUNCE_MS", defaultRefreshDebounceMS)) * time.Millisecond
}

// SessionTTL returns how long an idle session is kept in memory.
func SessionTTL() time.Duration {
	return time.Duration(envInt("ANNOTATOR_SESSION_TTL_MINUTES", defaultSessionTTLMinutes)) * time.Minute
}

// ResolveLabelFile returns the absolute path of the label vocabulary file
// when configured. The file itself may not exist yet.
func ResolveLabelFile() (string, bool, error) {
	path := strings.TrimSpace(os.Getenv("ANNOTATOR_LABEL_FILE"))
	if path == "" {
		return "", false, nil
	}

	abs, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	return abs, true, nil
}

// Settings holds the values that may come from the YAML settings file.
type Settings struct {
	DefaultLabels []string
	LogLevel      string
	LogFile       string
}

type settingsYAML struct {
	DefaultLabels []string `yaml:"default_labels"`
	LogLevel      string   `yaml:"log_level"`
	LogFile       string   `yaml:"log_file"`
}

// ResolveSettings returns settings after applying defaults, YAML
// configuration (when ANNOTATOR_CONFIG is set), and environment overrides.
func ResolveSettings() (Settings, error) {
	settings := Settings{
		DefaultLabels: append([]string(nil), vocabulary.DefaultLabels...),
		LogLevel:      defaultLogLevel,
	}

	configPath := strings.TrimSpace(os.Getenv("ANNOTATOR_CONFIG"))
	if configPath != "" {
		resolved, err := expandPath(configPath)
		if err != nil {
			return Settings{}, err
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return Settings{}, err
		}
		var yamlConfig settingsYAML
		if err := yaml.Unmarshal(data, &yamlConfig); err != nil {
			return Settings{}, err
		}

		var labels []string
		for _, label := range yamlConfig.DefaultLabels {
			if label = strings.TrimSpace(label); label != "" {
				labels = append(labels, vocabulary.Normalize(label))
			}
		}
		if len(labels) > 0 {
			settings.DefaultLabels = labels
		}
		if value := strings.TrimSpace(yamlConfig.LogLevel); value != "" {
			settings.LogLevel = value
		}
		if value := strings.TrimSpace(yamlConfig.LogFile); value != "" {
			settings.LogFile = value
		}
	}

	if value := strings.TrimSpace(os.Getenv("ANNOTATOR_LOG_LEVEL")); value != "" {
		settings.LogLevel = value
	}
	if value := strings.TrimSpace(os.Getenv("ANNOTATOR_LOG_FILE")); value != "" {
		settings.LogFile = value
	}

	return settings, nil
}

// SessionConfig assembles the orchestrator configuration.
func SessionConfig(settings Settings) (session.Config, error) {
	output, err := ResolveOutputPath()
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		OutputPath:        output,
		AllowedExtensions: AllowedExtensions(),
		DefaultLabels:     append([]string(nil), settings.DefaultLabels...),
	}, nil
}

func envInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return filepath.Abs(path)
}
