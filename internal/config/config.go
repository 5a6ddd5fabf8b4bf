package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Telegram  TelegramConfig
	Inference InferenceConfig
	Memory    MemoryConfig
	Persona   PersonaConfig
	Quote     QuoteConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	// Workers is how many queued jobs are processed at once.
	Workers       int
	WebhookSecret string
	// AdminToken guards the admin API; empty disables it.
	AdminToken string
}

type TelegramConfig struct {
	APIKey      string
	BaseURL     string
	Whitelist   []string
	QuoteChatID string
}

type InferenceConfig struct {
	Backend string
	// BaseURL overrides the backend's default endpoint.
	BaseURL        string
	APIKey         string
	PrimaryModel   string
	SecondaryModel string
	TertiaryModel  string
	UtilityModel   string
	Temperature    float64
}

type MemoryConfig struct {
	CompactionThreshold int
}

type PersonaConfig struct {
	Owner    string
	Language string
	// File is a personas YAML file re-imported whenever it changes.
	File string
}

type QuoteConfig struct {
	URL string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    3000,
			Workers: 4,
		},
		Telegram: TelegramConfig{
			BaseURL: "https://api.telegram.org",
		},
		Inference: InferenceConfig{
			Backend:        "groq",
			PrimaryModel:   "llama3-70b-8192",
			SecondaryModel: "mixtral-8x7b-32768",
			TertiaryModel:  "gemma-7b-it",
			UtilityModel:   "mixtral-8x7b-32768",
			Temperature:    0.7,
		},
		Memory: MemoryConfig{
			CompactionThreshold: 14,
		},
		Persona: PersonaConfig{
			Owner:    "daniel",
			Language: "English",
		},
		Quote: QuoteConfig{
			URL: "https://api.quotable.io/random",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/pbot/config.json, then applies PBOT_* environment
// overrides. Secrets are never read from the config file: they come from the
// environment or, failing that, from $XDG_DATA_HOME/pbot/secrets.json.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), secretsFile{path: secretsFilePath()})
}

// secretReader abstracts the secrets file for testing.
type secretReader interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	return cfg, nil
}

// Validate reports the settings that serving the bot cannot do without.
func (c Config) Validate() error {
	var errs []error
	if c.Telegram.APIKey == "" {
		errs = append(errs, missing("telegram.api_key"))
	}
	switch c.Inference.Backend {
	case "ollama":
	case "groq", "openai", "anthropic", "gemini":
		if c.Inference.APIKey == "" {
			errs = append(errs, missing("inference.api_key"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown inference backend %q", c.Inference.Backend))
	}
	if c.Server.Workers < 1 {
		errs = append(errs, fmt.Errorf("server.workers must be at least 1, got %d", c.Server.Workers))
	}
	if c.Memory.CompactionThreshold < 2 {
		errs = append(errs, fmt.Errorf("memory.compaction_threshold must be at least 2, got %d", c.Memory.CompactionThreshold))
	}
	return errors.Join(errs...)
}

func missing(key string) error {
	env := ""
	for _, s := range specs {
		if s.key == key {
			env = s.env
		}
	}
	return fmt.Errorf("missing required config: %s. Set it via environment variable %s or %s", key, env, secretsFilePath())
}

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "pbot")
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "pbot", "config.json")
}

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
