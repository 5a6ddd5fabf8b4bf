package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PBOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.workers", typ: kInt, env: "PBOT_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Server.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Workers },
	},
	{
		key: "server.webhook_secret", typ: kString, env: "PBOT_WEBHOOK_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.WebhookSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.WebhookSecret },
	},
	{
		key: "server.admin_token", typ: kString, env: "PBOT_ADMIN_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.AdminToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AdminToken },
	},
	{
		key: "telegram.api_key", typ: kString, env: "PBOT_TELEGRAM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Telegram.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.APIKey },
	},
	{
		key: "telegram.base_url", typ: kString, env: "PBOT_TELEGRAM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Telegram.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.BaseURL },
	},
	{
		key: "telegram.whitelist", typ: kString, env: "PBOT_WHITELISTED_USERS",
		apply:   func(cfg *Config, v any) { cfg.Telegram.Whitelist = splitList(v.(string)) },
		extract: func(cfg Config) any { return strings.Join(cfg.Telegram.Whitelist, ",") },
	},
	{
		key: "telegram.quote_chat_id", typ: kString, env: "PBOT_TELEGRAM_CHAT_ID",
		apply:   func(cfg *Config, v any) { cfg.Telegram.QuoteChatID = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.QuoteChatID },
	},
	{
		key: "inference.backend", typ: kString, env: "PBOT_INFERENCE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Inference.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.Backend },
	},
	{
		key: "inference.base_url", typ: kString, env: "PBOT_INFERENCE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Inference.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.BaseURL },
	},
	{
		key: "inference.api_key", typ: kString, env: "PBOT_INFERENCE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Inference.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.APIKey },
	},
	{
		key: "inference.primary_model", typ: kString, env: "PBOT_PRIMARY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Inference.PrimaryModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.PrimaryModel },
	},
	{
		key: "inference.secondary_model", typ: kString, env: "PBOT_SECONDARY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Inference.SecondaryModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.SecondaryModel },
	},
	{
		key: "inference.tertiary_model", typ: kString, env: "PBOT_TERTIARY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Inference.TertiaryModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.TertiaryModel },
	},
	{
		key: "inference.utility_model", typ: kString, env: "PBOT_UTILITY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Inference.UtilityModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.UtilityModel },
	},
	{
		key: "inference.temperature", typ: kFloat, env: "PBOT_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Inference.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Inference.Temperature },
	},
	{
		key: "memory.compaction_threshold", typ: kInt, env: "PBOT_COMPACTION_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Memory.CompactionThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.CompactionThreshold },
	},
	{
		key: "persona.owner", typ: kString, env: "PBOT_PERSONA_OWNER",
		apply:   func(cfg *Config, v any) { cfg.Persona.Owner = v.(string) },
		extract: func(cfg Config) any { return cfg.Persona.Owner },
	},
	{
		key: "persona.language", typ: kString, env: "PBOT_PERSONA_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Persona.Language = v.(string) },
		extract: func(cfg Config) any { return cfg.Persona.Language },
	},
	{
		key: "persona.file", typ: kString, env: "PBOT_PERSONA_FILE",
		apply:   func(cfg *Config, v any) { cfg.Persona.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Persona.File },
	},
	{
		key: "quote.url", typ: kString, env: "PBOT_QUOTE_URL",
		apply:   func(cfg *Config, v any) { cfg.Quote.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Quote.URL },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PBOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "PBOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// applySecrets fills secrets still empty after the environment from the
// secrets file.
func applySecrets(cfg *Config, secrets secretReader) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
