package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Duration is a time.Duration stored as a Go duration string ("1.5s").
// Plain JSON numbers are read as seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case string:
		parsed, err := time.ParseDuration(strings.TrimSpace(x))
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(x * float64(time.Second))
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	Delivery struct {
		MaxAttempts int      `json:"max_attempts"`
		RetryDelay  Duration `json:"retry_delay"`
	} `json:"delivery"`
	Ledger struct {
		Backend        string `json:"backend"`
		DynamoDBTable  string `json:"dynamodb_table"`
		BackupSchedule string `json:"backup_schedule"`
		BackupKeep     int    `json:"backup_keep"`
	} `json:"ledger"`
	LLM struct {
		BaseURL         string   `json:"base_url"`
		APIKey          string   `json:"api_key"`
		APIKeyParam     string   `json:"api_key_param"`
		Models          []string `json:"models"`
		Temperature     float32  `json:"temperature"`
		DefaultCooldown Duration `json:"default_cooldown"`
		MaxInputTokens  int      `json:"max_input_tokens"`
		Timeout         Duration `json:"timeout"`
	} `json:"llm"`
	Intent struct {
		Labels        []string `json:"labels"`
		FallbackLabel string   `json:"fallback_label"`
		Apology       string   `json:"apology"`
		RepliesPath   string   `json:"replies_path"`
	} `json:"intent"`
	TemplatesPath string `json:"templates_path"`
	Telegram      struct {
		Token     string           `json:"token"`
		ChatIDs   map[string]int64 `json:"chat_ids"`
		Heartbeat Duration         `json:"heartbeat"`
	} `json:"telegram"`
	Inbound struct {
		MaxConcurrent int `json:"max_concurrent"`
	} `json:"inbound"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	AWS struct {
		Region string `json:"region"`
	} `json:"aws"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".notifywa"),
		LogLevel: "info",
	}
	cfg.Delivery.MaxAttempts = 3
	cfg.Delivery.RetryDelay = Duration(1500 * time.Millisecond)
	cfg.Ledger.Backend = "file"
	cfg.Ledger.BackupSchedule = "@daily"
	cfg.Ledger.BackupKeep = 10
	cfg.LLM.BaseURL = "https://api.groq.com/openai/v1"
	cfg.LLM.Models = []string{"llama3-70b-8192", "llama3-8b-8192", "gemma2-9b-it"}
	cfg.LLM.Temperature = 0.1
	cfg.LLM.DefaultCooldown = Duration(60 * time.Second)
	cfg.LLM.MaxInputTokens = 256
	cfg.LLM.Timeout = Duration(30 * time.Second)
	cfg.Intent.Labels = []string{"greeting", "harga", "produk", "bantuan", "status", "default"}
	cfg.Intent.FallbackLabel = "default"
	cfg.Telegram.Heartbeat = Duration(30 * time.Second)
	cfg.Inbound.MaxConcurrent = 4
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = "127.0.0.1:3000"
	return cfg
}

// Load reads the config at path over the defaults, writing the defaults
// first when the file does not exist. Environment variables win over both.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if apiKey := os.Getenv("GROQ_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("GROQ_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if listen := os.Getenv("NOTIFYWA_LISTEN"); listen != "" {
		cfg.HTTP.Listen = listen
	}
}

// Resolve returns p relative to the data directory unless it is absolute.
// An empty p yields the data directory joined with def.
func (c *Config) Resolve(p, def string) string {
	if p == "" {
		p = def
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to a generic nested map through its JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns cfg as a flat dot-keyed map, optionally masking secrets.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// readRaw loads the file as a flat map so keys unknown to Config survive.
func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return Flatten(m), nil
}

// GetValue returns the value stored under the dot-separated key. The file
// is created with defaults if missing.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	flat, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under key in an existing config file. The value is
// parsed as JSON when possible and kept as a string otherwise.
func SetValue(path, key, value string) error {
	flat, err := readRaw(path)
	if err != nil {
		return err
	}
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat[key] = parsed

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	// Reject values the typed config cannot hold.
	if err := json.Unmarshal(data, Default()); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return writeFile(path, data)
}
