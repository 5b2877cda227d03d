package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GROQ_API_KEY", "GROQ_BASE_URL", "TELEGRAM_BOT_TOKEN", "NOTIFYWA_LISTEN"} {
		t.Setenv(k, "")
	}
}

func TestLoad_WritesDefaults(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults not written: %v", err)
	}
	if cfg.Delivery.MaxAttempts != 3 || cfg.Delivery.RetryDelay.Std() != 1500*time.Millisecond {
		t.Errorf("unexpected delivery defaults %+v", cfg.Delivery)
	}
	if cfg.LLM.Temperature != 0.1 || cfg.LLM.DefaultCooldown.Std() != time.Minute {
		t.Errorf("unexpected llm defaults %+v", cfg.LLM)
	}
	if cfg.Ledger.Backend != "file" || cfg.Ledger.BackupSchedule != "@daily" {
		t.Errorf("unexpected ledger defaults %+v", cfg.Ledger)
	}
	if len(cfg.LLM.Models) == 0 {
		t.Error("expected default model list")
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	original := Default()
	original.DataDir = "/tmp/test-data"
	original.LogLevel = "debug"
	original.LLM.APIKey = "gsk-round-trip"
	original.LLM.Models = []string{"m1", "m2"}
	original.Delivery.RetryDelay = Duration(250 * time.Millisecond)
	original.Telegram.ChatIDs = map[string]int64{"628123456": 99}
	original.Ledger.Backend = "dynamodb"
	original.Ledger.DynamoDBTable = "notifywa"

	writeTestConfig(t, path, original)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DataDir != original.DataDir || loaded.LogLevel != "debug" {
		t.Errorf("top-level mismatch: %+v", loaded)
	}
	if loaded.LLM.APIKey != "gsk-round-trip" || len(loaded.LLM.Models) != 2 {
		t.Errorf("llm mismatch: %+v", loaded.LLM)
	}
	if loaded.Delivery.RetryDelay.Std() != 250*time.Millisecond {
		t.Errorf("retry delay mismatch: %v", loaded.Delivery.RetryDelay.Std())
	}
	if loaded.Telegram.ChatIDs["628123456"] != 99 {
		t.Errorf("chat directory mismatch: %v", loaded.Telegram.ChatIDs)
	}
	if loaded.Ledger.DynamoDBTable != "notifywa" {
		t.Errorf("ledger mismatch: %+v", loaded.Ledger)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	cfg := Default()
	cfg.LLM.APIKey = "from-file"
	writeTestConfig(t, path, cfg)

	t.Setenv("GROQ_API_KEY", "from-env")
	t.Setenv("GROQ_BASE_URL", "http://localhost:1234/v1")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-env")
	t.Setenv("NOTIFYWA_LISTEN", ":9000")

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.LLM.APIKey != "from-env" || loaded.LLM.BaseURL != "http://localhost:1234/v1" {
		t.Errorf("llm env overrides not applied: %+v", loaded.LLM)
	}
	if loaded.Telegram.Token != "tg-env" || loaded.HTTP.Listen != ":9000" {
		t.Errorf("env overrides not applied: %q %q", loaded.Telegram.Token, loaded.HTTP.Listen)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := tempConfigPath(t)
	os.WriteFile(path, []byte("{not json"), 0600)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{`"1.5s"`, 1500 * time.Millisecond},
		{`"2m"`, 2 * time.Minute},
		{`3`, 3 * time.Second},
		{`null`, 0},
	}
	for _, tc := range cases {
		var d Duration
		if err := json.Unmarshal([]byte(tc.in), &d); err != nil {
			t.Errorf("%s: %v", tc.in, err)
			continue
		}
		if d.Std() != tc.want {
			t.Errorf("%s: got %v, want %v", tc.in, d.Std(), tc.want)
		}
	}
	var d Duration
	if err := json.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestResolve(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	if got := cfg.Resolve("", "sent_messages.json"); got != "/data/sent_messages.json" {
		t.Errorf("got %s", got)
	}
	if got := cfg.Resolve("/etc/templates.yaml", "x"); got != "/etc/templates.yaml" {
		t.Errorf("got %s", got)
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)
	if err := Save(path, &Config{LogLevel: "info"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "config.json")
	if err := Save(path, &Config{LogLevel: "warn"}); err != nil {
		t.Fatalf("Save should create parent directory, got: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist: %v", err)
	}
}

func TestToMap(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/test"}
	cfg.Delivery.MaxAttempts = 5
	cfg.Delivery.RetryDelay = Duration(time.Second)

	m, err := ToMap(cfg)
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}
	if m["data_dir"] != "/tmp/test" {
		t.Errorf("expected data_dir=/tmp/test, got %v", m["data_dir"])
	}
	delivery, ok := m["delivery"].(map[string]any)
	if !ok {
		t.Fatalf("expected delivery to be map, got %T", m["delivery"])
	}
	// JSON numbers are float64
	if delivery["max_attempts"] != float64(5) {
		t.Errorf("expected max_attempts=5, got %v", delivery["max_attempts"])
	}
	if delivery["retry_delay"] != "1s" {
		t.Errorf("expected retry_delay=1s, got %v", delivery["retry_delay"])
	}
}

func TestListValues(t *testing.T) {
	cfg := &Config{LogLevel: "info"}
	cfg.LLM.APIKey = "gsk-secret-key-1234"
	cfg.Telegram.Token = "bot-token-abcd"

	plain, err := ListValues(cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	if plain["llm.api_key"] != "gsk-secret-key-1234" || plain["telegram.token"] != "bot-token-abcd" {
		t.Errorf("expected unmasked secrets, got %v %v", plain["llm.api_key"], plain["telegram.token"])
	}

	masked, err := ListValues(cfg, true)
	if err != nil {
		t.Fatal(err)
	}
	if masked["llm.api_key"] != "***1234" || masked["telegram.token"] != "***abcd" {
		t.Errorf("expected masked secrets, got %v %v", masked["llm.api_key"], masked["telegram.token"])
	}
	if masked["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", masked["log_level"])
	}
}

func TestGetValue(t *testing.T) {
	path := tempConfigPath(t)
	cfg := Default()
	cfg.LogLevel = "debug"
	cfg.Inbound.MaxConcurrent = 8
	writeTestConfig(t, path, cfg)

	v, err := GetValue(path, "log_level")
	if err != nil || v != "debug" {
		t.Errorf("expected log_level=debug, got %v (%v)", v, err)
	}
	v, err = GetValue(path, "inbound.max_concurrent")
	if err != nil || v != float64(8) {
		t.Errorf("expected inbound.max_concurrent=8, got %v (%T)", v, v)
	}
}

func TestGetValue_UnknownKey(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, &Config{LogLevel: "info"})

	_, err := GetValue(path, "nonexistent.key")
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if expected := "unknown config key: nonexistent.key"; err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestGetValue_CreatesDefaults(t *testing.T) {
	path := tempConfigPath(t)
	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue on new config failed: %v", err)
	}
	if v != "info" {
		t.Errorf("expected default log_level=info, got %v", v)
	}
}

func TestSetValue(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	cases := []struct {
		key, value string
		want       any
	}{
		{"log_level", "debug", "debug"},
		{"delivery.max_attempts", "5", float64(5)},
		{"llm.temperature", "0.3", 0.3},
		{"http.enabled", "false", false},
		{"delivery.retry_delay", "2s", "2s"},
		{"custom.setting", "value", "value"},
	}
	for _, tc := range cases {
		if err := SetValue(path, tc.key, tc.value); err != nil {
			t.Fatalf("SetValue(%s): %v", tc.key, err)
		}
		v, err := GetValue(path, tc.key)
		if err != nil {
			t.Fatalf("GetValue(%s): %v", tc.key, err)
		}
		if v != tc.want {
			t.Errorf("%s: expected %v (%T), got %v (%T)", tc.key, tc.want, tc.want, v, v)
		}
	}

	clearEnv(t)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Delivery.MaxAttempts != 5 || cfg.Delivery.RetryDelay.Std() != 2*time.Second {
		t.Errorf("typed config not updated: %+v", cfg.Delivery)
	}
}

func TestSetValue_RejectsWrongType(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "delivery.max_attempts", "many"); err == nil {
		t.Fatal("expected error for non-numeric max_attempts")
	}
	v, _ := GetValue(path, "delivery.max_attempts")
	if v != float64(3) {
		t.Errorf("file changed after rejected set: %v", v)
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	if err := SetValue(path, "log_level", "debug"); err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

func TestLoad_ExplicitZeroTemperature(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte(`{"llm":{"temperature":0}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Temperature != 0 {
		t.Errorf("expected explicit temperature 0 kept, got %v", cfg.LLM.Temperature)
	}
}
