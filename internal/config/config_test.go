package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestGetters(t *testing.T) {
	v := viper.New()
	v.Set("data_dir", "/var/lib/hostscout")
	v.Set("server.max_conns", 32)
	v.Set("server.enabled", true)
	v.Set("agent.interval", "5s")
	cfg := New(v)

	if got := cfg.GetString("data_dir"); got != "/var/lib/hostscout" {
		t.Errorf("GetString(data_dir) = %q", got)
	}
	if got := cfg.GetInt("server.max_conns"); got != 32 {
		t.Errorf("GetInt(server.max_conns) = %d, want 32", got)
	}
	if !cfg.GetBool("server.enabled") {
		t.Error("GetBool(server.enabled) = false, want true")
	}
	if got := cfg.GetDuration("agent.interval"); got != 5*time.Second {
		t.Errorf("GetDuration(agent.interval) = %v, want 5s", got)
	}
	if !cfg.IsSet("agent.interval") || cfg.IsSet("agent.jitter") {
		t.Error("IsSet reports the wrong keys")
	}
}

func TestSub(t *testing.T) {
	v := viper.New()
	v.Set("modules.query.default_limit", 200)
	v.Set("modules.query.enabled", true)
	cfg := New(v)

	sub := cfg.Sub("modules.query")
	if got := sub.GetInt("default_limit"); got != 200 {
		t.Errorf("default_limit = %d, want 200", got)
	}
	if !sub.GetBool("enabled") {
		t.Error("enabled = false, want true")
	}

	missing := cfg.Sub("modules.retention")
	if missing == nil {
		t.Fatal("Sub of a missing key returned nil")
	}
	if missing.IsSet("enabled") {
		t.Error("missing subtree should be empty")
	}
}

func TestUnmarshal(t *testing.T) {
	v := viper.New()
	v.Set("addr", "127.0.0.1:9465")
	v.Set("max_conns", 8)

	var target struct {
		Addr     string `mapstructure:"addr"`
		MaxConns int    `mapstructure:"max_conns"`
	}
	if err := New(v).Unmarshal(&target); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if target.Addr != "127.0.0.1:9465" || target.MaxConns != 8 {
		t.Errorf("target = %+v", target)
	}
}

func TestNilViper(t *testing.T) {
	cfg := New(nil)
	if got := cfg.GetString("data_dir"); got != "" {
		t.Errorf("GetString() = %q, want empty", got)
	}
	if cfg.Viper() == nil {
		t.Error("Viper() = nil")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hostscout.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, "data_dir: /var/lib/hostscout\nagent:\n  interval: 30s\n  jitter: 2s\n")
	t.Setenv("HOSTSCOUT_AGENT_INTERVAL", "45s")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("data-dir", "", "")
	flags.Duration("jitter", 0, "")
	if err := flags.Parse([]string{"--data-dir", "/tmp/override"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(LoadOptions{
		Path:     path,
		Flags:    flags,
		FlagKeys: map[string]string{"data_dir": "data-dir", "agent.jitter": "jitter"},
		Defaults: func(v *viper.Viper) {
			v.SetDefault("agent.interval", "10s")
			v.SetDefault("retention.interval", "1m")
		},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		key  string
		want string
	}{
		{"data_dir", "/tmp/override"}, // set flag beats file
		{"agent.interval", "45s"},     // env beats file
		{"agent.jitter", "2s"},        // unset flag leaves file value
		{"retention.interval", "1m"},  // default
	}
	for _, tt := range tests {
		if got := cfg.GetString(tt.key); got != tt.want {
			t.Errorf("GetString(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
	if cfg.ConfigFile() != path {
		t.Errorf("ConfigFile() = %q, want %q", cfg.ConfigFile(), path)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(LoadOptions{Path: filepath.Join(t.TempDir(), "absent.yaml")})
	if err == nil {
		t.Fatal("Load() with a missing explicit file succeeded")
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(LoadOptions{Defaults: func(v *viper.Viper) { v.SetDefault("server.addr", "127.0.0.1:9465") }})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.GetString("server.addr"); got != "127.0.0.1:9465" {
		t.Errorf("server.addr = %q, want default", got)
	}
}

func TestLoadUnknownFlag(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	_, err := Load(LoadOptions{
		Path:     writeConfig(t, "data_dir: x\n"),
		Flags:    flags,
		FlagKeys: map[string]string{"data_dir": "data-dir"},
	})
	if err == nil {
		t.Fatal("Load() with an unknown flag succeeded")
	}
}
