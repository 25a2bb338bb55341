package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestConfigValidation(t *testing.T) {
	valid := func() Config { return *Default() }

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port - too low",
			mutate:  func(c *Config) { c.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port - too high",
			mutate:  func(c *Config) { c.Port = 99999 },
			wantErr: true,
		},
		{
			name:    "empty data directory",
			mutate:  func(c *Config) { c.DataDir = "" },
			wantErr: true,
		},
		{
			name:    "auth enabled without credentials",
			mutate:  func(c *Config) { c.AuthEnabled = true },
			wantErr: true,
		},
		{
			name: "auth enabled with credentials",
			mutate: func(c *Config) {
				c.AuthEnabled = true
				c.AuthUser = "user"
				c.AuthPass = "pass"
			},
			wantErr: false,
		},
		{
			name:    "zero http timeout",
			mutate:  func(c *Config) { c.HTTPTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "cache enabled with no room",
			mutate:  func(c *Config) { c.Cache.Size = 0 },
			wantErr: true,
		},
		{
			name: "cache disabled with no room",
			mutate: func(c *Config) {
				c.Cache.Enabled = false
				c.Cache.Size = 0
			},
			wantErr: false,
		},
		{
			name:    "s3 endpoint without keys",
			mutate:  func(c *Config) { c.S3.Endpoint = "localhost:9000" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "jardav.yaml")
	yamlData := `
port: 9000
data_dir: /var/lib/jardav
cache:
  size: 8
  ttl: 1m
s3:
  endpoint: minio.local:9000
  access_key: from-file
  secret_key: from-file
`
	if err := os.WriteFile(file, []byte(yamlData), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("PORT", "9100")
	t.Setenv("S3_ACCESS_KEY", "from-env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse([]string{"--config", file, "--port", "9200", "--watch=false"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 9200 {
		t.Errorf("Expected flag to win for port, got %d", cfg.Port)
	}
	if cfg.DataDir != "/var/lib/jardav" {
		t.Errorf("Expected data dir from file, got %s", cfg.DataDir)
	}
	if cfg.Cache.Size != 8 || cfg.Cache.TTL != time.Minute {
		t.Errorf("Expected cache settings from file, got %+v", cfg.Cache)
	}
	if !cfg.Cache.Enabled {
		t.Error("Expected cache to stay enabled by default")
	}
	if cfg.S3.AccessKey != "from-env" || cfg.S3.SecretKey != "from-file" {
		t.Errorf("Expected env to override file for s3 keys, got %+v", cfg.S3)
	}
	if cfg.Watch.Enabled {
		t.Error("Expected --watch=false to disable the watcher")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected loaded config to validate, got %v", err)
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("CACHE_TTL", "forever")

	if _, err := Load(nil); err == nil {
		t.Error("Expected an error for an unparsable duration")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	if _, err := Load(fs); err == nil {
		t.Error("Expected an error for a missing config file")
	}
}
