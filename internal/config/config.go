package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        int           `yaml:"port" json:"port"`
	AuthEnabled bool          `yaml:"auth_enabled" json:"auth_enabled"`
	AuthUser    string        `yaml:"auth_user" json:"auth_user"`
	AuthPass    string        `yaml:"auth_pass" json:"-"`
	DataDir     string        `yaml:"data_dir" json:"data_dir"`
	HTTPTimeout time.Duration `yaml:"http_timeout" json:"http_timeout"`
	Verbose     bool          `yaml:"verbose" json:"verbose"`
	Cache       CacheConfig   `yaml:"cache" json:"cache"`
	Watch       WatchConfig   `yaml:"watch" json:"watch"`
	S3          S3Config      `yaml:"s3" json:"s3"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Size    int           `yaml:"size" json:"size"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
}

type WatchConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// S3Config is only used when Endpoint is set.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Region    string `yaml:"region" json:"region"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
}

func Default() *Config {
	return &Config{
		Port:        8080,
		DataDir:     "./jardavData",
		HTTPTimeout: 30 * time.Second,
		Cache: CacheConfig{
			Enabled: true,
			Size:    64,
			TTL:     10 * time.Minute,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 250 * time.Millisecond,
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
	}
}

// envKeys maps environment variables onto flag names.
var envKeys = map[string]string{
	"PORT":           "port",
	"AUTH_ENABLED":   "auth",
	"AUTH_USER":      "user",
	"AUTH_PASS":      "pass",
	"DATA_DIR":       "data-dir",
	"HTTP_TIMEOUT":   "http-timeout",
	"CACHE_ENABLED":  "cache",
	"CACHE_SIZE":     "cache-size",
	"CACHE_TTL":      "cache-ttl",
	"WATCH_ENABLED":  "watch",
	"WATCH_DEBOUNCE": "watch-debounce",
	"S3_ENDPOINT":    "s3-endpoint",
	"S3_REGION":      "s3-region",
	"S3_ACCESS_KEY":  "s3-access-key",
	"S3_SECRET_KEY":  "s3-secret-key",
	"S3_USE_SSL":     "s3-ssl",
}

// RegisterFlags declares every configuration flag on fs with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "Path to a YAML configuration file")
	fs.Int("port", d.Port, "Port to listen on")
	fs.Bool("auth", d.AuthEnabled, "Enable HTTP Basic authentication")
	fs.String("user", d.AuthUser, "Username for authentication")
	fs.String("pass", d.AuthPass, "Password for authentication")
	fs.String("data-dir", d.DataDir, "Directory for persistent data storage")
	fs.Duration("http-timeout", d.HTTPTimeout, "Timeout for fetching remote archives")
	fs.Bool("cache", d.Cache.Enabled, "Keep parsed archives in memory")
	fs.Int("cache-size", d.Cache.Size, "Maximum number of parsed archives kept")
	fs.Duration("cache-ttl", d.Cache.TTL, "How long a parsed archive is kept")
	fs.Bool("watch", d.Watch.Enabled, "Watch local archives for changes")
	fs.Duration("watch-debounce", d.Watch.Debounce, "Quiet period before a change is reported")
	fs.String("s3-endpoint", d.S3.Endpoint, "S3 endpoint serving s3:// archives")
	fs.String("s3-region", d.S3.Region, "S3 region")
	fs.String("s3-access-key", d.S3.AccessKey, "S3 access key")
	fs.String("s3-secret-key", d.S3.SecretKey, "S3 secret key")
	fs.Bool("s3-ssl", d.S3.UseSSL, "Use TLS for S3")
}

// Load builds the configuration from defaults, the YAML file named by the
// config flag, the environment (a .env file included) and finally the flags
// set on the command line.
func Load(fs *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if fs != nil {
		if file, err := fs.GetString("config"); err == nil && file != "" {
			if err := cfg.LoadFile(file); err != nil {
				return nil, err
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if fs != nil {
		var flagErr error
		fs.Visit(func(f *pflag.Flag) {
			if err := cfg.set(f.Name, f.Value.String()); err != nil && flagErr == nil {
				flagErr = err
			}
		})
		if flagErr != nil {
			return nil, flagErr
		}
	}

	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for env, key := range envKeys {
		v, ok := lookup(env)
		if !ok || v == "" {
			continue
		}
		if err := c.set(key, v); err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
	}
	return nil
}

// set assigns one setting by flag name. Unknown names are ignored.
func (c *Config) set(key, value string) error {
	var err error
	switch key {
	case "port":
		c.Port, err = strconv.Atoi(value)
	case "auth":
		c.AuthEnabled, err = strconv.ParseBool(value)
	case "user":
		c.AuthUser = value
	case "pass":
		c.AuthPass = value
	case "data-dir":
		c.DataDir = value
	case "http-timeout":
		c.HTTPTimeout, err = time.ParseDuration(value)
	case "verbose":
		c.Verbose, err = strconv.ParseBool(value)
	case "cache":
		c.Cache.Enabled, err = strconv.ParseBool(value)
	case "cache-size":
		c.Cache.Size, err = strconv.Atoi(value)
	case "cache-ttl":
		c.Cache.TTL, err = time.ParseDuration(value)
	case "watch":
		c.Watch.Enabled, err = strconv.ParseBool(value)
	case "watch-debounce":
		c.Watch.Debounce, err = time.ParseDuration(value)
	case "s3-endpoint":
		c.S3.Endpoint = value
	case "s3-region":
		c.S3.Region = value
	case "s3-access-key":
		c.S3.AccessKey = value
	case "s3-secret-key":
		c.S3.SecretKey = value
	case "s3-ssl":
		c.S3.UseSSL, err = strconv.ParseBool(value)
	}
	if err != nil {
		return fmt.Errorf("invalid value %q for %s: %w", value, key, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.AuthEnabled && (c.AuthUser == "" || c.AuthPass == "") {
		return fmt.Errorf("authentication requires both username and password")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}
	if c.Cache.Enabled && c.Cache.Size < 1 {
		return fmt.Errorf("cache size must be at least 1")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative")
	}
	if c.Watch.Enabled && c.Watch.Debounce <= 0 {
		return fmt.Errorf("watch debounce must be positive")
	}
	if c.S3.Endpoint != "" && (c.S3.AccessKey == "" || c.S3.SecretKey == "") {
		return fmt.Errorf("s3 endpoint requires both access key and secret key")
	}
	return nil
}
