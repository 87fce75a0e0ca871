package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ioutils "github.com/handiism/tdl/internal/io"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TDL_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "TDL"

// MaxDownloads is the highest accepted worker count.
const MaxDownloads = 32

// Config is the effective configuration of a run.
type Config struct {
	Downloads       int    `mapstructure:"downloads"`
	DownloadPath    string `mapstructure:"download_path"`
	CoverPath       string `mapstructure:"cover_path"`
	CacheDir        string `mapstructure:"cache_dir"`
	ReplaceExisting bool   `mapstructure:"replace_existing"`

	Retry    RetryConfig    `mapstructure:"retry"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Cover    CoverConfig    `mapstructure:"cover"`
	Tags     TagsConfig     `mapstructure:"tags"`
	Log      LogConfig      `mapstructure:"log"`
	Progress ProgressConfig `mapstructure:"progress"`
	Playlist PlaylistConfig `mapstructure:"playlist"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`

	v *viper.Viper
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Statuses    []int         `mapstructure:"statuses"`
}

type HTTPConfig struct {
	// Timeout bounds a whole request. Zero disables it, which stream
	// downloads need.
	Timeout        time.Duration `mapstructure:"timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	MaxEntryBytes int64         `mapstructure:"max_entry_bytes"`
}

type CoverConfig struct {
	Embed       bool `mapstructure:"embed"`
	Resize      bool `mapstructure:"resize"`
	MaxSize     int  `mapstructure:"max_size"`
	ConvertJPEG bool `mapstructure:"convert_jpeg"`
}

type TagsConfig struct {
	Modify bool `mapstructure:"modify"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type ProgressConfig struct {
	Buffer int `mapstructure:"buffer"`
}

type PlaylistConfig struct {
	Create   bool   `mapstructure:"create"`
	Format   string `mapstructure:"format"`
	Extended bool   `mapstructure:"extended"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Dir returns the tdl configuration directory, $XDG_CONFIG_HOME/tdl.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "tdl")
}

// DefaultFile is the config file read when none is given.
func DefaultFile() string {
	return filepath.Join(Dir(), "config.toml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("downloads", 3)
	v.SetDefault("download_path", "$HOME/Music/{artist_name}/{album_name} [{album_id}] [{album_release_year}]/{track_num} - {track_name}")
	v.SetDefault("cover_path", "")
	v.SetDefault("cache_dir", filepath.Join(Dir(), "cache"))
	v.SetDefault("replace_existing", false)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("retry.statuses", []int{429, 502, 503, 504})

	v.SetDefault("http.timeout", time.Duration(0))
	v.SetDefault("http.connect_timeout", 15*time.Second)
	v.SetDefault("http.user_agent", "tdl/1.0")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.default_ttl", 24*time.Hour)
	v.SetDefault("cache.max_entry_bytes", 16<<20)

	v.SetDefault("cover.embed", true)
	v.SetDefault("cover.resize", true)
	v.SetDefault("cover.max_size", 1280)
	v.SetDefault("cover.convert_jpeg", true)

	v.SetDefault("tags.modify", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("progress.buffer", 256)

	v.SetDefault("playlist.create", false)
	v.SetDefault("playlist.format", "m3u")
	v.SetDefault("playlist.extended", true)

	v.SetDefault("metrics.addr", "")
}

// Load builds the configuration from defaults, the TOML file at path, .env
// files in the working directory and TDL_* environment variables, in
// increasing precedence.
//
// An empty path reads DefaultFile when it exists. A path that was asked for
// explicitly must exist.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	explicit := path != ""
	if !explicit {
		path = DefaultFile()
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.DownloadPath = ExpandTemplate(cfg.DownloadPath)
	cfg.CoverPath = ExpandTemplate(cfg.CoverPath)
	cfg.CacheDir = ioutils.ExpandPath(cfg.CacheDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles applies .env and then .env.local. Variables already set in the
// process environment win over .env, .env.local wins over both.
func loadEnvFiles() error {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Overload(".env.local"); err != nil {
			return fmt.Errorf("load .env.local: %w", err)
		}
	}
	return nil
}

// Validate reports every setting that cannot drive a run.
func (c *Config) Validate() error {
	var errs []error

	if c.Downloads < 1 || c.Downloads > MaxDownloads {
		errs = append(errs, fmt.Errorf("downloads must be between 1 and %d, got %d", MaxDownloads, c.Downloads))
	}
	if strings.TrimSpace(c.DownloadPath) == "" {
		errs = append(errs, errors.New("download_path must not be empty"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.BaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("retry.base_delay must be positive, got %s", c.Retry.BaseDelay))
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, fmt.Errorf("retry.max_delay %s is below retry.base_delay %s", c.Retry.MaxDelay, c.Retry.BaseDelay))
	}
	for _, s := range c.Retry.Statuses {
		if s < 400 || s > 599 {
			errs = append(errs, fmt.Errorf("retry.statuses: %d is not an HTTP error status", s))
		}
	}
	if c.Cache.MaxEntryBytes < 0 {
		errs = append(errs, errors.New("cache.max_entry_bytes must not be negative"))
	}
	if c.Progress.Buffer < 0 {
		errs = append(errs, errors.New("progress.buffer must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Write prints every effective setting as "key = value", sorted by key.
func (c *Config) Write(w io.Writer) error {
	if c.v == nil {
		return errors.New("config was not loaded")
	}
	keys := c.v.AllKeys()
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s = %v\n", k, c.v.Get(k)); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the effective settings as TOML to path.
func (c *Config) Save(path string) error {
	if c.v == nil {
		return errors.New("config was not loaded")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return c.v.WriteConfigAs(path)
}

// ExpandTemplate is ioutils.ExpandPath for naming templates. Templates use "/"
// separators whatever the platform, so the result is not cleaned.
func ExpandTemplate(t string) string {
	t = os.ExpandEnv(t)
	if t == "~" || strings.HasPrefix(t, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			t = filepath.ToSlash(home) + strings.TrimPrefix(t, "~")
		}
	}
	return t
}
