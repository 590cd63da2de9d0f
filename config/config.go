package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/chaos-io/bgremover/errs"
	"github.com/chaos-io/bgremover/finalize"
)

// Config holds the process launch parameters.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Outputs OutputsConfig `yaml:"outputs"`
	Model   ModelConfig   `yaml:"model"`
	Preview PreviewConfig `yaml:"preview"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Mode is the gin mode: debug, release or test.
	Mode          string `yaml:"mode"`
	DefaultFormat string `yaml:"default_format"`
	// MaxUploadMB caps the request body of an upload; larger requests get 413.
	MaxUploadMB int `yaml:"max_upload_mb"`
}

type OutputsConfig struct {
	Dir string `yaml:"dir"`
	// Retention of 0 keeps artifacts forever.
	Retention       time.Duration `yaml:"retention"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
}

type ModelConfig struct {
	// Backend is "http" for a rembg server or "none" to pass images through.
	Backend string        `yaml:"backend"`
	URL     string        `yaml:"url"`
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
	Matting MattingConfig `yaml:"matting"`
}

type MattingConfig struct {
	Enabled             bool `yaml:"enabled"`
	ForegroundThreshold int  `yaml:"foreground_threshold"`
	BackgroundThreshold int  `yaml:"background_threshold"`
	ErodeSize           int  `yaml:"erode_size"`
}

type PreviewConfig struct {
	MaxSize uint `yaml:"max_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          7860,
			Mode:          "release",
			DefaultFormat: "PNG",
			MaxUploadMB:   32,
		},
		Outputs: OutputsConfig{
			Dir:             "outputs",
			CleanupSchedule: "@hourly",
		},
		Model: ModelConfig{
			Backend: "http",
			URL:     "http://127.0.0.1:7000",
			Name:    "u2net",
			Timeout: 5 * time.Minute,
			Matting: MattingConfig{
				Enabled:             true,
				ForegroundThreshold: 240,
				BackgroundThreshold: 10,
				ErodeSize:           10,
			},
		},
		Preview: PreviewConfig{MaxSize: 1024},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads .env (if present), then the YAML file at path (if non-empty and
// present), then BGR_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errs.Wrap(errs.KindConfig, "config.Load", "read .env", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errs.Wrap(errs.KindConfig, "config.Load", "parse "+path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, errs.Wrap(errs.KindConfig, "config.Load", "read "+path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, errs.Wrap(errs.KindConfig, "config.Load", "environment override", err)
	}
	if err := cfg.Validate(); err != nil {
		// Validate may surface another package's kinded error, the config kind wins
		return nil, &errs.Error{Kind: errs.KindConfig, Op: "config.Validate", Message: "invalid config", Cause: err}
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"BGR_HOST":           &c.Server.Host,
		"BGR_MODE":           &c.Server.Mode,
		"BGR_DEFAULT_FORMAT": &c.Server.DefaultFormat,
		"BGR_OUTPUTS_DIR":    &c.Outputs.Dir,
		"BGR_MODEL_BACKEND":  &c.Model.Backend,
		"BGR_MODEL_URL":      &c.Model.URL,
		"BGR_MODEL_NAME":     &c.Model.Name,
		"BGR_LOG_LEVEL":      &c.Log.Level,
		"BGR_LOG_FORMAT":     &c.Log.Format,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("BGR_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BGR_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("BGR_OUTPUTS_RETENTION"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BGR_OUTPUTS_RETENTION: %w", err)
		}
		c.Outputs.Retention = d
	}
	if v, ok := lookup("BGR_MODEL_MATTING"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BGR_MODEL_MATTING: %w", err)
		}
		c.Model.Matting.Enabled = b
	}
	return nil
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode must be debug, release or test")
	}
	if _, err := finalize.ParseFormat(c.Server.DefaultFormat); err != nil {
		return fmt.Errorf("server.default_format: %w", err)
	}
	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("server.max_upload_mb must be positive")
	}
	if strings.TrimSpace(c.Outputs.Dir) == "" {
		return fmt.Errorf("outputs.dir cannot be empty")
	}
	if c.Outputs.Retention < 0 {
		return fmt.Errorf("outputs.retention cannot be negative")
	}
	switch c.Model.Backend {
	case "http":
		if c.Model.URL == "" {
			return fmt.Errorf("model.url is required for the http backend")
		}
	case "none":
	default:
		return fmt.Errorf("model.backend must be http or none")
	}
	m := c.Model.Matting
	if m.ForegroundThreshold < 0 || m.ForegroundThreshold > 255 || m.BackgroundThreshold < 0 || m.BackgroundThreshold > 255 {
		return fmt.Errorf("model.matting thresholds must be between 0 and 255")
	}
	if m.ErodeSize < 0 {
		return fmt.Errorf("model.matting.erode_size cannot be negative")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
