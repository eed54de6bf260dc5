package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"roundicon/internal/processor"
	"roundicon/pkg/logger"
)

// Config represents the application configuration
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Processing ProcessingConfig `yaml:"processing"`
	Watch      WatchConfig      `yaml:"watch"`
	Serve      ServeConfig      `yaml:"serve"`
	Fetch      FetchConfig      `yaml:"fetch"`
}

type ProcessingConfig struct {
	CropRatio    float64        `yaml:"crop_ratio"`
	CornerRatio  float64        `yaml:"corner_ratio"`
	IconSizes    []int          `yaml:"icon_sizes"`
	Suffix       string         `yaml:"suffix"`
	ExtraFormats []string       `yaml:"extra_formats"`
	SVGSize      int            `yaml:"svg_size"`
	Quality      map[string]int `yaml:"quality"`
	AVIFSpeed    int            `yaml:"avif_speed"`
}

type WatchConfig struct {
	Dir       string        `yaml:"dir"`
	OutputDir string        `yaml:"output_dir"`
	Debounce  time.Duration `yaml:"debounce"`
}

// ServeConfig configures HTTP mode, which runs when Enabled is set.
type ServeConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	BrowserMaxAge  time.Duration `yaml:"browser_max_age"`
	CDNMaxAge      time.Duration `yaml:"cdn_max_age"`
	RateLimit      RateLimit     `yaml:"rate_limit"`
}

// RateLimit is requests per second and burst, globally and per client IP.
// Zero disables a limit.
type RateLimit struct {
	GlobalRate  int `yaml:"global_rate"`
	GlobalBurst int `yaml:"global_burst"`
	IPRate      int `yaml:"ip_rate"`
	IPBurst     int `yaml:"ip_burst"`
}

type FetchConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Attempts uint          `yaml:"attempts"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	opts := processor.DefaultOptions()
	return &Config{
		LogLevel: "info",
		Processing: ProcessingConfig{
			CropRatio:   opts.CropRatio,
			CornerRatio: opts.CornerRatio,
			IconSizes:   opts.IconSizes,
			Suffix:      opts.Suffix,
			SVGSize:     opts.SVGSize,
			Quality: map[string]int{
				"webp": opts.WebPQuality,
				"avif": opts.AVIFQuality,
			},
			AVIFSpeed: opts.AVIFSpeed,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Serve: ServeConfig{
			Addr:           ":8080",
			MaxUploadBytes: 16 << 20,
			BrowserMaxAge:  24 * time.Hour,
			CDNMaxAge:      24 * time.Hour,
		},
		Fetch: FetchConfig{
			Timeout:  12 * time.Second,
			Attempts: 3,
		},
	}
}

// Load reads and parses the configuration file. Keys missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks every field against its allowed range
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if err := c.ProcessorOptions().Validate(); err != nil {
		return fmt.Errorf("processing: %w", err)
	}
	for format, q := range c.Processing.Quality {
		if format != "webp" && format != "avif" {
			return fmt.Errorf("processing.quality: unknown format %q", format)
		}
		if q < 1 || q > 100 {
			return fmt.Errorf("processing.quality.%s: %d out of range [1, 100]", format, q)
		}
	}
	if c.Processing.SVGSize < 16 || c.Processing.SVGSize > 8192 {
		return fmt.Errorf("processing.svg_size: %d out of range [16, 8192]", c.Processing.SVGSize)
	}
	if c.Watch.Debounce < 0 {
		return errors.New("watch.debounce must not be negative")
	}
	if c.Serve.Enabled && c.Serve.Addr == "" {
		return errors.New("serve.addr is required when serve.enabled is set")
	}
	if c.Serve.MaxUploadBytes <= 0 {
		return errors.New("serve.max_upload_bytes must be positive")
	}
	rl := c.Serve.RateLimit
	if rl.GlobalRate < 0 || rl.GlobalBurst < 0 || rl.IPRate < 0 || rl.IPBurst < 0 {
		return errors.New("serve.rate_limit values must not be negative")
	}
	if c.Fetch.Attempts < 1 {
		return errors.New("fetch.attempts must be at least 1")
	}
	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be positive")
	}
	return nil
}

// ProcessorOptions converts the processing section into pipeline options.
func (c *Config) ProcessorOptions() processor.Options {
	p := c.Processing
	return processor.Options{
		CropRatio:    p.CropRatio,
		CornerRatio:  p.CornerRatio,
		IconSizes:    slices.Clone(p.IconSizes),
		Suffix:       p.Suffix,
		ExtraFormats: slices.Clone(p.ExtraFormats),
		SVGSize:      p.SVGSize,
		WebPQuality:  p.Quality["webp"],
		AVIFQuality:  p.Quality["avif"],
		AVIFSpeed:    p.AVIFSpeed,
	}
}
