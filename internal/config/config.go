// Package config loads runtime settings of the overlay daemon from a JSON file.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Defaults used when a field is omitted from the JSON file.
const (
	DefaultInterval       = time.Second
	DefaultTTL            = 3000 * time.Millisecond
	DefaultIoUThreshold   = 0.4
	DefaultOracleEndpoint = "http://localhost:8000/detect"
	DefaultOracleTimeout  = 30 * time.Second
	DefaultListenAddr     = ":8080"
	DefaultFramesDir      = "frames"
	DefaultMaxFrameWidth  = 1024
	DefaultJPEGQuality    = 80
	DefaultLogLevel       = "info"
)

// Config is the root configuration. All fields are optional;
// Get* accessors fall back to defaults for omitted ones.
type Config struct {
	// Capture scheduler
	Interval *string `json:"interval,omitempty"` // duration string like "1s"

	// Tracker
	TTL          *string  `json:"ttl,omitempty"` // duration string like "3000ms"
	IoUThreshold *float64 `json:"iou_threshold,omitempty"`
	Palette      []string `json:"palette,omitempty"`

	// Detection oracle
	OracleEndpoint *string `json:"oracle_endpoint,omitempty"`
	OracleTimeout  *string `json:"oracle_timeout,omitempty"`

	// Frame source and encoding
	FramesDir     *string `json:"frames_dir,omitempty"`
	MaxFrameWidth *int    `json:"max_frame_width,omitempty"`
	JPEGQuality   *int    `json:"jpeg_quality,omitempty"`

	// Overlay feed
	ListenAddr *string `json:"listen_addr,omitempty"`

	LogLevel *string `json:"log_level,omitempty"`
}

// Load reads Config from a JSON file.
// The file must have .json extension and be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, errors.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "Can't stat config file")
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, errors.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read config file")
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "Can't parse config JSON")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid configuration")
	}
	return cfg, nil
}

// Validate checks the fields which are set.
func (c *Config) Validate() error {
	durations := []struct {
		name  string
		value *string
	}{
		{"interval", c.Interval},
		{"ttl", c.TTL},
		{"oracle_timeout", c.OracleTimeout},
	}
	for _, d := range durations {
		if d.value == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return errors.Wrap(err, d.name)
		}
		if parsed < 0 || (parsed == 0 && d.name != "oracle_timeout") {
			return errors.Errorf("%s must be positive, got %s", d.name, *d.value)
		}
	}
	if c.IoUThreshold != nil && (*c.IoUThreshold < 0 || *c.IoUThreshold > 1) {
		return errors.Errorf("iou_threshold must be within [0, 1], got %v", *c.IoUThreshold)
	}
	if c.MaxFrameWidth != nil && *c.MaxFrameWidth < 0 {
		return errors.Errorf("max_frame_width must not be negative, got %d", *c.MaxFrameWidth)
	}
	if c.JPEGQuality != nil && (*c.JPEGQuality < 1 || *c.JPEGQuality > 100) {
		return errors.Errorf("jpeg_quality must be within [1, 100], got %d", *c.JPEGQuality)
	}
	if c.LogLevel != nil {
		if _, err := logrus.ParseLevel(*c.LogLevel); err != nil {
			return errors.Wrap(err, "log_level")
		}
	}
	return nil
}

func (c *Config) GetInterval() time.Duration {
	return durationOr(c.Interval, DefaultInterval)
}

func (c *Config) GetTTL() time.Duration {
	return durationOr(c.TTL, DefaultTTL)
}

func (c *Config) GetIoUThreshold() float64 {
	if c.IoUThreshold == nil {
		return DefaultIoUThreshold
	}
	return *c.IoUThreshold
}

// GetPalette returns configured colors, nil means the tracker default palette.
func (c *Config) GetPalette() []string {
	return c.Palette
}

func (c *Config) GetOracleEndpoint() string {
	return stringOr(c.OracleEndpoint, DefaultOracleEndpoint)
}

// GetOracleTimeout returns HTTP client timeout of the oracle. Zero disables it.
func (c *Config) GetOracleTimeout() time.Duration {
	return durationOr(c.OracleTimeout, DefaultOracleTimeout)
}

func (c *Config) GetFramesDir() string {
	return stringOr(c.FramesDir, DefaultFramesDir)
}

func (c *Config) GetMaxFrameWidth() int {
	if c.MaxFrameWidth == nil {
		return DefaultMaxFrameWidth
	}
	return *c.MaxFrameWidth
}

func (c *Config) GetJPEGQuality() int {
	if c.JPEGQuality == nil {
		return DefaultJPEGQuality
	}
	return *c.JPEGQuality
}

func (c *Config) GetListenAddr() string {
	return stringOr(c.ListenAddr, DefaultListenAddr)
}

func (c *Config) GetLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(stringOr(c.LogLevel, DefaultLogLevel))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func durationOr(v *string, fallback time.Duration) time.Duration {
	if v == nil {
		return fallback
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fallback
	}
	return d
}

func stringOr(v *string, fallback string) string {
	if v == nil || *v == "" {
		return fallback
	}
	return *v
}
