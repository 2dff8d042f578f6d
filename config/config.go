package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Configuration validation errors.
var (
	ErrMissingStateFile     = errors.New("state file cannot be empty")
	ErrMissingOutputRoot    = errors.New("output root cannot be empty")
	ErrMissingFolderSuffix  = errors.New("folder suffix cannot be empty")
	ErrInvalidParallelism   = errors.New("parallelism must be positive")
	ErrInvalidTimeout       = errors.New("timeout must be positive")
	ErrInvalidMaxImageBytes = errors.New("max image bytes cannot be negative")
	ErrInvalidReportFormat  = errors.New("report format must be csv, json, or dual")
	ErrMissingUserAgent     = errors.New("user agent cannot be empty")
)

// Config holds fetcher configuration.
type Config struct {
	SourcesFile    string // optional YAML list; built-in comics when empty
	StateFile      string
	OutputRoot     string
	FolderSuffix   string
	Parallelism    int
	Timeout        time.Duration
	MaxImageBytes  int64 // 0 means unlimited
	UserAgent      string
	ReportFile     string
	ReportFormat   string // csv, json, or dual
	LogFile        string
	Verbose        bool
	MetricsAddr    string
	PushgatewayURL string
}

// DefaultConfig returns the defaults for a daily run from the user's desktop.
func DefaultConfig() *Config {
	return &Config{
		StateFile:     "comicfetch.csv",
		OutputRoot:    defaultOutputRoot(),
		FolderSuffix:  "Web Comics",
		Parallelism:   4,
		Timeout:       30 * time.Second,
		MaxImageBytes: 0,
		UserAgent:     "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		ReportFormat:  "csv",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.StateFile == "" {
		return ErrMissingStateFile
	}
	if c.OutputRoot == "" {
		return ErrMissingOutputRoot
	}
	if c.FolderSuffix == "" {
		return ErrMissingFolderSuffix
	}
	if c.Parallelism <= 0 {
		return ErrInvalidParallelism
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.MaxImageBytes < 0 {
		return ErrInvalidMaxImageBytes
	}
	if c.UserAgent == "" {
		return ErrMissingUserAgent
	}
	if c.ReportFile != "" {
		switch c.ReportFormat {
		case "csv", "json", "dual":
		default:
			return ErrInvalidReportFormat
		}
	}
	if c.PushgatewayURL != "" {
		parsed, err := url.Parse(c.PushgatewayURL)
		if err != nil {
			return fmt.Errorf("invalid pushgateway URL: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("pushgateway URL must include a host")
		}
	}
	return nil
}

// RunDir returns the date-stamped directory that receives this run's images.
func (c *Config) RunDir(now time.Time) string {
	return filepath.Join(c.OutputRoot, now.Format("2006-01-02")+" "+c.FolderSuffix)
}

func defaultOutputRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "comics"
	}
	return filepath.Join(home, "Desktop")
}
