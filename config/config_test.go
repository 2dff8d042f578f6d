package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-comic-fetcher/parser"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name: "negative parallelism",
			mutate: func(cfg *Config) {
				cfg.Parallelism = -1
			},
			wantErr: ErrInvalidParallelism,
		},
		{
			name: "empty state file",
			mutate: func(cfg *Config) {
				cfg.StateFile = ""
			},
			wantErr: ErrMissingStateFile,
		},
		{
			name: "empty output root",
			mutate: func(cfg *Config) {
				cfg.OutputRoot = ""
			},
			wantErr: ErrMissingOutputRoot,
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: ErrInvalidTimeout,
		},
		{
			name: "bad report format",
			mutate: func(cfg *Config) {
				cfg.ReportFile = "report.xml"
				cfg.ReportFormat = "xml"
			},
			wantErr: ErrInvalidReportFormat,
		},
		{
			name: "negative max image bytes",
			mutate: func(cfg *Config) {
				cfg.MaxImageBytes = -1
			},
			wantErr: ErrInvalidMaxImageBytes,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigValidatePushgateway(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PushgatewayURL = "http://"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "pushgateway") {
		t.Fatalf("expected pushgateway error, got %v", err)
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestRunDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputRoot = "/tmp/desk"
	now := time.Date(2018, 6, 14, 8, 30, 0, 0, time.UTC)
	want := filepath.Join("/tmp/desk", "2018-06-14 Web Comics")
	if got := cfg.RunDir(now); got != want {
		t.Fatalf("RunDir = %q, want %q", got, want)
	}
}

func TestDefaultSourcesValid(t *testing.T) {
	sources := DefaultSources()
	if len(sources) != 9 {
		t.Fatalf("default sources = %d, want 9", len(sources))
	}
	if err := parser.ValidateSources(sources); err != nil {
		t.Fatalf("default sources should validate, got %v", err)
	}
}

func TestParseSources(t *testing.T) {
	doc := []byte(`
sources:
  - name: Extra Ordinary
    base_url: http://www.exocomics.com/
    selector: a.comic img
  - name: Local Strip
    base_url: http://local.example
    selector: "#strip img"
    relative_image_url: true
    check_for_update: false
`)

	sources, err := ParseSources(doc)
	if err != nil {
		t.Fatalf("parse sources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(sources))
	}
	if !sources[0].CheckForUpdate {
		t.Fatalf("check_for_update should default to true")
	}
	if sources[1].CheckForUpdate || !sources[1].RelativeImageURL {
		t.Fatalf("unexpected flags for %q: %+v", sources[1].Name, sources[1])
	}
}

func TestParseSourcesErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{name: "empty", doc: "", wantErr: "at least one source"},
		{name: "unknown field", doc: "sources:\n  - name: A\n    url: http://a.example/\n", wantErr: "url"},
		{name: "bad selector", doc: "sources:\n  - name: A\n    base_url: http://a.example/\n    selector: 'div['\n", wantErr: "selector"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSources([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadSourcesMissingFile(t *testing.T) {
	_, err := LoadSources(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("COMICFETCH_TEST_INT", "7")
	t.Setenv("COMICFETCH_TEST_BAD", "seven")
	t.Setenv("COMICFETCH_TEST_DUR", "45s")

	if n, ok, err := EnvInt("COMICFETCH_TEST_INT"); err != nil || !ok || n != 7 {
		t.Fatalf("EnvInt = (%d, %v, %v)", n, ok, err)
	}
	if _, _, err := EnvInt("COMICFETCH_TEST_BAD"); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, ok, err := EnvInt("COMICFETCH_TEST_UNSET"); ok || err != nil {
		t.Fatalf("unset variable should be ignored")
	}
	if d, ok, err := EnvDuration("COMICFETCH_TEST_DUR"); err != nil || !ok || d != 45*time.Second {
		t.Fatalf("EnvDuration = (%v, %v, %v)", d, ok, err)
	}
}
