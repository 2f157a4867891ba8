package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  workers: 3
  url_concurrency: 8
  user_agent: real-agent
  max_depth_default: 2
  cutoff_default: 25
  continue_on_error: true
  queue_depth: 128
http:
  timeout_seconds: 45
headless:
  enabled: true
  max_parallel: 2
  nav_timeout_seconds: 30
splitter:
  chunk_size: 500
  chunk_overlap: 50
embedder:
  endpoints:
    - http://gpu-0:8081/embed
    - http://gpu-1:8081/embed
  model: bge-large-en-v1.5
  normalize: true
  max_concurrency_per_replica: 16
  timeout_seconds: 90
storage:
  gcs_bucket: bucket
  prefix: vectors
  content_type: application/json
export:
  output_dir: /tmp/results
  branch: feature-x
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawler.Workers != 3 || !cfg.Crawler.ContinueOnError {
		t.Fatalf("expected crawler overrides to apply")
	}
	if len(cfg.Embedder.Endpoints) != 2 || cfg.Embedder.Endpoints[1] != "http://gpu-1:8081/embed" {
		t.Fatalf("expected embedder endpoints to be loaded: %+v", cfg.Embedder)
	}
	if cfg.Embedder.MaxConcurrencyPerReplica != 16 || cfg.Embedder.Model != "bge-large-en-v1.5" {
		t.Fatalf("expected embedder overrides to apply: %+v", cfg.Embedder)
	}
	if cfg.Splitter.ChunkSize != 500 || cfg.Splitter.ChunkOverlap != 50 {
		t.Fatalf("expected splitter overrides to apply: %+v", cfg.Splitter)
	}
	if cfg.Export.Branch != "feature-x" {
		t.Fatalf("expected export branch override, got %q", cfg.Export.Branch)
	}
	if got := cfg.HTTPTimeout(); got != 45*time.Second {
		t.Fatalf("expected http timeout 45s, got %v", got)
	}
	if got := cfg.EmbedTimeout(); got != 90*time.Second {
		t.Fatalf("expected embed timeout 90s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Splitter.ChunkSize != 1000 || cfg.Splitter.ChunkOverlap != 200 {
		t.Fatalf("expected default chunking 1000/200, got %+v", cfg.Splitter)
	}
	if !cfg.Embedder.Normalize {
		t.Fatal("expected normalize to default to true")
	}
	if cfg.Crawler.MaxDepthDefault != 1 {
		t.Fatalf("expected default max depth 1, got %d", cfg.Crawler.MaxDepthDefault)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Crawler:  CrawlerConfig{Workers: 1},
		HTTP:     HTTPConfig{TimeoutSeconds: 10},
		Splitter: SplitterConfig{ChunkSize: 1000},
		Embedder: EmbedderConfig{
			Endpoints:                []string{"http://localhost:8081/embed"},
			MaxConcurrencyPerReplica: 1,
		},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid workers",
			cfg: func() Config {
				c := base
				c.Crawler.Workers = 0
				return c
			}(),
			want: "crawler.workers",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.HTTP.TimeoutSeconds = 0
				return c
			}(),
			want: "http.timeout_seconds",
		},
		{
			name: "no replicas",
			cfg: func() Config {
				c := base
				c.Embedder.Endpoints = nil
				return c
			}(),
			want: "embedder.endpoints",
		},
		{
			name: "invalid replica concurrency",
			cfg: func() Config {
				c := base
				c.Embedder.MaxConcurrencyPerReplica = 0
				return c
			}(),
			want: "embedder.max_concurrency_per_replica",
		},
		{
			name: "invalid chunk size",
			cfg: func() Config {
				c := base
				c.Splitter.ChunkSize = 0
				return c
			}(),
			want: "splitter.chunk_size",
		},
		{
			name: "headless missing max parallel",
			cfg: func() Config {
				c := base
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
				return c
			}(),
			want: "headless.max_parallel",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
