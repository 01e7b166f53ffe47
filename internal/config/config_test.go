package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[upstream]
base_url = "http://internal:8080"
timeout_seconds = 60
idle_connections = 50

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Upstream.BaseURL != "http://internal:8080" {
		t.Errorf("Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, "http://internal:8080")
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_NamedTransports(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "https://internal:8443"
client = "slow"

[transports.slow]
timeout_seconds = 300

[transports.fast]
timeout_seconds = 5
idle_connections = 200
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Transports) != 2 {
		t.Fatalf("len(Transports) = %d, want 2", len(cfg.Transports))
	}
	if cfg.Upstream.Client != "slow" {
		t.Errorf("Upstream.Client = %q, want %q", cfg.Upstream.Client, "slow")
	}
	if got := cfg.Transports["slow"].TimeoutSeconds; got != 300 {
		t.Errorf("transports.slow.timeout_seconds = %d, want 300", got)
	}
	// Defaults must be applied to named transports too.
	if got := cfg.Transports["slow"].IdleConnections; got != 100 {
		t.Errorf("transports.slow.idle_connections = %d, want default 100", got)
	}
	if got := cfg.Transports["fast"].IdleConnections; got != 200 {
		t.Errorf("transports.fast.idle_connections = %d, want 200", got)
	}
}

func TestLoad_UnknownDefaultClient(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "http://internal:8080"
client = "missing"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for unknown upstream.client, got nil")
	}
	if !strings.Contains(err.Error(), "transports.missing") {
		t.Errorf("error = %q, want mention of transports.missing", err)
	}
}

func TestLoad_ForwardedHeadersDefault(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "http://internal:8080"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Upstream.ForwardedHeaders() {
		t.Error("ForwardedHeaders() = false, want true when key omitted")
	}
}

func TestLoad_ForwardedHeadersDisabled(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "http://internal:8080"
add_forwarded_headers = false
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upstream.ForwardedHeaders() {
		t.Error("ForwardedHeaders() = true, want false when explicitly disabled")
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "http://internal:8080"

[log]
level = "verbose"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "http://internal:8080"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Upstream.TimeoutSeconds != 120 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 120)
	}
	if cfg.Upstream.IdleConnections != 100 {
		t.Errorf("default Upstream.IdleConnections = %d, want %d", cfg.Upstream.IdleConnections, 100)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_MissingUpstream(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9000
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for missing upstream.base_url, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[upstream]
base_url = "http://internal:8080"

[log]
level = "info"
`)

	cli := &CLI{
		Config:   path,
		Host:     "127.0.0.1",
		Port:     3000,
		Upstream: "http://other:9090",
		LogLevel: "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Upstream.BaseURL != "http://other:9090" {
		t.Errorf("Upstream.BaseURL = %q, want %q (CLI override)", cfg.Upstream.BaseURL, "http://other:9090")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_BadUpstreamScheme(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "ftp://internal:21"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for non-http upstream scheme, got nil")
	}
}

func TestLoad_NegativePort(t *testing.T) {
	path := writeConfig(t, `
[server]
port = -1

[upstream]
base_url = "http://internal:8080"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for negative port, got nil")
	}
}

func TestLoad_NegativeBodyMaxBytes(t *testing.T) {
	path := writeConfig(t, `
[server]
body_max_bytes = -1

[upstream]
base_url = "http://internal:8080"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for negative body_max_bytes, got nil")
	}
}

func TestLoad_NegativeTimeout(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "http://internal:8080"
timeout_seconds = -5
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for negative timeout, got nil")
	}
}

func TestLoad_NegativeTransportTimeout(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "http://internal:8080"

[transports.bad]
timeout_seconds = -1
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for negative transport timeout, got nil")
	}
	if !strings.Contains(err.Error(), "transports.bad") {
		t.Errorf("error = %q, want mention of transports.bad", err)
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "http://internal:8080"

[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_RateLimitConfig_BadValue(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "http://internal:8080"

[server.rate_limit]
enabled = true
requests_per_second = 0
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for rate limit enabled with requests_per_second=0, got nil")
	}
	if !strings.Contains(err.Error(), "requests_per_second") {
		t.Errorf("error = %q, want mention of requests_per_second", err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, "[upstream]\nbase_url = \"http://internal:8080\"\n")

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, "[upstream]\nbase_url = \"http://internal:8080\"\n")
	path2 := writeConfig(t, "[upstream]\nbase_url = \"http://internal:8080\"\n")

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "http://internal:8080"

[metrics]
enabled = true
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "http://internal:8080"

[metrics]
enabled = true
path = "metrics"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflictsWithReservedRoute(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"healthz exact", "/healthz"},
		{"healthz sub", "/healthz/metrics"},
		{"proxy/status", "/proxy/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, `
[upstream]
base_url = "http://internal:8080"

[metrics]
enabled = true
path = "`+tt.path+`"
`)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, `
[upstream]
base_url = "http://internal:8080"

[metrics]
enabled = false
path = "bad-no-slash"
`)

	_, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
