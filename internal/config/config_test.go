package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MISSION_CONFIG", "MISSION_HOST", "MISSION_PORT", "MISSION_ROOT", "MISSION_INDEX",
		"MISSION_MAX_CONNS", "MISSION_SHUTDOWN_TIMEOUT", "MISSION_READ_HEADER_TIMEOUT", "MISSION_LOG_REQUESTS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8000 {
		t.Fatalf("port = %d, want 8000", cfg.Port)
	}
	if cfg.IndexPath != "/src/html/index.html" {
		t.Fatalf("index = %q", cfg.IndexPath)
	}
	if cfg.Host != "" {
		t.Fatalf("host = %q, want all interfaces", cfg.Host)
	}
	if !filepath.IsAbs(cfg.RootDir) {
		t.Fatalf("root %q is not absolute", cfg.RootDir)
	}
	if cfg.Addr() != ":8000" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
	if cfg.URL() != "http://localhost:8000" {
		t.Fatalf("url = %q", cfg.URL())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	t.Setenv("MISSION_HOST", "127.0.0.1")
	t.Setenv("MISSION_PORT", "9123")
	t.Setenv("MISSION_ROOT", root)
	t.Setenv("MISSION_INDEX", "/home.html")
	t.Setenv("MISSION_MAX_CONNS", "1")
	t.Setenv("MISSION_SHUTDOWN_TIMEOUT", "250ms")
	t.Setenv("MISSION_LOG_REQUESTS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9123" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
	if cfg.RootDir != root || cfg.IndexPath != "/home.html" || cfg.MaxConns != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.ShutdownTimeout != 250*time.Millisecond || cfg.LogRequests {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadRejectsMalformedEnv(t *testing.T) {
	cases := map[string]string{
		"MISSION_PORT":             "eighty",
		"MISSION_MAX_CONNS":        "x",
		"MISSION_SHUTDOWN_TIMEOUT": "soon",
		"MISSION_LOG_REQUESTS":     "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil || !strings.Contains(err.Error(), key) {
				t.Fatalf("expected error naming %s, got %v", key, err)
			}
		})
	}
}

func TestLoadTOMLFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "site"), 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "missiond.toml")
	body := `port = 8081
root = "site"
max_conns = 4
shutdown_timeout = "500ms"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MISSION_CONFIG", path)
	// Environment wins over the file.
	t.Setenv("MISSION_PORT", "8082")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8082 {
		t.Fatalf("port = %d, want env override 8082", cfg.Port)
	}
	if cfg.RootDir != filepath.Join(dir, "site") {
		t.Fatalf("root = %q", cfg.RootDir)
	}
	if cfg.MaxConns != 4 || cfg.ShutdownTimeout != 500*time.Millisecond {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "missiond.yaml")
	body := "host: 0.0.0.0\nport: 8090\nroot: " + dir + "\nindex: /index.html\nlog_requests: false\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MISSION_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8090 || cfg.RootDir != dir || cfg.IndexPath != "/index.html" || cfg.LogRequests {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.URL() != "http://localhost:8090" {
		t.Fatalf("url = %q", cfg.URL())
	}
}

func TestLoadUnsupportedFileType(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "missiond.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MISSION_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for json config")
	}
}

func TestValidate(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	base := Default()
	base.RootDir = root

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "port zero", mutate: func(c *Config) { c.Port = 0 }},
		{name: "port too large", mutate: func(c *Config) { c.Port = 70000 }},
		{name: "relative index", mutate: func(c *Config) { c.IndexPath = "index.html" }},
		{name: "bare slash index", mutate: func(c *Config) { c.IndexPath = "/" }},
		{name: "negative conns", mutate: func(c *Config) { c.MaxConns = -1 }},
		{name: "missing root", mutate: func(c *Config) { c.RootDir = filepath.Join(root, "nope") }},
		{name: "root is file", mutate: func(c *Config) { c.RootDir = file }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	body := "# comment\nexport MISSION_TEST_A=\"from-file\"\nMISSION_TEST_B='kept'\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MISSION_TEST_B", "from-env")
	t.Setenv("MISSION_TEST_A", "")
	os.Unsetenv("MISSION_TEST_A")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("MISSION_TEST_A"); got != "from-file" {
		t.Fatalf("MISSION_TEST_A = %q", got)
	}
	if got := os.Getenv("MISSION_TEST_B"); got != "from-env" {
		t.Fatalf("MISSION_TEST_B = %q", got)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing file: %v", err)
	}
}

func TestParseDotEnv(t *testing.T) {
	tests := []struct {
		name string
		body string
		want [][2]string
		err  bool
	}{
		{name: "plain", body: "A=1\nB = two words \n", want: [][2]string{{"A", "1"}, {"B", "two words"}}},
		{name: "quotes", body: `A="x"` + "\n" + `B='y'` + "\n" + `C="z'`, want: [][2]string{{"A", "x"}, {"B", "y"}, {"C", `"z'`}}},
		{name: "empty value", body: "export A=\n", want: [][2]string{{"A", ""}}},
		{name: "comments", body: "# x\n\n  # y\nA=1", want: [][2]string{{"A", "1"}}},
		{name: "missing equals", body: "A=1\nnot a pair\n", err: true},
		{name: "missing key", body: "=1\n", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDotEnv(strings.NewReader(tt.body))
			if tt.err {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
