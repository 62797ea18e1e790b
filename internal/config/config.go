package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort      = 8000
	DefaultIndexPath = "/src/html/index.html"
)

// Config is built once at startup and never mutated afterwards.
type Config struct {
	Host      string
	Port      int
	RootDir   string
	IndexPath string

	MaxConns          int
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
	LogRequests       bool
}

// fileConfig mirrors the optional config file. Pointer fields distinguish
// "absent" from zero values.
type fileConfig struct {
	Host              *string `toml:"host" yaml:"host"`
	Port              *int    `toml:"port" yaml:"port"`
	Root              *string `toml:"root" yaml:"root"`
	Index             *string `toml:"index" yaml:"index"`
	MaxConns          *int    `toml:"max_conns" yaml:"max_conns"`
	ShutdownTimeout   *string `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	ReadHeaderTimeout *string `toml:"read_header_timeout" yaml:"read_header_timeout"`
	LogRequests       *bool   `toml:"log_requests" yaml:"log_requests"`
}

func Default() Config {
	return Config{
		Port:              DefaultPort,
		RootDir:           defaultRootDir(),
		IndexPath:         DefaultIndexPath,
		ShutdownTimeout:   time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		LogRequests:       true,
	}
}

// Load layers defaults, .env, the file named by MISSION_CONFIG and finally
// MISSION_* environment variables.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := Default()

	if path := os.Getenv("MISSION_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve root dir: %w", err)
	}
	cfg.RootDir = root
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if !strings.HasPrefix(c.IndexPath, "/") || c.IndexPath == "/" {
		return fmt.Errorf("index path %q must be an absolute request path naming a file", c.IndexPath)
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("max conns must not be negative, got %d", c.MaxConns)
	}
	if c.ShutdownTimeout < 0 || c.ReadHeaderTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	info, err := os.Stat(c.RootDir)
	if err != nil {
		return fmt.Errorf("root dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root dir %s is not a directory", c.RootDir)
	}
	return nil
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL is the address printed in the startup banner.
func (c Config) URL() string {
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Port))
}

// defaultRootDir assumes the binary is deployed at <root>/src/server/.
func defaultRootDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(filepath.Dir(filepath.Dir(exe)))
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &fc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}

	if fc.Host != nil {
		c.Host = *fc.Host
	}
	if fc.Port != nil {
		c.Port = *fc.Port
	}
	if fc.Root != nil {
		root := *fc.Root
		// Relative roots in a file are relative to the file, not the cwd.
		if !filepath.IsAbs(root) {
			root = filepath.Join(filepath.Dir(path), root)
		}
		c.RootDir = root
	}
	if fc.Index != nil {
		c.IndexPath = *fc.Index
	}
	if fc.MaxConns != nil {
		c.MaxConns = *fc.MaxConns
	}
	if fc.ShutdownTimeout != nil {
		d, err := time.ParseDuration(*fc.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("shutdown_timeout: %w", err)
		}
		c.ShutdownTimeout = d
	}
	if fc.ReadHeaderTimeout != nil {
		d, err := time.ParseDuration(*fc.ReadHeaderTimeout)
		if err != nil {
			return fmt.Errorf("read_header_timeout: %w", err)
		}
		c.ReadHeaderTimeout = d
	}
	if fc.LogRequests != nil {
		c.LogRequests = *fc.LogRequests
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Host = getEnv("MISSION_HOST", c.Host)
	c.RootDir = getEnv("MISSION_ROOT", c.RootDir)
	c.IndexPath = getEnv("MISSION_INDEX", c.IndexPath)

	var err error
	if c.Port, err = getEnvInt("MISSION_PORT", c.Port); err != nil {
		return err
	}
	if c.MaxConns, err = getEnvInt("MISSION_MAX_CONNS", c.MaxConns); err != nil {
		return err
	}
	if c.ShutdownTimeout, err = getEnvDuration("MISSION_SHUTDOWN_TIMEOUT", c.ShutdownTimeout); err != nil {
		return err
	}
	if c.ReadHeaderTimeout, err = getEnvDuration("MISSION_READ_HEADER_TIMEOUT", c.ReadHeaderTimeout); err != nil {
		return err
	}
	if c.LogRequests, err = getEnvBool("MISSION_LOG_REQUESTS", c.LogRequests); err != nil {
		return err
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// loadDotEnv exports the pairs in path that are not already set in the
// environment. A missing file is not an error.
func loadDotEnv(path string) error {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	vars, err := parseDotEnv(file)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, kv := range vars {
		if _, exists := os.LookupEnv(kv[0]); exists {
			continue
		}
		if err := os.Setenv(kv[0], kv[1]); err != nil {
			return fmt.Errorf("%s: set %s: %w", path, kv[0], err)
		}
	}
	return nil
}

// parseDotEnv reads KEY=VALUE lines in file order. Blank lines and # comments
// are skipped, an "export " prefix is allowed and one pair of matching quotes
// around the value is removed.
func parseDotEnv(r io.Reader) ([][2]string, error) {
	var vars [][2]string
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("line %d: expected KEY=VALUE", lineNo)
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		vars = append(vars, [2]string{key, value})
	}
	return vars, scanner.Err()
}
