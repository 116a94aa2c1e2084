package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultHostURL = "https://www.perplexity.ai/"

type RuntimeConfig struct {
	Bind                 string
	Port                 string
	CdpURL               string
	Token                string
	StateDir             string
	ProfileDir           string
	Headless             bool
	ChromeBinary         string
	HostURL              string
	MaxPendingDeliveries int
	ActionTimeout        time.Duration
	RewriteTimeout       time.Duration
	ShutdownTimeout      time.Duration
	TabScanInterval      time.Duration
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func envBoolOr(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return h
}

func (c *RuntimeConfig) ListenAddr() string {
	return c.Bind + ":" + c.Port
}

// BaseURL is where the daemon's HTTP API can be reached locally.
func (c *RuntimeConfig) BaseURL() string {
	host := c.Bind
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return "http://" + host + ":" + c.Port
}

// HostOrigin returns scheme://host of the chat page.
func (c *RuntimeConfig) HostOrigin() string {
	u, err := url.Parse(c.HostURL)
	if err != nil || u.Host == "" {
		return strings.TrimRight(c.HostURL, "/")
	}
	return u.Scheme + "://" + u.Host
}

// IsHostURL reports whether a tab URL belongs to the chat page origin.
func (c *RuntimeConfig) IsHostURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme+"://"+u.Host == c.HostOrigin()
}

type FileConfig struct {
	Port       string `json:"port"`
	CdpURL     string `json:"cdpUrl,omitempty"`
	Token      string `json:"token,omitempty"`
	StateDir   string `json:"stateDir"`
	ProfileDir string `json:"profileDir"`
	Headless   *bool  `json:"headless,omitempty"`
	HostURL    string `json:"hostUrl,omitempty"`
	MaxPending *int   `json:"maxPending,omitempty"`
	TimeoutSec int    `json:"timeoutSec,omitempty"`
	RewriteSec int    `json:"rewriteSec,omitempty"`
}

// Load reads .env (if present), the environment and then the JSON config
// file. Environment variables always win over the file.
func Load() *RuntimeConfig {
	_ = godotenv.Load()

	cfg := &RuntimeConfig{
		Bind:                 envOr("PPLX_BIND", "127.0.0.1"),
		Port:                 envOr("PPLX_PORT", "9877"),
		CdpURL:               os.Getenv("CDP_URL"),
		Token:                os.Getenv("PPLX_TOKEN"),
		StateDir:             envOr("PPLX_STATE_DIR", filepath.Join(homeDir(), ".pplxhelper")),
		ProfileDir:           envOr("PPLX_PROFILE", filepath.Join(homeDir(), ".pplxhelper", "chrome-profile")),
		Headless:             envBoolOr("PPLX_HEADLESS", false),
		ChromeBinary:         os.Getenv("CHROME_BINARY"),
		HostURL:              envOr("PPLX_HOST_URL", DefaultHostURL),
		MaxPendingDeliveries: envIntOr("PPLX_MAX_PENDING", 64),
		ActionTimeout:        15 * time.Second,
		RewriteTimeout:       30 * time.Second,
		ShutdownTimeout:      10 * time.Second,
		TabScanInterval:      2 * time.Second,
	}

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		return cfg
	}

	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return cfg
	}

	if fc.Port != "" && os.Getenv("PPLX_PORT") == "" {
		cfg.Port = fc.Port
	}
	if fc.CdpURL != "" && os.Getenv("CDP_URL") == "" {
		cfg.CdpURL = fc.CdpURL
	}
	if fc.Token != "" && os.Getenv("PPLX_TOKEN") == "" {
		cfg.Token = fc.Token
	}
	if fc.StateDir != "" && os.Getenv("PPLX_STATE_DIR") == "" {
		cfg.StateDir = fc.StateDir
	}
	if fc.ProfileDir != "" && os.Getenv("PPLX_PROFILE") == "" {
		cfg.ProfileDir = fc.ProfileDir
	}
	if fc.Headless != nil && os.Getenv("PPLX_HEADLESS") == "" {
		cfg.Headless = *fc.Headless
	}
	if fc.HostURL != "" && os.Getenv("PPLX_HOST_URL") == "" {
		cfg.HostURL = fc.HostURL
	}
	if fc.MaxPending != nil && os.Getenv("PPLX_MAX_PENDING") == "" {
		cfg.MaxPendingDeliveries = *fc.MaxPending
	}
	if fc.TimeoutSec > 0 {
		cfg.ActionTimeout = time.Duration(fc.TimeoutSec) * time.Second
	}
	if fc.RewriteSec > 0 {
		cfg.RewriteTimeout = time.Duration(fc.RewriteSec) * time.Second
	}

	return cfg
}

// ConfigPath is the JSON file consulted by Load.
func ConfigPath() string {
	return envOr("PPLX_CONFIG", filepath.Join(homeDir(), ".pplxhelper", "config.json"))
}

func DefaultFileConfig() FileConfig {
	h := false
	n := 64
	return FileConfig{
		Port:       "9877",
		StateDir:   filepath.Join(homeDir(), ".pplxhelper"),
		ProfileDir: filepath.Join(homeDir(), ".pplxhelper", "chrome-profile"),
		Headless:   &h,
		HostURL:    DefaultHostURL,
		MaxPending: &n,
		TimeoutSec: 15,
		RewriteSec: 30,
	}
}

// WriteDefaultFile writes DefaultFileConfig to path, creating parent dirs.
func WriteDefaultFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(DefaultFileConfig(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func MaskToken(t string) string {
	if t == "" {
		return "(none)"
	}
	if len(t) <= 8 {
		return "***"
	}
	return t[:4] + "..." + t[len(t)-4:]
}
