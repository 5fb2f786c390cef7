// Package config loads spotify-term configuration from the environment
// and an optional YAML profile.
package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// defaultScopes is requested when neither the environment nor the profile
// file names any. It covers what the dashboard renders: the user's library,
// playlists, and profile.
var defaultScopes = []string{
	"user-library-read",
	"playlist-read-private",
	"user-read-private",
}

// Config holds all environment-based configuration for spotify-term.
type Config struct {
	// Spotify application credentials. The secret is optional: when it is
	// absent the PKCE grant is used instead of the authorization-code grant.
	ClientID     string `env:"SPOTIFY_CLIENT_ID"`
	ClientSecret string `env:"SPOTIFY_CLIENT_SECRET"`

	// RedirectURI must be a loopback address registered with the Spotify
	// application. The capture server binds the port encoded here.
	RedirectURI string `env:"SPOTIFY_REDIRECT_URI" envDefault:"http://localhost:8888/callback"`

	// Scopes requested during authorization. Any drift between these and
	// the cached token's granted scopes forces re-authorization.
	Scopes []string `env:"SPOTIFY_SCOPES" envSeparator:","`

	// Token cache location. Disabling the cache forces a browser login on
	// every start.
	CacheDir     string `env:"CACHE_DIR"`
	CacheEnabled bool   `env:"CACHE_ENABLED" envDefault:"true"`

	// AuthTimeout bounds the browser round-trip during authorization.
	AuthTimeout time.Duration `env:"AUTH_TIMEOUT" envDefault:"5m"`

	// PageSize is the number of items fetched per page (1..50 per the API).
	PageSize int `env:"PAGE_SIZE" envDefault:"20"`

	// ProfilePath points at an optional YAML profile. Values set there fill
	// in scopes and page size when the environment leaves them unset.
	ProfilePath string `env:"SPOTIFY_TERM_CONFIG"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// profile is the YAML profile file shape.
type profile struct {
	Scopes   []string `yaml:"scopes"`
	PageSize int      `yaml:"page_size"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the client secret to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables. It first attempts
// to load a .env file if present, then parses env vars, then merges the
// YAML profile for values the environment left unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.mergeProfile(); err != nil {
		return nil, err
	}

	if len(cfg.Scopes) == 0 {
		cfg.Scopes = append(cfg.Scopes, defaultScopes...)
	}

	if cfg.CacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}

		cfg.CacheDir = filepath.Join(home, ".spotify-term")
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// mergeProfile fills scopes and page size from the YAML profile when the
// environment did not set them. A missing profile file is not an error
// unless it was explicitly requested.
func (c *Config) mergeProfile() error {
	path := c.ProfilePath
	explicit := path != ""

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}

		path = filepath.Join(home, ".config", "spotify-term", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if explicit {
			return fmt.Errorf("reading profile %s: %w", path, err)
		}

		return nil
	}

	var p profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parsing profile %s: %w", path, err)
	}

	if len(c.Scopes) == 0 {
		c.Scopes = p.Scopes
	}

	if c.PageSize == 20 && p.PageSize != 0 {
		c.PageSize = p.PageSize
	}

	return nil
}

func (c *Config) validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("SPOTIFY_CLIENT_ID is required")
	}

	u, err := url.Parse(c.RedirectURI)
	if err != nil {
		return fmt.Errorf("SPOTIFY_REDIRECT_URI is not a valid URL: %w", err)
	}

	if u.Scheme != "http" || u.Path == "" {
		return fmt.Errorf("SPOTIFY_REDIRECT_URI must be an http loopback URL with a path, got %q", c.RedirectURI)
	}

	if c.PageSize < 1 || c.PageSize > 50 {
		return fmt.Errorf("PAGE_SIZE must be between 1 and 50, got %d", c.PageSize)
	}

	if c.AuthTimeout <= 0 {
		return fmt.Errorf("AUTH_TIMEOUT must be positive, got %s", c.AuthTimeout)
	}

	return nil
}

// UsePKCE reports whether the PKCE grant should be used. Spotify allows
// either grant; without a client secret PKCE is the only option.
func (c *Config) UsePKCE() bool {
	return c.ClientSecret == ""
}
