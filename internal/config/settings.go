package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Settings holds all configuration options.
//
// Settings are read from a JSON file with Load, and any field can be
// overridden through the environment (BOOKSNAP_* variables) with ApplyEnv.
type Settings struct {
	// LibraryPath is the storage root: state records, staged pages and
	// assembled artifacts all live under it.
	LibraryPath string `json:"library_path" env:"BOOKSNAP_LIBRARY_PATH"`

	// MetadataMaxRetries is the number of additional attempts after a
	// failed metadata fetch.
	MetadataMaxRetries int `json:"metadata_max_retries" env:"BOOKSNAP_METADATA_MAX_RETRIES"`

	// PageMaxRetries is the number of additional attempts after a failed
	// page fetch. Exhausting them fails the whole acquisition.
	PageMaxRetries int `json:"page_max_retries" env:"BOOKSNAP_PAGE_MAX_RETRIES"`

	// RetryCooldown is the base retry delay in seconds.
	RetryCooldown float64 `json:"retry_cooldown" env:"BOOKSNAP_RETRY_COOLDOWN"`

	// RetryExponent grows the delay between consecutive retries.
	RetryExponent float64 `json:"retry_exponent" env:"BOOKSNAP_RETRY_EXPONENT"`

	// FetchTimeoutSeconds bounds a single metadata or page fetch attempt.
	FetchTimeoutSeconds float64 `json:"fetch_timeout_seconds" env:"BOOKSNAP_FETCH_TIMEOUT_SECONDS"`

	// KeepPageImages keeps staged page images after the artifact is
	// assembled. When false the staging directory is removed on success.
	KeepPageImages bool `json:"keep_page_images" env:"BOOKSNAP_KEEP_PAGE_IMAGES"`

	// JPEGQuality is used when a page image has to be re-encoded.
	JPEGQuality int `json:"jpeg_quality" env:"BOOKSNAP_JPEG_QUALITY"`

	// PageMaxSize caps page image dimensions in pixels. Zero keeps the
	// original size.
	PageMaxSize int `json:"page_max_size" env:"BOOKSNAP_PAGE_MAX_SIZE"`

	// DezoomifyPath locates the external dezoomify-rs executable used for
	// zoomable (tiled) page images.
	DezoomifyPath string `json:"dezoomify_path" env:"BOOKSNAP_DEZOOMIFY_PATH"`

	// UserAgent is sent with every HTTP request.
	UserAgent string `json:"user_agent" env:"BOOKSNAP_USER_AGENT"`
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	return &Settings{
		LibraryPath:         filepath.Join(homeDir, "Books", "booksnap"),
		MetadataMaxRetries:  1,
		PageMaxRetries:      3,
		RetryCooldown:       0.5,
		RetryExponent:       2.0,
		FetchTimeoutSeconds: 120,
		KeepPageImages:      true,
		JPEGQuality:         90,
		PageMaxSize:         0,
		DezoomifyPath:       "dezoomify-rs",
		UserAgent:           "booksnap",
	}
}

// FetchTimeout returns the per-attempt fetch bound as a duration.
func (s *Settings) FetchTimeout() time.Duration {
	return time.Duration(s.FetchTimeoutSeconds * float64(time.Second))
}

// RetryDelay returns the backoff delay before retry attempt n (0-based).
func (s *Settings) RetryDelay(attempt int) time.Duration {
	cooldown := s.RetryCooldown
	for i := 0; i < attempt; i++ {
		cooldown *= s.RetryExponent
	}
	return time.Duration(cooldown * float64(time.Second))
}

// Load reads settings from a JSON file. A missing file yields defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// Save writes settings to a JSON file.
func (s *Settings) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides settings from BOOKSNAP_* environment variables.
// A .env file in the working directory is honored when present.
func (s *Settings) ApplyEnv() error {
	_ = godotenv.Load()
	if err := env.Parse(s); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return s.Validate()
}

// Validate rejects settings the engine cannot honor.
func (s *Settings) Validate() error {
	if s.LibraryPath == "" {
		return fmt.Errorf("library_path must not be empty")
	}
	if s.MetadataMaxRetries < 0 || s.PageMaxRetries < 0 {
		return fmt.Errorf("retry counts cannot be negative")
	}
	if s.RetryExponent < 1 {
		return fmt.Errorf("retry_exponent must be >= 1")
	}
	if s.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("fetch_timeout_seconds must be positive")
	}
	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be in [1, 100]")
	}
	return nil
}
