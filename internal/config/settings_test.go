package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.PageMaxRetries != DefaultSettings().PageMaxRetries {
		t.Errorf("PageMaxRetries = %d, want default %d", s.PageMaxRetries, DefaultSettings().PageMaxRetries)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	s := DefaultSettings()
	s.LibraryPath = "/tmp/lib"
	s.PageMaxRetries = 9
	s.KeepPageImages = false
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.LibraryPath != "/tmp/lib" || loaded.PageMaxRetries != 9 || loaded.KeepPageImages {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestApplyEnv(t *testing.T) {
	os.Setenv("BOOKSNAP_PAGE_MAX_RETRIES", "7")
	os.Setenv("BOOKSNAP_LIBRARY_PATH", "/env/lib")
	defer os.Unsetenv("BOOKSNAP_PAGE_MAX_RETRIES")
	defer os.Unsetenv("BOOKSNAP_LIBRARY_PATH")

	s := DefaultSettings()
	if err := s.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if s.PageMaxRetries != 7 {
		t.Errorf("PageMaxRetries = %d, want 7", s.PageMaxRetries)
	}
	if s.LibraryPath != "/env/lib" {
		t.Errorf("LibraryPath = %q, want /env/lib", s.LibraryPath)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults are valid", func(s *Settings) {}, false},
		{"empty library path", func(s *Settings) { s.LibraryPath = "" }, true},
		{"negative retries", func(s *Settings) { s.PageMaxRetries = -1 }, true},
		{"exponent below one", func(s *Settings) { s.RetryExponent = 0.5 }, true},
		{"zero timeout", func(s *Settings) { s.FetchTimeoutSeconds = 0 }, true},
		{"quality out of range", func(s *Settings) { s.JPEGQuality = 101 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	s := DefaultSettings()
	s.RetryCooldown = 0.2
	s.RetryExponent = 4.0

	if got := s.RetryDelay(0); got != 200*time.Millisecond {
		t.Errorf("RetryDelay(0) = %v", got)
	}
	if got := s.RetryDelay(1); got != 800*time.Millisecond {
		t.Errorf("RetryDelay(1) = %v", got)
	}
	if got := s.RetryDelay(2); got != 3200*time.Millisecond {
		t.Errorf("RetryDelay(2) = %v", got)
	}
}
