package election

import (
	"errors"
	"testing"
	"time"

	"github.com/Shavakan/lease-leader/pkg/lease"
)

var testKey = lease.Key{Namespace: "default", Name: "leader-example"}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(testKey, "pod-a")

	if cfg.LeaseDuration != 30*time.Second {
		t.Errorf("LeaseDuration = %v, want 30s", cfg.LeaseDuration)
	}
	if cfg.RenewDeadline != 20*time.Second {
		t.Errorf("RenewDeadline = %v, want 20s", cfg.RenewDeadline)
	}
	if cfg.RetryPeriod != 5*time.Second {
		t.Errorf("RetryPeriod = %v, want 5s", cfg.RetryPeriod)
	}
	if cfg.CallTimeout != cfg.RetryPeriod {
		t.Errorf("CallTimeout = %v, want retry period", cfg.CallTimeout)
	}
	if cfg.ReleaseTimeout != 5*time.Second {
		t.Errorf("ReleaseTimeout = %v, want 5s", cfg.ReleaseTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig should validate, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid",
			mutate:  func(_ *Config) {},
			wantErr: false,
		},
		{
			name:    "missing lease name",
			mutate:  func(c *Config) { c.Key.Name = "" },
			wantErr: true,
		},
		{
			name:    "missing identity",
			mutate:  func(c *Config) { c.Identity = "" },
			wantErr: true,
		},
		{
			name:    "renew deadline equal to lease duration",
			mutate:  func(c *Config) { c.RenewDeadline = c.LeaseDuration },
			wantErr: true,
		},
		{
			name:    "renew deadline above lease duration",
			mutate:  func(c *Config) { c.RenewDeadline = c.LeaseDuration + time.Second },
			wantErr: true,
		},
		{
			name:    "zero lease duration",
			mutate:  func(c *Config) { c.LeaseDuration = 0 },
			wantErr: true,
		},
		{
			name:    "negative retry period",
			mutate:  func(c *Config) { c.RetryPeriod = -time.Second },
			wantErr: true,
		},
		{
			name:    "retry period not below renew deadline",
			mutate:  func(c *Config) { c.RetryPeriod = c.RenewDeadline },
			wantErr: true,
		},
		{
			name:    "call timeout above renew deadline",
			mutate:  func(c *Config) { c.CallTimeout = c.RenewDeadline + time.Second },
			wantErr: true,
		},
		{
			name:    "negative release timeout",
			mutate:  func(c *Config) { c.ReleaseTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "empty namespace allowed",
			mutate:  func(c *Config) { c.Key.Namespace = "" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(testKey, "pod-a")
			tt.mutate(&cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error should wrap ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{
		Key:           testKey,
		Identity:      "pod-a",
		LeaseDuration: 3 * time.Second,
		RenewDeadline: 2 * time.Second,
		RetryPeriod:   500 * time.Millisecond,
	}.withDefaults()

	if cfg.CallTimeout != 500*time.Millisecond {
		t.Errorf("CallTimeout = %v, want retry period", cfg.CallTimeout)
	}
	if cfg.ReleaseTimeout != DefaultReleaseTimeout {
		t.Errorf("ReleaseTimeout = %v, want %v", cfg.ReleaseTimeout, DefaultReleaseTimeout)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig(testKey, "pod-a")
	cfg.RenewDeadline = cfg.LeaseDuration

	if _, err := New(cfg, lease.NewMemoryStore()); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(DefaultConfig(testKey, "pod-a"), nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New(nil store) error = %v, want ErrInvalidConfig", err)
	}
}
