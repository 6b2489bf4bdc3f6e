package authcore

import (
	"errors"
	"time"

	"github.com/mwhitlock/authcore/audit"
	"github.com/mwhitlock/authcore/password"
	"github.com/mwhitlock/authcore/session"
	"github.com/mwhitlock/authcore/token"
)

// KeyConfig controls signing key rotation.
type KeyConfig struct {
	// Retention is how long a demoted key stays verifiable before it is
	// retired, and how long a retired key lingers before purge. It must
	// cover the longest token TTL plus clock-skew margin.
	Retention time.Duration
}

// ResetConfig controls password reset challenges.
type ResetConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

// ThrottleConfig controls the login failure throttle. A principal's email
// and the caller's source address each carry an independent failure budget
// over a rolling window. MaxFailures <= 0 disables throttling.
type ThrottleConfig struct {
	MaxFailures int
	Window      time.Duration
}

// AuditConfig controls the append path and the async sink dispatcher.
type AuditConfig struct {
	BufferSize int
	DropIfFull bool
	// DrainTimeout bounds how long Close waits on the sink for buffered
	// entries.
	DrainTimeout time.Duration
}

// Config aggregates all engine settings. Zero values are filled from
// DefaultConfig by the builder; Validate runs at build time so a bad
// configuration never produces a partially working engine.
type Config struct {
	Token          token.Config
	Password       password.Params
	PasswordPolicy password.Policy
	Session        session.StoreConfig
	Keys           KeyConfig
	Reset          ResetConfig
	Throttle       ThrottleConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
	// PermissionCacheTTL bounds stale cached authorization decisions.
	PermissionCacheTTL time.Duration
}

// DefaultConfig returns production-leaning defaults. Deployments override
// issuer identity at minimum.
func DefaultConfig() Config {
	return Config{
		Token: token.Config{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
			IDTTL:      time.Hour,
			Issuer:     "authcore",
			Leeway:     30 * time.Second,
		},
		Password:       password.DefaultParams(),
		PasswordPolicy: password.DefaultPolicy(),
		Session: session.StoreConfig{
			TTL:        30 * 24 * time.Hour,
			RaceWindow: 10 * time.Second,
		},
		Keys: KeyConfig{
			Retention: 31 * 24 * time.Hour,
		},
		Reset: ResetConfig{
			TTL:         30 * time.Minute,
			MaxAttempts: 5,
		},
		Throttle: ThrottleConfig{
			MaxFailures: 10,
			Window:      15 * time.Minute,
		},
		Audit: AuditConfig{
			BufferSize:   256,
			DropIfFull:   true,
			DrainTimeout: 2 * time.Second,
		},
		Metrics:            MetricsConfig{Enabled: true},
		PermissionCacheTTL: 15 * time.Minute,
	}
}

// Validate cross-checks settings that individual components cannot see
// together.
func (c Config) Validate() error {
	if err := c.Token.Validate(); err != nil {
		return err
	}
	if c.PasswordPolicy.MinLength <= 0 {
		return errors.New("password policy minimum length must be positive")
	}
	if c.Keys.Retention < c.Token.RefreshTTL {
		return errors.New("key retention must cover the refresh token TTL")
	}
	if c.Session.TTL < c.Token.RefreshTTL {
		return errors.New("session TTL must cover the refresh token TTL")
	}
	if c.Reset.TTL <= 0 {
		return errors.New("reset TTL must be positive")
	}
	if c.Reset.MaxAttempts <= 0 {
		return errors.New("reset attempt cap must be positive")
	}
	if c.Throttle.MaxFailures > 0 && c.Throttle.Window <= 0 {
		return errors.New("throttle window must be positive when throttling is enabled")
	}
	return nil
}

func (c Config) dispatcherConfig() audit.DispatcherConfig {
	return audit.DispatcherConfig{
		BufferSize:   c.Audit.BufferSize,
		DropIfFull:   c.Audit.DropIfFull,
		DrainTimeout: c.Audit.DrainTimeout,
	}
}
