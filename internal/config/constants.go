package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const (
	GraceSweepInterval  = 15 * time.Minute
	HealthProbeInterval = 5 * time.Minute
)

// GracePeriod is how long a tenant keeps service after a payment failure
// before its instances are forcibly unlinked. Routing history and billing
// copy both assume three days, so this is not an env knob.
const GracePeriod = 72 * time.Hour

// External call timeouts
const (
	BackendRequestTimeout = 10 * time.Second
	BackendProbeTimeout   = 5 * time.Second
	CRMRequestTimeout     = 10 * time.Second
)

// Routing cache
const ConnectedInstancesCacheTTL = 30 * time.Second

// Billing webhook replay window
const BillingEventDedupTTL = 24 * time.Hour

// Default rate limiting
const DefaultRateLimitPerMin = 60
