package config

import "time"

// Common timeout durations used throughout the application.
const (
	// ConnectTimeout bounds backend setup at startup (Redis ping, AWS config)
	ConnectTimeout = 10 * time.Second

	// ReadHeaderTimeout for the HTTP server
	ReadHeaderTimeout = 5 * time.Second

	// CleanupTimeout for deferred cleanup operations (metrics flush, tracer shutdown)
	CleanupTimeout = 5 * time.Second
)
