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
const CleanupJobInterval = time.Minute

// Device liveness
const DeviceLivenessWindow = 2 * time.Minute

// Session countdown warnings
const (
	CountdownWarningFinal = 60 * time.Second
	CountdownWarningEarly = 5 * time.Minute
)

// OTP
const (
	OTPLength         = 6
	OTPExpiry         = 5 * time.Minute
	OTPMaxAttempts    = 3
	OTPMaxPerHour     = 3
	OTPRequestWindow  = time.Hour
	OTPVerifyPerMin   = 10
	OTPVerifyWindow   = time.Minute
	SessionCodeLength = 6
	SessionCodeWindow = time.Minute
)

// Audio capture
const (
	AudioFrameSamples    = 4096
	SpeechRequestsPerMin = 30
)

// Request bodies carrying base64 resumes or sample arrays
const MaxUploadBodySize = 15 << 20

// Outbound HTTP clients
const ExternalRequestTimeout = 30 * time.Second

// Payment webhooks
const StripeSignatureTolerance = 5 * time.Minute

// Bearer tokens issued after OTP verification
const AuthTokenTTL = 7 * 24 * time.Hour
