package constants

import (
	"time"
)

// REST endpoints of the analysis service. Paths are fixed by the backend router.
const (
	TokenPath        = "/api/auth/token/"
	TokenRefreshPath = "/api/auth/token/refresh/"
	RegisterPath     = "/api/analytics/register/"
	ExamUploadsPath  = "/api/analytics/exam-uploads/"
)

// Session storage keys. Both tokens live under these fixed names in every store.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// Job polling
const (
	// JobPollInterval - fixed interval between status queries for a tracked job (2 seconds)
	JobPollInterval = 2 * time.Second

	// MinJobPollInterval - lower bound accepted from config to avoid hammering the backend
	MinJobPollInterval = 500 * time.Millisecond

	// PollRequestTimeout - per-tick request timeout; a tick that exceeds it fails the job
	PollRequestTimeout = 30 * time.Second
)

// Upload limits mirrored from the backend serializer
const (
	// MaxUploadSize - the server rejects exam files larger than 10 MB
	MaxUploadSize = 10 * 1024 * 1024
)

// Retry configuration
const (
	// MaxRetries - maximum attempts for artifact downloads and mirror uploads
	MaxRetries = 3

	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	// Exponential backoff with jitter caps at this value
	RetryMaxDelay = 15 * time.Second
)

// Disk space safety margin
const (
	// DiskSpaceBufferPercent - additional space to require beyond artifact size (15%)
	DiskSpaceBufferPercent = 0.15
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels
	EventBusDefaultBuffer = 256

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios
	EventBusMaxBuffer = 5000
)

// Artifact downloads
const (
	// MaxConcurrentDownloads - artifacts of one job downloaded in parallel (at most 4 exist)
	MaxConcurrentDownloads = 4

	// ProgressUpdateInterval - interval for progress bar updates (250ms)
	ProgressUpdateInterval = 250 * time.Millisecond
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (30 seconds)
	HTTPTLSHandshakeTimeout = 30 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second

	// DefaultRequestTimeout - overall timeout for a single API request
	DefaultRequestTimeout = 60 * time.Second
)
