package ratelimit

// Request budget for one api.Client.
const (
	// APIRatePerSec is the sustained request rate for all API calls.
	APIRatePerSec = 4.0

	// APIBurstCapacity is the number of requests allowed back to back.
	APIBurstCapacity = 20

	// WarnAfterWait is the expected wait above which a throttling notice is
	// logged.
	WarnAfterWait = 2 // seconds
)
