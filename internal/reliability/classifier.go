package reliability

import "time"

// IsRetryableHTTPStatus classifies transient HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsCredentialHTTPStatus classifies status codes that indicate a bad
// credential or address rather than a transient outage. Callers surface
// these as configuration errors, not retry candidates.
func IsCredentialHTTPStatus(code int) bool {
	switch code {
	case 401, 403, 404:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
