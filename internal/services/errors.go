package services

import "errors"

// Error kinds for the notification pipeline. Callers match with errors.Is;
// everything else wraps one of these with fmt.Errorf("...: %w", err).
var (
	// ErrMalformedToken indicates a structural parse failure (not three
	// dot-separated segments). Non-retryable, no fallback.
	ErrMalformedToken = errors.New("malformed JWS token")

	// ErrKeySourceUnavailable indicates the remote key fetch failed after
	// all retries. Transient; fatal for the current request only.
	ErrKeySourceUnavailable = errors.New("apple key source unavailable")

	// ErrSignatureInvalid indicates every verification strategy was
	// exhausted without success. Non-retryable for that token.
	ErrSignatureInvalid = errors.New("JWS signature invalid")

	// ErrStaleNotification indicates the notification is older than the
	// recorded subscription state and was discarded by the monotonicity guard.
	ErrStaleNotification = errors.New("stale notification")

	// ErrUnresolvedTransaction indicates no original transaction ID could
	// be extracted, so the notification cannot be linked to a subscription.
	ErrUnresolvedTransaction = errors.New("unresolved transaction")
)
