package auth

import "errors"

var (
	// ErrProviderUnavailable marks transient network or 5xx conditions.
	// Safe to retry with backoff.
	ErrProviderUnavailable = errors.New("authorization provider unavailable")

	// ErrAuthExpired means the refresh token was rejected. Terminal: the
	// user must re-authorize.
	ErrAuthExpired = errors.New("authorization expired")

	// ErrNotAuthenticated means no credential is on file for the user.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAuthorizationPending is the device-grant "keep polling" response.
	// Resolved inside the poller, never surfaced to callers.
	ErrAuthorizationPending = errors.New("authorization pending")

	// ErrSlowDown asks the client to increase its polling interval.
	// Resolved inside the poller, never surfaced to callers.
	ErrSlowDown = errors.New("slow down")

	// ErrDeviceFlowExpired means the device code expired before the user
	// completed authorization.
	ErrDeviceFlowExpired = errors.New("device authorization expired")

	// ErrDeviceFlowDenied means the user declined the authorization.
	ErrDeviceFlowDenied = errors.New("device authorization denied")
)
