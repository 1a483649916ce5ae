package models

// Error codes reported by the remote service or assigned locally.
// The catalog maps them to operator-friendly messages for the console.
const (
	ErrorCodeSiteUnavailable = "SITE_UNAVAILABLE"
	ErrorCodeAuthFailed      = "AUTH_FAILED"
	ErrorCodeRemoteTimeout   = "REMOTE_TIMEOUT"
	ErrorCodeCancelled       = "OPERATOR_CANCELLED"
	ErrorCodeUnknown         = "UNKNOWN"
)

// friendlyMessages is the fixed error-code catalog surfaced to the UI
var friendlyMessages = map[string]string{
	ErrorCodeSiteUnavailable: "Site unavailable – server may be down",
	ErrorCodeAuthFailed:      "Authentication failed – check the stored credentials",
	ErrorCodeRemoteTimeout:   "Remote timeout – the job took too long to respond",
	ErrorCodeCancelled:       "Cancelled by operator",
	ErrorCodeUnknown:         "An unexpected error occurred",
}

// FriendlyMessage resolves an error code to a human-readable message.
// Unmapped codes fall back to the raw message, then a generic default.
func FriendlyMessage(code, raw string) string {
	if msg, ok := friendlyMessages[code]; ok {
		return msg
	}
	if raw != "" {
		return raw
	}
	return friendlyMessages[ErrorCodeUnknown]
}
