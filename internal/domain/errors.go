package domain

// ErrorCode classifies stream failures for the calling surface.
type ErrorCode string

const (
	// CodeConfigError means credentials or settings are missing or invalid.
	// No network call is attempted for this code.
	CodeConfigError ErrorCode = "config_error"
	// CodeNetworkError is a transport level failure before a response arrived.
	CodeNetworkError ErrorCode = "network_error"
	// CodeHTTPError is a non-2xx response from the vendor.
	CodeHTTPError ErrorCode = "http_error"
	// CodeStreamError is a failure while decoding an established stream.
	CodeStreamError ErrorCode = "stream_error"
	// CodeCancelled means the request was aborted by the user or by timeout
	// propagation through the adapter.
	CodeCancelled ErrorCode = "cancelled"
	// CodeAuthError is a token exchange or federated auth failure.
	CodeAuthError ErrorCode = "auth_error"
	// CodeUnexpectedError is the catch-all for adapter internal faults.
	CodeUnexpectedError ErrorCode = "unexpected_error"
	// CodeTimeout means the session exceeded its deadline before a terminal
	// event arrived.
	CodeTimeout ErrorCode = "timeout"
)
