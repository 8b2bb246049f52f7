package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"

	// Configuration errors
	ErrInvalidConfig  ErrorCode = "invalid_configuration"
	ErrBindFlags      ErrorCode = "bind_flags_failed"
	ErrReadConfig     ErrorCode = "read_config_failed"
	ErrInvalidTimeout ErrorCode = "invalid_timeout"
	ErrInvalidRetries ErrorCode = "invalid_retries"
	ErrInvalidBackoff ErrorCode = "invalid_backoff"
	ErrOutputPath     ErrorCode = "output_path_unusable"
	ErrUsage          ErrorCode = "usage"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Resource errors
	ErrAlreadyRunning ErrorCode = "already_running"

	// Pipeline errors
	ErrFetch            ErrorCode = "fetch_failed"
	ErrUnsupportedModel ErrorCode = "unsupported_model"
	ErrMalformedPayload ErrorCode = "malformed_payload"
	ErrValidation       ErrorCode = "validation_failed"

	// Sink errors
	ErrWriteHistory ErrorCode = "write_history_failed"
	ErrReadHistory  ErrorCode = "read_history_failed"
	ErrRender       ErrorCode = "render_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidArgument:  "Invalid argument provided",
	ErrInvalidConfig:    "Invalid configuration",
	ErrBindFlags:        "Failed to bind flags",
	ErrReadConfig:       "Failed to read config file",
	ErrInvalidTimeout:   "Invalid timeout value",
	ErrInvalidRetries:   "Invalid retry count",
	ErrInvalidBackoff:   "Invalid backoff value",
	ErrOutputPath:       "Output path is not a writable directory",
	ErrUsage:            "Invalid usage",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrAlreadyRunning:   "Another collection is already running",
	ErrFetch:            "Failed to fetch from modem",
	ErrUnsupportedModel: "Unsupported modem model",
	ErrMalformedPayload: "Malformed modem payload",
	ErrValidation:       "Telemetry validation failed",
	ErrWriteHistory:     "Failed to write history",
	ErrReadHistory:      "Failed to read history",
	ErrRender:           "Failed to render plot",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
