package errors

// Common error codes
const (
	// System errors
	ErrInternal       ErrorCode = "internal_error"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Sampler errors
	ErrConnect     ErrorCode = "connect_failed"
	ErrBackendRead ErrorCode = "backend_read_failed"
	ErrWrite       ErrorCode = "write_failed"
	ErrEncode      ErrorCode = "encode_failed"

	// Collector errors
	ErrAccept           ErrorCode = "accept_failed"
	ErrRead             ErrorCode = "read_failed"
	ErrMalformedRecord  ErrorCode = "malformed_record"
	ErrFragmentOverflow ErrorCode = "fragment_overflow"

	// Operation errors
	ErrTimeout ErrorCode = "operation_timeout"
)

var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrAlreadyRunning:   "Another instance is already running",
	ErrInvalidConfig:    "Invalid configuration",
	ErrBindFlags:        "Failed to bind flags",
	ErrReadConfig:       "Failed to read configuration",
	ErrInvalidInterval:  "Invalid interval value",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrInitFailed:       "Initialization failed",
	ErrShutdownFailed:   "Shutdown failed",
	ErrConnect:          "Failed to connect to collector",
	ErrBackendRead:      "Failed to read sensor backend",
	ErrWrite:            "Failed to write record",
	ErrEncode:           "Failed to encode record",
	ErrAccept:           "Failed to accept connection",
	ErrRead:             "Failed to read from connection",
	ErrMalformedRecord:  "Malformed record",
	ErrFragmentOverflow: "Record fragment exceeds maximum length",
	ErrTimeout:          "Operation timed out",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
