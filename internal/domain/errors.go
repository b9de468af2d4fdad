package domain

import (
	"errors"
	"fmt"
)

// Category sentinels shared across subsystems.
var (
	ErrNotFound  = fmt.Errorf("not found")
	ErrDuplicate = fmt.Errorf("duplicate")
	ErrTimeout   = fmt.Errorf("operation timed out")
)

// Sentinel errors for the runtime core.
var (
	// Capacity.
	ErrQueueOverflow = fmt.Errorf("directive queue at capacity")

	// Configuration — detected before any side effect occurs.
	ErrInvalidStatus         = fmt.Errorf("invalid instance status")
	ErrMissingRequiredOption = fmt.Errorf("missing required option")
	ErrInvalidDispatchConfig = fmt.Errorf("invalid dispatch config")
	ErrUnknownAdapter        = fmt.Errorf("unknown dispatch adapter")

	// Delivery — localized to one destination within a fan-out.
	ErrProcessNotFound         = fmt.Errorf("process not found")
	ErrProcessNotAlive         = fmt.Errorf("process not alive")
	ErrBusNotFound             = fmt.Errorf("bus not found")
	ErrBusVersionConflict      = fmt.Errorf("bus stream version conflict")
	ErrBroadcastDomainNotFound = fmt.Errorf("broadcast domain not found")
	ErrInvalidLogLevel         = fmt.Errorf("invalid log level")

	// Runtime lifecycle.
	ErrInstanceStopped = fmt.Errorf("instance stopped")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Dispatcher.Dispatch")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error. Returns nil if err is nil,
// enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown               ErrorCode = "UNKNOWN"
	CodeQueueOverflow         ErrorCode = "QUEUE_OVERFLOW"
	CodeInvalidStatus         ErrorCode = "INVALID_STATUS"
	CodeMissingRequiredOption ErrorCode = "MISSING_REQUIRED_OPTION"
	CodeInvalidDispatchConfig ErrorCode = "INVALID_DISPATCH_CONFIG"
	CodeUnknownAdapter        ErrorCode = "UNKNOWN_ADAPTER"
	CodeProcessNotFound       ErrorCode = "PROCESS_NOT_FOUND"
	CodeProcessNotAlive       ErrorCode = "PROCESS_NOT_ALIVE"
	CodeTimeout               ErrorCode = "TIMEOUT"
	CodeBusNotFound           ErrorCode = "BUS_NOT_FOUND"
	CodeBusVersionConflict    ErrorCode = "BUS_VERSION_CONFLICT"
	CodeBroadcastNotFound     ErrorCode = "BROADCAST_DOMAIN_NOT_FOUND"
	CodeInvalidLogLevel       ErrorCode = "INVALID_LOG_LEVEL"
	CodeInstanceStopped       ErrorCode = "INSTANCE_STOPPED"
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeDuplicate             ErrorCode = "DUPLICATE"
)

var errorCodeMap = map[error]ErrorCode{
	ErrQueueOverflow:           CodeQueueOverflow,
	ErrInvalidStatus:           CodeInvalidStatus,
	ErrMissingRequiredOption:   CodeMissingRequiredOption,
	ErrInvalidDispatchConfig:   CodeInvalidDispatchConfig,
	ErrUnknownAdapter:          CodeUnknownAdapter,
	ErrProcessNotFound:         CodeProcessNotFound,
	ErrProcessNotAlive:         CodeProcessNotAlive,
	ErrTimeout:                 CodeTimeout,
	ErrBusNotFound:             CodeBusNotFound,
	ErrBusVersionConflict:      CodeBusVersionConflict,
	ErrBroadcastDomainNotFound: CodeBroadcastNotFound,
	ErrInvalidLogLevel:         CodeInvalidLogLevel,
	ErrInstanceStopped:         CodeInstanceStopped,
	ErrNotFound:                CodeNotFound,
	ErrDuplicate:               CodeDuplicate,
}

// ErrorCodeOf returns the machine-parseable code for err, walking the error
// chain with errors.Is. Returns CodeUnknown if no sentinel matches.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// IsRetryableError reports whether err is transient and may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrBusVersionConflict)
}
