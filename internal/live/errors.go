package live

import "fmt"

// Error is a typed orchestrator error. Two errors are the same kind when their
// codes match, so wrapped and re-worded errors still satisfy errors.Is against
// the sentinels below.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidInput       = &Error{Code: "INVALID_INPUT", Message: "invalid input"}
	ErrNotFound           = &Error{Code: "NOT_FOUND", Message: "not found"}
	ErrUnknownCode        = &Error{Code: "UNKNOWN_CODE", Message: "unknown catalog code"}
	ErrCatalogUnavailable = &Error{Code: "CATALOG_UNAVAILABLE", Message: "catalog item unavailable"}
	ErrPlatformDegraded   = &Error{Code: "PLATFORM_DEGRADED", Message: "platform connection degraded"}
	ErrPipelineFault      = &Error{Code: "PIPELINE_FAULT", Message: "pipeline fault"}
	ErrSessionEnded       = &Error{Code: "SESSION_ENDED", Message: "session has ended"}
	ErrAlreadyExists      = &Error{Code: "ALREADY_EXISTS", Message: "already exists"}
)

// Errorf builds an error of kind base with a specific message.
func Errorf(base *Error, format string, args ...any) *Error {
	return &Error{Code: base.Code, Message: fmt.Sprintf(format, args...)}
}
