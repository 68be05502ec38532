package contract

import (
	"errors"
	"fmt"
)

const (
	CodeEmptyContent          = "empty_content"
	CodeExtractionFailed      = "extraction_failed"
	CodeCapabilityUnavailable = "capability_unavailable"
	CodeCapabilityError       = "capability_error"
	CodeParseError            = "parse_error"
	CodeNotFound              = "not_found"
	CodeValidation            = "validation"
	CodeInternal              = "internal"
)

type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func statusForCode(code string) int {
	switch code {
	case CodeEmptyContent, CodeValidation, CodeParseError:
		return 400
	case CodeNotFound:
		return 404
	case CodeExtractionFailed:
		return 422
	case CodeCapabilityUnavailable:
		return 503
	case CodeCapabilityError:
		return 502
	default:
		return 500
	}
}

func NewError(code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Status:  statusForCode(code),
	}
}

// CodeOf returns the error code for coded errors and CodeInternal otherwise.
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
