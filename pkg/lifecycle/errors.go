package lifecycle

import (
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// ErrorCode classifies a lifecycle failure for callers that need to branch on
// the cause rather than the message.
type ErrorCode string

const (
	ErrCodeConnectorNotFound      ErrorCode = "connector_not_found"
	ErrCodeOAuthTargetMismatch    ErrorCode = "oauth_target_mismatch"
	ErrCodeOAuthUserMissingRights ErrorCode = "oauth_user_missing_rights"
	ErrCodeExternalOAuthToken     ErrorCode = "external_oauth_token_error"
	ErrCodeInvalidPermission      ErrorCode = "invalid_permission"
	ErrCodePermissionNotSettable  ErrorCode = "permission_not_settable"
	ErrCodeCursorMissing          ErrorCode = "cursor_missing"
)

// Error is a typed lifecycle failure
type Error struct {
	Code    ErrorCode
	Message string
}

// NewError creates a typed lifecycle error with a formatted message
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *Error) Error() string {
	return e.Message
}

// ToHTTPError maps the error code onto the HTTP status the API surfaces
func (e *Error) ToHTTPError() *httperror.HTTPError {
	status := http.StatusBadRequest
	switch e.Code {
	case ErrCodeConnectorNotFound:
		status = http.StatusNotFound
	case ErrCodeOAuthUserMissingRights, ErrCodeExternalOAuthToken:
		status = http.StatusUnauthorized
	}
	return httperror.NewHTTPError(status, e.Message).AddMetaValue("code", string(e.Code))
}

// IsError reports whether err is a typed lifecycle error
func IsError(err error) bool {
	_, ok := err.(*Error)
	return ok
}

// AsError unwraps a typed lifecycle error, or nil
func AsError(err error) *Error {
	if lifecycleErr, ok := err.(*Error); ok {
		return lifecycleErr
	}
	return nil
}
