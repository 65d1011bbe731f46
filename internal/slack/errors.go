package slack

import (
	"errors"
	"fmt"
)

// ErrorCode is the closed set of platform error strings the core branches on.
// Everything else maps to CodeUnknown so callers never string-match raw
// error text.
type ErrorCode string

const (
	CodeNotInChannel    ErrorCode = "not_in_channel"
	CodeChannelNotFound ErrorCode = "channel_not_found"
	CodeIsArchived      ErrorCode = "is_archived"
	CodeInvalidAuth     ErrorCode = "invalid_auth"
	CodeAccountInactive ErrorCode = "account_inactive"
	CodeTokenRevoked    ErrorCode = "token_revoked"
	CodeMissingScope    ErrorCode = "missing_scope"
	CodeRateLimited     ErrorCode = "ratelimited"
	CodeUnknown         ErrorCode = "unknown_error"
)

func codeFromString(s string) ErrorCode {
	switch ErrorCode(s) {
	case CodeNotInChannel, CodeChannelNotFound, CodeIsArchived,
		CodeInvalidAuth, CodeAccountInactive, CodeTokenRevoked,
		CodeMissingScope, CodeRateLimited:
		return ErrorCode(s)
	default:
		return CodeUnknown
	}
}

// APIError is an ok:false response from the platform API.
// Transport-level failures (HTTP status, network) are plain wrapped errors,
// not APIError.
type APIError struct {
	Method string
	Code   ErrorCode
	Raw    string // error string as returned by the API
}

func (e *APIError) Error() string {
	if e.Raw != "" && ErrorCode(e.Raw) != e.Code {
		return fmt.Sprintf("slack %s: %s (%s)", e.Method, e.Code, e.Raw)
	}
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

// ChannelAccess reports whether the error means the bot cannot post to the
// addressed channel (retryable against other live channels).
func (e *APIError) ChannelAccess() bool {
	switch e.Code {
	case CodeNotInChannel, CodeChannelNotFound, CodeIsArchived:
		return true
	}
	return false
}

// PermissionRevoked reports whether the credential itself is dead.
// These are permanent until the workspace reinstalls the app.
func (e *APIError) PermissionRevoked() bool {
	switch e.Code {
	case CodeInvalidAuth, CodeAccountInactive, CodeTokenRevoked:
		return true
	}
	return false
}

// AsAPIError unwraps err into an *APIError if one is in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
