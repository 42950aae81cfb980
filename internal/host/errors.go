package host

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthError reports an invalid or expired credential.
type AuthError struct {
	Platform   string
	Op         string
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "invalid or expired token"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: authentication failed (%d): %s", e.Platform, e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s: authentication failed: %s", e.Platform, e.Op, msg)
}

// Error is any other failed hosting call: an unexpected status or a
// transport failure (StatusCode 0).
type Error struct {
	Platform   string
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.StatusCode == 0:
		return fmt.Sprintf("%s %s: %v", e.Platform, e.Op, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s %s: status %d: %s", e.Platform, e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s %s: status %d", e.Platform, e.Op, e.StatusCode)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is or wraps an *AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// StatusError classifies a non-2xx response. 401 is always an AuthError;
// 403 is one only for identity calls, where it means the token lacks access
// to the account itself.
func StatusError(platform, op string, status int, message string, identity bool) error {
	if status == http.StatusUnauthorized || (identity && status == http.StatusForbidden) {
		return &AuthError{Platform: platform, Op: op, StatusCode: status, Message: message}
	}
	return &Error{Platform: platform, Op: op, StatusCode: status, Message: message}
}
