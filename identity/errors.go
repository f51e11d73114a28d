package identity

import (
	"errors"
	"fmt"
)

// Provider error codes, as reported in the provider's error payloads.
const (
	CodeTooManyRequests   = "auth/too-many-requests"
	CodeInvalidEmail      = "auth/invalid-email"
	CodeUserDisabled      = "auth/user-disabled"
	CodeUserNotFound      = "auth/user-not-found"
	CodeWrongPassword     = "auth/wrong-password"
	CodeInvalidCredential = "auth/invalid-credential"
	CodeEmailInUse        = "auth/email-already-in-use"
)

// wireCodes maps the raw codes in provider responses to the auth/ codes
// surfaced to callers.
var wireCodes = map[string]string{
	"TOO_MANY_ATTEMPTS_TRY_LATER": CodeTooManyRequests,
	"INVALID_EMAIL":               CodeInvalidEmail,
	"USER_DISABLED":               CodeUserDisabled,
	"EMAIL_NOT_FOUND":             CodeUserNotFound,
	"INVALID_PASSWORD":            CodeWrongPassword,
	"INVALID_LOGIN_CREDENTIALS":   CodeInvalidCredential,
	"EMAIL_EXISTS":                CodeEmailInUse,
}

// ErrNoSession is returned when an operation requires a signed-in user
// and none exists.
var ErrNoSession = errors.New("no signed-in user")

// CodeError is a provider failure tagged with its string code.
type CodeError struct {
	Code    string
	Message string
}

func (e *CodeError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewCodeError builds a CodeError from a raw provider code, translating
// known wire codes to their auth/ form.
func NewCodeError(rawCode, message string) *CodeError {
	code := rawCode
	if mapped, ok := wireCodes[rawCode]; ok {
		code = mapped
	}
	return &CodeError{Code: code, Message: message}
}

// CodeOf extracts the provider code from an error chain, or "" if the
// error did not originate from the provider.
func CodeOf(err error) string {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
