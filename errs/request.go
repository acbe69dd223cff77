package errs

import (
	"errors"
	"net/http"
)

var (
	Unauthorized = NewApiErr(http.StatusUnauthorized, "unauthorized")
)

// Authentication & Authorization Errors
var (
	ErrMissingToken       = errors.New("missing access token")
	ErrInvalidToken       = errors.New("invalid access token")
	ErrExpiredToken       = errors.New("expired access token")
	ErrInvalidCredentials = errors.New("invalid username or password")

	// Inference-key errors. Both render the same 401 body so the inference
	// endpoint does not leak whether a key exists, but callers can tell
	// them apart with errors.Is.
	ErrMissingAPIKey      = errors.New("missing API key")
	ErrUnknownAPIKey      = errors.New("unknown API key")
	ErrDeploymentInactive = errors.New("deployment inactive")
)

const invalidAPIKeyMessage = "invalid API key"

// apiKeyErr renders the uniform external message while unwrapping to the
// specific reason, so unknown and inactive keys stay distinguishable in code.
type apiKeyErr struct {
	reason error
}

func (e apiKeyErr) Error() string { return invalidAPIKeyMessage }
func (e apiKeyErr) Unwrap() error { return e.reason }

func Malformed(payloadName string) *ApiErr {
	return NewApiErr(http.StatusBadRequest, payloadName+" malformed")
}

func BadRequest(message string) *ApiErr {
	return NewApiErr(http.StatusBadRequest, message)
}

// Authentication & Authorization Error Constructors
func NewMissingTokenError() *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusUnauthorized,
		err:        ErrMissingToken,
		Details:    "Missing access token",
		Field:      "authorization",
	}
}

func NewInvalidTokenError() *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusUnauthorized,
		err:        ErrInvalidToken,
		Details:    "Invalid access token",
		Field:      "authorization",
	}
}

func NewExpiredTokenError() *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusUnauthorized,
		err:        ErrExpiredToken,
		Details:    "Access token has expired",
		Field:      "authorization",
	}
}

func NewInvalidCredentialsError() *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusUnauthorized,
		err:        ErrInvalidCredentials,
	}
}

func NewMissingAPIKeyError() *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusUnauthorized,
		err:        ErrMissingAPIKey,
		Field:      "API-Key",
	}
}

func NewUnknownAPIKeyError() *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusUnauthorized,
		err:        apiKeyErr{reason: ErrUnknownAPIKey},
		Field:      "API-Key",
	}
}

func NewDeploymentInactiveError() *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusUnauthorized,
		err:        apiKeyErr{reason: ErrDeploymentInactive},
		Field:      "API-Key",
	}
}

// Authentication & Authorization Error Type Checkers
func IsMissingTokenError(err error) bool {
	return errors.Is(err, ErrMissingToken)
}

func IsInvalidTokenError(err error) bool {
	return errors.Is(err, ErrInvalidToken)
}

func IsExpiredTokenError(err error) bool {
	return errors.Is(err, ErrExpiredToken)
}

func IsInvalidCredentialsError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

func IsMissingAPIKeyError(err error) bool {
	return errors.Is(err, ErrMissingAPIKey)
}

func IsUnknownAPIKeyError(err error) bool {
	return errors.Is(err, ErrUnknownAPIKey)
}

func IsDeploymentInactiveError(err error) bool {
	return errors.Is(err, ErrDeploymentInactive)
}
