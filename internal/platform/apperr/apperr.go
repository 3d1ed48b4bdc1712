// Package apperr holds the error taxonomy shared by the data-access layer and
// the HTTP surface. Repositories wrap these sentinels with fmt.Errorf("...: %w")
// and callers match them with errors.Is.
package apperr

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var (
	ErrMissingTenantContext = errors.New("missing tenant context")
	ErrInvalidTenant        = errors.New("invalid tenant identifier")
	ErrUnknownTenant        = errors.New("unknown tenant")
	ErrInvalidCategory      = errors.New("invalid category")
	ErrValidation           = errors.New("validation failed")
	ErrPoolExhausted        = errors.New("connection pool exhausted")
	ErrNotFound             = errors.New("not found")
)

// RetryAfterSeconds is advertised to clients that hit ErrPoolExhausted.
const RetryAfterSeconds = 1

// Body is the JSON envelope written for every error response.
type Body struct {
	Error Detail `json:"error"`
}

type Detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Classify maps an error to its HTTP status and a stable machine code.
// UnknownTenant and NotFound share one code so a caller probing another
// tenant's ids cannot tell "exists elsewhere" from "does not exist".
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMissingTenantContext):
		return http.StatusBadRequest, "missing_tenant_context"
	case errors.Is(err, ErrInvalidTenant):
		return http.StatusBadRequest, "invalid_tenant"
	case errors.Is(err, ErrInvalidCategory):
		return http.StatusUnprocessableEntity, "invalid_category"
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, ErrUnknownTenant), errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrPoolExhausted):
		return http.StatusServiceUnavailable, "pool_exhausted"
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, http.StatusText(he.Code)
	}
	return http.StatusInternalServerError, "database_error"
}

// IsRetryable reports whether the caller may back off and retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPoolExhausted)
}

func message(err error, status int, code string) string {
	switch code {
	case "not_found":
		return "resource not found"
	case "database_error":
		return "internal server error"
	case "pool_exhausted":
		return "database busy, retry later"
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if s, ok := he.Message.(string); ok {
			return s
		}
		return http.StatusText(status)
	}
	return err.Error()
}

// HTTPErrorHandler replaces echo's default handler so that every error leaves
// the server in the same envelope.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, code := Classify(err)
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("request_id", requestID(c)).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}
		if IsRetryable(err) {
			c.Response().Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
		}
		body := Body{Error: Detail{Code: code, Message: message(err, status, code)}}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

func requestID(c echo.Context) string {
	rid, _ := c.Get("request_id").(string)
	return rid
}
