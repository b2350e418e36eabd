package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"paig-gateway/internal/apperr"
	"paig-gateway/internal/models"
)

const identityKey = "paig.identity"

// keyAuth resolves "Authorization: Bearer <key>" against the configured keys.
func (s *Server) keyAuth() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, c echo.Context) (bool, error) {
			id, ok := s.keys[key]
			if !ok {
				return false, nil
			}
			c.Set(identityKey, id)
			return true, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return apperr.Unauthorized("invalid or missing API key").WithCause(err)
		},
	})
}

func requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !identityFrom(c).Admin {
			return apperr.Forbidden("admin privileges required")
		}
		return next(c)
	}
}

func identityFrom(c echo.Context) Identity {
	id, _ := c.Get(identityKey).(Identity)
	return id
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType string, code any) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func (s *Server) openAIErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	if appErr, ok := apperr.As(err); ok {
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			s.log.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("request failed")
		}
		_ = writeError(c, appErr.HTTPStatus, appErr.Message, string(appErr.Code), errorCode(appErr))
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, he.Code, fmt.Sprint(he.Message), string(apperr.CodeBadRequest), nil)
		return
	}

	s.log.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("unhandled error")
	_ = writeError(c, http.StatusInternalServerError, "internal server error", string(apperr.CodeInternal), nil)
}

// errorCode is the envelope's "code": the provider's status for upstream
// failures, the error category otherwise.
func errorCode(e *apperr.Error) any {
	if status, ok := e.Details["upstream_status"]; ok {
		return status
	}
	return string(e.Code)
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.BadRequest("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.New(apperr.CodeBadRequest, "request body too large", http.StatusRequestEntityTooLarge)
		}
		if errors.Is(err, models.ErrInvalidMessage) {
			return apperr.BadRequest(err.Error()).WithCause(err)
		}
		return apperr.BadRequest(fmt.Sprintf("invalid JSON payload: %v", err)).WithCause(err)
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return apperr.BadRequest("request body must contain a single JSON object")
	}
	return nil
}

type bodyValidator struct {
	v *validator.Validate
}

func newBodyValidator() *bodyValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &bodyValidator{v: v}
}

func (b *bodyValidator) Validate(i any) error {
	if err := b.v.Struct(i); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperr.BadRequest(fmt.Sprintf("field %s failed %q validation", fe.Field(), fe.Tag())).WithCause(err)
		}
		return apperr.BadRequest(err.Error()).WithCause(err)
	}
	return nil
}
