package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"modelgate/internal/model"
)

// HTTPErrorHandler renders errors that escape handlers and middleware
// (unknown routes, wrong methods, body limit) in the gateway error envelope.
// It is installed as echo.Echo.HTTPErrorHandler.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
	}

	body := model.ErrorResponse{Error: model.ErrorBody{
		Type:    string(errorKind(status)),
		Message: http.StatusText(status),
	}}
	switch status {
	case http.StatusRequestEntityTooLarge:
		body.Error.Message = "Request body too large"
	case http.StatusInternalServerError:
		body.Error.Message = "ModelGate internal error"
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}

func errorKind(status int) model.ErrorKind {
	switch {
	case status == http.StatusRequestEntityTooLarge:
		return model.KindTooLarge
	case status >= 400 && status < 500:
		return model.KindInvalidRequest
	default:
		return model.KindInternal
	}
}
