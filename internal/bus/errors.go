package bus

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/prometheus"
)

func kindFromEchoError(he *echo.HTTPError) installerrors.Kind {
	switch {
	case he.Code == http.StatusServiceUnavailable:
		return installerrors.ErrorNotReady
	case he.Code >= 400 && he.Code < 500:
		return installerrors.ErrorInvalidRequest
	default:
		return installerrors.ErrorUnknown
	}
}

// APIError converts err into the error body sent to clients.
func APIError(err error, c echo.Context) (int, *ErrorResponse) {
	operationID, ok := c.Get(common.OperationIDKey).(string)
	if !ok || operationID == "" {
		c.Logger().Errorf("Couldn't find operationID handling error %v", err)
	}

	var status int
	var kind installerrors.Kind
	message := err.Error()

	var he *echo.HTTPError
	var ie *installerrors.Error
	switch {
	case errors.As(err, &ie):
		kind = ie.Kind
		status = kind.HTTPStatus()
	case errors.As(err, &he):
		kind = kindFromEchoError(he)
		status = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		}
	default:
		kind = installerrors.ErrorUnknown
		status = http.StatusInternalServerError
	}

	return status, &ErrorResponse{
		Kind:        "Error",
		Name:        kind.BusName(),
		Message:     common.RedactURL(message),
		OperationID: operationID,
	}
}

// HTTPErrorHandler sends every error as an ErrorResponse.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, apiErr := APIError(err, c)
	prometheus.FailedRequests.WithLabelValues(apiErr.Name).Inc()
	if status == http.StatusInternalServerError {
		c.Logger().Errorf("Internal server error. Internal: %v, Name: %s, OperationId: %s",
			err, apiErr.Name, apiErr.OperationID)
	} else {
		c.Logger().Infof("Name: %s, OperationId: %s, Internal: %v",
			apiErr.Name, apiErr.OperationID, err)
	}

	var respErr error
	if c.Request().Method == http.MethodHead {
		respErr = c.NoContent(status)
	} else {
		respErr = c.JSON(status, apiErr)
	}
	if respErr != nil {
		c.Logger().Errorf("Failed to return error response: %v", respErr)
	}
}

// errorFromResponse is the client side inverse of APIError.
func errorFromResponse(status int, body *ErrorResponse) error {
	if body == nil || body.Name == "" {
		return installerrors.New(installerrors.ErrorUnknown, "request failed with status %d", status)
	}
	return installerrors.New(installerrors.KindFromBusName(body.Name), "%s", body.Message)
}
