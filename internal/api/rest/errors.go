package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenMatrixCore/internal/extron"
	"github.com/KevinKickass/OpenMatrixCore/internal/types"
	"github.com/gin-gonic/gin"
)

// deviceErrorStatus maps a session error to an HTTP status and error code.
func deviceErrorStatus(err error) (int, string) {
	var deviceErr *extron.DeviceError
	var connectErr *extron.ConnectError
	var authErr *extron.AuthenticationError

	switch {
	case errors.Is(err, extron.ErrOutOfRange):
		return http.StatusBadRequest, types.ErrCodeOutOfRange
	case errors.Is(err, extron.ErrUnsupportedSignal):
		return http.StatusBadRequest, types.ErrCodeInvalidRequest
	case errors.Is(err, extron.ErrAlreadyConnected):
		return http.StatusConflict, types.ErrCodeConnected
	case errors.Is(err, extron.ErrNotConnected),
		errors.Is(err, extron.ErrConnectionLost),
		errors.Is(err, extron.ErrCancelled):
		return http.StatusConflict, types.ErrCodeNotConnected
	case errors.As(err, &deviceErr),
		errors.As(err, &connectErr),
		errors.As(err, &authErr):
		return http.StatusBadGateway, types.ErrCodeDeviceError
	case errors.Is(err, extron.ErrCommandTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, types.ErrCodeTimeout
	case errors.Is(err, extron.ErrStale):
		return http.StatusServiceUnavailable, types.ErrCodeStale
	default:
		return http.StatusInternalServerError, types.ErrCodeInternal
	}
}

func abortWithDeviceError(c *gin.Context, message string, err error) {
	status, code := deviceErrorStatus(err)
	c.AbortWithStatusJSON(status, types.NewErrorResponse(code, message, err.Error()))
}
