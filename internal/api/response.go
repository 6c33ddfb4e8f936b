// internal/api/response.go
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tamzrod/hsc-probe/internal/poller"
	pmodbus "github.com/tamzrod/hsc-probe/internal/poller/modbus"
)

var ErrMalformedJSON = errors.New("api: malformed JSON body")

type errorResponse struct {
	Error string `json:"error"`
}

type acceptedResponse struct {
	ID string `json:"id"`
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var ce *pmodbus.ConnectError
	switch {
	case errors.Is(err, poller.ErrUnknownBlock), errors.Is(err, poller.ErrUnknownCoil):
		return http.StatusNotFound
	case errors.Is(err, poller.ErrIntervalRange),
		errors.Is(err, poller.ErrOutputRange),
		errors.Is(err, pmodbus.ErrInvalidParams),
		errors.Is(err, ErrMalformedJSON):
		return http.StatusBadRequest
	case errors.Is(err, pmodbus.ErrAlreadyConnected), errors.Is(err, poller.ErrCancelled):
		return http.StatusConflict
	case errors.As(err, &ce):
		return http.StatusBadGateway
	case errors.Is(err, poller.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), errorResponse{Error: err.Error()})
}
