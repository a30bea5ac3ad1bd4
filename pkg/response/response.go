package response

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/mbeoliero/kit/log"

	"github.com/oportunyfam/chatsync/pkg/errcode"
)

// Response represents a standard API response
type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

// Success sends a success response
func Success(ctx context.Context, c *app.RequestContext, data any) {
	c.JSON(http.StatusOK, Response{
		Code: errcode.ErrSuccess.Code,
		Msg:  errcode.ErrSuccess.Msg,
		Data: data,
	})
}

// Error sends an error response. Any error is mapped to its wire code first.
func Error(ctx context.Context, c *app.RequestContext, err error) {
	e := errcode.FromError(err)
	if e == errcode.ErrInternalServer {
		log.CtxError(ctx, "request failed: path=%s, error=%v", c.Path(), err)
	}
	c.JSON(statusOf(e), Response{
		Code: e.Code,
		Msg:  e.Msg,
	})
}

// statusOf keeps business errors on 200 like the rest of the API; only auth
// and availability failures change the HTTP status.
func statusOf(e *errcode.Error) int {
	switch e.Code {
	case errcode.ErrUnauthorized.Code, errcode.ErrTokenInvalid.Code, errcode.ErrTokenExpired.Code,
		errcode.ErrTokenMissing.Code, errcode.ErrTokenMismatch.Code:
		return http.StatusUnauthorized
	case errcode.ErrForbidden.Code:
		return http.StatusForbidden
	case errcode.ErrConnOverLimit.Code:
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}
