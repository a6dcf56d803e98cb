package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "pland/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// UserError is shown to the user verbatim instead of a generic failure.
type UserError struct{ Msg string }

func (e *UserError) Error() string { return e.Msg }

func Userf(format string, args ...any) error { return &UserError{Msg: fmt.Sprintf(format, args...)} }

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error so the user still
// gets a reply.
func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)
			var ue *UserError
			switch {
			case err != nil && !errors.As(err, &ue):
				req.Logger.Warn("request failed", logx.Duration("dur", d), logx.Err(err))
			case d >= 750*time.Millisecond:
				req.Logger.Info("request ok", logx.Duration("dur", d))
			default:
				req.Logger.Debug("request ok", logx.Duration("dur", d))
			}
			return err
		}
	}
}

// MWReplyError tells the user something went wrong. UserErrors are shown as
// is; anything else gets a generic line with the request id.
func MWReplyError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil {
				return nil
			}
			var ue *UserError
			msg := "Something went wrong (ref " + req.ReqID + ")."
			if errors.As(err, &ue) {
				msg = ue.Msg
			}
			// the handler's ctx may have expired; give the reply its own budget
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = req.Reply(rctx, msg)
			return err
		}
	}
}
