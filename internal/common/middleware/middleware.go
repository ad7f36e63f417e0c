package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/mirzahilmi/heartsensor/broker/internal/common/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Middleware struct {
	api    huma.API
	config config.Config
}

func NewMiddleware(api huma.API, config config.Config) Middleware {
	return Middleware{api, config}
}

// AccessLog logs every huma operation once it has been handled. Requests are
// logged at debug level outside development.
func (m Middleware) AccessLog(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	next(ctx)

	level := zerolog.DebugLevel
	if m.config.IsDevelopment {
		level = zerolog.InfoLevel
	}
	status := ctx.Status()
	if status >= http.StatusInternalServerError {
		level = zerolog.WarnLevel
	}
	log.WithLevel(level).
		Str("method", ctx.Method()).
		Str("path", ctx.URL().Path).
		Str("operation", ctx.Operation().OperationID).
		Int("status", status).
		Dur("elapsed", time.Since(start)).
		Msg("http: request handled")
}

// Recoverer turns a handler panic into a 500 and logs the stack. Aborted
// handlers are left to net/http.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if err, ok := rvr.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rvr)
			}
			log.Error().
				Interface("panic", rvr).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Bytes("stack", debug.Stack()).
				Msg("http: handler panicked")
			if r.Header.Get("Connection") != "Upgrade" {
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
