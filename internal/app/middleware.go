package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/bizledger/internal/auth"
	"github.com/odyssey-erp/bizledger/internal/observability"
	"github.com/odyssey-erp/bizledger/internal/platform/httpx"
	"github.com/odyssey-erp/bizledger/internal/shared"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Metrics        *observability.Metrics
}

// responseWriterWithCommit persists the session right before the first
// header write so the Set-Cookie header still reaches the client.
type responseWriterWithCommit struct {
	http.ResponseWriter
	sess          *shared.Session
	manager       *shared.SessionManager
	ctx           context.Context
	logger        *slog.Logger
	headerWritten bool
}

func (w *responseWriterWithCommit) commit() {
	if w.headerWritten {
		return
	}
	w.headerWritten = true
	if err := w.manager.Commit(w.ctx, w.ResponseWriter, w.sess); err != nil && w.logger != nil {
		w.logger.Error("commit session", slog.Any("error", err))
	}
}

func (w *responseWriterWithCommit) WriteHeader(statusCode int) {
	w.commit()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriterWithCommit) Write(data []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(data)
}

func sessionMiddleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sess, err := cfg.SessionManager.Load(ctx, r)
			if err != nil {
				cfg.Logger.Error("failed to load session", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			ctx = shared.ContextWithSession(ctx, sess)
			wrapped := &responseWriterWithCommit{
				ResponseWriter: w,
				sess:           sess,
				manager:        cfg.SessionManager,
				ctx:            context.WithoutCancel(ctx),
				logger:         cfg.Logger,
			}
			next.ServeHTTP(wrapped, r.WithContext(ctx))
			wrapped.commit()
		})
	}
}

// csrfMiddleware guards cookie-authenticated writes. Bearer requests and
// requests without a session cookie carry no ambient credentials and pass.
func csrfMiddleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if auth.HasBearer(r) || !cfg.SessionManager.HasCookie(r) {
				next.ServeHTTP(w, r)
				return
			}
			sess := shared.SessionFromContext(r.Context())
			if err := cfg.CSRFManager.VerifyToken(r.Context(), sess, r.Header.Get(shared.CSRFHeader)); err != nil {
				cfg.Logger.Warn("csrf validation failed", slog.String("path", r.URL.Path), slog.Any("error", err))
				httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MiddlewareStack installs the service middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !cfg.Config.IsProduction(),
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	perMinute := 120
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		perMinute = cfg.Config.RateLimitPerMinute
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	middlewares = append(middlewares,
		httprate.Limit(perMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		sessionMiddleware(cfg),
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					httpx.Problem(w, http.StatusBadRequest, "Bad Request", "request blocked")
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		csrfMiddleware(cfg),
	)
	return middlewares
}
