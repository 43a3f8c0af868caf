// Package server exposes the bot's HTTP surface: the EventSub callback, the
// overlay event stream, health and metrics, the admin API and the Twitch
// authorization flow. Every request gets a correlation id for logging and a
// tracing span.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"

	"github.com/onnwee/streambot/alerts"
	"github.com/onnwee/streambot/eventsub"
	"github.com/onnwee/streambot/telemetry"
)

// Pinger reports database health. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Surface reports whether the control surface session is up.
type Surface interface {
	Connected() bool
}

// AlertQueue is the alert engine surface used by the admin API.
type AlertQueue interface {
	Send(req alerts.Request) alerts.Request
	Dismiss(id string) bool
	Snapshot() alerts.Snapshot
}

// Triggerer runs overlay trigger sequences.
type Triggerer interface {
	Trigger(ctx context.Context, source string, timeout time.Duration) error
}

// TokenSaver persists the token issued by the authorization callback.
type TokenSaver interface {
	Save(ctx context.Context, tok *oauth2.Token) error
}

// Deps wires the server to the rest of the bot. Nil members disable the
// routes that need them.
type Deps struct {
	DB       Pinger
	Surface  Surface
	Webhook  http.Handler
	Overlay  http.Handler
	Alerts   AlertQueue
	Triggers Triggerer
	OAuth    *oauth2.Config
	Tokens   TokenSaver
}

// NewMux returns the HTTP handler with all routes.
// ctx bounds the rate limiter's cleanup goroutine.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	authCfg := loadAuthConfig()
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	h := NewHandlers(deps)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	if deps.Webhook != nil {
		mux.Handle(eventsub.CallbackPath, deps.Webhook)
	}
	if deps.Overlay != nil {
		mux.Handle("/overlay/events", deps.Overlay)
	}
	mux.HandleFunc("/auth/twitch/start", h.HandleTwitchOAuthStart)
	mux.HandleFunc("/auth/twitch/callback", h.HandleTwitchOAuthCallback)

	admin := http.NewServeMux()
	admin.HandleFunc("/admin/alerts", h.HandleAdminAlerts)
	admin.HandleFunc("/admin/alerts/dismiss", h.HandleAdminDismiss)
	admin.HandleFunc("/admin/queue", h.HandleAdminQueue)
	admin.HandleFunc("/admin/triggers", h.HandleAdminTriggers)
	mux.Handle("/admin/", adminAuth(rateLimitMiddleware(admin, limiter), authCfg))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path)
		defer span.End()
		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(rec, r.WithContext(ctx))
		telemetry.SetHTTPStatus(span, rec.statusCode)
	})
	return withCORSConfig(handler, loadCORSConfig())
}

// statusRecorder captures the response status for the span.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush keeps the overlay stream working through the recorder.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start serves handler on addr and shuts down gracefully when ctx is cancelled.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No WriteTimeout: overlay streams stay open for the whole session.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}

func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ip, _, _ = strings.Cut(forwarded, ",")
		ip = strings.TrimSpace(ip)
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return ip
}
