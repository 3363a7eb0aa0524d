package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"tgwatch/collector/internal/config"
	"tgwatch/collector/internal/database"
	"tgwatch/collector/internal/server/api"
	"tgwatch/collector/internal/server/storage"
)

const serviceName = "posts-api-readonly"

type middleware func(http.Handler) http.Handler

// requireAPIKey rejects requests whose X-API-Key header does not match key.
func requireAPIKey(key string) middleware {
	want := []byte(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-API-Key")
			switch {
			case got == "":
				http.Error(w, "API key required", http.StatusUnauthorized)
			case subtle.ConstantTimeCompare([]byte(got), want) != 1:
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// accessLog writes one line per finished request.
func accessLog(r *http.Request, status, size int, duration time.Duration) {
	reqID, _ := hlog.IDFromRequest(r)
	hlog.FromRequest(r).Info().
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Str("req_id", reqID.String()).
		Msg("HTTP Request")
}

// NewHandler routes the read-only API. Middlewares are listed outermost first;
// the request logger must be installed before the handlers that annotate it.
// An empty apiKey leaves the API open.
func NewHandler(db *database.DB, analytics config.Analytics, logger zerolog.Logger, apiKey string) http.Handler {
	posts := api.NewPostsHandler(storage.NewRepository(db, analytics))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/posts", posts.GetPosts)
	mux.HandleFunc("GET /v1/stats", posts.GetStats)
	mux.HandleFunc("GET /v1/export", posts.ExportPosts)
	mux.HandleFunc("GET /health", healthCheckHandler(db))

	chain := []middleware{
		hlog.NewHandler(logger),
		hlog.MethodHandler("method"),
		hlog.URLHandler("url"),
		hlog.RemoteAddrHandler("remote_addr"),
		hlog.UserAgentHandler("user_agent"),
		hlog.RequestIDHandler("req_id", "Request-Id"),
		hlog.AccessHandler(accessLog),
	}
	if apiKey != "" {
		chain = append(chain, requireAPIKey(apiKey))
	}
	logger.Info().Bool("api_key", apiKey != "").Msg("API routes registered")

	var h http.Handler = mux
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	return h
}

// RunServer starts the HTTP server and blocks until ctx is cancelled or a
// SIGINT/SIGTERM arrives, then shuts down gracefully.
func RunServer(ctx context.Context, db *database.DB, analytics config.Analytics, listenAddr string, logger zerolog.Logger, apiKey string) error {
	logger = logger.With().Str("service", serviceName).Logger()

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           NewHandler(db, analytics, logger, apiKey),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", listenAddr).Msg("API Server starting")
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed to start")
			return err
		}

	case <-ctx.Done():
		logger.Info().Msg("Context cancelled, shutting down")
		shutdownServer(httpServer, serverErr, logger)

	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		shutdownServer(httpServer, serverErr, logger)
	}

	logger.Info().Msg("Server exiting.")
	return nil
}

func shutdownServer(httpServer *http.Server, serverErr <-chan error, logger zerolog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
		if err := httpServer.Close(); err != nil {
			logger.Error().Err(err).Msg("HTTP server force close error")
		}
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
	if err := <-serverErr; err != nil {
		logger.Error().Err(err).Msg("ListenAndServe error during shutdown")
	}
}

// healthCheckHandler answers 200 while the store responds to pings, 503 otherwise.
func healthCheckHandler(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Health check database ping failed")
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "OK")
	}
}
