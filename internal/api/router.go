package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yegors/squitter/pkg/logger"
)

// Router builds the HTTP routes
type Router struct {
	handler *Handler
	timeout time.Duration
	logger  *logger.Logger
}

// NewRouter creates a new router. timeout bounds every non-streaming request.
func NewRouter(handler *Handler, timeout time.Duration, log *logger.Logger) *Router {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Router{
		handler: handler,
		timeout: timeout,
		logger:  log.Named("api-router"),
	}
}

// Routes returns the configured chi router
func (rt *Router) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rt.requestLogger)
	r.Use(corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(rt.timeout))

		r.Get("/health", rt.handler.GetHealth)
		r.Get("/stats", rt.handler.GetStats)

		r.Get("/tracks", rt.handler.GetAllTracks)
		r.Get("/tracks/{icao}", rt.handler.GetTrack)
		r.Get("/tracks/{icao}/history", rt.handler.GetTrackHistory)

		r.Post("/frames", rt.handler.InjectFrames)
		r.Get("/decode/{frame}", rt.handler.DecodeFrame)
	})

	// The stream outlives any request timeout
	r.Get("/ws", rt.handler.HandleWebSocket)

	return r
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Int("bytes", ww.BytesWritten()),
			logger.Duration("duration", time.Since(start)),
			logger.String("remote_addr", r.RemoteAddr))
	})
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
