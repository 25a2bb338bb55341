package server

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"jardav/internal/cache"
	"jardav/internal/config"
	"jardav/internal/dependencies"
	"jardav/internal/events"
	"jardav/internal/filesystem"
	"jardav/internal/handlers"
	"jardav/internal/jobs"
	"jardav/internal/notify"
	"jardav/internal/preview"
	"jardav/internal/scenarios"
	"jardav/internal/source"
	"jardav/internal/storage"
	"jardav/internal/watcher"
	"jardav/pkg/types"
)

type Server struct {
	config         *config.Config
	logger         *zap.Logger
	store          *storage.PersistentStore
	cache          *cache.ArchiveCache
	hub            *events.Hub
	watcher        *watcher.Watcher
	fs             *filesystem.ArchiveFS
	deps           *dependencies.Registry
	scenarios      *scenarios.Registry
	jobs           *jobs.Tracker
	preview        *preview.FS
	router         *notify.Router
	httpServer     *http.Server
	webdavHandler  *handlers.WebDAVHandler
	browserHandler *handlers.BrowserHandler
	apiHandler     *handlers.APIHandler
	eventsHandler  *handlers.EventsHandler
	cancel         context.CancelFunc
}

func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := storage.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create persistent store: %w", err)
	}

	resolver, err := NewResolver(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	hub := events.NewHub(0)
	opts := []filesystem.Option{
		filesystem.WithEvents(hub),
		filesystem.WithMetadataRecorder(store),
		filesystem.WithLogger(logger.Named("fs")),
	}

	var archiveCache *cache.ArchiveCache
	if cfg.Cache.Enabled {
		archiveCache = cache.New(cfg.Cache.TTL, cfg.Cache.Size)
		opts = append(opts, filesystem.WithCache(archiveCache))
	}

	// The watcher needs the filesystem as its sink and the filesystem needs
	// the watcher as its tracker.
	var sink invalidator
	var w *watcher.Watcher
	if cfg.Watch.Enabled {
		w, err = watcher.New(&sink, cfg.Watch.Debounce, logger.Named("watcher"))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		opts = append(opts, filesystem.WithTracker(w))
	}

	fs := filesystem.New(resolver, opts...)
	sink.fs = fs

	deps := dependencies.NewRegistry(fs, store, hub, dependencies.WithReleaser(fs))
	if err := deps.Load(); err != nil {
		logger.Warn("Failed to restore dependencies", zap.Error(err))
	}
	tracker := jobs.NewTracker()
	scen := scenarios.NewRegistry(hub)
	pv := preview.New(hub)
	router := notify.NewRouter(deps, scen, pv, tracker, logger.Named("notify"))
	workspace := handlers.Workspace{
		Dependencies: deps,
		Scenarios:    scen,
		Preview:      pv,
		Jobs:         tracker,
		Router:       router,
	}

	mux := http.NewServeMux()
	server := &Server{
		config:         cfg,
		logger:         logger,
		store:          store,
		cache:          archiveCache,
		hub:            hub,
		watcher:        w,
		fs:             fs,
		deps:           deps,
		scenarios:      scen,
		jobs:           tracker,
		preview:        pv,
		router:         router,
		webdavHandler:  handlers.NewWebDAVHandler(fs, store, logger.Named("webdav")),
		browserHandler: handlers.NewBrowserHandler(fs, store, logger.Named("browser")),
		apiHandler:     handlers.NewAPIHandler(fs, store, workspace, logger.Named("api")),
		eventsHandler:  handlers.NewEventsHandler(hub, logger.Named("events")),
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			Handler:     mux,
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
	}

	server.setupRoutes(mux)

	return server, nil
}

// NewResolver registers a byte source for every location scheme the
// configuration enables.
func NewResolver(cfg *config.Config) (*source.Resolver, error) {
	resolver := source.NewResolver()

	httpSource := source.NewHTTPSource(cfg.HTTPTimeout)
	resolver.Register("http", httpSource)
	resolver.Register("https", httpSource)

	if cfg.S3.Endpoint != "" {
		s3, err := source.NewS3Source(source.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 source: %w", err)
		}
		resolver.Register("s3", s3)
	}

	return resolver, nil
}

// invalidator forwards watcher notifications to the filesystem once it
// exists.
type invalidator struct {
	fs *filesystem.ArchiveFS
}

func (i *invalidator) Invalidate(location string, change types.ChangeType) {
	if i.fs != nil {
		i.fs.Invalidate(location, change)
	}
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)

	s.handle(mux, "/api/events", s.eventsHandler.ServeHTTP)
	s.handle(mux, "/api/", s.apiHandler.ServeHTTP)
	s.handle(mux, handlers.DAVPrefix, s.routeRequest)
	s.handle(mux, "/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
			http.Redirect(w, r, handlers.DAVPrefix, http.StatusFound)
			return
		}
		http.NotFound(w, r)
	})
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	handler := s.loggingMiddleware(h)
	if s.config.AuthEnabled {
		handler = s.basicAuthMiddleware(handler)
	}
	mux.HandleFunc(pattern, handler)
}

func (s *Server) routeRequest(w http.ResponseWriter, r *http.Request) {
	// Route based on Accept header and method
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		s.browserHandler.ServeHTTP(w, r)
	} else {
		s.webdavHandler.ServeHTTP(w, r)
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	DataDir     string `json:"data_dir"`
	Mounts      int    `json:"mounts"`
	Subscribers int    `json:"subscribers"`
	Cached      *int   `json:"cached_archives,omitempty"`
	Watched     *int   `json:"watched_archives,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "healthy",
		DataDir:     s.config.DataDir,
		Subscribers: s.hub.Subscribers(),
	}

	if n, err := s.store.CountMounts(); err == nil {
		resp.Mounts = n
	} else {
		s.logger.Warn("Failed to count mounts", zap.Error(err))
		resp.Status = "degraded"
	}
	if s.cache != nil {
		n := s.cache.Size()
		resp.Cached = &n
	}
	if s.watcher != nil {
		n := s.watcher.Tracked()
		resp.Watched = &n
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// basicAuthMiddleware provides HTTP Basic authentication
func (s *Server) basicAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="jardav"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(s.config.AuthUser)) == 1
		passwordMatch := subtle.ConstantTimeCompare([]byte(password), []byte(s.config.AuthPass)) == 1

		if !usernameMatch || !passwordMatch {
			w.Header().Set("WWW-Authenticate", `Basic realm="jardav"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(wrapped, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("user_agent", r.UserAgent()))
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker the websocket
// upgrade needs.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (s *Server) Start() error {
	s.logger.Info("Starting jardav server",
		zap.Int("port", s.config.Port),
		zap.String("data_dir", s.config.DataDir),
		zap.Bool("auth", s.config.AuthEnabled),
		zap.Bool("cache", s.config.Cache.Enabled),
		zap.Bool("watch", s.config.Watch.Enabled))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if s.watcher != nil {
		s.watcher.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info("Server started", zap.String("url", fmt.Sprintf("http://localhost:%d%s", s.config.Port, handlers.DAVPrefix)))

	return s.waitForShutdown(errCh)
}

// waitForShutdown waits for shutdown signals and gracefully shuts down the server
func (s *Server) waitForShutdown(errCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		s.logger.Info("Shutting down server")
	case err := <-errCh:
		s.logger.Error("Server failed", zap.Error(err))
		s.Stop()
		return err
	}

	if err := s.Stop(); err != nil {
		s.logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("Server shutdown complete")
	return nil
}

// Stop shuts the HTTP server down and releases every component. It is safe
// to call on a server that was never started.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)

	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.hub.Close()
	if s.cache != nil {
		s.cache.Close()
	}
	if gcErr := s.store.RunGarbageCollection(); gcErr != nil {
		s.logger.Debug("Garbage collection skipped", zap.Error(gcErr))
	}
	if closeErr := s.store.Close(); closeErr != nil {
		s.logger.Error("Error closing persistent store", zap.Error(closeErr))
		if err == nil {
			err = closeErr
		}
	}
	return err
}
