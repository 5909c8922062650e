package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"oms-gateway/internal/events"
	"oms-gateway/internal/monitor"
	"oms-gateway/internal/session"
)

// Sessions is the registry view the admin API reads.
type Sessions interface {
	List() []*session.Session
	Get(key session.Key) (*session.Session, bool)
}

// Options configures the admin server.
type Options struct {
	JWTSecret         string
	AdminUser         string
	AdminPasswordHash string
	TokenTTL          time.Duration
	RequestTimeout    time.Duration
	Ready             func() bool // nil means always ready
	Gatherer          prometheus.Gatherer
	Logger            *zap.Logger
	Metrics           *monitor.Metrics
}

// Server wires the admin HTTP endpoints around the session registry.
type Server struct {
	Router   *gin.Engine
	Sessions Sessions
	Hub      *events.Hub

	opts    Options
	log     *zap.Logger
	limiter *ipLimiter
}

func NewServer(sessions Sessions, hub *events.Hub, opts Options) *Server {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 12 * time.Hour
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")

	r := gin.New()
	s := &Server{
		Router:   r,
		Sessions: sessions,
		Hub:      hub,
		opts:     opts,
		log:      log,
		limiter:  newIPLimiter(20, 50),
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log, opts.Metrics))
	r.Use(RateLimitMiddleware(s.limiter, log))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(CORSMiddleware())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	s.Router.GET("/callback/:venue/:entity", s.callback)
	s.Router.GET("/ws", AuthMiddleware(s.opts.JWTSecret), s.websocket)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/login", s.login)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.opts.JWTSecret))
		{
			protected.GET("/sessions", s.listSessions)
			protected.GET("/sessions/:venue/:entity", s.getSession)
			protected.GET("/sessions/:venue/:entity/login-url", s.loginURL)
			protected.POST("/sessions/:venue/:entity/logout", s.logout)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	status, code := "ok", http.StatusOK
	if s.opts.Ready != nil && !s.opts.Ready() {
		status, code = "starting", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status,
		"sessions": len(s.Sessions.List()),
	})
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin api listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("admin api shutdown", zap.Error(err))
	}
	return nil
}
