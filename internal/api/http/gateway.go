package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/sessiond/internal/api/middleware"
	"github.com/GriffinCanCode/sessiond/internal/domain/session"
	"github.com/GriffinCanCode/sessiond/internal/infrastructure/logging"
	"github.com/GriffinCanCode/sessiond/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/sessiond/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/sessiond/internal/providers/terminal"
)

const shutdownTimeout = 5 * time.Second

// Config contains gateway configuration
type Config struct {
	Addr              string
	AllowOrigins      []string
	RequestsPerSecond int
	Burst             int
	Development       bool
	Version           string
	DefaultSize       terminal.Size
}

// Gateway serves the local HTTP surface: health, metrics, a REST view of
// sessions, and a websocket bridge per session
type Gateway struct {
	cfg      Config
	manager  *session.Manager
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	router   *gin.Engine
	upgrader websocket.Upgrader
	started  time.Time

	mu      sync.Mutex
	sockets map[*websocket.Conn]struct{} // Protected by mu
}

// New creates a gateway and registers its routes
func New(cfg Config, manager *session.Manager, logger *logging.Logger, metrics *monitoring.Metrics) *Gateway {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.DefaultSize.Cols == 0 || cfg.DefaultSize.Rows == 0 {
		cfg.DefaultSize = terminal.Size{Cols: 80, Rows: 24}
	}

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	g := &Gateway{
		cfg:     cfg,
		manager: manager,
		logger:  logger,
		metrics: metrics,
		router:  router,
		started: time.Now(),
		sockets: make(map[*websocket.Conn]struct{}),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 32 * 1024,
		CheckOrigin:     g.checkOrigin,
	}

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware())
	router.Use(requestLogger(logger.ForComponent("http")))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.AllowOrigins)))

	router.GET("/health", g.health)
	router.GET("/metrics", metrics.GinHandler())
	router.GET("/ws/:session_id", g.handleWebSocket)

	api := router.Group("/sessions")
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}))
	api.GET("", g.listSessions)
	api.POST("", g.createSession)
	api.GET("/:session_id", g.getSession)
	api.DELETE("/:session_id", g.terminateSession)
	api.POST("/:session_id/resize", g.resizeSession)
	api.POST("/:session_id/input", g.sendInput)

	return g
}

// Handler returns the gateway's HTTP handler
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Run listens on the configured address until ctx is cancelled
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.cfg.Addr)
	if err != nil {
		return err
	}
	return g.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is cancelled, then shuts down
// and closes open websockets
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.logger.Info("HTTP gateway listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by the http.Server
	g.closeSockets()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		g.logger.Warn("HTTP gateway shutdown incomplete", zap.Error(err))
		srv.Close()
	}
	<-errCh
	g.logger.Info("HTTP gateway stopped")
	return nil
}

func (g *Gateway) track(conn *websocket.Conn) {
	g.mu.Lock()
	g.sockets[conn] = struct{}{}
	g.mu.Unlock()
}

func (g *Gateway) untrack(conn *websocket.Conn) {
	g.mu.Lock()
	delete(g.sockets, conn)
	g.mu.Unlock()
}

func (g *Gateway) closeSockets() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for conn := range g.sockets {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// checkOrigin mirrors the CORS policy for websocket upgrades. Requests
// without an Origin header come from non-browser clients.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.cfg.AllowOrigins) == 0 {
		return true
	}
	for _, allowed := range g.cfg.AllowOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := append(tracing.Fields(c.Request.Context()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
		logger.Debug("HTTP request", fields...)
	}
}
