package api

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/expression-portal-server/internal/domain"
	"github.com/expression-portal-server/internal/middleware"
	"github.com/expression-portal-server/internal/monitoring"
	"github.com/expression-portal-server/internal/render"
	"github.com/expression-portal-server/internal/service"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// SessionHeader lets API clients without a cookie jar name their session.
const SessionHeader = "X-Session-ID"

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	portal        *service.PortalService
	templates     *template.Template
	upgrader      websocket.Upgrader
	metrics       *monitoring.Metrics
	logger        *logrus.Logger
	router        *gin.Engine
	server        *http.Server

	// insightCtx outlives individual requests so that websocket-triggered insights finish after the
	// triggering message has been handled.
	insightCtx    context.Context
	cancelInsight context.CancelFunc
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, portal *service.PortalService, metrics *monitoring.Metrics, logger *logrus.Logger) (*Server, error) {
	cfg := configManager.GetConfig()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	templates, err := render.Templates()
	if err != nil {
		return nil, err
	}

	insightCtx, cancel := context.WithCancel(context.Background())
	server := &Server{
		configManager: configManager,
		portal:        portal,
		templates:     templates,
		metrics:       metrics,
		logger:        logger,
		insightCtx:    insightCtx,
		cancelInsight: cancel,
	}
	server.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.Server.AllowedOrigins),
	}

	server.router = server.newRouter()
	return server, nil
}

// Router returns the HTTP handler of the server.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	s.cancelInsight()
	return s.server.Shutdown(shutdownCtx)
}

// newRouter configures the middleware chain and routes.
func (s *Server) newRouter() *gin.Engine {
	cfg := s.configManager.GetServerConfig()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AccessLogger(s.logger, s.metrics))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.SetHTMLTemplate(s.templates)

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	router.StaticFS("/static", http.FS(render.Static()))

	// The websocket stays open far longer than any request timeout.
	router.GET("/ws", s.handleWebSocket)

	timed := router.Group("")
	timed.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	{
		timed.GET("/", s.handleIndex)
		timed.GET("/charts/:symbol/expression.svg", s.handleExpressionSVG)
	}

	v1 := timed.Group("/api/v1")
	{
		v1.GET("/patient", s.handlePatient)
		v1.GET("/genes", s.handleGeneTable)
		v1.GET("/genes/:symbol", s.handleGeneDetail)
		v1.GET("/genes/:symbol/cohort", s.handleCohort)
		v1.GET("/genes/:symbol/tissues", s.handleTissues)
		v1.POST("/genes/:symbol/insight", s.handleInsight)
	}

	return router
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   Version,
		"insight":   s.configManager.GetInsightConfig().APIKey != "",
	})
}

// sessionID returns the caller's live session, creating one (and its cookie) when the caller has
// none or it has expired.
func (s *Server) sessionID(c *gin.Context) string {
	cookieName := s.configManager.GetSessionConfig().CookieName

	id := c.GetHeader(SessionHeader)
	if id == "" {
		id, _ = c.Cookie(cookieName)
	}
	if id != "" {
		if _, err := s.portal.Session(id); err == nil {
			return id
		}
	}

	view := s.portal.NewSession()
	ttl := s.configManager.GetSessionConfig().TTL
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookieName, view.SessionID, int(ttl.Seconds()), "/", "", c.Request.TLS != nil, true)
	c.Header(SessionHeader, view.SessionID)
	return view.SessionID
}

// fail renders err as a PortalError with the status its cause maps to.
func (s *Server) fail(c *gin.Context, err error) {
	status, code, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	perr := domain.NewPortalError(code, message, err.Error(), c.GetString(middleware.CorrelationIDKey))
	c.AbortWithStatusJSON(status, perr)
}

func classifyError(err error) (int, string, string) {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrUnknownGene), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrNotFoundCode, "Gene not found"
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, domain.ErrSessionExpired, "Session expired"
	case errors.Is(err, domain.ErrInvalidScope),
		errors.Is(err, domain.ErrInvalidTab),
		errors.Is(err, domain.ErrInvalidCNAState),
		errors.Is(err, service.ErrInvalidSortDirection):
		return http.StatusBadRequest, domain.ErrInvalidInput, "Invalid input"
	case errors.As(err, &verr):
		return http.StatusBadRequest, domain.ErrValidation, "Validation failed"
	default:
		return http.StatusInternalServerError, domain.ErrInternalServer, "Internal server error"
	}
}
