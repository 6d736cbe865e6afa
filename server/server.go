package server

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"webforge/generator"
	"webforge/projects"
)

//go:embed web
var embeddedStatic embed.FS

// httpMetrics registers on the default registry, so it is built once per
// process.
var httpMetrics = sync.OnceValue(func() *ginprometheus.Prometheus {
	p := ginprometheus.NewPrometheus("webforge_http")
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		if route := c.FullPath(); route != "" {
			return route
		}
		return "unmatched"
	}
	return p
})

// Options wires the server. Dashboard is nil when no project store is
// configured; the project routes then answer 404.
type Options struct {
	Session        *generator.Session
	Dashboard      *projects.Dashboard
	Logger         *zap.Logger
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	AllowedOrigins []string
}

type Server struct {
	session   *generator.Session
	dashboard *projects.Dashboard
	logger    *zap.Logger
	gatherer  prometheus.Gatherer
	timeout   time.Duration
	origins   []string
	staticFS  http.Handler
}

func New(opts Options) (*Server, error) {
	if opts.Session == nil {
		return nil, errors.New("generator session required")
	}
	sub, err := fs.Sub(embeddedStatic, "web")
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		// Covers every retry attempt with the default policy.
		timeout = 5 * time.Minute
	}
	return &Server{
		session:   opts.Session,
		dashboard: opts.Dashboard,
		logger:    logger.Named("http"),
		gatherer:  gatherer,
		timeout:   timeout,
		origins:   opts.AllowedOrigins,
		staticFS:  http.FileServer(http.FS(sub)),
	}, nil
}

func (s *Server) Routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.logMiddleware(), httpMetrics().HandlerFunc())

	corsConfig := cors.DefaultConfig()
	if len(s.origins) > 0 {
		corsConfig.AllowOrigins = s.origins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		api.GET("/session", s.handleView)
		api.PUT("/session/prompt", s.handleSetPrompt)
		api.PUT("/session/config", s.handleSetConfig)
		api.PUT("/preferences", s.handleSetPreferences)

		api.POST("/generate", s.handleGenerate)
		api.POST("/generate/variation", s.handleVariation)
		api.POST("/generate/improve", s.handleImprove)

		api.GET("/history", s.handleHistory)
		api.DELETE("/history", s.handleClearHistory)
		api.POST("/history/:id/load", s.handleLoadHistory)

		api.GET("/saved", s.handleSaved)
		api.POST("/saved", s.handleSavePrompt)
		api.DELETE("/saved/:id", s.handleRemoveSaved)
		api.POST("/saved/:id/load", s.handleLoadSaved)

		api.GET("/preview", s.handlePreview)
		api.GET("/download", s.handleDownload)

		pg := api.Group("/projects", s.requireDashboard)
		{
			pg.GET("", s.handleProjects)
			pg.GET("/live", s.handleLive)
			pg.POST("/new", s.handleNewProject)
			pg.POST("/save", s.handleSaveProject)
			pg.PATCH("/current", s.handleRenameProject)
			pg.POST("/:id/open", s.handleOpenProject)
			pg.DELETE("/:id", s.handleDeleteProject)
		}
	}

	r.NoRoute(s.staticHandler())
	return r
}

func (s *Server) staticHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		upath := c.Request.URL.Path
		if strings.HasPrefix(upath, "/api/") || c.Request.Method != http.MethodGet {
			c.JSON(http.StatusNotFound, gin.H{"error": APIError{Code: "not_found", Message: "no route"}})
			return
		}
		s.staticFS.ServeHTTP(c.Writer, c.Request)
	}
}

func (s *Server) requireDashboard(c *gin.Context) {
	if s.dashboard == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": APIError{Code: "projects_disabled", Message: "no project store configured"}})
		return
	}
	c.Next()
}

// generationContext bounds a model call; it still ends when the client goes away.
func (s *Server) generationContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.timeout)
}

func (s *Server) logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if path == "/metrics" || path == "/health" {
			return
		}
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
