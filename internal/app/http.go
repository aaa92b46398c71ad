package app

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"threadgraph/api/internal/graph"
	"threadgraph/api/internal/logging"
	"threadgraph/api/internal/search"
)

//go:embed templates/*.html
var templateFS embed.FS

// GraphQueries is the read side used by the graph endpoints.
type GraphQueries interface {
	GetGraph(ctx context.Context, rootURI string) (graph.Graph, error)
	ThreadID(ctx context.Context, rootURI string) (int64, error)
	ListThreads(ctx context.Context) ([]graph.ThreadInfo, error)
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	CORSOrigin string
	// StaticDir is served under /static; empty disables it.
	StaticDir  string
	Production bool

	// IdentityCache is checked by /ready when set.
	IdentityCache Pinger
}

type HTTPServer struct {
	graphs   GraphQueries
	searcher Searcher
	db       Pinger
	log      *zap.Logger
	opts     Options
}

func NewHTTPServer(graphs GraphQueries, searcher Searcher, db Pinger, log *zap.Logger, opts Options) *HTTPServer {
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	return &HTTPServer{
		graphs:   graphs,
		searcher: searcher,
		db:       db,
		log:      logging.OrNop(log).With(zap.String("component", "http")),
		opts:     opts,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	if s.opts.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(requestID())
	router.Use(ginLogger(s.log))
	router.Use(gin.Recovery())
	router.Use(cors(s.opts.CORSOrigin))

	router.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.html")))

	router.GET("/", s.handleIndex)
	router.GET("/generic", s.handleGeneric)
	router.GET("/graphviz", s.handleGraphviz)
	router.GET("/threads", s.handleThreads)
	router.GET("/search", s.handleSearch)
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	router.GET("/ready", s.handleReady)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.opts.StaticDir != "" {
		router.Static("/static", s.opts.StaticDir)
	}

	router.NoRoute(func(c *gin.Context) {
		writeError(c, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil))
	})
	return router
}

func (s *HTTPServer) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{"URI": c.Query("uri")})
}

// rootURI reads the required uri query parameter.
func rootURI(c *gin.Context) (string, bool) {
	uri := strings.TrimSpace(c.Query("uri"))
	if uri == "" {
		writeError(c, domainError(http.StatusBadRequest, "MISSING_URI", "uri query parameter is required", nil))
		return "", false
	}
	return uri, true
}

func (s *HTTPServer) loadGraph(c *gin.Context) (graph.Graph, bool) {
	uri, ok := rootURI(c)
	if !ok {
		return graph.Graph{}, false
	}
	g, err := s.graphs.GetGraph(c.Request.Context(), uri)
	if err != nil {
		de := classify(err)
		if de.Status >= http.StatusInternalServerError {
			s.log.Error("load graph", zap.String("uri", uri), zap.Error(err))
		}
		writeError(c, de)
		return graph.Graph{}, false
	}
	return g, true
}

func (s *HTTPServer) handleGeneric(c *gin.Context) {
	g, ok := s.loadGraph(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *HTTPServer) handleGraphviz(c *gin.Context) {
	g, ok := s.loadGraph(c)
	if !ok {
		return
	}
	c.String(http.StatusOK, graph.RenderDOT(g))
}

func (s *HTTPServer) handleThreads(c *gin.Context) {
	threads, err := s.graphs.ListThreads(c.Request.Context())
	if err != nil {
		s.log.Error("list threads", zap.Error(err))
		writeError(c, domainError(http.StatusInternalServerError, "STORE_FAILURE", "Could not list threads", nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

func (s *HTTPServer) handleSearch(c *gin.Context) {
	uri, ok := rootURI(c)
	if !ok {
		return
	}
	text := strings.TrimSpace(c.Query("q"))
	if text == "" {
		writeError(c, domainError(http.StatusBadRequest, "MISSING_QUERY", "q query parameter is required", nil))
		return
	}
	limit, err := intParam(c, "limit")
	if err != nil {
		writeError(c, domainError(http.StatusBadRequest, "INVALID_LIMIT", "limit must be an integer", nil))
		return
	}
	offset, err := intParam(c, "offset")
	if err != nil {
		writeError(c, domainError(http.StatusBadRequest, "INVALID_OFFSET", "offset must be an integer", nil))
		return
	}

	threadID, err := s.graphs.ThreadID(c.Request.Context(), uri)
	if err != nil {
		de := classify(err)
		if de.Status >= http.StatusInternalServerError {
			s.log.Error("find thread", zap.String("uri", uri), zap.Error(err))
		}
		writeError(c, de)
		return
	}

	c.JSON(http.StatusOK, s.searcher.Search(c.Request.Context(), search.Query{
		ThreadID: threadID,
		Text:     text,
		Limit:    limit,
		Offset:   offset,
	}))
}

func intParam(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func (s *HTTPServer) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := gin.H{
		"database": gin.H{"status": "ok"},
	}

	if err := s.db.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = gin.H{
			"status": "error",
			"error":  err.Error(),
		}
	}
	if s.opts.IdentityCache != nil {
		checks["identity_cache"] = gin.H{"status": "ok"}
		if err := s.opts.IdentityCache.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["identity_cache"] = gin.H{
				"status": "error",
				"error":  err.Error(),
			}
		}
	}

	c.JSON(statusCode, gin.H{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

const requestIDHeader = "X-Request-ID"

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
}

func cors(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		h.Set("Access-Control-Expose-Headers", requestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
