// Package server exposes the plugin update contract over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	updater "github.com/snider/plugin-updater"
)

// Dependencies is everything the router needs.
type Dependencies struct {
	Registry *updater.Registry
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// CORSOrigins are the allowed origins; empty allows all.
	CORSOrigins []string
	// AdminToken, when set, is required as a bearer token to change credentials.
	AdminToken string
	Logger     *slog.Logger
}

// New builds the HTTP handler.
func New(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(cors.New(corsConfig(deps.CORSOrigins)))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/plugins", pluginsHandler(deps.Registry))
		v1.GET("/notices", noticesHandler(deps.Registry))

		plugin := v1.Group("/plugins/:owner/:repo")
		plugin.Use(coordinatorMiddleware(deps.Registry))
		{
			plugin.GET("/update-check", updateCheckHandler())
			plugin.GET("/info", infoHandler())
			plugin.PUT("/credential", requireAdmin(deps.AdminToken), credentialHandler())
		}
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

const coordinatorKey = "coordinator"

func coordinatorMiddleware(registry *updater.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, repo := c.Param("owner"), c.Param("repo")
		coordinator, ok := registry.Lookup(owner, repo)
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("repository %s/%s is not registered", owner, repo)})
			return
		}
		c.Set(coordinatorKey, coordinator)
		c.Next()
	}
}

func requireAdmin(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin token required"})
			return
		}
		c.Next()
	}
}

func coordinatorFrom(c *gin.Context) *updater.Coordinator {
	return c.MustGet(coordinatorKey).(*updater.Coordinator)
}

type pluginStatus struct {
	Repo    string `json:"repo"`
	Private bool   `json:"private"`
	Ready   bool   `json:"ready"`
}

func pluginsHandler(registry *updater.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		coordinators := registry.Coordinators()
		statuses := make([]pluginStatus, 0, len(coordinators))
		for _, co := range coordinators {
			statuses = append(statuses, pluginStatus{
				Repo:    co.RepoPath(),
				Private: co.Config().PrivateRepo,
				Ready:   co.Ready(),
			})
		}
		c.JSON(http.StatusOK, gin.H{"data": statuses})
	}
}

func noticesHandler(registry *updater.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		notices := registry.Notices(c.Request.Context())
		if notices == nil {
			notices = []updater.Notice{}
		}
		c.JSON(http.StatusOK, gin.H{"data": notices})
	}
}

// updateCheckHandler answers with 204 when there is no release data, so the
// host keeps its own answer.
func updateCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, ok := coordinatorFrom(c).CheckForUpdate(c.Request.Context(), c.Query("installed"))
		if !ok {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": decision})
	}
}

func infoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		info, ok := coordinatorFrom(c).PackageInfo(c.Request.Context(), c.Query("slug"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no plugin information for this slug"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": info})
	}
}

func credentialHandler() gin.HandlerFunc {
	type requestBody struct {
		Token string `json:"token"`
	}
	return func(c *gin.Context) {
		var body requestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if err := coordinatorFrom(c).SetCredential(c.Request.Context(), body.Token); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// Run serves handler on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
