// Package server - HTTP-Schnittstelle fuer die Inferenz-Engine
// Beinhaltet: Server-Struct, Router-Registrierung, Middleware-Setup
package server

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/moleinfer/moleinfer/classify"
	"github.com/moleinfer/moleinfer/engine"
	"github.com/moleinfer/moleinfer/envconfig"
	"github.com/moleinfer/moleinfer/model"
)

var mode string = gin.DebugMode

func init() {
	switch mode {
	case gin.DebugMode:
	case gin.ReleaseMode:
	case gin.TestMode:
	default:
		mode = gin.DebugMode
	}

	gin.SetMode(mode)
}

// Server verbindet Engine, Classifier und Ergebnis-Cache mit dem Router
type Server struct {
	addr       net.Addr
	engine     *engine.Engine
	classifier *classify.Classifier
	cache      *predictionCache

	// current ist das Modell der letzten Vorhersage, ein Wechsel leert den Cache
	current atomic.Pointer[model.Model]

	maxBatch  int
	maxUpload int64
}

// New erstellt einen Server. Limits und Cache-Groesse kommen aus envconfig.
func New(e *engine.Engine, c *classify.Classifier) (*Server, error) {
	if e == nil || c == nil {
		return nil, errors.New("server: engine and classifier are required")
	}

	size := int(envconfig.CacheSize())
	if envconfig.NoCache() {
		size = 0
	}
	cache, err := newPredictionCache(size)
	if err != nil {
		return nil, err
	}

	return &Server{
		engine:     e,
		classifier: c,
		cache:      cache,
		maxBatch:   int(envconfig.MaxBatch()),
		maxUpload:  int64(envconfig.MaxUpload()),
	}, nil
}

// GenerateRoutes erstellt und konfiguriert den HTTP-Router
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
		requestIDHeader,
	}
	corsConfig.ExposeHeaders = []string{requestIDHeader}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		loggerMiddleware(slog.Default()),
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
	)

	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "moleinfer is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "moleinfer is running") })

	r.GET("/api/health", s.HealthHandler)
	r.HEAD("/api/health", s.HealthHandler)
	r.GET("/api/model", s.ModelHandler)
	r.POST("/api/predict", s.PredictHandler)
	r.POST("/api/classify", s.ClassifyHandler)

	r.NoRoute(func(c *gin.Context) {
		writeError(c, errNotFound)
	})
	r.NoMethod(func(c *gin.Context) {
		writeError(c, errMethodNotAllowed)
	})

	return r
}
