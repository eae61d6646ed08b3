// Package api exposes the HTTP surface: document ingest, hybrid
// search, page and crop rendering, and the chat agent.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/pagelens/pagelens/api/middleware"
	"github.com/pagelens/pagelens/pkg/agent"
	"github.com/pagelens/pagelens/pkg/config"
	"github.com/pagelens/pagelens/pkg/ingest"
	"github.com/pagelens/pagelens/pkg/search"
	"github.com/pagelens/pagelens/pkg/storage"
	"github.com/pagelens/pagelens/pkg/store"
)

// Ingestor runs and undoes document ingests.
type Ingestor interface {
	Ingest(ctx context.Context, filename string, pdf []byte) (*ingest.Result, error)
	Delete(ctx context.Context, documentID string) error
}

// Searcher answers search queries against the index.
type Searcher interface {
	Search(ctx context.Context, query string, mode search.Mode, topK int) ([]search.Result, error)
}

// Chatter runs one agent turn.
type Chatter interface {
	Chat(ctx context.Context, req agent.Request) (*agent.Reply, error)
}

// Services are the backends the handlers delegate to.
type Services struct {
	Ingestor Ingestor
	Search   Searcher
	Agent    Chatter
	Content  *store.ContentStore
	Chat     *store.ChatStore
	Files    *storage.Storage
}

// Server is the pagelens HTTP server.
type Server struct {
	cfg    config.ServerConfig
	svc    Services
	router *gin.Engine
	server *http.Server
	logger zerolog.Logger
}

const (
	rateLimitPerMinute = 300
	rateLimitBurst     = 30
)

func NewServer(cfg config.ServerConfig, svc Services) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: zlog.With().Str("component", "api").Logger(),
	}
	s.setupRouter()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()

	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RateLimit(rateLimitPerMinute, rateLimitBurst))

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	} else {
		corsConfig.AllowOrigins = origins
	}
	s.router.Use(cors.New(corsConfig))

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.POST("/ingest/pdf", s.handleIngest)
	s.router.GET("/search", s.handleSearch)
	s.router.POST("/search", s.handleSearch)

	s.router.GET("/documents", s.handleListDocuments)
	s.router.GET("/documents/:id", s.handleGetDocument)
	s.router.GET("/documents/:id/regions", s.handleListRegions)
	s.router.GET("/documents/:id/pages/:page_number/regions", s.handleListPageRegions)
	s.router.DELETE("/documents/:id", s.handleDeleteDocument)

	s.router.GET("/render/page/:document_id/:page_number", s.handleRenderPage)
	s.router.GET("/render/crop/:document_id/:region_id", s.handleRenderCrop)

	s.router.POST("/chat", s.handleChat)
	s.router.POST("/chat/sessions", s.handleCreateSession)
	s.router.GET("/chat/sessions", s.handleListSessions)
	s.router.GET("/chat/sessions/:id", s.handleGetSession)
	s.router.POST("/chat/:session_id", s.handleChat)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("host", s.cfg.Host).
			Int("port", s.cfg.Port).
			Msg("starting api server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("api server stopped")
	return nil
}
