// Package admin serves the node's diagnostic HTTP API.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/entslink/internal/controller"
	"github.com/danmuck/entslink/internal/modules/actuator"
	"github.com/danmuck/entslink/internal/modules/userconfig"
	"github.com/danmuck/entslink/internal/observability"
	"github.com/danmuck/entslink/internal/peripheral"
	"github.com/danmuck/entslink/internal/protocol/schema"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Config wires the server to the node's components. Nil components disable
// their routes' backing and those routes answer 503.
type Config struct {
	ID          string
	Addr        string
	CorsOrigins []string
	// Token, when set, is required as a bearer token on mutating routes.
	Token string

	Dispatcher *peripheral.Dispatcher
	Actuator   actuator.StateSource
	UserConfig *userconfig.Module
	// Persist saves a configuration accepted through PUT /config.
	Persist func(schema.UserConfig) error
	// Transactor enables the /transact routes.
	Transactor *controller.Transactor
}

type Server struct {
	cfg      Config
	appeared time.Time
	router   *gin.Engine
}

func New(cfg Config) *Server {
	observability.RegisterMetrics()
	if cfg.ID == "" {
		cfg.ID = "entslink"
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(log.Logger, cfg.ID))
	r.Use(observability.RequestMetricsMiddleware(cfg.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "PUT", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", observability.RequestIDHeader},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{cfg: cfg, appeared: time.Now(), router: r}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("admin: listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
