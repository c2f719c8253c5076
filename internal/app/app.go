package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/reportdesk/reportdesk/internal/config"
	"github.com/reportdesk/reportdesk/internal/db"
	"github.com/reportdesk/reportdesk/internal/http/api"
	"github.com/reportdesk/reportdesk/internal/metrics"
	"github.com/reportdesk/reportdesk/internal/ratelimit"
	"github.com/reportdesk/reportdesk/internal/store"
	"github.com/reportdesk/reportdesk/internal/workflow"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the report service: database, routes, outbox retrier, and
// the HTTP listener. It blocks until ctx is cancelled or the listener fails.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	jwtCfg, errJWT := config.LoadJWTConfig(configPath)
	if errJWT != nil {
		return errJWT
	}
	if jwtCfg.Secret == "" {
		return errors.New("jwt secret is required")
	}
	workflowCfg, errWorkflow := config.LoadWorkflowConfig(configPath)
	if errWorkflow != nil {
		return errWorkflow
	}
	rateCfg, errRate := config.LoadRateLimitConfig(configPath)
	if errRate != nil {
		return errRate
	}

	m := metrics.New()
	st := store.New(conn)
	dispatcher := workflow.NewDispatcher(conn, workflowCfg, m)
	limiter := ratelimit.NewLimiter(rateCfg)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogMiddleware())
	engine.Use(m.GinMiddleware())

	api.RegisterRoutes(engine, api.Deps{
		DB:         conn,
		Store:      st,
		JWT:        jwtCfg,
		Dispatcher: dispatcher,
		Limiter:    limiter,
		RateLimit:  rateCfg,
		Metrics:    m,
	})

	retrierCtx, stopRetrier := context.WithCancel(ctx)
	defer stopRetrier()
	go dispatcher.StartRetrier(retrierCtx)

	port := defaultPort
	if port <= 0 {
		port = 8318
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			log.WithError(errShutdown).Warn("server shutdown failed")
		}
		<-errCh
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// requestLogMiddleware logs one line per request.
func requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
			"ip":      c.ClientIP(),
		}).Info("request")
	}
}
