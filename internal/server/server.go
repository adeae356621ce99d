// Package server は各 Service を gin に載せ、HTTP(S) で待ち受ける
package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"time"

	_ "LERS-backend/docs"
	"LERS-backend/internal/platform/auth"
	"LERS-backend/internal/platform/config"
	"LERS-backend/internal/platform/metrics"
	"LERS-backend/internal/reservation/borrows"
	"LERS-backend/internal/reservation/deficiencies"
	"LERS-backend/internal/reservation/reliability"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// NewRouter は全ルートを登録した engine を返す
func NewRouter(cfg *config.Config, db *sql.DB, files borrows.FileRemover, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), Logger(log), metrics.Middleware())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == config.ModeDev {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Server.AllowOrigins,
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
			ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Request-ID"},
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if db == nil || db.PingContext(ctx) != nil {
			c.String(http.StatusServiceUnavailable, "db unavailable")
			return
		}
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	reportSvc := reliability.NewService(db, reliability.Options{
		Location:  cfg.ReportLocation(),
		CacheSize: cfg.Reports.CacheSize,
		CacheTTL:  cfg.Reports.CacheTTL,
	}, log)
	defSvc := deficiencies.NewService(db, log)
	defSvc.SetInvalidator(reportSvc)
	borrowSvc := borrows.NewService(db, files, defSvc, log)
	borrowSvc.SetInvalidator(reportSvc)

	api := r.Group("/api/v2")
	api.Use(auth.RequireAuth([]byte(cfg.Auth.JWTSecret)))
	borrows.RegisterRoutes(api, borrowSvc, log)
	deficiencies.RegisterRoutes(api, defSvc, log)
	reliability.RegisterRoutes(api.Group("", auth.RequireRole(auth.RoleStaff, auth.RoleFaculty)), reportSvc, log)

	if cfg.Server.StaticDir != "" {
		r.NoRoute(serveSPA(os.DirFS(cfg.Server.StaticDir)))
	}
	return r
}

// Run は ctx がキャンセルされるまで待ち受け、その後 graceful shutdown する
func Run(ctx context.Context, cfg *config.Config, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSEnabled() {
			log.Info("listening (TLS)", zap.String("addr", srv.Addr))
			err = srv.ListenAndServeTLS(cfg.Server.Certificate.Cert, cfg.Server.Certificate.Key)
		} else {
			log.Warn("listening without TLS", zap.String("addr", srv.Addr))
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	log.Info("shutting down...")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	return nil
}
