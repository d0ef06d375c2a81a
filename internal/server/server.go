package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/wowcoin/internal/config"
	ledgerdomain "github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"github.com/smallbiznis/wowcoin/internal/ledger/events"
	"github.com/smallbiznis/wowcoin/internal/observability"
	obsmiddleware "github.com/smallbiznis/wowcoin/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/wowcoin/internal/observability/metrics"
	obstracing "github.com/smallbiznis/wowcoin/internal/observability/tracing"
	"github.com/smallbiznis/wowcoin/internal/usagegate"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.Middleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(httpMetrics.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	ledger   ledgerdomain.Service
	store    ledgerdomain.Store
	gate     *usagegate.Gate
	balances *events.Hub
}

type ServerParams struct {
	fx.In

	Gin    *gin.Engine
	Cfg    config.Config
	Log    *zap.Logger
	Ledger ledgerdomain.Service
	Store  ledgerdomain.Store
	Gate   *usagegate.Gate
	Hub    *events.Hub `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:   p.Gin,
		cfg:      p.Cfg,
		log:      p.Log.Named("http"),
		ledger:   p.Ledger,
		store:    p.Store,
		gate:     p.Gate,
		balances: p.Hub,
	}

	svc.engine.GET("/health", svc.Health)
	svc.registerAPIRoutes()
	svc.registerInternalRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", UserIdentity())

	wallet := api.Group("/wallet")
	wallet.GET("/balance", s.GetBalance)
	wallet.GET("/transactions", s.ListTransactions)
	wallet.GET("/stream", s.StreamBalance)
	wallet.GET("/reservations", s.ListReservations)
	wallet.POST("/reservations/:id/commit", s.CommitReservation)
	wallet.POST("/reservations/:id/release", s.ReleaseReservation)

	features := api.Group("/features")
	features.GET("", s.ListFeatures)
	features.GET("/:key/quote", s.QuoteFeature)
	features.POST("/:key/use", s.UseFeature)
	features.POST("/:key/reserve", s.ReserveFeature)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal", InternalOnly(s.cfg.InternalToken))

	wallet := internal.Group("/wallet")
	wallet.POST("/accounts", s.InitAccount)
	wallet.POST("/credits", s.Credit)
	wallet.POST("/deductions", s.Deduct)
	wallet.GET("/accounts/:user_id/reconcile", s.Reconcile)
	wallet.GET("/accounts/:user_id/reservations", s.AccountReservations)
	wallet.POST("/accounts/:user_id/reservations/:id/commit", s.CommitAccountReservation)
	wallet.POST("/accounts/:user_id/reservations/:id/release", s.ReleaseAccountReservation)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
