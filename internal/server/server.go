package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/settlement/internal/config"
	intentdomain "github.com/smallbiznis/settlement/internal/intent/domain"
	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	"github.com/smallbiznis/settlement/internal/observability"
	obslogger "github.com/smallbiznis/settlement/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
	obstracing "github.com/smallbiznis/settlement/internal/observability/tracing"
	"github.com/smallbiznis/settlement/internal/ratelimit"
	webhookdomain "github.com/smallbiznis/settlement/internal/webhookendpoint/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the merchant-facing API. Domain modules are provided by the
// binary so the API and worker processes share one wiring.
var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	intentSvc   intentdomain.Service
	eventSvc    notificationdomain.Service
	endpointSvc webhookdomain.Service
	limiter     ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	IntentSvc   intentdomain.Service
	EventSvc    notificationdomain.Service
	EndpointSvc webhookdomain.Service
	Limiter     ratelimit.Limiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		intentSvc:   p.IntentSvc,
		eventSvc:    p.EventSvc,
		endpointSvc: p.EndpointSvc,
		limiter:     p.Limiter,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) RegisterRoutes() {
	v1 := s.engine.Group("/v1", MerchantContext())

	intents := v1.Group("/payment_intents")
	intents.POST("", s.IntentRateLimit(), s.CreatePaymentIntent)
	intents.GET("", s.ListPaymentIntents)
	intents.GET("/:id", s.GetPaymentIntent)
	intents.POST("/:id/cancel", s.CancelPaymentIntent)
	intents.GET("/:id/events", s.ListPaymentIntentEvents)

	v1.PUT("/webhook_endpoint", s.UpsertWebhookEndpoint)
	v1.POST("/webhook_endpoint/disable", s.DisableWebhookEndpoint)
}
