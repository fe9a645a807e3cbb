package server

import (
	"context"
	"net/http"
	"time"

	"github.com/agentforge/creditledger/internal/agent"
	agentdomain "github.com/agentforge/creditledger/internal/agent/domain"
	"github.com/agentforge/creditledger/internal/audit"
	auditdomain "github.com/agentforge/creditledger/internal/audit/domain"
	"github.com/agentforge/creditledger/internal/clock"
	"github.com/agentforge/creditledger/internal/config"
	"github.com/agentforge/creditledger/internal/execution"
	executiondomain "github.com/agentforge/creditledger/internal/execution/domain"
	"github.com/agentforge/creditledger/internal/identity"
	"github.com/agentforge/creditledger/internal/ledger"
	ledgerdomain "github.com/agentforge/creditledger/internal/ledger/domain"
	"github.com/agentforge/creditledger/internal/metrics"
	"github.com/agentforge/creditledger/internal/payment"
	paymentdomain "github.com/agentforge/creditledger/internal/payment/domain"
	"github.com/agentforge/creditledger/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	clock.Module,
	metrics.Module,
	identity.Module,
	audit.Module,
	agent.Module,
	ledger.Module,
	payment.Module,
	execution.Module,
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	log          *zap.Logger
	identity     identity.Client
	limiter      *ratelimit.Limiter
	ledgerSvc    ledgerdomain.Service
	paymentSvc   paymentdomain.Service
	executionSvc executiondomain.Service
	agentRepo    agentdomain.Repository
	auditSvc     auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	Log          *zap.Logger
	Identity     identity.Client
	Limiter      *ratelimit.Limiter
	LedgerSvc    ledgerdomain.Service
	PaymentSvc   paymentdomain.Service
	ExecutionSvc executiondomain.Service
	AgentRepo    agentdomain.Repository
	AuditSvc     auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		log:          p.Log.Named("http.server"),
		identity:     p.Identity,
		limiter:      p.Limiter,
		ledgerSvc:    p.LedgerSvc,
		paymentSvc:   p.PaymentSvc,
		executionSvc: p.ExecutionSvc,
		agentRepo:    p.AgentRepo,
		auditSvc:     p.AuditSvc,
	}

	s.registerPaymentRoutes()
	s.registerExecutionRoutes()
	s.registerAccountRoutes()
	s.registerAgentRoutes()
	s.registerAuditRoutes()

	return s
}

func (s *Server) registerPaymentRoutes() {
	group := s.engine.Group("/payments")
	group.POST("/webhooks", s.RateLimit(ratelimit.ClassPayment), s.HandlePaymentWebhook)

	authed := group.Group("", s.RateLimit(ratelimit.ClassPayment), s.AuthRequired())
	authed.POST("/orders", s.CreatePaymentOrder)
	authed.POST("/verify", s.VerifyPayment)
}

func (s *Server) registerExecutionRoutes() {
	group := s.engine.Group("/executions")
	group.POST("/run", s.RateLimit(ratelimit.ClassExecution), s.AuthRequired(), s.RunExecution)
	group.GET("/:id", s.RateLimit(ratelimit.ClassGeneral), s.AuthRequired(), s.GetExecution)
	group.GET("", s.RateLimit(ratelimit.ClassGeneral), s.AuthRequired(), s.ListExecutions)
}

func (s *Server) registerAccountRoutes() {
	general := s.RateLimit(ratelimit.ClassGeneral)
	s.engine.GET("/accounts/me", general, s.AuthRequired(), s.GetMyAccount)
	s.engine.GET("/purchases", general, s.AuthRequired(), s.ListPurchases)
}

func (s *Server) registerAgentRoutes() {
	group := s.engine.Group("/agents", s.RateLimit(ratelimit.ClassGeneral), s.AuthRequired())
	group.GET("", s.ListAgents)
	group.GET("/:id", s.GetAgent)
}

func (s *Server) registerAuditRoutes() {
	s.engine.GET("/audit-logs", s.RateLimit(ratelimit.ClassGeneral), s.AuthRequired(), s.ListAuditLogs)
}
