package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/usageledger/internal/billingoverview"
	billingoverviewdomain "github.com/smallbiznis/usageledger/internal/billingoverview/domain"
	"github.com/smallbiznis/usageledger/internal/cache"
	"github.com/smallbiznis/usageledger/internal/config"
	"github.com/smallbiznis/usageledger/internal/credit"
	creditdomain "github.com/smallbiznis/usageledger/internal/credit/domain"
	"github.com/smallbiznis/usageledger/internal/events"
	"github.com/smallbiznis/usageledger/internal/invoice"
	invoicedomain "github.com/smallbiznis/usageledger/internal/invoice/domain"
	"github.com/smallbiznis/usageledger/internal/ledger"
	ledgerdomain "github.com/smallbiznis/usageledger/internal/ledger/domain"
	"github.com/smallbiznis/usageledger/internal/meter"
	meterdomain "github.com/smallbiznis/usageledger/internal/meter/domain"
	"github.com/smallbiznis/usageledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/usageledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/usageledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/usageledger/internal/observability/tracing"
	"github.com/smallbiznis/usageledger/internal/payment"
	paymentdomain "github.com/smallbiznis/usageledger/internal/payment/domain"
	"github.com/smallbiznis/usageledger/internal/ratelimit"
	"github.com/smallbiznis/usageledger/internal/rating"
	"github.com/smallbiznis/usageledger/internal/scheduler"
	"github.com/smallbiznis/usageledger/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/usageledger/internal/subscription/domain"
	"github.com/smallbiznis/usageledger/internal/usage"
	usagedomain "github.com/smallbiznis/usageledger/internal/usage/domain"
	"github.com/smallbiznis/usageledger/internal/usage/liveevents"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Domains wires every billing service without an HTTP listener. The
// dispatcher binary uses it on its own; Module adds the API on top.
var Domains = fx.Options(
	events.Module,
	usage.Module,
	cache.Module,
	meter.Module,
	rating.Module,
	ledger.Module,
	subscription.Module,
	invoice.Module,
	credit.Module,
	payment.Module,
	billingoverview.Module,
	scheduler.Module,
)

var Module = fx.Module("http.server",
	Domains,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:                 obsCfg.Debug(),
		ErrorClassifier:       classifyErrorForLog,
		QuietValidationRoutes: []string{"/v1/usage"},
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
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
	engine             *gin.Engine
	cfg                config.Config
	usageSvc           usagedomain.Service
	meterSvc           meterdomain.Service
	ledgerSvc          ledgerdomain.Service
	subscriptionSvc    subscriptiondomain.Service
	invoiceSvc         invoicedomain.Service
	creditSvc          creditdomain.Service
	paymentSvc         paymentdomain.Service
	webhookSvc         paymentdomain.WebhookService
	billingOverviewSvc billingoverviewdomain.Service
	scheduler          *scheduler.Scheduler
	obsMetrics         *obsmetrics.Metrics
	usageLimiter       *ratelimit.UsageEmitLimiter
	liveEvents         *liveevents.Hub
}

type ServerParams struct {
	fx.In

	Gin                *gin.Engine
	Cfg                config.Config
	UsageSvc           usagedomain.Service
	MeterSvc           meterdomain.Service
	LedgerSvc          ledgerdomain.Service
	SubscriptionSvc    subscriptiondomain.Service
	InvoiceSvc         invoicedomain.Service
	CreditSvc          creditdomain.Service
	PaymentSvc         paymentdomain.Service
	WebhookSvc         paymentdomain.WebhookService
	BillingOverviewSvc billingoverviewdomain.Service
	Scheduler          *scheduler.Scheduler        `optional:"true"`
	ObsMetrics         *obsmetrics.Metrics         `optional:"true"`
	UsageLimiter       *ratelimit.UsageEmitLimiter `optional:"true"`
	LiveEvents         *liveevents.Hub             `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:             p.Gin,
		cfg:                p.Cfg,
		usageSvc:           p.UsageSvc,
		meterSvc:           p.MeterSvc,
		ledgerSvc:          p.LedgerSvc,
		subscriptionSvc:    p.SubscriptionSvc,
		invoiceSvc:         p.InvoiceSvc,
		creditSvc:          p.CreditSvc,
		paymentSvc:         p.PaymentSvc,
		webhookSvc:         p.WebhookSvc,
		billingOverviewSvc: p.BillingOverviewSvc,
		scheduler:          p.Scheduler,
		obsMetrics:         p.ObsMetrics,
		usageLimiter:       p.UsageLimiter,
		liveEvents:         p.LiveEvents,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", TenantRequired())

	api.POST("/usage", s.UsageEmitRateLimit(), s.EmitUsage)
	api.GET("/usage", s.ListUsage)
	api.GET("/usage/live", s.StreamUsage)
	api.GET("/usage/:id", s.GetUsage)

	api.GET("/ledger", s.ListLedger)
	api.GET("/ledger/totals", s.LedgerTotals)

	api.GET("/invoices", s.ListInvoices)
	api.GET("/invoices/:id", s.GetInvoice)

	api.GET("/subscription", s.GetSubscription)
	api.GET("/credits", s.GetCredits)

	billing := api.Group("/billing")
	{
		billing.GET("/overview", s.GetBillingOverview)
		billing.POST("/checkout", s.CreateCheckout)
		billing.POST("/portal", s.CreatePortal)
	}
}

// registerAdminRoutes exposes catalog management and outbox recovery. The
// catalog is global; outbox routes stay tenant scoped.
func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	admin.POST("/meters", s.CreateMeter)
	admin.GET("/meters", s.ListMeters)
	admin.GET("/meters/:id", s.GetMeter)
	admin.POST("/meters/:id/activate", s.ActivateMeter)
	admin.POST("/meters/:id/deactivate", s.DeactivateMeter)
	admin.POST("/meters/:id/rates", s.AddMeterRate)
	admin.GET("/meters/:id/rates", s.ListMeterRates)

	admin.POST("/plans", s.CreatePlan)
	admin.GET("/plans", s.ListPlans)

	admin.POST("/credit-packs", s.CreateCreditPack)
	admin.GET("/credit-packs", s.ListCreditPacks)

	tenant := admin.Group("", TenantRequired())
	{
		tenant.POST("/credits/grants", s.GrantCredits)
		tenant.POST("/credits/consume", s.ConsumeCredits)
		tenant.GET("/outbox/failed", s.ListFailedOutbox)
		tenant.POST("/outbox/:id/requeue", s.RequeueOutbox)
	}
}
