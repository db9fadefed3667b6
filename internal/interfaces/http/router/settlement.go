package router

import (
	"github.com/clinic/backend/internal/infrastructure/logger"
	"github.com/clinic/backend/internal/interfaces/http/handler"
	"github.com/clinic/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// EngineConfig holds what NewEngine needs to assemble the HTTP surface
type EngineConfig struct {
	ServiceName    string
	APIVersion     string // defaults to v1
	TracingEnabled bool
	Meter          metric.Meter // nil disables HTTP metrics
	MaxBodySize    int64
	CORS           middleware.CORSConfig
	TrustedProxies []string
	Logger         *zap.Logger

	Budgets *handler.BudgetHandler
	Rates   *handler.RatesHandler
	System  *handler.SystemHandler
}

// NewEngine builds the gin engine: global middleware, GET /health and the
// clinic scoped /api/v1 routes
func NewEngine(cfg EngineConfig) (*gin.Engine, error) {
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	httpMetrics, err := middleware.HTTPMetrics(cfg.Meter)
	if err != nil {
		return nil, err
	}
	engine.Use(
		middleware.RequestID(),
		middleware.Tracing(cfg.ServiceName, cfg.TracingEnabled),
		logger.Recovery(cfg.Logger),
		logger.GinMiddleware(cfg.Logger, "/health"),
		httpMetrics,
		middleware.Secure(),
		middleware.CORSWithConfig(cfg.CORS),
	)
	if cfg.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}

	engine.GET("/health", cfg.System.Health)

	api := NewAPI(cfg.APIVersion, middleware.Clinic(), middleware.SpanAttributes())
	routes := append(BudgetRoutes(cfg.Budgets), RateRoutes(cfg.Rates)...)
	api.Mount(engine, routes)
	cfg.Logger.Debug("API routes mounted",
		zap.String("prefix", api.Prefix()),
		zap.Strings("endpoints", routes.Endpoints()),
	)
	return engine, nil
}

// BudgetRoutes registers the budget lifecycle and payment endpoints
func BudgetRoutes(h *handler.BudgetHandler) Resources {
	budgets := NewResource("/budgets").
		POST("", h.CreateBudget).
		GET("/:id", h.GetBudget).
		POST("/:id/items/approve", h.ApproveItems).
		POST("/:id/items/revert", h.RevertItems).
		POST("/:id/items/pay", h.PaySelectedItems).
		POST("/:id/items/:index/pay", h.PayItem).
		POST("/:id/items/:index/dispatch", h.RetryDispatch).
		GET("/:id/items/:index/dispatch", h.DispatchStatus).
		POST("/:id/payments/preview", h.PreviewPayment).
		GET("/:id/transactions", h.ListTransactions).
		GET("/:id/orders", h.ListOrders)

	patients := NewResource("/patients").
		GET("/:patient_id/budgets", h.ListPatientBudgets)

	return Resources{budgets, patients}
}

// RateRoutes registers the fee and tax table endpoints
func RateRoutes(h *handler.RatesHandler) Resources {
	fees := NewResource("/fee-configs").
		PUT("", h.UpsertFeeConfig).
		GET("/resolve", h.ResolveFee)

	taxes := NewResource("/tax-rates").
		POST("", h.AddTaxRate).
		GET("/current", h.CurrentTaxRate)

	return Resources{fees, taxes}
}
