package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	accountdomain "github.com/smallbiznis/cashflow/internal/account/domain"
	cashflowdomain "github.com/smallbiznis/cashflow/internal/cashflow/domain"
	"github.com/smallbiznis/cashflow/internal/config"
	dealdomain "github.com/smallbiznis/cashflow/internal/deal/domain"
	"github.com/smallbiznis/cashflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Server exposes the engine over HTTP.
type Server struct {
	cfg         config.Config
	log         *zap.Logger
	accountSvc  accountdomain.Service
	dealSvc     dealdomain.Service
	cashflowSvc cashflowdomain.Service
}

type Params struct {
	fx.In

	Cfg         config.Config
	Log         *zap.Logger
	AccountSvc  accountdomain.Service
	DealSvc     dealdomain.Service
	CashflowSvc cashflowdomain.Service
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:         p.Cfg,
		log:         p.Log.Named("server"),
		accountSvc:  p.AccountSvc,
		dealSvc:     p.DealSvc,
		cashflowSvc: p.CashflowSvc,
	}
}

func (s *Server) Router() *gin.Engine {
	if s.cfg.IsProduction() || strings.EqualFold(s.cfg.Server.Mode, "release") {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(s.callerMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/transfers", s.CreateTransfer)
		v1.GET("/accounts/:owner_type/:owner_id", s.GetAccount)
		v1.GET("/accounts/:owner_type/:owner_id/entries", s.ListLedgerEntries)

		v1.POST("/deals", s.CreateDeal)
		v1.GET("/deals", s.ListDeals)
		v1.GET("/deals/:id", s.GetDeal)
		v1.PATCH("/deals/:id/status", s.UpdateDealStatus)
		v1.POST("/deals/:id/fund", s.FundDeal)
		v1.GET("/deals/:id/claims", s.ListClaims)

		v1.POST("/income-events", s.RecordIncomeEvent)
		v1.GET("/income-events/:id", s.GetIncomeEvent)
		v1.POST("/income-events/:id/process", s.requireSystem(), s.ProcessIncomeEvent)
		v1.GET("/income-events/failed", s.requireSystem(), s.ListFailedEvents)
		v1.POST("/income-events/:id/replay", s.requireSystem(), s.ReplayEvent)

		v1.GET("/payouts", s.ListPayouts)
		v1.GET("/payouts/:id", s.GetPayout)
		v1.POST("/payouts/:id/settle", s.SettlePayout)
		v1.POST("/payouts/sweep", s.requireSystem(), s.SweepPayouts)
	}

	return r
}

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(Run),
)

// Run binds the HTTP listener to the fx lifecycle.
func Run(lc fx.Lifecycle, s *Server, log *zap.Logger) {
	httpServer := &http.Server{
		Addr:    s.cfg.Server.Addr,
		Handler: s.Router(),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", httpServer.Addr))
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
	})
}
