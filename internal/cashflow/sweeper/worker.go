package sweeper

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	cashflowdomain "github.com/smallbiznis/cashflow/internal/cashflow/domain"
	"github.com/smallbiznis/cashflow/internal/config"
	"github.com/smallbiznis/cashflow/internal/identity"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Worker periodically retries settlement for payouts stalled on an
// underfunded subject account.
type Worker struct {
	svc       cashflowdomain.Service
	log       *zap.Logger
	scheduler gocron.Scheduler
	interval  time.Duration
	batchSize int
	enabled   bool
}

type Params struct {
	fx.In

	Cfg config.Config
	Svc cashflowdomain.Service
	Log *zap.Logger
}

func NewWorker(p Params) (*Worker, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	interval := p.Cfg.Sweep.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	batchSize := p.Cfg.Sweep.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Worker{
		svc:       p.Svc,
		log:       p.Log.Named("cashflow.sweeper"),
		scheduler: scheduler,
		interval:  interval,
		batchSize: batchSize,
		enabled:   p.Cfg.Sweep.Enabled,
	}, nil
}

func (w *Worker) Start() error {
	if !w.enabled {
		w.log.Info("sweep disabled")
		return nil
	}

	_, err := w.scheduler.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(w.run),
		gocron.WithName("payout-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}

	w.scheduler.Start()
	w.log.Info("sweep started",
		zap.Duration("interval", w.interval),
		zap.Int("batch_size", w.batchSize),
	)
	return nil
}

func (w *Worker) Stop() error {
	return w.scheduler.Shutdown()
}

func (w *Worker) run() {
	ctx := identity.WithCaller(context.Background(), identity.Caller{System: true})
	progressed, err := w.svc.SweepPendingPayouts(ctx, w.batchSize)
	if err != nil {
		w.log.Warn("sweep run failed", zap.Error(err))
		return
	}
	if progressed > 0 {
		w.log.Info("sweep progressed payouts", zap.Int("count", progressed))
	}
}

var Module = fx.Module("cashflow.sweeper",
	fx.Provide(NewWorker),
	fx.Invoke(func(lc fx.Lifecycle, w *Worker) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { return w.Start() },
			OnStop:  func(context.Context) error { return w.Stop() },
		})
	}),
)
