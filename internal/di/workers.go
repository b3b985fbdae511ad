package di

import (
	"time"

	"github.com/aristath/marketcore/internal/config"
	"github.com/aristath/marketcore/internal/modules/orders"
	"github.com/aristath/marketcore/internal/modules/portfolio"
	"github.com/aristath/marketcore/internal/modules/predictions"
	"github.com/aristath/marketcore/internal/modules/reflection"
	"github.com/aristath/marketcore/internal/worker"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RegisterWorkers adds the four background workers to a new registry. Runners
// are built on first Get, so disabled workers cost nothing until started by hand.
func RegisterWorkers(container *Container, cfg *config.Config, log zerolog.Logger) {
	w := cfg.Workers
	registry := worker.NewRegistry(log)

	runner := func(name string, interval time.Duration, cycle worker.CycleFunc) *worker.Runner {
		return worker.NewRunner(worker.Config{
			Name:          name,
			Interval:      interval,
			ErrorCooldown: w.ErrorCooldown,
		}, cycle, log)
	}

	registry.Register(WorkerPendingOrders, w.PendingOrders, func() (*worker.Runner, error) {
		pw := orders.NewPendingOrderWorker(container.OrderRepo, container.DataSources, container.Broker, orders.WorkerConfig{
			MaxSlippagePct: decimal.NewFromFloat(cfg.OrderMaxSlippagePct),
		}, log)
		return runner(WorkerPendingOrders, w.PendingOrderEvery, pw.Cycle), nil
	})

	registry.Register(WorkerReflection, w.Reflection, func() (*worker.Runner, error) {
		rw := reflection.NewWorker(container.ReflectionRepo, container.DataSources, reflection.DefaultDaysAgo, log)
		return runner(WorkerReflection, w.ReflectionEvery, rw.Cycle), nil
	})

	registry.Register(WorkerPortfolioMonitor, w.PortfolioMonitor, func() (*worker.Runner, error) {
		m := portfolio.NewMonitor(container.PortfolioRepo, container.DataSources, log)
		return runner(WorkerPortfolioMonitor, w.PortfolioMonitorEvery, m.Cycle), nil
	})

	registry.Register(WorkerPolymarket, w.Polymarket, func() (*worker.Runner, error) {
		pw := predictions.NewWorker(container.PredictionRepo, container.DataSources, predictions.WorkerConfig{
			AnalysisCache: w.PolymarketAnalysisCache,
		}, log)
		return runner(WorkerPolymarket, w.PolymarketEvery, pw.Cycle), nil
	})

	container.Workers = registry
}
