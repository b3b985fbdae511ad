/**
 * Package di provides dependency injection type definitions.
 *
 * The Container is the single source of truth for shared instances: it is
 * built once by Wire and handed to the HTTP server and to main.
 */
package di

import (
	"github.com/aristath/marketcore/internal/cache"
	"github.com/aristath/marketcore/internal/circuit"
	"github.com/aristath/marketcore/internal/clientdata"
	"github.com/aristath/marketcore/internal/database"
	"github.com/aristath/marketcore/internal/datasource"
	"github.com/aristath/marketcore/internal/modules/orders"
	"github.com/aristath/marketcore/internal/modules/portfolio"
	"github.com/aristath/marketcore/internal/modules/predictions"
	"github.com/aristath/marketcore/internal/modules/reflection"
	"github.com/aristath/marketcore/internal/ratelimit"
	"github.com/aristath/marketcore/internal/scheduler"
	"github.com/aristath/marketcore/internal/worker"
)

// Worker names as registered in the worker registry.
const (
	WorkerPendingOrders    = "pending_orders"
	WorkerReflection       = "reflection"
	WorkerPortfolioMonitor = "portfolio_monitor"
	WorkerPolymarket       = "polymarket"
)

// Container holds all dependencies for the application.
type Container struct {
	// Databases
	CoreDB       *database.DB // Module state (orders, positions, reflections, prediction markets)
	ClientDataDB *database.DB // Durable last-known-good market data for stale fallback

	// Resilience layer
	Caches      *cache.Set
	Breakers    *circuit.Registry
	Limiter     *ratelimit.Limiter
	Retry       ratelimit.Policy
	ClientData  *clientdata.Repository
	DataSources *datasource.Factory

	// Repositories
	OrderRepo      *orders.Repository
	ReflectionRepo *reflection.Repository
	PortfolioRepo  *portfolio.Repository
	PredictionRepo *predictions.Repository

	Broker orders.Broker

	// Background execution
	Workers   *worker.Registry
	Scheduler *scheduler.Scheduler
}

// Close closes both databases.
func (c *Container) Close() error {
	var firstErr error
	for _, db := range []*database.DB{c.CoreDB, c.ClientDataDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
