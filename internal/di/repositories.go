package di

import (
	"github.com/aristath/marketcore/internal/cache"
	"github.com/aristath/marketcore/internal/circuit"
	"github.com/aristath/marketcore/internal/clientdata"
	"github.com/aristath/marketcore/internal/config"
	"github.com/aristath/marketcore/internal/datasource"
	"github.com/aristath/marketcore/internal/modules/orders"
	"github.com/aristath/marketcore/internal/modules/portfolio"
	"github.com/aristath/marketcore/internal/modules/predictions"
	"github.com/aristath/marketcore/internal/modules/reflection"
	"github.com/aristath/marketcore/internal/ratelimit"
	"github.com/rs/zerolog"
)

// InitializeDataSources builds the resilience layer and registers the
// production provider for every market.
func InitializeDataSources(container *Container, cfg *config.Config, log zerolog.Logger) {
	container.Caches = cache.NewSet(cache.SetConfig{
		RealtimeTTL: cfg.Cache.RealtimeTTL,
		KlineTTL:    cfg.Cache.KlineTTL,
		MetadataTTL: cfg.Cache.MetadataTTL,
		ListingTTL:  cfg.Cache.ListingTTL,
		MaxEntries:  cfg.Cache.MaxEntries,
	})
	container.Breakers = circuit.NewRegistry(circuit.Config{
		FailureThreshold: uint32(cfg.Circuit.FailureThreshold),
		Cooldown:         cfg.Circuit.Cooldown,
	}, log)
	container.Limiter = ratelimit.NewLimiter(ratelimit.Config{
		MinDelay: cfg.RateLimit.MinDelay,
		MaxDelay: cfg.RateLimit.MaxDelay,
	}, log)

	retry := ratelimit.DefaultPolicy()
	retry.MaxAttempts = cfg.Retry.MaxAttempts
	retry.BaseDelay = cfg.Retry.BaseDelay
	retry.MaxDelay = cfg.Retry.MaxDelay
	container.Retry = retry

	container.ClientData = clientdata.NewRepository(container.ClientDataDB.Conn())

	container.DataSources = datasource.NewFactory(datasource.Deps{
		Caches:   container.Caches,
		Store:    container.ClientData,
		Breakers: container.Breakers,
		Limiter:  container.Limiter,
		Retry:    container.Retry,
	}, log)
	container.DataSources.RegisterDefaults(datasource.ProviderConfig{
		BinanceBaseURL:    cfg.Providers.BinanceBaseURL,
		YahooBaseURL:      cfg.Providers.YahooBaseURL,
		PolymarketBaseURL: cfg.Providers.PolymarketBaseURL,
		Timeout:           cfg.Providers.Timeout,
	})
}

// InitializeRepositories creates the module repositories over core.db.
func InitializeRepositories(container *Container, log zerolog.Logger) {
	core := container.CoreDB.Conn()
	container.OrderRepo = orders.NewRepository(core, log)
	container.ReflectionRepo = reflection.NewRepository(core, log)
	container.PortfolioRepo = portfolio.NewRepository(core, log)
	container.PredictionRepo = predictions.NewRepository(core, log)
	container.Broker = orders.NewPaperBroker(log)
}
