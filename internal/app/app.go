package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cove-indexer/internal/aggregator"
	"cove-indexer/internal/alerting"
	"cove-indexer/internal/api"
	"cove-indexer/internal/chain"
	"cove-indexer/internal/config"
	"cove-indexer/internal/indexer"
	"cove-indexer/internal/logging"
	"cove-indexer/internal/metrics"
	"cove-indexer/internal/pubsub"
	"cove-indexer/internal/scheduler"
	"cove-indexer/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openBackend(ctx context.Context) (storage.Backend, error) {
	backend, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return nil, err
	}
	if a.Config.Storage.Driver == config.DriverMemory {
		a.Logger.Warn().Msg("storage.driver is memory; state is lost on exit")
	}
	return backend, nil
}

func (a *App) newEngine(dialer *chain.Dialer) (*aggregator.Engine, error) {
	registry, err := aggregator.NewRegistry(a.Config.Tokens)
	if err != nil {
		return nil, err
	}

	static, err := chain.ParseStaticPrices(a.Config.Prices.Static)
	if err != nil {
		return nil, err
	}
	feed := chain.NewPriceFeed(chain.PriceFeedOptions{
		BaseURL:   a.Config.Prices.BaseURL,
		Timeout:   a.Config.Prices.RequestTimeout,
		UserAgent: a.Config.Prices.UserAgent,
		Static:    static,
	}, a.Logger)

	oracle := chain.NewOracle(chain.OracleOptions{
		CoveAddress:     common.HexToAddress(a.Config.Ethereum.CoveAddress),
		PoolTokenSymbol: a.Config.Prices.PoolTokenSymbol,
		Timeout:         a.Config.Ethereum.RequestTimeout,
	}, dialer, feed, a.Logger)

	return aggregator.New(aggregator.Options{
		Oracle:         oracle,
		Registry:       registry,
		DirectExchange: common.HexToAddress(a.Config.Ethereum.DirectExchangeAddress),
	}, a.Logger)
}

type runtime struct {
	backend   storage.Backend
	dialer    *chain.Dialer
	publisher *pubsub.Publisher
	metrics   *metrics.Metrics
	indexer   *indexer.Service
}

func (r *runtime) Close() {
	if r.publisher != nil {
		_ = r.publisher.Close()
	}
	if r.dialer != nil {
		r.dialer.Close()
	}
	if r.backend != nil {
		r.backend.Close()
	}
}

// build wires the indexer. follow adds the chain log source and scheduler;
// publish connects the change feed when nats.url is configured.
func (a *App) build(backend storage.Backend, follow, publish bool) (*runtime, error) {
	if a.Config.Ethereum.RPCURL == "" {
		return nil, errors.New("ethereum.rpc_url must be configured")
	}

	rt := &runtime{
		backend: backend,
		dialer:  chain.NewDialer(a.Config.Ethereum.RPCURL),
		metrics: metrics.New(),
	}

	engine, err := a.newEngine(rt.dialer)
	if err != nil {
		rt.Close()
		return nil, err
	}

	a.Logger.Info().Str("pool", engine.PoolID()).Msg("engine ready")

	deps := indexer.Dependencies{
		Backend: backend,
		Engine:  engine,
		Metrics: rt.metrics,
	}
	if notifier := a.newNotifier(); notifier != nil {
		deps.Notifier = notifier
	}

	if publish && a.Config.NATS.URL != "" {
		rt.publisher, err = pubsub.Connect(a.Config.NATS, a.Logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		deps.Publisher = rt.publisher
		if !rt.publisher.Ready() {
			a.Logger.Warn().Str("url", a.Config.NATS.URL).Msg("nats not connected yet; publishes are buffered until it is")
		}
	}

	if follow {
		if a.Config.Ethereum.CoveAddress == "" {
			rt.Close()
			return nil, errors.New("ethereum.cove_address must be configured to follow the chain")
		}
		source, err := chain.NewLogSource(chain.LogSourceOptions{
			CoveAddress:   common.HexToAddress(a.Config.Ethereum.CoveAddress),
			Confirmations: a.Config.Ethereum.Confirmations,
		}, rt.dialer, a.Logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		deps.Source = source
		deps.Scheduler = scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)
	}

	rt.indexer, err = indexer.New(indexer.Options{
		StartBlock:  a.Config.Ethereum.StartBlock,
		BatchSize:   a.Config.Ethereum.BatchSize,
		LockKey:     a.Config.Scheduler.AdvisoryLockKey,
		Environment: a.Config.App.Environment,
	}, deps, a.Logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (a *App) newAPI(backend storage.Backend, m *metrics.Metrics) *api.Server {
	return api.New(api.Options{
		Addr:         a.Config.API.Addr,
		ReadTimeout:  a.Config.API.ReadTimeout,
		WriteTimeout: a.Config.API.WriteTimeout,
	}, backend, m, a.Logger)
}

// Run follows the chain and, when api.addr is set, serves the query API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	rt, err := a.build(backend, true, true)
	if err != nil {
		backend.Close()
		return err
	}
	defer rt.Close()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		a.Logger.Info().Msg("starting indexer")
		return rt.indexer.Run(gctx)
	})
	if a.Config.API.Addr != "" {
		srv := a.newAPI(backend, rt.metrics)
		group.Go(func() error {
			return srv.Run(gctx)
		})
	}

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("indexer terminated with error")
		return err
	}

	a.Logger.Info().Msg("indexer stopped")
	return nil
}

// Serve exposes the query API over the configured store without indexing.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.Config.API.Addr == "" {
		return errors.New("api.addr must be configured")
	}
	backend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	return a.newAPI(backend, metrics.New()).Run(ctx)
}

// ExportOptions hold parameters for exporting pool rollups.
type ExportOptions struct {
	Interval  string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command. Either Kind and ID, or Interval, is set.
type ShowOptions struct {
	Kind     string
	ID       string
	Interval string
	From     *time.Time
	To       *time.Time
	Limit    int
}

// ReplayOptions configure the replay job.
type ReplayOptions struct {
	EventsPath      string
	DryRun          bool
	ContinueOnError bool
}

func unixRange(from, to *time.Time) (int64, int64, error) {
	lo, hi := storage.AllKeys().From, storage.AllKeys().To
	if from != nil {
		lo = from.Unix()
	}
	if to != nil {
		hi = to.Unix()
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("--from must not be after --to")
	}
	return lo, hi, nil
}
