package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/internal/handler/api"
	internalrepo "MarketSync/internal/repository"
	icache "MarketSync/internal/service/cache"
	"MarketSync/internal/service/calendar"
	"MarketSync/internal/service/feeds"
	"MarketSync/internal/service/marketapi"
	"MarketSync/internal/service/ratelimit"
	"MarketSync/internal/usecase"
	pkgcache "MarketSync/pkg/cache"
	pkgch "MarketSync/pkg/clickhouse"
	"MarketSync/pkg/config"
	xhttp "MarketSync/pkg/http"
	pkgkafka "MarketSync/pkg/kafka"
	"MarketSync/pkg/logger"
	"MarketSync/pkg/metrics"
	"MarketSync/pkg/postgres"
	"MarketSync/pkg/queue"
	"MarketSync/pkg/server"
)

// Resources collects everything that must be closed on shutdown.
type Resources struct {
	list []server.Resource
}

func (r *Resources) add(name string, close func() error) {
	r.list = append(r.list, server.Resource{Name: name, Close: close})
}

// CloseAll closes in reverse order and ignores errors; used by one-shot
// commands.
func (r *Resources) CloseAll() {
	for i := len(r.list) - 1; i >= 0; i-- {
		_ = r.list[i].Close()
	}
}

func ProvideResources() *Resources { return &Resources{} }

func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
}

func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideRedisClient dials redis only when a component is configured to use
// it; otherwise it returns nil.
func ProvideRedisClient(cfg *config.Config, res *Resources) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	client, err := pkgcache.NewRedisClient(
		pkgcache.WithRedisAddr(cfg.Redis.Addr),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}
	res.add("redis", client.Close)
	return client, nil
}

func feedTypes(cfg *config.Config) []models.FeedType {
	out := make([]models.FeedType, 0, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		out = append(out, models.FeedType(f.Type))
	}
	return out
}

// ProvideStore opens the configured backend and ensures its tables exist.
func ProvideStore(ctx context.Context, cfg *config.Config, lgr *logger.Logger, res *Resources) (repository.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := postgres.Connect(ctx, postgres.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Name:     cfg.Postgres.Name,
			SSLMode:  cfg.Postgres.SSLMode,
			MinConns: cfg.Postgres.MinConns,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		store := internalrepo.NewPostgresStore(pool, cfg.Store.TablePrefix, lgr)
		res.add("postgres", store.Close)
		if err := store.EnsureSchema(ctx, feedTypes(cfg)...); err != nil {
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		return store, nil

	case "clickhouse":
		client, err := pkgch.NewClient(ctx,
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		res.add("clickhouse", client.Close)
		store := internalrepo.NewClickHouseStore(client, cfg.Store.TablePrefix, lgr)
		schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := client.InitSchema(schemaCtx, store.SchemaStatements(feedTypes(cfg)...)); err != nil {
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
		return store, nil

	default:
		lgr.Warn("using in-memory store; records are lost on restart")
		return internalrepo.NewMemoryStore(), nil
	}
}

func ProvideCursorStore(cfg *config.Config, client *redis.Client) repository.CursorStore {
	if cfg.Cursor.Backend == "redis" && client != nil {
		return internalrepo.NewRedisCursorStore(client, cfg.Redis.Prefix+":cursor")
	}
	return internalrepo.NewMemoryCursorStore()
}

// ProvideResponseCache returns nil when caching is disabled.
func ProvideResponseCache(cfg *config.Config, client *redis.Client, lgr *logger.Logger, res *Resources) repository.ResponseCache {
	var store pkgcache.Service
	mem := []pkgcache.MemoryOption{
		pkgcache.WithMemoryMaxSize(cfg.Cache.MaxSize),
		pkgcache.WithMemorySweep(cfg.Cache.Sweep),
		pkgcache.WithMemoryDefaultTTL(cfg.Cache.TTL),
	}
	switch {
	case cfg.Cache.Backend == "none":
		return nil
	case cfg.Cache.Backend == "redis" && client != nil:
		store = pkgcache.NewRedisCacheFromClient(client, cfg.Redis.Prefix+":cache")
	case cfg.Cache.Backend == "layered" && client != nil:
		store = pkgcache.NewLayeredCache(pkgcache.NewRedisCacheFromClient(client, cfg.Redis.Prefix+":cache"), cfg.Cache.TTL/5, mem...)
	default:
		store = pkgcache.NewMemoryCache(mem...)
	}
	res.add("response cache", store.Close)
	return icache.NewResponseCache(store, cfg.Cache.TTL, lgr)
}

// ProvidePublisher returns nil unless kafka is enabled.
func ProvidePublisher(cfg *config.Config, reg *prometheus.Registry, res *Resources) (repository.Publisher, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(reg,
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	pub := internalrepo.NewKafkaPublisher(producer, cfg.Kafka.TopicPrefix)
	res.add("kafka", pub.Close)
	return pub, nil
}

// ProvideRateLimiter builds the shared limiter and exposes its window usage
// as gauges on reg.
func ProvideRateLimiter(cfg *config.Config, reg *prometheus.Registry, m repository.Metrics) repository.RateLimiter {
	l := ratelimit.New(ratelimit.Config{
		PerMinute:    cfg.RateLimit.PerMinute,
		PerHour:      cfg.RateLimit.PerHour,
		BackoffFloor: cfg.RateLimit.BackoffFloor,
		BackoffMax:   cfg.RateLimit.BackoffMax,
		Growth:       cfg.RateLimit.Growth,
	}, ratelimit.WithWaitObserver(func(d time.Duration) {
		m.RecordRateLimitWait(d.Seconds())
	}))

	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "marketsync",
		Name:      "rate_limit_used_minute",
		Help:      "Requests counted against the per-minute quota",
	}, func() float64 {
		minute, _ := l.InFlight()
		return float64(minute)
	})
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "marketsync",
		Name:      "rate_limit_used_hour",
		Help:      "Requests counted against the per-hour quota",
	}, func() float64 {
		_, hour := l.InFlight()
		return float64(hour)
	})
	return l
}

func ProvideMarketAPI(cfg *config.Config) repository.MarketAPI {
	return marketapi.New(cfg.API.BaseURL, cfg.API.Token, cfg.API.Timeout)
}

func ProvideCalendar(cfg *config.Config) (repository.Calendar, error) {
	return calendar.New(calendar.Config{
		Timezone: cfg.Calendar.Timezone,
		Open:     cfg.Calendar.Open,
		Close:    cfg.Calendar.Close,
		Weekdays: cfg.Calendar.Weekdays,
		Holidays: cfg.Calendar.Holidays,
	})
}

func ProvideFetcher(
	cfg *config.Config,
	api repository.MarketAPI,
	limiter repository.RateLimiter,
	cache repository.ResponseCache,
	m repository.Metrics,
	lgr *logger.Logger,
) *usecase.PagedFetcher {
	return usecase.NewPagedFetcher(api, limiter, cache, m, lgr,
		usecase.WithPageLimit(cfg.API.PageLimit),
		usecase.WithMaxPages(cfg.API.MaxPages),
		usecase.WithMaxAttempts(cfg.API.MaxAttempts),
		usecase.WithCallTimeout(cfg.API.Timeout),
	)
}

// ProvideEngine builds one pipeline per configured feed.
func ProvideEngine(
	cfg *config.Config,
	fetcher *usecase.PagedFetcher,
	store repository.Store,
	cursors repository.CursorStore,
	cal repository.Calendar,
	pub repository.Publisher,
	m repository.Metrics,
	lgr *logger.Logger,
) (*usecase.Engine, error) {
	granularity := repository.NormalizeGranularity(cfg.Calendar.Granularity).Duration()
	gaps := usecase.NewGapAnalyzer(store, cal, granularity)

	pipelines := make([]*usecase.Pipeline, 0, len(cfg.Feeds))
	for _, fc := range cfg.Feeds {
		feed, err := feeds.New(models.FeedType(fc.Type), fc.Path)
		if err != nil {
			return nil, err
		}
		symbols := usecase.TrackedSymbols(feed, cfg.SymbolsFor(fc))
		pipelines = append(pipelines, &usecase.Pipeline{
			Feed:    feed,
			Symbols: symbols,
			Loop: usecase.NewCollectorLoop(feed, symbols, fetcher, store, cursors, cal, pub, m, lgr,
				usecase.WithWorkers(cfg.Collector.Workers),
				usecase.WithInitialLookback(cfg.Collector.InitialLookback),
				usecase.WithLoopMaxChunk(cfg.Collector.MaxChunk),
			),
			Backfill: usecase.NewBackfillOrchestrator(feed, fetcher, store, gaps, pub, m, lgr,
				usecase.WithMaxChunk(cfg.Backfill.MaxChunk),
				usecase.WithChunkPause(cfg.Backfill.ChunkPause),
			),
			Gaps:    gaps,
			Cursors: cursors,
		})
	}
	return usecase.NewEngine(lgr, pipelines...), nil
}

func ProvideQueue(cfg *config.Config, client *redis.Client, engine *usecase.Engine, lgr *logger.Logger) queue.Runner {
	qc := &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}
	job := usecase.NewBackfillJob(engine, lgr)
	if cfg.Queue.Backend == "redis" && client != nil {
		q := queue.NewRedisQueue(lgr, qc, client, queue.ModeProducerConsumer,
			queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
		q.RegisterJobs(job)
		return q
	}
	return queue.NewMemoryQueue(lgr, qc, job)
}

func ProvideHTTPServer(
	cfg *config.Config,
	lgr *logger.Logger,
	reg *prometheus.Registry,
	engine *usecase.Engine,
	q queue.Runner,
	store repository.Store,
	client *redis.Client,
) *xhttp.Server {
	checks := map[string]api.HealthCheck{"store": store.Health}
	if client != nil {
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	h := api.NewOpsHandler(lgr, engine, q, checks)
	return xhttp.NewServer(lgr, reg, h,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	)
}

func ProvideApp(
	cfg *config.Config,
	lgr *logger.Logger,
	engine *usecase.Engine,
	q queue.Runner,
	srv *xhttp.Server,
	res *Resources,
) *server.App {
	return server.New(server.Schedule{
		TickInterval:     cfg.Collector.Interval,
		BackfillInterval: cfg.Backfill.Interval,
		BackfillLookback: cfg.Backfill.DefaultLookback,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	}, lgr, engine, q, srv, res.list...)
}
