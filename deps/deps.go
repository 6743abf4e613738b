package deps

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"time"

	"github.com/InVisionApp/go-health"
	"github.com/newrelic/go-agent/v3/integrations/logcontext-v2/nrzap"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/streamdal/rabbit"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dselans/fivehundred/backends/cache"
	"github.com/dselans/fivehundred/backends/db"
	"github.com/dselans/fivehundred/backends/state"
	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/config"
	"github.com/dselans/fivehundred/services/backfill"
	"github.com/dselans/fivehundred/services/bulk"
	"github.com/dselans/fivehundred/services/catalog"
	"github.com/dselans/fivehundred/services/csvstore"
	"github.com/dselans/fivehundred/services/curation"
	"github.com/dselans/fivehundred/services/importer"
	"github.com/dselans/fivehundred/services/musicbrainz"
	"github.com/dselans/fivehundred/services/orchestrator"
	"github.com/dselans/fivehundred/services/processor"
	"github.com/dselans/fivehundred/services/publisher"
	"github.com/dselans/fivehundred/services/runstate"
	"github.com/dselans/fivehundred/services/scrape"
	"github.com/dselans/fivehundred/services/streaming"
	"github.com/dselans/fivehundred/services/upsert"
)

const (
	DefaultHealthCheckIntervalSecs = 1
	DefaultPingTimeout             = 2 * time.Second
)

type Dependencies struct {
	// Backends
	DBBackend              *db.DB
	CacheBackend           cache.ICache
	RedisClient            *redis.Client
	StateBackend           state.IState
	ProcessorRabbitBackend rabbit.IRabbit
	ReplayRabbitBackend    rabbit.IRabbit
	PublisherRabbitBackend rabbit.IRabbit

	// Adapters
	CSVStore     *csvstore.Store
	BulkAdapter  *bulk.Adapter
	Scraper      *scrape.Scraper
	ReleaseDB    *musicbrainz.Client
	Spotify      *streaming.Spotify
	AppleMusic   *streaming.AppleMusic
	UpsertEngine *upsert.Engine

	// Services
	ImporterService  *importer.Importer
	PreviewService   *importer.Importer
	RunStateService  *runstate.RunState
	BackfillService  *backfill.Backfill
	CurationService  *curation.Curation
	CatalogService   catalog.ICatalog
	ProcessorService processor.IProcessor
	PublisherService publisher.IPublisher

	Health health.IHealth

	// Global, shared shutdown context - all services and backends listen to
	// this context to know when to shutdown.
	ShutdownCtx context.Context

	// ShutdownCancel is the cancel function for the global shutdown context
	ShutdownCancel context.CancelFunc

	// Channel written to by publisher when it's done shutting down; read by
	// shutdown handler in main(). Nil when messaging is disabled.
	PublisherShutdownDoneCh chan struct{}

	NewRelicApp *newrelic.Application
	Config      *config.Config

	// Log is the main, shared logger (you should use this for all logging)
	Log clog.ICustomLog

	// Progress prints human readable batch progress
	Progress *logrus.Logger

	Fs afero.Fs

	// ZapLog is the zap logger (you shouldn't need this outside of deps)
	ZapLog *zap.Logger

	// ZapCore can be used to generate a brand-new logger (you shouldn't need this very often)
	ZapCore zapcore.Core
}

// pingCheck satisfies the go-health.ICheckable interface
type pingCheck struct {
	ping func(ctx context.Context) error
}

func New(cfg *config.Config) (*Dependencies, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dependencies{
		ShutdownCtx:    ctx,
		ShutdownCancel: cancel,
		Config:         cfg,
		Fs:             afero.NewOsFs(),
	}

	// NewRelic setup must occur before logging setup
	if err := d.setupNewRelic(); err != nil {
		return nil, errors.Wrap(err, "unable to setup newrelic")
	}

	if err := d.setupLogging(); err != nil {
		return nil, errors.Wrap(err, "unable to setup logging")
	}

	if err := d.setupBackends(cfg); err != nil {
		return nil, errors.Wrap(err, "unable to setup backends")
	}

	if err := d.setupHealth(); err != nil {
		return nil, errors.Wrap(err, "unable to setup health")
	}

	if err := d.Health.Start(); err != nil {
		return nil, errors.Wrap(err, "unable to start health runner")
	}

	if err := d.setupServices(cfg); err != nil {
		return nil, errors.Wrap(err, "unable to setup services")
	}

	return d, nil
}

func (d *Dependencies) setupNewRelic() error {
	if d.Config.NewRelicAppName == "" || d.Config.NewRelicLicenseKey == "" {
		return nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(d.Config.NewRelicAppName),
		newrelic.ConfigLicense(d.Config.NewRelicLicenseKey),
		newrelic.ConfigAppLogForwardingEnabled(true),
		newrelic.ConfigZapAttributesEncoder(true),
	)

	if err != nil {
		return errors.Wrap(err, "unable to create newrelic app")
	}

	if err := app.WaitForConnection(10 * time.Second); err != nil {
		return errors.Wrap(err, "unable to connect to newrelic")
	}

	d.NewRelicApp = app

	return nil
}

// If using New Relic, setupLogging() should be called _after_ setupNewRelic()
func (d *Dependencies) setupLogging() error {
	var core zapcore.Core

	if d.Config.LogConfig == "dev" {
		zc := zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

		core = zapcore.NewCore(zapcore.NewConsoleEncoder(zc.EncoderConfig),
			zapcore.AddSync(os.Stderr),
			zap.DebugLevel,
		)
	} else {
		core = zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(os.Stderr),
			zap.InfoLevel,
		)
	}

	// If using New Relic, wrap zap core with New Relic core
	if d.NewRelicApp != nil {
		var err error

		core, err = nrzap.WrapBackgroundCore(core, d.NewRelicApp)
		if err != nil {
			return errors.Wrap(err, "unable to wrap zap core with newrelic")
		}
	}

	// Save the actual loggers
	d.ZapLog = zap.New(core)
	d.ZapCore = core

	// Create a new primary logger that will be passed to everyone
	d.Log = clog.New(d.ZapLog, zap.String("env", d.Config.EnvName))

	// Batch progress goes to stderr so stdout only carries reports
	d.Progress = logrus.New()
	d.Progress.Out = os.Stderr
	d.Progress.Formatter = &logrus.TextFormatter{DisableTimestamp: true}

	if d.Config.LogConfig != "dev" {
		d.Progress.Formatter = &logrus.JSONFormatter{}
	}

	d.Log.Debug("Logging initialized")

	return nil
}

func (d *Dependencies) setupHealth() error {
	logger := d.Log.With(zap.String("method", "setupHealth"))
	logger.Debug("Setting up health")

	gohealth := health.New()
	gohealth.DisableLogging()

	interval := time.Duration(DefaultHealthCheckIntervalSecs) * time.Second
	if d.Config.HealthFreqSec > 0 {
		interval = time.Duration(d.Config.HealthFreqSec) * time.Second
	}

	checks := []*health.Config{
		{
			Name:     "db",
			Checker:  &pingCheck{ping: d.DBBackend.Ping},
			Interval: interval,
			Fatal:    true,
		},
	}

	if d.StateBackend != nil {
		checks = append(checks, &health.Config{
			Name:     "redis",
			Checker:  &pingCheck{ping: d.StateBackend.Ping},
			Interval: interval,
			Fatal:    true,
		})
	}

	err := gohealth.AddChecks(checks)

	d.Health = gohealth

	if err != nil {
		return err
	}

	return nil
}

func (d *Dependencies) setupBackends(cfg *config.Config) error {
	llog := d.Log.With(zap.String("method", "setupBackends"))

	llog.Debug("Setting up cache backend")

	cb, err := cache.New()
	if err != nil {
		return errors.Wrap(err, "unable to create new cache instance")
	}

	d.CacheBackend = cb

	llog.Debug("Setting up db backend", zap.String("driver", cfg.DBDriver))

	store, err := db.New(&db.Options{
		Driver:       cfg.DBDriver,
		DSN:          cfg.DBDSN,
		MaxOpenConns: cfg.DBMaxOpenConns,
		Log:          d.Log,
	})
	if err != nil {
		return errors.Wrap(err, "unable to create db backend")
	}

	if err := store.Migrate(d.ShutdownCtx); err != nil {
		return errors.Wrap(err, "unable to run migrations")
	}

	d.DBBackend = store

	if cfg.RedisURL != "" {
		if err := d.setupRedis(cfg); err != nil {
			return err
		}
	}

	if len(cfg.RabbitURL) > 0 {
		if err := d.setupRabbit(cfg); err != nil {
			return err
		}
	}

	return nil
}

func (d *Dependencies) setupRedis(cfg *config.Config) error {
	llog := d.Log.With(zap.String("method", "setupRedis"))
	llog.Debug("Setting up redis backend")

	opts := &redis.Options{
		Addr:        cfg.RedisURL,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDatabase,
		PoolSize:    cfg.RedisPoolSize,
		DialTimeout: cfg.RedisDialTimeout,
	}

	if cfg.RedisTLSCert != "" {
		tlsConfig, err := createTLSConfig(cfg.RedisTLSCACert, cfg.RedisTLSCert, cfg.RedisTLSKey)
		if err != nil {
			return errors.Wrap(err, "unable to create redis tls config")
		}

		opts.TLSConfig = tlsConfig
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(d.ShutdownCtx, cfg.RedisDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "unable to reach redis")
	}

	st, err := state.New(&state.Options{
		Prefix:      cfg.StatePrefix,
		RedisClient: client,
		Log:         d.Log,
	})
	if err != nil {
		return errors.Wrap(err, "unable to create state backend")
	}

	d.RedisClient = client
	d.StateBackend = st

	return nil
}

func (d *Dependencies) setupRabbit(cfg *config.Config) error {
	llog := d.Log.With(zap.String("method", "setupRabbit"))
	llog.Debug("Setting up rabbit backends")

	procRabbitBackend, err := rabbit.New(d.consumerOptions(cfg, cfg.RabbitQueueName))
	if err != nil {
		return errors.Wrap(err, "unable to create rabbit backend for processor")
	}

	d.ProcessorRabbitBackend = procRabbitBackend

	if cfg.RabbitReplayQueueName != "" {
		replayRabbitBackend, err := rabbit.New(d.consumerOptions(cfg, cfg.RabbitReplayQueueName))
		if err != nil {
			return errors.Wrap(err, "unable to create rabbit backend for replay")
		}

		d.ReplayRabbitBackend = replayRabbitBackend
	}

	pubRabbitBackend, err := rabbit.New(&rabbit.Options{
		URLs: cfg.RabbitURL,
		Bindings: []rabbit.Binding{
			{
				ExchangeName:    cfg.RabbitExchangeName,
				ExchangeType:    cfg.RabbitExchangeType,
				ExchangeDeclare: cfg.RabbitExchangeDeclare,
				ExchangeDurable: cfg.RabbitExchangeDurable,
			},
		},
		Mode:              rabbit.Producer,
		RetryReconnectSec: rabbit.DefaultRetryReconnectSec,
		AppID:             cfg.ServiceName + "-publisher",
		UseTLS:            cfg.RabbitUseTLS,
		SkipVerifyTLS:     cfg.RabbitSkipVerifyTLS,
		Log:               d.ZapLog.Sugar(),
	})
	if err != nil {
		return errors.Wrap(err, "unable to create rabbit backend for publisher")
	}

	d.PublisherRabbitBackend = pubRabbitBackend

	return nil
}

func (d *Dependencies) consumerOptions(cfg *config.Config, queue string) *rabbit.Options {
	return &rabbit.Options{
		URLs:      cfg.RabbitURL,
		Mode:      rabbit.Consumer,
		QueueName: queue,
		Bindings: []rabbit.Binding{
			{
				ExchangeName:    cfg.RabbitExchangeName,
				ExchangeType:    cfg.RabbitExchangeType,
				ExchangeDeclare: cfg.RabbitExchangeDeclare,
				ExchangeDurable: cfg.RabbitExchangeDurable,
				BindingKeys:     []string{publisher.EventLookupRequested},
			},
		},
		RetryReconnectSec: rabbit.DefaultRetryReconnectSec,
		QueueDurable:      cfg.RabbitQueueDurable,
		QueueDeclare:      cfg.RabbitQueueDeclare,
		AppID:             cfg.ServiceName + "-processor",
		UseTLS:            cfg.RabbitUseTLS,
		SkipVerifyTLS:     cfg.RabbitSkipVerifyTLS,
		Log:               d.ZapLog.Sugar(),
	}
}

func (d *Dependencies) setupServices(cfg *config.Config) error {
	logger := d.Log.With(zap.String("method", "setupServices"))
	logger.Debug("Setting up services")

	if err := d.setupAdapters(cfg); err != nil {
		return err
	}

	var err error

	d.UpsertEngine, err = upsert.New(&upsert.Options{Store: d.DBBackend, Log: d.Log})
	if err != nil {
		return errors.Wrap(err, "unable to create upsert engine")
	}

	if d.StateBackend != nil {
		d.RunStateService, err = runstate.New(&runstate.Options{
			Backend: d.StateBackend,
			Cache:   d.CacheBackend,
			Log:     d.Log,
		})
		if err != nil {
			return errors.Wrap(err, "unable to create run state service")
		}
	}

	// Publisher must exist before anything that emits album events
	if d.PublisherRabbitBackend != nil {
		d.PublisherShutdownDoneCh = make(chan struct{})

		pubService, err := publisher.New(&publisher.Options{
			RabbitBackend:          d.PublisherRabbitBackend,
			NumWorkers:             cfg.PublisherNumWorkers,
			ExternalShutdownCtx:    d.ShutdownCtx,
			ExternalShutdownDoneCh: d.PublisherShutdownDoneCh,
			NewRelic:               d.NewRelicApp,
			Log:                    d.Log,
		})
		if err != nil {
			return errors.Wrap(err, "unable to create new publisher")
		}

		if err := pubService.Start(); err != nil {
			return errors.Wrap(err, "unable to start publisher")
		}

		d.PublisherService = pubService
	}

	d.ImporterService, err = d.newImporter(cfg.DryRun)
	if err != nil {
		return errors.Wrap(err, "unable to create importer")
	}

	d.PreviewService, err = d.newImporter(true)
	if err != nil {
		return errors.Wrap(err, "unable to create preview importer")
	}

	backfillOpts := &backfill.Options{
		Store:     d.DBBackend,
		ReleaseDB: d.ReleaseDB,
		Fs:        d.Fs,
		LogDir:    cfg.LogDir,
		Progress:  d.Progress,
		DryRun:    cfg.DryRun,
		Log:       d.Log,
	}

	// Typed nils must not leak into the interface fields
	if d.Spotify != nil {
		backfillOpts.Streaming = d.Spotify
	}

	if d.AppleMusic != nil {
		backfillOpts.AppleMusic = d.AppleMusic
	}

	if d.RunStateService != nil {
		backfillOpts.RunState = d.RunStateService
	}

	if d.PublisherService != nil {
		backfillOpts.Publisher = d.PublisherService
	}

	d.BackfillService, err = backfill.New(backfillOpts)
	if err != nil {
		return errors.Wrap(err, "unable to create backfill service")
	}

	curationOpts := &curation.Options{
		Store:    d.DBBackend,
		Fs:       d.Fs,
		LogDir:   cfg.LogDir,
		Progress: d.Progress,
		DryRun:   cfg.DryRun,
		Log:      d.Log,
	}

	if d.PublisherService != nil {
		curationOpts.Publisher = d.PublisherService
	}

	d.CurationService, err = curation.New(curationOpts)
	if err != nil {
		return errors.Wrap(err, "unable to create curation service")
	}

	d.CatalogService, err = catalog.New(&catalog.Options{Backend: d.DBBackend, Log: d.Log})
	if err != nil {
		return errors.Wrap(err, "unable to create catalog service")
	}

	if d.ProcessorRabbitBackend != nil {
		rabbitMap := map[string]*processor.RabbitConfig{
			"main": {
				RabbitInstance: d.ProcessorRabbitBackend,
				NumConsumers:   cfg.RabbitNumConsumers,
				Func:           "ConsumeFunc",
			},
		}

		if d.ReplayRabbitBackend != nil {
			rabbitMap["replay"] = &processor.RabbitConfig{
				RabbitInstance: d.ReplayRabbitBackend,
				NumConsumers:   1,
				Func:           "ReplayFunc",
			}
		}

		procService, err := processor.New(&processor.Options{
			Cache:       d.CacheBackend,
			RabbitMap:   rabbitMap,
			Importer:    d.ImporterService,
			Previewer:   d.PreviewService,
			NewRelic:    d.NewRelicApp,
			ShutdownCtx: d.ShutdownCtx,
			Log:         d.Log,
		})
		if err != nil {
			return errors.Wrap(err, "unable to setup proc service")
		}

		d.ProcessorService = procService
	}

	return nil
}

func (d *Dependencies) setupAdapters(cfg *config.Config) error {
	var err error

	d.CSVStore, err = csvstore.New(&csvstore.Options{
		Path:  cfg.CSVPath,
		Fs:    d.Fs,
		Cache: d.CacheBackend,
		Log:   d.Log,
	})
	if err != nil {
		return errors.Wrap(err, "unable to create csv store")
	}

	d.BulkAdapter, err = bulk.New(&bulk.Options{Loader: d.CSVStore, Log: d.Log})
	if err != nil {
		return errors.Wrap(err, "unable to create bulk adapter")
	}

	page, err := scrape.NewHTTPPage(&scrape.HTTPPageOptions{
		SiteURL:   cfg.ScrapeSiteURL,
		UserAgent: cfg.ScrapeUserAgent,
		Log:       d.Log,
	})
	if err != nil {
		return errors.Wrap(err, "unable to create scrape page")
	}

	d.Scraper, err = scrape.New(&scrape.Options{
		Page:      page,
		SiteURL:   cfg.ScrapeSiteURL,
		SearchURL: cfg.ScrapeSearchURL,
		Progress:  d.Progress,
		Log:       d.Log,
	})
	if err != nil {
		return errors.Wrap(err, "unable to create scraper")
	}

	d.ReleaseDB, err = musicbrainz.New(&musicbrainz.Options{
		BaseURL:         cfg.MusicBrainzURL,
		CoverArtBaseURL: cfg.CoverArtURL,
		UserAgent:       cfg.MusicBrainzUserAgent,
		Cache:           d.CacheBackend,
		Log:             d.Log,
	})
	if err != nil {
		return errors.Wrap(err, "unable to create release database client")
	}

	// Streaming platforms are optional
	if cfg.SpotifyClientID != "" {
		d.Spotify, err = streaming.NewSpotify(&streaming.SpotifyOptions{
			ClientID:     cfg.SpotifyClientID,
			ClientSecret: cfg.SpotifyClientSecret,
			Log:          d.Log,
		})
		if err != nil {
			return errors.Wrap(err, "unable to create spotify client")
		}
	}

	if cfg.AppleMusicToken != "" {
		d.AppleMusic, err = streaming.NewAppleMusic(&streaming.AppleMusicOptions{
			Token: cfg.AppleMusicToken,
			Log:   d.Log,
		})
		if err != nil {
			return errors.Wrap(err, "unable to create apple music client")
		}
	}

	return nil
}

func (d *Dependencies) newImporter(dryRun bool) (*importer.Importer, error) {
	opts := &importer.Options{
		Store:     d.DBBackend,
		Upsert:    d.UpsertEngine,
		Bulk:      d.BulkAdapter,
		Scrape:    d.Scraper,
		Query:     d.Scraper,
		ReleaseDB: d.ReleaseDB,
		DryRun:    dryRun,
		Log:       d.Log,
	}

	if d.Spotify != nil {
		opts.Streaming = d.Spotify
	}

	if d.PublisherService != nil {
		opts.Publisher = d.PublisherService
	}

	return importer.New(opts)
}

// NewOrchestrator returns a batch runner configured from the global flags.
func (d *Dependencies) NewOrchestrator() (*orchestrator.Orchestrator, error) {
	opts := &orchestrator.Options{
		Delay:      d.Config.BatchDelay,
		Fs:         d.Fs,
		LogDir:     d.Config.LogDir,
		OnlyFailed: d.Config.OnlyFailed,
		LockTTL:    d.Config.LockTTL,
		Progress:   d.Progress,
		Log:        d.Log,
	}

	if d.RunStateService != nil {
		opts.RunState = d.RunStateService
	}

	return orchestrator.New(opts)
}

// Close releases backends opened by New; safe to call once shutdown is done.
func (d *Dependencies) Close() {
	if d.Health != nil {
		if err := d.Health.Stop(); err != nil {
			d.Log.Warn("unable to stop health runner", zap.Error(err))
		}
	}

	if d.RedisClient != nil {
		if err := d.RedisClient.Close(); err != nil {
			d.Log.Warn("unable to close redis client", zap.Error(err))
		}
	}

	if d.DBBackend != nil {
		if err := d.DBBackend.Close(); err != nil {
			d.Log.Warn("unable to close db", zap.Error(err))
		}
	}

	if d.NewRelicApp != nil {
		d.NewRelicApp.Shutdown(5 * time.Second)
	}
}

func createTLSConfig(caCert, clientCert, clientKey string) (*tls.Config, error) {
	cert, err := tls.X509KeyPair([]byte(clientCert), []byte(clientKey))
	if err != nil {
		return nil, errors.Wrap(err, "unable to load cert + key")
	}

	caCertPool := x509.NewCertPool()
	caCertPool.AppendCertsFromPEM([]byte(caCert))

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caCertPool,
	}, nil
}

func (c *pingCheck) Status() (interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultPingTimeout)
	defer cancel()

	if err := c.ping(ctx); err != nil {
		return nil, err
	}

	return map[string]int{}, nil
}
