// Command server runs the event registration HTTP service.
//
// The service keeps role signups capacity-safe under concurrency, applies
// organizer-driven moves/assignments, orchestrates event updates, fans out
// email/system-message/audit side effects and broadcasts realtime changes
// over Redis streams.
//
// # Configuration
//
// A YAML file (see internal/config) supplies the full configuration; the
// flags below override the most commonly changed values:
//
//	-config      path to the YAML configuration file
//	-http-addr   HTTP listen address (default ":8080")
//	-mongo-uri   MongoDB connection string
//	-mongo-db    MongoDB database name
//	-redis-addr  Redis address
//	-debug       log request details
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/cache"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/config"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/conflict"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/engine"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/httpapi"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/keyedlock"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/notify"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/realtime"
	mongostore "github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/storage/mongo"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/sweep"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/telemetry"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/token"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/update"
)

func main() {
	var (
		configF    = flag.String("config", "", "path to the YAML configuration file")
		httpAddrF  = flag.String("http-addr", "", "HTTP listen address (overrides config)")
		mongoURIF  = flag.String("mongo-uri", "", "MongoDB connection string (overrides config)")
		mongoDBF   = flag.String("mongo-db", "", "MongoDB database name (overrides config)")
		redisAddrF = flag.String("redis-addr", "", "Redis address (overrides config)")
		dbgF       = flag.Bool("debug", false, "log request details")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "load configuration")
	}
	if *httpAddrF != "" {
		cfg.HTTP.Addr = *httpAddrF
	}
	if *mongoURIF != "" {
		cfg.Mongo.URI = *mongoURIF
	}
	if *mongoDBF != "" {
		cfg.Mongo.Database = *mongoDBF
	}
	if *redisAddrF != "" {
		cfg.Redis.Addr = *redisAddrF
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf(ctx, err, "validate configuration")
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatalf(ctx, err, "server exited")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	// Persistence.
	mongoClient, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Errorf(ctx, err, "disconnect mongo")
		}
	}()
	store, err := mongostore.New(mongostore.Options{
		Client:   mongoClient,
		Database: cfg.Mongo.Database,
		Timeout:  cfg.Mongo.Timeout,
	})
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}

	// Shared cache and realtime backend.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Errorf(ctx, err, "close redis")
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	sharedCache, err := cache.NewRedis(cache.RedisOptions{Client: rdb, Metrics: metrics})
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}

	rtClient, err := realtime.NewClient(realtime.ClientOptions{
		Redis:        rdb,
		StreamMaxLen: cfg.Realtime.StreamMaxLen,
	})
	if err != nil {
		return fmt.Errorf("create realtime client: %w", err)
	}
	defer func() {
		if err := rtClient.Close(context.Background()); err != nil {
			log.Errorf(ctx, err, "close realtime client")
		}
	}()
	bus, err := realtime.New(realtime.Options{
		Client:  rtClient,
		Buffer:  cfg.Realtime.SubscriberBuffer,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("create realtime bus: %w", err)
	}

	// Side effects.
	var sender notify.EmailSender
	if cfg.Email.Host != "" {
		sender, err = notify.NewSMTPSender(notify.SMTPOptions{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			From:     cfg.Email.From,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
		})
		if err != nil {
			return fmt.Errorf("create email sender: %w", err)
		}
	} else {
		log.Infof(ctx, "email relay not configured, emails are logged only")
		sender = notify.LogSender{Logger: logger}
	}
	dispatcher, err := notify.New(notify.Options{
		Sender:  sender,
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	defer dispatcher.Close()

	// Core services.
	signer, err := token.NewSigner(token.Options{
		Key: []byte(cfg.Token.Secret),
		TTL: cfg.Token.TTL,
	})
	if err != nil {
		return fmt.Errorf("create token signer: %w", err)
	}
	eng, err := engine.New(engine.Options{
		Store:       store,
		Cache:       sharedCache,
		Locks:       keyedlock.New(),
		LockTimeout: cfg.Engine.LockTimeout,
		Bus:         bus,
		Dispatcher:  dispatcher,
		Tokens:      signer,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	detector := conflict.NewDetector(store, logger)
	orchestrator, err := update.New(update.Options{
		Store:      store,
		Conflicts:  detector,
		Cache:      sharedCache,
		Bus:        bus,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	sweeper, err := sweep.New(sweep.Options{
		Store:    store,
		Cache:    sharedCache,
		Interval: cfg.Sweep.Interval,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return fmt.Errorf("create sweeper: %w", err)
	}

	// HTTP edge.
	listings, err := httpapi.NewListings(httpapi.ListingsOptions{
		Store:    store,
		Cache:    sharedCache,
		OrderTTL: cfg.Cache.OrderTTL,
		PageTTL:  cfg.Cache.PageTTL,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create listings: %w", err)
	}
	api, err := httpapi.New(httpapi.Options{
		Engine:    eng,
		Updater:   orchestrator,
		Conflicts: detector,
		Listings:  listings,
		Pingers:   []health.Pinger{store, redisPinger{client: rdb}},
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create http api: %w", err)
	}

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.Router()}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	sweeper.Start(runCtx)
	defer sweeper.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf(ctx, "listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve http: %w", err)
	case <-runCtx.Done():
	}

	log.Printf(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}

// redisPinger adapts the Redis client to the health check endpoint.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Name() string { return "redis" }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
