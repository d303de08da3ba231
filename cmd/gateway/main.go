package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"db-admission-gateway/middleware/admission"
	"db-admission-gateway/middleware/admission/application"
	"db-admission-gateway/middleware/admission/domain"
	"db-admission-gateway/middleware/admission/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)

	cfg, err := loadConfig(viper.New())
	if err != nil {
		log.WithError(err).Fatal("config error")
	}
	if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(lvl)
	}
	logger := log.StandardLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("gateway stopped")
	}
	logger.Info("gateway exited")
}

func run(ctx context.Context, cfg config, logger *log.Logger) error {
	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.Admission.ConnectTimeout)
	db, err := infra.OpenPostgres(pingCtx, cfg.Postgres)
	cancelPing()
	if err != nil {
		return err
	}
	connector := infra.NewPostgresConnector(db, logger)
	defer connector.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	stats, closeStats, err := buildStats(ctx, cfg, reg, logger)
	if err != nil {
		return err
	}
	defer closeStats()

	queue := application.NewQueue(cfg.Admission,
		application.WithQueueLogger(logger.WithField("component", "queue")),
		application.WithQueueStats(stats),
	)
	defer queue.Close()

	gateway, err := application.NewGateway(connector, queue, cfg.Admission,
		application.WithGatewayLogger(logger.WithField("component", "gateway")),
		application.WithGatewayStats(stats),
		application.WithBurstLimiter(infra.NewBurstLimiter(cfg.Admission.BurstWindow, cfg.Admission.BurstLimit)),
	)
	if err != nil {
		return err
	}
	defer gateway.Close()

	if err := infra.RegisterGauges(reg, queue, gateway); err != nil {
		return err
	}

	srv := &server{
		queue:      queue,
		gateway:    gateway,
		metrics:    reg,
		log:        logger.WithField("component", "http"),
		retryAfter: cfg.HTTP.RetryAfter,
		probeQuery: cfg.HTTP.ProbeQuery,
	}
	httpSrv := &http.Server{
		Addr: cfg.Server.ListenAddr,
		Handler: srv.routes(admission.Options{
			PriorityHeader:      cfg.HTTP.PriorityHeader,
			ElevatedPaths:       cfg.HTTP.ElevatedPaths,
			Queue:               queue,
			AddAdmissionHeaders: cfg.HTTP.AddHeaders,
		}),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       90 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(log.Fields{
			"addr":                    cfg.Server.ListenAddr,
			"max_concurrent_requests": cfg.Admission.MaxConcurrentRequests,
			"max_queue_size":          cfg.Admission.MaxQueueSize,
			"burst_limit":             cfg.Admission.BurstLimit,
			"burst_window":            cfg.Admission.BurstWindow,
		}).Info("gateway listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		gateway.StartReporter(gctx)
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildStats monta o fan-out de sinks: Prometheus sempre, Redis e Kafka se habilitados.
func buildStats(ctx context.Context, cfg config, reg prometheus.Registerer, logger log.FieldLogger) (domain.StatsStore, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	prom, err := infra.NewPrometheusStatsStore(reg)
	if err != nil {
		return nil, closeAll, err
	}
	stores := []domain.StatsStore{prom}

	if rc := cfg.Stats.Redis; rc.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		closers = append(closers, func() { _ = rdb.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		stores = append(stores, infra.NewRedisStatsStore(rdb,
			infra.WithStatsPrefix(rc.Prefix),
			infra.WithStatsTTL(rc.TTL),
			infra.WithStatsBucket(rc.Bucket),
		))
		logger.WithField("addr", rc.Addr).Info("redis stats enabled")
	}

	if kc := cfg.Stats.Kafka; kc.Enabled {
		ks := infra.NewKafkaStatsStore(infra.NewKafkaWriter(kc.Brokers, kc.Topic))
		closers = append(closers, func() {
			if err := ks.Close(); err != nil {
				logger.WithError(err).Warn("kafka stats close failed")
			}
		})
		stores = append(stores, ks)
		logger.WithFields(log.Fields{"brokers": kc.Brokers, "topic": kc.Topic}).Info("kafka stats enabled")
	}

	return infra.NewMultiStatsStore(stores...), closeAll, nil
}
