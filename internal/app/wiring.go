package app

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/grafana/pyroscope-go"
	lgcfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"

	"dexos/internal/config"
	"dexos/internal/dedupe"
	dedupredis "dexos/internal/dedupe/redis"
	"dexos/internal/domain"
	"dexos/internal/metrics"
	"dexos/internal/pubsub"
	"dexos/internal/pubsub/nats"
	"dexos/internal/service"
	"dexos/internal/stores/clickhouse"
	"dexos/internal/stores/redis"
)

type Container struct {
	app *App

	// infra
	redis *redis.Client
	ch    *clickhouse.Conn
	nc    *nats.Client

	// services
	engine *service.EngineService

	// metrics
	profiler *pyroscope.Profiler

	cleanupF func()
}

func (c *Container) Start() error {
	return c.app.Start()
}

func (c *Container) Stop(ctx context.Context) error {
	if err := c.app.Shutdown(ctx); err != nil {
		return err
	}

	if c.cleanupF != nil {
		c.cleanupF()
	}
	return nil
}

func (c *Container) Engine() *service.EngineService {
	return c.engine
}

// Build constructs the app container. Redis, ClickHouse and NATS are
// optional so the engine stays runnable on a laptop: without Redis the
// deduper runs in memory, without ClickHouse events are not journaled, and
// without NATS depth snapshots are not broadcast
func Build(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	lg := logger.New(lgcfg.LoggerCfg{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	lg.Info("Successfully initialize logger")

	profiler, err := metrics.InitPProf(&metrics.PProfConfig{
		Enabled:       cfg.Metrics.Pyroscope.Enabled,
		AppInstanceID: cfg.App.InstanceID,
		AppName:       cfg.Metrics.Pyroscope.AppName,
		ServerAddr:    cfg.Metrics.Pyroscope.ServerAddr,
		AuthToken:     cfg.Metrics.Pyroscope.AuthToken,
		Tags:          cfg.Metrics.Pyroscope.Tags,
	})
	if err != nil {
		return nil, nil, err
	}
	if profiler != nil {
		lg.Infof("Successfully initialize Pyroscope to %s as %s", cfg.Metrics.Pyroscope.ServerAddr, cfg.Metrics.Pyroscope.AppName)
	}

	c := &Container{profiler: profiler}

	// event sink: ClickHouse journal when configured
	var sink domain.EventSink = domain.NopSink{}
	var chWriter *clickhouse.Writer
	if cfg.Stores.ClickHouse.DSN != "" {
		ch, err := clickhouse.New(ctx, &cfg.Stores.ClickHouse)
		if err != nil {
			return nil, nil, err
		}
		c.ch = ch

		url := strings.Split(cfg.Stores.ClickHouse.DSN, "?")
		lg.Infof("Successfully initialize clickhouse client, url=%s", url[0])

		chWriter = clickhouse.NewWriter(lg, cfg.Stores.ClickHouse, ch.Native)
		sink = chWriter
		lg.Info("Successfully initialize clickhouse event writer")
	}

	// deduper: Redis when configured, in-memory otherwise
	var deduper dedupe.Deduper
	if cfg.Stores.Redis.Addr != "" {
		rdb, err := redis.New(ctx, &cfg.Stores.Redis)
		if err != nil {
			return nil, nil, err
		}
		c.redis = rdb

		deduper, err = dedupredis.NewRedisDeduper(lg, &cfg.Dedupe, rdb)
		if err != nil {
			return nil, nil, err
		}
		lg.Infof("Successfully initialize Redis deduper, prefix=%s", cfg.Dedupe.Prefix)
	} else {
		deduper = dedupe.NewInMemoryDedupe(lg, cfg.Dedupe.TTL, time.Minute)
		lg.Info("Successfully initialize in-memory deduper")
	}

	// depth broadcaster
	var broadcaster pubsub.Broadcaster
	if cfg.PubSub.NATS.URL != "" {
		natsCl, err := nats.Connect(cfg, lg)
		if err != nil {
			return nil, nil, err
		}
		c.nc = natsCl
		broadcaster = natsCl
	}

	var healthers []service.HealthChecker
	if chWriter != nil {
		healthers = append(healthers, chWriter)
	}

	engine, err := service.NewEngineService(lg, cfg, broadcaster, sink, deduper, healthers...)
	if err != nil {
		return nil, nil, err
	}
	c.engine = engine
	lg.Infof("Successfully initialize engine service, pairs=%v", cfg.Engine.Pairs)

	// metrics listener
	var metricsSrv *http.Server
	if cfg.Metrics.Prometheus != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Prometheus, Handler: mux}
		lg.Infof("Metrics listener on %s", cfg.Metrics.Prometheus)
	}

	c.app = New(lg, metricsSrv)

	// Stop and the deferred cleanup in Run may both fire; close once
	var cleanupOnce sync.Once
	cleanup := func() {
		ctxClean, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if c.profiler != nil {
			if err := c.profiler.Stop(); err != nil {
				lg.Errorf("Failed to stop profiler: %v", err)
			}
		}

		if c.nc != nil {
			if err := c.nc.Close(); err != nil {
				lg.Errorf("Failed to close by cleanupF nats client: %v", err)
			}
		}

		if chWriter != nil {
			if err := chWriter.Close(ctxClean); err != nil {
				lg.Errorf("Failed to close by cleanupF clickhouse writer: %v", err)
			}
		}

		if c.ch != nil {
			if err := c.ch.Close(); err != nil {
				lg.Errorf("Failed to close by cleanupF clickhouse client: %v", err)
			}
		}

		if c.redis != nil {
			if err := c.redis.Close(); err != nil {
				lg.Errorf("Failed to close by cleanupF redis client: %v", err)
			}
		}

		lg.Info("Successfully cleaned up dependency")
	}
	c.cleanupF = func() {
		cleanupOnce.Do(cleanup)
	}

	lg.Info("Successfully initialize Wiring")
	return c, c.cleanupF, nil
}
