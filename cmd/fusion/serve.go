package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/api"
	"github.com/VanDung-dev/HieraChain-Fusion/config"
	"github.com/VanDung-dev/HieraChain-Fusion/data"
	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/VanDung-dev/HieraChain-Fusion/network"
	"github.com/VanDung-dev/HieraChain-Fusion/sink"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli"
)

const maxTimeToClose = 10 * time.Second

// nodeRunner owns every component started by the serve command.
type nodeRunner struct {
	cfg    config.Config
	upload bool

	pipeline   *engine.Pipeline
	registry   *prometheus.Registry
	metrics    *api.Metrics
	dispatcher *sink.Dispatcher
	ingest     *network.IngestService
	httpServer *api.HTTPServer
	arrow      *api.ArrowServer

	redisClient *redis.Client
	store       api.ResultStore
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log.Debug("configuration loaded", "config", cfg.String())

	runner := &nodeRunner{cfg: cfg, upload: c.Bool(upload.Name)}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runner.start(ctx); err != nil {
		runner.close()
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")
	runner.close()
	return nil
}

func (r *nodeRunner) start(ctx context.Context) error {
	eng, err := engine.New(r.cfg.EngineConfig())
	if err != nil {
		return err
	}
	r.pipeline = engine.NewPipeline(eng, r.cfg.PipelineConfig())
	runID := r.pipeline.RunID()
	log.Info("starting fusion node", "run", runID, "sensors", len(r.cfg.Fusion.Sensors),
		"quorum", r.cfg.EngineConfig().Quorum())

	if r.cfg.Metrics.Enabled {
		r.registry = prometheus.NewRegistry()
		r.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		r.metrics = api.NewMetrics(r.cfg.Metrics.Namespace, r.registry)
		r.pipeline.AddObserver(r.metrics.ObserveResult)
	}

	sinks, err := r.createSinks(ctx, runID)
	if err != nil {
		return err
	}
	if len(sinks) > 0 {
		r.dispatcher = sink.NewDispatcher(r.cfg.Sink.Buffer, r.cfg.SinkWriteTimeout(), sinks...)
		r.dispatcher.Start()
		r.pipeline.AddObserver(r.dispatcher.Observe)
	}

	if err := r.pipeline.Start(); err != nil {
		return err
	}
	go r.watchResults()

	r.ingest = network.NewIngestService(r.cfg.IngestConfig(), r.pipeline)
	if err := r.ingest.Start(ctx); err != nil {
		return err
	}

	auth := api.NewAuthenticatorFromEnv(r.cfg.AuthConfig())

	if r.cfg.HTTP.Enabled {
		if err := r.startHTTP(auth); err != nil {
			return err
		}
	}
	if r.cfg.Arrow.Enabled {
		r.arrow, err = api.NewArrowServer(r.cfg.ArrowConfig(), auth, r.metrics)
		if err != nil {
			return err
		}
		if err := r.arrow.StartAsync(); err != nil {
			return err
		}
	}
	return nil
}

// createSinks connects the enabled result sinks. Any connection error aborts
// startup. The dispatcher closes the sinks on Stop.
func (r *nodeRunner) createSinks(ctx context.Context, runID string) ([]sink.ResultSink, error) {
	var sinks []sink.ResultSink
	fail := func(err error) ([]sink.ResultSink, error) {
		for _, s := range sinks {
			_ = s.Close()
		}
		return nil, err
	}

	if r.cfg.Redis.Enabled {
		client, err := sink.NewRedisClient(ctx, r.cfg.RedisConfig())
		if err != nil {
			return fail(err)
		}
		r.redisClient = client
		redisSink := sink.NewRedisSink(client, r.cfg.RedisConfig())
		sinks = append(sinks, redisSink)
		r.store = redisSink
	}

	if r.cfg.AMQP.Enabled {
		amqpSink, err := sink.DialAmqpSink(r.cfg.AmqpConfig(), runID)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, amqpSink)
	}

	if r.cfg.Postgres.Enabled {
		db, err := sink.OpenPostgres(r.cfg.PostgresConfig())
		if err != nil {
			return fail(err)
		}
		store, err := sink.NewGormStore(db, runID)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, store)
		r.store = store
	}
	return sinks, nil
}

func (r *nodeRunner) startHTTP(auth *api.Authenticator) error {
	opts := []api.HTTPOption{
		api.WithAuth(auth),
		api.WithStatus("ingest", func() any { return r.ingest.GetStatus() }),
	}
	if r.metrics != nil {
		opts = append(opts, api.WithMetrics(r.metrics, r.registry))
	}
	if r.store != nil {
		opts = append(opts, api.WithResultStore(r.store))
	}
	if r.dispatcher != nil {
		opts = append(opts, api.WithStatus("sinks", func() any { return r.dispatcher.GetStats() }))
	}
	if r.cfg.Arrow.Enabled {
		opts = append(opts, api.WithStatus("arrow", func() any {
			if r.arrow == nil {
				return nil
			}
			return r.arrow.GetStats()
		}))
	}
	if r.cfg.RateLimit.Enabled {
		opts = append(opts, api.WithRateLimiter(api.NewRateLimiter(api.RateLimiterConfig{
			Client:    r.redisClient,
			Limit:     r.cfg.RateLimit.Limit,
			Window:    r.cfg.RateLimitWindow(),
			KeyPrefix: r.cfg.RateLimit.KeyPrefix,
		})))
	}

	r.httpServer = api.NewHTTPServer(r.cfg.HTTPConfig(), r.pipeline, opts...)
	return r.httpServer.StartAsync()
}

// watchResults logs status changes. The results channel is lossy, so a
// skipped transition only delays the log line.
func (r *nodeRunner) watchResults() {
	var last engine.ResultStatus
	first := true
	for res := range r.pipeline.Results() {
		if first || res.Status != last {
			log.Info("consensus status", "status", res.Status.String(), "timestamp", res.Timestamp,
				"estimate", res.Estimate, "flagged", len(res.Flagged))
		}
		last, first = res.Status, false
		if r.metrics != nil {
			r.metrics.UpdatePipeline(r.pipeline.GetStats())
		}
	}
}

func (r *nodeRunner) close() {
	ctx, cancel := context.WithTimeout(context.Background(), maxTimeToClose)
	defer cancel()

	if r.httpServer != nil {
		if err := r.httpServer.Stop(ctx); err != nil {
			log.Warn("http server shutdown", "error", err.Error())
		}
	}
	if r.arrow != nil {
		r.arrow.Stop()
	}
	if r.ingest != nil {
		r.ingest.Stop()
	}
	if r.pipeline != nil {
		r.pipeline.Stop()
	}
	if r.dispatcher != nil {
		r.dispatcher.Stop()
	}

	if r.upload && r.pipeline != nil {
		if err := r.archiveRun(ctx); err != nil {
			log.Error("archive upload failed", "error", err.Error())
		}
	}
	log.Info("fusion node stopped")
}

// archiveRun uploads the retained results as an Arrow IPC stream.
func (r *nodeRunner) archiveRun(ctx context.Context) error {
	recent := r.pipeline.Snapshot().Recent
	if len(recent) == 0 {
		return nil
	}

	record, err := data.NewConverter().ResultsToRecord(recent)
	if err != nil {
		return err
	}
	defer record.Release()

	payload, err := data.NewIPCCodec().EncodeAll([]arrow.Record{record})
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	key := sink.ArchiveKey("results", r.pipeline.RunID(), "arrow", time.Now())
	return uploadArtifact(ctx, r.cfg.S3Config(), key, payload, "application/vnd.apache.arrow.stream")
}
