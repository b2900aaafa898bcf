// Package pushdispatcher assembles the push dispatch service: a Pub/Sub
// ingestion pipeline and an HTTP API, both feeding the same sender.
package pushdispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-dispatcher/internal/api"
	"github.com/tinywideclouds/go-push-dispatcher/internal/dispatch"
	"github.com/tinywideclouds/go-push-dispatcher/internal/pipeline"
	"github.com/tinywideclouds/go-push-dispatcher/internal/pool"
	"github.com/tinywideclouds/go-push-dispatcher/internal/report"
	"github.com/tinywideclouds/go-push-dispatcher/internal/sender"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
	"github.com/tinywideclouds/go-push-dispatcher/pushdispatcher/config"
)

// TokenSuppressor records invalid tokens and filters them out of later requests.
type TokenSuppressor interface {
	report.Suppressor
	sender.TokenFilter
}

// Dependencies are the infrastructure pieces the service is built from.
// Suppressor is optional. A nil Registry gets a private one.
type Dependencies struct {
	Consumer    messagepipeline.MessageConsumer
	Credentials push.CredentialRegistry
	Variants    api.VariantLister
	Connectors  map[push.Platform]pool.Connector
	Publisher   report.Publisher
	Suppressor  TokenSuppressor
	Registry    *prometheus.Registry
	Auth        func(http.Handler) http.Handler
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[push.SendRequest]
	pool            *pool.Pool
	sender          *sender.Sender
	stopPool        context.CancelFunc
	logger          *slog.Logger
}

// New assembles the service.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Wrapper, error) {
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Dispatch stack
	clientPool := pool.New(deps.Connectors, pool.Config{
		MaxInFlight:    cfg.Dispatch.MaxInFlight,
		ConnectTimeout: cfg.Dispatch.ConnectTimeout,
		IdleTimeout:    cfg.Dispatch.IdleTimeout,
	}, logger)
	core := dispatch.New(clientPool, dispatch.Config{SendTimeout: cfg.Dispatch.SendTimeout}, logger)

	// A nil TokenSuppressor must not become a non-nil interface below.
	var suppressor report.Suppressor
	var filter sender.TokenFilter
	if deps.Suppressor != nil {
		suppressor = deps.Suppressor
		filter = deps.Suppressor
	}

	reporter, err := report.New(deps.Publisher, suppressor, report.Config{
		MetricsTopic:      cfg.Reporting.MetricsTopicID,
		InvalidTokenTopic: cfg.Reporting.InvalidTokenTopicID,
		PublishTimeout:    cfg.Reporting.PublishTimeout,
	}, deps.Registry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create outcome reporter: %w", err)
	}

	pushSender := sender.New(deps.Credentials, core, reporter, filter, sender.Config{
		MaxConnectAttempts: cfg.Dispatch.MaxConnectAttempts,
		ConnectBackoff:     cfg.Dispatch.ConnectBackoff,
		OutcomeTimeout:     cfg.Dispatch.OutcomeTimeout,
	}, logger)

	// 3. Pipeline
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		deps.Consumer,
		pipeline.SendRequestTransformer,
		pipeline.NewProcessor(pushSender, logger),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API
	sendAPI := api.NewSendAPI(pushSender, logger)
	variantAPI := api.NewVariantAPI(deps.Credentials, deps.Variants, clientPool, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(deps.Auth(handlerFunc)))
	}

	handle("POST /api/v1/send", sendAPI.Send)
	handle("GET /api/v1/variants", variantAPI.List)
	handle("PUT /api/v1/variants/{id}", variantAPI.Put)
	handle("DELETE /api/v1/variants/{id}", variantAPI.Delete)

	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS headers are written by the middleware.
	})))

	mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		pool:            clientPool,
		sender:          pushSender,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}

	poolCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.stopPool = cancel
	go w.pool.Run(poolCtx)

	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

// Shutdown stops intake first, lets in-flight outcomes drain, then closes
// every pooled connection.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}

	drained := make(chan struct{})
	go func() {
		w.sender.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		w.logger.Warn("Gave up waiting for outcome reporting", "err", ctx.Err())
	}

	if w.stopPool != nil {
		w.stopPool()
	}
	if err := w.pool.Close(); err != nil {
		w.logger.Error("Closing push clients failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
