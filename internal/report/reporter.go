// Package report turns classified delivery outcomes into delivery metrics
// and invalid-token records. Reporting never fails a dispatch.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/push"
)

// Delivery statuses carried in metric records.
const (
	StatusDeliverySuccess = "agpush_apnsTokenDeliverySuccess"
	StatusDeliveryFailure = "agpush_pnsTokenDeliveryFailure"
)

const (
	DefaultMetricsTopic      = "agpush_apnsTokenDeliveryMetrics"
	DefaultInvalidTokenTopic = "agpush_invalidToken"
	DefaultPublishTimeout    = 10 * time.Second
)

// Publisher is the event sink for records.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// Suppressor remembers invalidated tokens so later requests can skip them.
type Suppressor interface {
	Suppress(ctx context.Context, variantID, token string) error
}

// MetricRecord is published once per outcome.
type MetricRecord struct {
	PushMessageID string    `json:"pushMessageId"`
	VariantID     string    `json:"variantID"`
	Platform      string    `json:"platform"`
	Status        string    `json:"status"`
	Result        string    `json:"result"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// InvalidTokenRecord asks the token owner to remove a device.
type InvalidTokenRecord struct {
	Token         string     `json:"token"`
	VariantID     string     `json:"variantID"`
	PushMessageID string     `json:"pushMessageId"`
	Platform      string     `json:"platform"`
	Reason        string     `json:"reason,omitempty"`
	InvalidatedAt *time.Time `json:"invalidatedAt,omitempty"`
}

type Config struct {
	MetricsTopic      string
	InvalidTokenTopic string
	PublishTimeout    time.Duration
}

type Reporter struct {
	publisher  Publisher
	suppressor Suppressor
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time

	outcomes *prometheus.CounterVec
	invalid  *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// New creates a reporter. suppressor may be nil. Counters are registered on
// reg, reusing any that an earlier reporter already registered.
func New(publisher Publisher, suppressor Suppressor, cfg Config, reg prometheus.Registerer, logger *slog.Logger) (*Reporter, error) {
	if cfg.MetricsTopic == "" {
		cfg.MetricsTopic = DefaultMetricsTopic
	}
	if cfg.InvalidTokenTopic == "" {
		cfg.InvalidTokenTopic = DefaultInvalidTokenTopic
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}

	r := &Reporter{
		publisher:  publisher,
		suppressor: suppressor,
		cfg:        cfg,
		logger:     logger.With("component", "OutcomeReporter"),
		now:        time.Now,
	}

	var err error
	if r.outcomes, err = registerOrExisting(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "push",
		Subsystem: "dispatch",
		Name:      "outcomes_total",
		Help:      "Per-token delivery outcomes.",
	}, []string{"platform", "result"})); err != nil {
		return nil, err
	}
	if r.invalid, err = registerOrExisting(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "push",
		Subsystem: "dispatch",
		Name:      "invalid_tokens_total",
		Help:      "Tokens reported as permanently invalid.",
	}, []string{"platform"})); err != nil {
		return nil, err
	}
	if r.failures, err = registerOrExisting(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "push",
		Subsystem: "dispatch",
		Name:      "report_failures_total",
		Help:      "Records that could not be published.",
	}, []string{"topic"})); err != nil {
		return nil, err
	}
	return r, nil
}

func registerOrExisting(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to register counter: %w", err)
	}
	return c, nil
}

// Report emits the records for one outcome. Publish failures are logged and
// counted, never returned. The publish runs detached from ctx cancellation
// so outcomes arriving after the caller gave up are still recorded.
func (r *Reporter) Report(ctx context.Context, platform push.Platform, o push.Outcome, correlationID, variantID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.PublishTimeout)
	defer cancel()

	r.outcomes.WithLabelValues(string(platform), o.Result.String()).Inc()

	status := StatusDeliveryFailure
	if o.Accepted() {
		status = StatusDeliverySuccess
	}
	r.publish(ctx, r.cfg.MetricsTopic, MetricRecord{
		PushMessageID: correlationID,
		VariantID:     variantID,
		Platform:      string(platform),
		Status:        status,
		Result:        o.Result.String(),
		Reason:        o.Reason,
		Timestamp:     r.now().UTC(),
	})

	if !o.ShouldInvalidate() {
		return
	}

	r.invalid.WithLabelValues(string(platform)).Inc()
	rec := InvalidTokenRecord{
		Token:         o.Token,
		VariantID:     variantID,
		PushMessageID: correlationID,
		Platform:      string(platform),
		Reason:        o.Reason,
	}
	if !o.InvalidatedAt.IsZero() {
		at := o.InvalidatedAt.UTC()
		rec.InvalidatedAt = &at
	}
	r.publish(ctx, r.cfg.InvalidTokenTopic, rec)

	if r.suppressor != nil {
		if err := r.suppressor.Suppress(ctx, variantID, o.Token); err != nil {
			r.logger.Warn("Failed to suppress invalid token", "variant_id", variantID, "err", err)
		}
	}
}

func (r *Reporter) publish(ctx context.Context, topic string, record any) {
	data, err := json.Marshal(record)
	if err == nil {
		err = r.publisher.Publish(ctx, topic, data)
	}
	if err != nil {
		r.failures.WithLabelValues(topic).Inc()
		r.logger.Error("Failed to publish record", "topic", topic, "err", err)
	}
}
