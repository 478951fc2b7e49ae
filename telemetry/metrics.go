package telemetry

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel           = "error_type"
	collectorEndpointLabel = "collector_endpoint"
)

var (
	statsSend = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_stats_send",
		Help: "The number of selection stats sent to the telemetry collector.",
	}, []string{
		collectorEndpointLabel,
	})

	statsSendError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_stats_send_errors",
		Help: "The errors that occured while sending selection stats to the telemetry collector.",
	}, []string{
		collectorEndpointLabel,
		errTypeLabel,
	})

	statsSendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "telemetry_stats_send_latency",
		Help: "The time to send a selection stats batch to the telemetry collector.",
	}, []string{
		collectorEndpointLabel,
	})

	statsValidationError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_stats_validation_errors",
		Help: "Invalid selection stats counter.",
	}, []string{
		errTypeLabel,
	})
)

func instrumentStatsSend(endpoint string, count int, fn func() error) error {
	start := time.Now()
	err := fn()

	statsSendLatency.With(prometheus.Labels{
		collectorEndpointLabel: endpoint,
	}).Observe(time.Since(start).Seconds())

	if err != nil {
		statsSendError.
			With(prometheus.Labels{
				collectorEndpointLabel: endpoint,
				errTypeLabel:           errors.Type(err),
			}).
			Inc()
		return err
	}

	statsSend.
		With(prometheus.Labels{
			collectorEndpointLabel: endpoint,
		}).
		Add(float64(count))
	return nil
}

func instrumentStatsValidation(fn func() error) error {
	err := fn()
	if err != nil {
		statsValidationError.
			With(prometheus.Labels{
				errTypeLabel: errors.Type(err),
			}).
			Inc()
	}
	return err
}
