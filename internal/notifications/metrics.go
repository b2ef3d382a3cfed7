package notifications

import (
	"time"

	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/bissquit/listing-dispatch/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery results used as metric labels.
const (
	resultSent           = "sent"
	resultRetryableError = "retryable_error"
	resultPermanentError = "permanent_error"
)

var (
	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Messages handed to a channel sender, by channel and result",
		},
		[]string{"channel_type", "result"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "delivery_duration_seconds",
			Help:      "Time spent in a channel sender",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel_type"},
	)
)

func recordDelivery(channelType domain.ChannelType, err error, took time.Duration) {
	deliveryDuration.WithLabelValues(string(channelType)).Observe(took.Seconds())

	result := resultSent
	if err != nil {
		result = resultPermanentError
		if IsRetryable(err) {
			result = resultRetryableError
		}
	}
	deliveries.WithLabelValues(string(channelType), result).Inc()
}
