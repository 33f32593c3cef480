package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome label of a successful flow
const OutcomeSuccess = "success"

// PrometheusHandler returns a Gin handler for Prometheus metrics
func PrometheusHandler(handler http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if handler != nil {
			handler.ServeHTTP(c.Writer, c.Request)
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "metrics handler not initialized",
			})
		}
	}
}

// AuthMetrics counts credential lifecycle events. The exporter publishes the
// counter as auth_events_total{flow, outcome}.
type AuthMetrics struct {
	events metric.Int64Counter
}

// NewAuthMetrics registers the auth instruments on meter
func NewAuthMetrics(meter metric.Meter) (*AuthMetrics, error) {
	events, err := meter.Int64Counter("auth_events",
		metric.WithDescription("Credential lifecycle events by flow and outcome"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth events counter: %w", err)
	}
	return &AuthMetrics{events: events}, nil
}

// Record adds one event. A nil receiver records nothing.
func (m *AuthMetrics) Record(ctx context.Context, flow, outcome string) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("flow", flow),
		attribute.String("outcome", outcome),
	))
}
