package metrics

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	ReportsCreated   prometheus.Counter
	ReportsCompleted *prometheus.CounterVec
	DispatchAttempts *prometheus.CounterVec
}

// New initializes and registers the Prometheus collectors.
func New() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reportdesk",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		ReportsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "reportdesk",
			Subsystem: "reports",
			Name:      "created_total",
			Help:      "Total number of reports created.",
		}),
		ReportsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reportdesk",
			Subsystem: "reports",
			Name:      "completed_total",
			Help:      "Total number of report completions by terminal status.",
		}, []string{"status"}),
		DispatchAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reportdesk",
			Subsystem: "workflow",
			Name:      "dispatch_attempts_total",
			Help:      "Total number of workflow dispatch attempts by outcome.",
		}, []string{"outcome"}), // outcome: sent, error, exhausted
	}
}

// GinMiddleware counts requests per route template and status code.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
	}
}
