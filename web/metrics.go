package web

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gin-gonic/gin"
)

var (
	inboxDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palisade_inbox_deliveries_total",
		Help: "Inbound federation deliveries by activity type and response status.",
	}, []string{"type", "status"})
)

func countDelivery(activityType string, status int) {
	if activityType == "" {
		activityType = "unknown"
	}
	inboxDeliveriesTotal.WithLabelValues(activityType, strconv.Itoa(status)).Inc()
}

// MetricsHandler exposes the Prometheus registry.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
