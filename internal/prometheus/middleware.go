package prometheus

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func MetricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		TotalRequests.Inc()
		timer := prometheus.NewTimer(httpDuration.WithLabelValues(pathLabel(ctx.Path())))
		defer timer.ObserveDuration()
		return next(ctx)
	}
}

// Handler serves the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
