package observability

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type scrapeLogger struct {
	logger zerolog.Logger
}

func (l scrapeLogger) Println(v ...interface{}) {
	l.logger.Warn().Msg(fmt.Sprint(v...))
}

// MetricsHandler exposes the messaging collectors for Prometheus. A failing
// collector is logged and skipped so the remaining series are still served.
func MetricsHandler(logger zerolog.Logger) fiber.Handler {
	RegisterMetrics()
	handler := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog:          scrapeLogger{logger: logger.With().Str("component", "metrics").Logger()},
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
	return adaptor.HTTPHandler(handler)
}
