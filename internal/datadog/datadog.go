package datadog

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/internal/env"
)

var dogstatsd *statsd.Client

func InitMetrics() {
	if env.Cfg == nil || !env.Cfg.Datadog.Enabled {
		log.Debug().Msg("Datadog metrics disabled")
		return
	}

	dd := env.Cfg.Datadog
	var err error
	dogstatsd, err = statsd.New(dd.Addr)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return
	}

	dogstatsd.Namespace = dd.Namespace
	dogstatsd.Tags = dd.Tags

	log.Info().
		Str("addr", dd.Addr).
		Str("namespace", dd.Namespace).
		Strs("tags", dd.Tags).
		Msg("Datadog metrics initialized")
}

// Close flushes buffered metrics.
func Close() {
	if dogstatsd == nil {
		return
	}
	if err := dogstatsd.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close DogStatsD client")
	}
	dogstatsd = nil
}

func Gauge(name string, value float64, tags ...string) {
	if dogstatsd != nil {
		if err := dogstatsd.Gauge(name, value, tags, 1); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
		}
	}
}

func Count(name string, value int64, tags ...string) {
	if dogstatsd != nil {
		if err := dogstatsd.Count(name, value, tags, 1); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit count metric")
		}
	}
}
