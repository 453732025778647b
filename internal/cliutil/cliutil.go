// Package cliutil holds the small pieces shared by cmd/alarmclient and
// cmd/alarmserver: handler-spec flag parsing and the optional Prometheus
// metrics HTTP server, matching the metrics-server-goroutine shape used
// across the pack's cmd/*/main.go binaries.
package cliutil

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malbeclabs/alarmcore/internal/config"
	"github.com/malbeclabs/alarmcore/internal/model"
)

var eventNames = map[string]model.EventKind{
	"OKAY": model.EventOkay, "SENSOR_TRIGGERED": model.EventSensorTriggered,
	"SENSOR_RESTORED": model.EventSensorRestored, "DISARMED": model.EventDisarmed,
	"TEMP_DISARMED": model.EventTempDisarmed, "BREACH": model.EventBreach,
	"INTERNET_LOST": model.EventInternetLost, "INTERNET_RESTORED": model.EventInternetRestored,
	"PING": model.EventPing,
}

// ParseHandlerSpecs parses repeated EVENT_NAME=/path flags into a HandlerMap.
func ParseHandlerSpecs(specs []string) (config.HandlerMap, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(config.HandlerMap, len(specs))
	for _, spec := range specs {
		kv := strings.SplitN(spec, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("handler spec %q must be EVENT_NAME=/path", spec)
		}
		kind, ok := eventNames[kv[0]]
		if !ok {
			return nil, fmt.Errorf("handler spec %q: unknown event name %q", spec, kv[0])
		}
		out[kind] = kv[1]
	}
	return out, nil
}

// StartMetricsServer serves /metrics on addr until ctx is canceled,
// reporting any listen/serve error on the returned channel.
func StartMetricsServer(ctx context.Context, log *slog.Logger, addr string) <-chan error {
	errCh := make(chan error, 1)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return errCh
}
