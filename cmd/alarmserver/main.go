// Command alarmserver runs the single dispatcher (§1 Non-goals: "multiple
// concurrent servers") against a real UDP listener until signaled to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"log/slog"

	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/alarmcore/internal/cliutil"
	"github.com/malbeclabs/alarmcore/internal/config"
	"github.com/malbeclabs/alarmcore/internal/handlers"
	"github.com/malbeclabs/alarmcore/internal/logging"
	"github.com/malbeclabs/alarmcore/internal/model"
	"github.com/malbeclabs/alarmcore/pkg/alarmcore"
)

var (
	bindAddr        = flag.String("bind-addr", config.DefaultBindAddr, "UDP bind address.")
	bindPort        = flag.Int("bind-port", config.DefaultBindPort, "UDP bind port.")
	ipLossTolerance = flag.Duration("ip-loss-tolerance", 2*config.DefaultPingInterval, "Silence duration after which a reporter is declared offline.")
	logFile         = flag.String("log-file", "", "CSV event log path. Empty disables logging.")
	reporterSpecs   = flag.StringArray("reporter", nil, "Authorized reporter spec client_id:pin, repeatable.")
	handlerSpecs    = flag.StringArray("handler", nil, "Handler spec EVENT_NAME=/path/to/script, repeatable.")
	metricsAddr     = flag.String("metrics-addr", "", "Address to serve Prometheus metrics on. Empty disables it.")
	verbose         = flag.Bool("verbose", false, "Enable debug logging.")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	reporters, err := parseReporters(*reporterSpecs)
	if err != nil {
		return fmt.Errorf("parsing --reporter flags: %w", err)
	}
	parsedHandlers, err := cliutil.ParseHandlerSpecs(*handlerSpecs)
	if err != nil {
		return fmt.Errorf("parsing --handler flags: %w", err)
	}

	cfg := config.ServerConfig{
		BindAddr:        *bindAddr,
		BindPort:        *bindPort,
		IPLossTolerance: *ipLossTolerance,
		LogFile:         *logFile,
		Reporters:       reporters,
		Handlers:        parsedHandlers,
	}

	var sink logging.EventSink = logging.NullEventSink{}
	if cfg.LogFile != "" {
		sink = logging.NewCSVEventLogger()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var metricsErrCh <-chan error
	if *metricsAddr != "" {
		metricsErrCh = cliutil.StartMetricsServer(ctx, log, *metricsAddr)
	}

	srv, err := alarmcore.NewServer(cfg, log, sink, handlers.NullDispatch{})
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	log.Info("starting alarm server", "bind_addr", cfg.BindAddr, "bind_port", cfg.BindPort, "reporters", len(cfg.Reporters))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server exited: %w", err)
		}
		return nil
	case err, ok := <-metricsErrCh:
		if ok && err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		<-errCh
		return nil
	case <-ctx.Done():
		<-errCh
		return nil
	}
}

func parseReporters(specs []string) ([]config.ReporterEntry, error) {
	out := make([]config.ReporterEntry, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 2)
		entry := config.ReporterEntry{ClientID: model.ClientID(parts[0])}
		if len(parts) == 2 {
			entry.PIN = parts[1]
		}
		out = append(out, entry)
	}
	return out, nil
}

