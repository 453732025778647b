// Command alarmclient wires one client profile against a real UDP
// transport and runs its worker until signaled to stop. The telephony
// host itself is out of scope for this module (§1), so this binary
// supplies none: phone fallback is unavailable even when --server-dial
// is set.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

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
	clientID     = flag.String("client-id", "", "Telenumeric client id (0-9, A-D).")
	pin          = flag.String("pin", "", "Telenumeric PIN shared with the server, if any.")
	serverIP     = flag.String("server-ip", "", "Server UDP endpoint, host:port.")
	serverDial   = flag.String("server-dial", "", "Server phone dial string for fallback delivery.")
	pingInterval = flag.Duration("ping-interval", config.DefaultPingInterval, "IP transport ping interval.")
	egressDelay  = flag.Duration("egress-delay", 30*time.Second, "Egress grace window after a keypad egress grant.")
	idleLineHold = flag.Duration("idle-line-hold", 30*time.Second, "How long to hold a phone call idle before hanging up.")
	logPath      = flag.String("log-path", "", "CSV event log path. Empty disables logging.")
	sensors      = flag.StringArray("sensor", nil, "Sensor spec id:device:disarm_delay, repeatable.")
	handlerSpecs = flag.StringArray("handler", nil, "Handler spec EVENT_NAME=/path/to/script, repeatable.")
	metricsAddr  = flag.String("metrics-addr", "", "Address to serve Prometheus metrics on. Empty disables it.")
	verbose      = flag.Bool("verbose", false, "Enable debug logging.")
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

	parsedSensors, err := parseSensors(*sensors)
	if err != nil {
		return fmt.Errorf("parsing --sensor flags: %w", err)
	}
	parsedHandlers, err := cliutil.ParseHandlerSpecs(*handlerSpecs)
	if err != nil {
		return fmt.Errorf("parsing --handler flags: %w", err)
	}

	profile := config.ClientProfile{
		ClientID:         model.ClientID(*clientID),
		PIN:              *pin,
		ServerIP:         *serverIP,
		ServerDialString: *serverDial,
		PingInterval:     *pingInterval,
		EgressDelay:      *egressDelay,
		IdleLineHold:     *idleLineHold,
		LogPath:          *logPath,
		Sensors:          parsedSensors,
		Handlers:         parsedHandlers,
	}

	var sink logging.EventSink = logging.NullEventSink{}
	if profile.LogPath != "" {
		sink = logging.NewCSVEventLogger()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var metricsErrCh <-chan error
	if *metricsAddr != "" {
		metricsErrCh = cliutil.StartMetricsServer(ctx, log, *metricsAddr)
	}

	client, err := alarmcore.NewClient(profile, nil, log, sink, handlers.NullDispatch{})
	if err != nil {
		return fmt.Errorf("building client: %w", err)
	}

	log.Info("starting alarm client", "client_id", profile.ClientID, "server_ip", profile.ServerIP)

	errCh := make(chan error, 1)
	go func() { errCh <- client.Run(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("client exited: %w", err)
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

func parseSensors(specs []string) ([]config.SensorConfig, error) {
	out := make([]config.SensorConfig, 0, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("sensor spec %q must be id:device:disarm_delay", spec)
		}
		delay, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("sensor spec %q: bad disarm_delay: %w", spec, err)
		}
		out = append(out, config.SensorConfig{
			SensorID:    model.SensorID(parts[0]),
			Device:      parts[1],
			DisarmDelay: time.Duration(delay) * time.Second,
		})
	}
	return out, nil
}

