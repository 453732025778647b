// Package logging implements the CSV event log port (§6.3, §9) and a thin
// wrapper around the teacher's structured-logging idiom (log/slog, as used
// throughout controlplane/telemetry and client/doublezerod).
package logging

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/malbeclabs/alarmcore/internal/model"
)

// EventRow is one logged row (§6.3): ISO-8601 local timestamp, client id,
// sequence number (0 if inferred or PING), mmss, event name, sensor id,
// extra.
type EventRow struct {
	Timestamp time.Time
	ClientID  model.ClientID
	Seq       uint32
	MMSS      string
	EventName string
	SensorID  model.SensorID
	Extra     string
}

// EventSink is the host-supplied logging port (§6.4). A concrete
// implementation opens and closes its handle per write — a deliberate
// durability/rotation-friendly choice per §9, preserved here even though a
// held-open handle would be faster.
type EventSink interface {
	LogEvent(path string, row EventRow) error
}

// CSVEventLogger implements EventSink by appending one CSV row per call,
// opening and closing the file each time.
type CSVEventLogger struct {
	mu sync.Mutex
}

// NewCSVEventLogger returns a ready-to-use CSVEventLogger.
func NewCSVEventLogger() *CSVEventLogger {
	return &CSVEventLogger{}
}

// LogEvent appends row to the CSV file at path, creating it (without a
// header) if absent. Serialized with an internal mutex since multiple
// sensor/worker goroutines for different clients may share a log path.
func (l *CSVEventLogger) LogEvent(path string, row EventRow) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	record := []string{
		row.Timestamp.Format("2006-01-02T15:04:05"),
		string(row.ClientID),
		fmt.Sprintf("%d", row.Seq),
		row.MMSS,
		row.EventName,
		string(row.SensorID),
		row.Extra,
	}
	if err := w.Write(record); err != nil {
		return fmt.Errorf("logging: write %s: %w", path, err)
	}
	w.Flush()
	return w.Error()
}

// NullEventSink discards every row. Useful for clients/servers configured
// without a logfile.
type NullEventSink struct{}

func (NullEventSink) LogEvent(string, EventRow) error { return nil }
