// Package config defines the configuration surface consumed by the core
// (§6.2). Parsing configuration files/flags into these types is a host
// responsibility (§1 Non-goals); this package only defines the shapes and
// validates+defaults them, the way the teacher's Config.Validate methods
// do (client/doublezerod/internal/probing/config.go,
// controlplane/telemetry/internal/telemetry/config.go).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/malbeclabs/alarmcore/internal/model"
)

const (
	DefaultBindPort     = 4589
	DefaultBindAddr     = "0.0.0.0"
	DefaultPingInterval = 5 * time.Second
	DefaultDisarmDelay  = 60 * time.Second
)

// HandlerMap names, per event kind, the external handler location to fire
// on that event (§4.9). A kind absent from the map simply isn't dispatched.
type HandlerMap map[model.EventKind]string

// SensorConfig is one sensor entry under a client (§6.2).
type SensorConfig struct {
	SensorID    model.SensorID
	Device      string // optional device string used for dispatcher resolution
	DisarmDelay time.Duration
}

func (c *SensorConfig) validate() error {
	if !c.SensorID.Valid() {
		return &model.ErrInvalidTelenumeric{Field: "sensor.sensor_id", Value: string(c.SensorID)}
	}
	if c.DisarmDelay == 0 {
		c.DisarmDelay = DefaultDisarmDelay
	}
	if c.DisarmDelay < 0 {
		return fmt.Errorf("config: sensor %s: disarm_delay must be >= 0", c.SensorID)
	}
	return nil
}

// KeypadConfig configures the keypad dispatcher entry for a client (§4.10).
type KeypadConfig struct {
	KeypadDevice string
	PINs         []string // comma-separated PIN list at the config layer, split here
	AudioPrompt  string
	CallerID     string
}

func (c *KeypadConfig) validate() error {
	if len(c.PINs) == 0 {
		return fmt.Errorf("config: keypad requires at least one PIN")
	}
	for _, pin := range c.PINs {
		if !model.ValidTelenumeric(pin) {
			return &model.ErrInvalidTelenumeric{Field: "keypad.pin", Value: pin}
		}
	}
	return nil
}

// ParsePINList splits a comma-separated PIN list as configured (§6.2).
func ParsePINList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ClientProfile is a client's configuration-time identity (§3, §6.2).
type ClientProfile struct {
	ClientID model.ClientID
	PIN      string // optional telenumeric PIN

	ServerIP         string // host:port, empty if IP transport not configured
	ServerDialString string // empty if phone fallback not configured

	PingInterval time.Duration
	EgressDelay  time.Duration
	IdleLineHold time.Duration

	Handlers HandlerMap
	Sensors  []SensorConfig
	Keypad   *KeypadConfig
	LogPath  string
}

// Validate checks required fields and applies defaults, per §6.2.
func (c *ClientProfile) Validate() error {
	if !c.ClientID.Valid() {
		return &model.ErrInvalidTelenumeric{Field: "client_id", Value: string(c.ClientID)}
	}
	if c.PIN != "" && !model.ValidTelenumeric(c.PIN) {
		return &model.ErrInvalidTelenumeric{Field: "client_pin", Value: c.PIN}
	}
	if c.ServerIP == "" && c.ServerDialString == "" {
		return fmt.Errorf("config: client %s: at least one of server_ip or server_dialstr is required", c.ClientID)
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PingInterval < 0 {
		return fmt.Errorf("config: client %s: ping_interval must be >= 0", c.ClientID)
	}
	if c.EgressDelay < 0 {
		return fmt.Errorf("config: client %s: egress_delay must be >= 0", c.ClientID)
	}
	if c.IdleLineHold < 0 {
		return fmt.Errorf("config: client %s: idle line hold must be >= 0", c.ClientID)
	}

	seen := make(map[model.SensorID]struct{}, len(c.Sensors))
	for i := range c.Sensors {
		if err := c.Sensors[i].validate(); err != nil {
			return err
		}
		if _, dup := seen[c.Sensors[i].SensorID]; dup {
			return fmt.Errorf("config: client %s: duplicate sensor id %s", c.ClientID, c.Sensors[i].SensorID)
		}
		seen[c.Sensors[i].SensorID] = struct{}{}
	}

	if c.Keypad != nil {
		if err := c.Keypad.validate(); err != nil {
			return err
		}
	}

	return nil
}

// ReporterEntry is one authorized client id -> PIN entry in the server's
// reporter table (§6.2).
type ReporterEntry struct {
	ClientID model.ClientID
	PIN      string
}

// ServerConfig is the (at most one) server configuration (§6.2).
type ServerConfig struct {
	BindPort int
	BindAddr string

	IPLossTolerance time.Duration
	LogFile         string
	Handlers        HandlerMap

	Reporters []ReporterEntry
}

// Validate applies defaults and checks the reporter table, per §6.2.
func (c *ServerConfig) Validate() error {
	if c.BindPort == 0 {
		c.BindPort = DefaultBindPort
	}
	if c.BindPort < 0 || c.BindPort > 65535 {
		return fmt.Errorf("config: server: bindport out of range: %d", c.BindPort)
	}
	if c.BindAddr == "" {
		c.BindAddr = DefaultBindAddr
	}
	if c.IPLossTolerance == 0 {
		c.IPLossTolerance = 2 * DefaultPingInterval
	}
	if c.IPLossTolerance < 0 {
		return fmt.Errorf("config: server: ip_loss_tolerance must be >= 0")
	}

	seen := make(map[model.ClientID]struct{}, len(c.Reporters))
	for i := range c.Reporters {
		r := c.Reporters[i]
		if !r.ClientID.Valid() {
			return &model.ErrInvalidTelenumeric{Field: "reporter.client_id", Value: string(r.ClientID)}
		}
		if r.PIN != "" && !model.ValidTelenumeric(r.PIN) {
			return &model.ErrInvalidTelenumeric{Field: "reporter.pin", Value: r.PIN}
		}
		if _, dup := seen[r.ClientID]; dup {
			return fmt.Errorf("config: server: duplicate reporter client id %s", r.ClientID)
		}
		seen[r.ClientID] = struct{}{}
	}

	return nil
}
