// Package config holds the CLI-derived configuration for the simulator: a
// flat struct populated by flag.Parse and validated before the engine is
// constructed.
package config

import (
	"flag"
	"fmt"
	"math/rand"

	"github.com/dawilster/scada-wtp-simulator/internal/wtperr"
)

// Config is the fully parsed and validated CLI configuration.
type Config struct {
	ModbusPort    uint16
	DashboardPort uint16
	Speed         float64
	Seed          int64
	SeedFromFlag  bool
	NoAutoEvents  bool
}

// Parse parses args against a fresh FlagSet (so repeated calls in tests
// don't collide with the package-level flag.CommandLine), applies defaults,
// and validates the result. A bad flag value or out-of-range port yields a
// wtperr.Config error, which callers should treat as exit code 2.
func Parse(progName string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(progName, flag.ContinueOnError)

	modbusPort := fs.Uint("modbus-port", 502, "Modbus TCP listen port")
	dashboardPort := fs.Uint("dashboard-port", 8080, "Live-push HTTP/WS listen port (WS upgrade at port+1)")
	speed := fs.Float64("speed", 1.0, "Simulated-time compression factor (positive real)")
	seed := fs.Int64("seed", 0, "RNG seed; omit for an OS-randomised seed")
	noAutoEvents := fs.Bool("no-auto-events", false, "Disable the Poisson-scheduled auto rain events")

	if err := fs.Parse(args); err != nil {
		return nil, wtperr.Wrap(wtperr.Config, "parsing flags", err)
	}

	seedProvided := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			seedProvided = true
		}
	})

	cfg := &Config{
		ModbusPort:    uint16(*modbusPort),
		DashboardPort: uint16(*dashboardPort),
		Speed:         *speed,
		Seed:          *seed,
		SeedFromFlag:  seedProvided,
		NoAutoEvents:  *noAutoEvents,
	}

	if !cfg.SeedFromFlag {
		cfg.Seed = rand.New(rand.NewSource(rand.Int63())).Int63()
	}

	if err := cfg.validate(*modbusPort, *dashboardPort); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate(modbusPort, dashboardPort uint) error {
	if modbusPort == 0 || modbusPort > 65535 {
		return wtperr.New(wtperr.Config, fmt.Sprintf("--modbus-port %d out of range 1-65535", modbusPort))
	}
	if dashboardPort == 0 || dashboardPort >= 65535 {
		return wtperr.New(wtperr.Config, fmt.Sprintf("--dashboard-port %d out of range 1-65534 (push feed uses port+1)", dashboardPort))
	}
	if c.Speed <= 0 {
		return wtperr.New(wtperr.Config, fmt.Sprintf("--speed %v must be positive", c.Speed))
	}
	return nil
}

// PushPort is the live-push WebSocket port, one above DashboardPort.
func (c *Config) PushPort() uint16 { return c.DashboardPort + 1 }
