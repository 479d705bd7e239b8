package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/dawilster/scada-wtp-simulator/internal/config"
	"github.com/dawilster/scada-wtp-simulator/internal/engine"
	"github.com/dawilster/scada-wtp-simulator/internal/log"
	"github.com/dawilster/scada-wtp-simulator/internal/modbus"
	"github.com/dawilster/scada-wtp-simulator/internal/push"
)

const (
	version        = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH
	pendingCap     = 256
	intakeCapacity = 256
)

func main() {
	cfg, err := config.Parse("wtpsim", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := log.Init(false); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(70)
	}
	defer log.Sync()

	log.Infof("wtpsim %s starting: modbus=:%d dashboard=:%d speed=%gx seed=%d auto-events=%v",
		version, cfg.ModbusPort, cfg.DashboardPort, cfg.Speed, cfg.Seed, !cfg.NoAutoEvents)

	if err := run(cfg); err != nil {
		log.Errorf("fatal: %v", err)
		os.Exit(70)
	}
}

func run(cfg *config.Config) error {
	eng := engine.New(cfg.Seed, cfg.Speed, !cfg.NoAutoEvents)

	modbusSrv := modbus.NewServer(fmt.Sprintf(":%d", cfg.ModbusPort), eng.Bank, pendingCap)
	if err := modbusSrv.Listen(); err != nil {
		return err
	}

	intakeCh := make(chan engine.IntakeRequest, intakeCapacity)
	pushSrv := push.NewServer(eng,
		fmt.Sprintf(":%d", cfg.DashboardPort),
		fmt.Sprintf(":%d", cfg.PushPort()),
		intakeCh)
	if err := pushSrv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := modbusSrv.Serve(ctx); err != nil {
			eng.SetCommFault(true)
			log.Errorf("modbus: server exited: %v", err)
		}
	}()
	go func() {
		if err := pushSrv.Run(ctx); err != nil {
			log.Errorf("push: server exited: %v", err)
		}
	}()
	go eng.RunIntake(ctx, intakeCh)
	go streamStdinCommands(ctx, intakeCh)

	eng.Run(ctx, modbusSrv.Pending)

	log.Infof("shutdown complete after %d ticks", eng.Ticks())
	return nil
}
