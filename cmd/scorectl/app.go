package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/scorectl/internal/device"
	goble "github.com/srg/scorectl/internal/device/go-ble"
	"github.com/srg/scorectl/internal/gatt"
	"github.com/srg/scorectl/internal/groutine"
	"github.com/srg/scorectl/internal/radio"
	"github.com/srg/scorectl/internal/reconnect"
	"github.com/srg/scorectl/internal/scoreboard"
	"github.com/srg/scorectl/internal/store"
	"github.com/srg/scorectl/pkg/config"
)

const (
	defaultCommandTimeout = 30 * time.Second
	pollInterval          = 50 * time.Millisecond
)

// app is the composition root shared by all commands.
type app struct {
	cfg        *config.Config
	logger     *logrus.Logger
	manager    *gatt.Manager
	radio      radio.Watcher
	lastDevice store.LastDeviceStore
	supervisor *reconnect.Supervisor
	remote     *scoreboard.Remote
	timeout    time.Duration
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	statePath := cfg.StateFile
	if statePath == "" {
		if statePath, err = store.DefaultPath(); err != nil {
			return nil, err
		}
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	transport := goble.NewTransport(logger, cfg.ConnectTimeout)
	manager := gatt.NewManager(transport, nil, logger, cfg.ManagerOptions())
	adapter := radio.Open(cfg.Adapter, logger)
	lastDevice := store.NewFileStore(statePath)
	supervisor := reconnect.NewSupervisor(manager, adapter, logger, cfg.ReconnectOptions())

	return &app{
		cfg:        cfg,
		logger:     logger,
		manager:    manager,
		radio:      adapter,
		lastDevice: lastDevice,
		supervisor: supervisor,
		remote:     scoreboard.NewRemote(ctx, manager, supervisor, lastDevice, logger, cfg.RemoteOptions()),
		timeout:    timeout,
	}, nil
}

func (a *app) Close() {
	a.remote.Shutdown()
	a.manager.Close()
	if c, ok := a.radio.(io.Closer); ok {
		_ = c.Close()
	}
}

// resolveDevice returns --device, or the last connected display.
func (a *app) resolveDevice(cmd *cobra.Command) (string, error) {
	if id, _ := cmd.Flags().GetString("device"); id != "" {
		return id, nil
	}
	id, err := a.lastDevice.LastDevice()
	if err != nil {
		return "", fmt.Errorf("no display address: %w", err)
	}
	return id, nil
}

// connect opens the link and waits for the display to become ready.
func (a *app) connect(ctx context.Context, id string) error {
	if !a.radio.Enabled() {
		return device.ErrBluetoothOff
	}

	progress := NewProgressPrinter(os.Stderr, fmt.Sprintf("Connecting to %s", id), "waiting")
	progress.Start()
	defer progress.Stop()

	if err := a.remote.Connect(id); err != nil && !errors.Is(err, device.ErrAlreadyConnected) {
		return err
	}
	if err := waitFor(ctx, a.timeout, a.remote.Ready); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", id, err)
	}
	return nil
}

// flush waits until every queued operation has been executed.
func (a *app) flush(ctx context.Context) error {
	idle := func() bool {
		return a.manager.QueueLen() == 0 && a.manager.PendingOperation() == nil
	}
	if err := waitFor(ctx, a.timeout, idle); err != nil {
		return fmt.Errorf("commands not delivered: %w", err)
	}
	if !a.remote.Ready() {
		return ErrConnectionLost
	}
	return nil
}

// waitFor polls cond until it holds, ctx ends or timeout elapses.
func waitFor(ctx context.Context, timeout time.Duration, cond func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for !cond() {
		if !groutine.Sleep(ctx, pollInterval) {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return device.ErrTimeout
			}
			return ctx.Err()
		}
	}
	return nil
}
