package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/api"
	"github.com/dselans/fivehundred/config"
	"github.com/dselans/fivehundred/deps"
	"github.com/dselans/fivehundred/services/source"
)

const shutdownTimeout = 10 * time.Second

var (
	version = "v0.0.0"
)

func main() {
	cfg := config.New(version)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("unable to validate config: %s", err)
	}

	d, err := deps.New(cfg)
	if err != nil {
		log.Fatalf("Could not setup dependencies: %s", err)
	}

	go runSignalListener(d)

	command := cfg.Command()

	d.Log.Debug("Running command", zap.String("command", command))

	if command == "serve" {
		err = serve(cfg, d)
	} else {
		err = runCommand(d, command)
	}

	d.ShutdownCancel()
	waitForPublisher(d)
	d.Close()

	if err != nil {
		if source.IsFatalSetup(err) {
			d.Log.Error("Setup failure", zap.String("command", command), zap.Error(err))
		} else {
			d.Log.Error("Command failed", zap.String("command", command), zap.Error(err))
		}

		os.Exit(1)
	}
}

func serve(cfg *config.Config, d *deps.Dependencies) error {
	a, err := api.New(cfg, d, version)
	if err != nil {
		return errors.Wrap(err, "unable to create API instance")
	}

	if d.ProcessorService != nil {
		if err := d.ProcessorService.StartConsumers(); err != nil {
			return errors.Wrap(err, "unable to start consumers")
		}
	} else {
		d.Log.Info("Messaging disabled; lookup consumer not started")
	}

	errCh := make(chan error, 1)

	go func() {
		if err := a.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "API server run() failed")
	case <-d.ShutdownCtx.Done():
		return nil
	}
}

func runSignalListener(d *deps.Dependencies) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		d.Log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		d.ShutdownCancel()
	case <-d.ShutdownCtx.Done():
	}
}

func waitForPublisher(d *deps.Dependencies) {
	if d.PublisherShutdownDoneCh == nil {
		return
	}

	select {
	case <-d.PublisherShutdownDoneCh:
	case <-time.After(shutdownTimeout):
		d.Log.Warn("Timed out waiting for publisher shutdown")
	}
}
