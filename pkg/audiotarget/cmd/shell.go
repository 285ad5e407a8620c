package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MixyLabs/audiotarget/pkg/audiotarget"
)

// shellCmd runs the controller in the foreground with an interactive prompt instead of the tray
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Drive the audio target interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}

		serveMetrics(logger.Named("main"))

		backend, err := audiotarget.NewBackend(logger)
		if err != nil {
			return fmt.Errorf("create audio backend: %w", err)
		}

		bus := audiotarget.NewBus()
		defer bus.Close()

		controller, err := audiotarget.NewController(logger, backend, bus, audiotarget.DefaultOptions())
		if err != nil {
			return fmt.Errorf("create controller: %w", err)
		}

		if err := controller.Reload(); err != nil {
			logger.Warnw("Failed to reload audio devices", "error", err)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		runDone := make(chan struct{})

		go func() {
			defer close(runDone)

			if err := controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warnw("Controller stopped unexpectedly", "error", err)
			}
		}()

		shellErr := audiotarget.NewShell(logger, controller, os.Stdout).Run(ctx)

		cancel()
		<-runDone

		if err := controller.Release(); err != nil {
			logger.Warnw("Failed to release controller", "error", err)
		}

		return shellErr
	},
}
