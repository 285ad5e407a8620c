package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MixyLabs/audiotarget/pkg/audiotarget"
)

type deviceSnapshot struct {
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name"`
	Default  bool              `yaml:"default,omitempty"`
	Volume   int               `yaml:"volume"`
	Muted    bool              `yaml:"muted"`
	Sessions []sessionSnapshot `yaml:"sessions,omitempty"`
}

type sessionSnapshot struct {
	Identifier  string `yaml:"identifier"`
	DisplayName string `yaml:"display_name,omitempty"`
	State       string `yaml:"state"`
	Volume      int    `yaml:"volume"`
	Muted       bool   `yaml:"muted"`
}

// listCmd prints every active device with its sessions and exits
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print active audio devices and their sessions as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}

		backend, err := audiotarget.NewBackend(logger)
		if err != nil {
			return fmt.Errorf("create audio backend: %w", err)
		}

		opts := audiotarget.DefaultOptions()
		opts.CheckAllDevices = true
		opts.ReloadInterval = 0

		controller, err := audiotarget.NewController(logger, backend, nil, opts)
		if err != nil {
			return fmt.Errorf("create controller: %w", err)
		}
		defer controller.Release()

		if err := controller.Reload(); err != nil {
			return fmt.Errorf("reload audio devices: %w", err)
		}

		// every device joins the aggregation so each one lists its sessions
		for _, device := range controller.Devices() {
			_ = controller.SetDeviceEnabled(device.ID(), true)
		}

		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		defer encoder.Close()

		return encoder.Encode(snapshot(controller))
	},
}

func snapshot(controller *audiotarget.Controller) []deviceSnapshot {
	def := controller.DefaultDevice()

	var devices []deviceSnapshot

	for _, device := range controller.Devices() {
		ds := deviceSnapshot{
			ID:      device.ID(),
			Name:    device.Name(),
			Default: device == def,
		}

		ds.Volume, _ = device.Volume()
		ds.Muted, _ = device.Muted()

		for _, session := range controller.Sessions() {
			if session.DeviceID() != device.ID() {
				continue
			}

			ss := sessionSnapshot{
				Identifier:  session.ProcessIdentifier(),
				DisplayName: session.DisplayName(),
				State:       session.State().String(),
			}

			ss.Volume, _ = session.Volume()
			ss.Muted, _ = session.Muted()

			ds.Sessions = append(ds.Sessions, ss)
		}

		devices = append(devices, ds)
	}

	return devices
}
