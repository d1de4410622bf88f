package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/osbuild/installer-core/internal/bus"
	"github.com/osbuild/installer-core/internal/installer"
	"github.com/osbuild/installer-core/internal/structure"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the installation status of a running bus",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := bus.NewClient(bus.ClientConfig{
			Socket:   config.Bus.Socket,
			BaseURL:  "http://" + config.Bus.Listen,
			RetryMax: 3,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			return err
		}
		v, err := client.Get(cmd.Context(), bus.BossPath, bus.BossInterface, "RunStatus")
		if err != nil {
			return err
		}
		status, err := structure.FromVariant[installer.StatusData](v)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}
