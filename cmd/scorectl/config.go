package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/scorectl/internal/scoreboard"
)

var (
	configPersist    bool
	configBrightness int
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read, change or persist the display configuration",
	Long: `Reads the configuration reported by the display and prints it as JSON.

Examples:
  scorectl config
  scorectl config --brightness 8
  # Store the current setup in the display's flash
  scorectl config --persist`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configPersist, "persist", false, "Persist the current configuration on the display")
	configCmd.Flags().IntVar(&configBrightness, "brightness", -1, "Apply a new brightness before reading")
}

func runConfig(cmd *cobra.Command, _ []string) error {
	return runOnce(cmd, func(ctx context.Context, r *scoreboard.Remote) error {
		received := make(chan scoreboard.Configuration, 1)
		r.OnConfiguration(func(c scoreboard.Configuration) {
			select {
			case received <- c:
			default:
			}
		})

		if configBrightness >= 0 {
			if err := r.ApplyConfiguration(r.Configuration().WithBrightness(configBrightness)); err != nil {
				return err
			}
		}
		if configPersist {
			if err := r.PersistConfig(); err != nil {
				return err
			}
		}
		if err := r.RequestConfig(); err != nil {
			return err
		}

		var cfg scoreboard.Configuration
		select {
		case cfg = <-received:
		case <-ctx.Done():
			return ctx.Err()
		}

		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}
		fmt.Fprintln(os.Stdout, string(data))
		if configPersist {
			color.New(color.FgGreen).Fprintln(os.Stdout, "Configuration persisted")
		}
		return nil
	})
}
