package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "scorectl",
	Short: "Remote control for a Bluetooth LE scoreboard",
	Long: fmt.Sprintf(`Remote control for a Bluetooth Low Energy LED scoreboard:

- Keep a connection to the display and reconnect when it drops
- Edit and send the score interactively
- Set the display clock, brightness, shown fields and scroll mode
- Read and persist the display configuration

The last connected display is remembered, so --device can be omitted afterwards.

%s`, deviceAddressNote),
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("scorectl {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(timeCmd)
	rootCmd.AddCommand(brightnessCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(scrollCmd)
	rootCmd.AddCommand(ledsCmd)
	rootCmd.AddCommand(configCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringP("device", "d", "", "Display address; defaults to the last connected display")
	rootCmd.PersistentFlags().Duration("timeout", defaultCommandTimeout, "Time allowed to connect and deliver commands")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
