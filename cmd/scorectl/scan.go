package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	goble "github.com/srg/scorectl/internal/device/go-ble"
	"github.com/srg/scorectl/pkg/config"
	"github.com/srg/scorectl/scanner"
)

var (
	scanDuration time.Duration
	scanAll      bool
	scanJSON     bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find nearby displays",
	Long: `Listens for advertisements and lists the displays in range.

Only devices advertising the display service are shown unless --all is given.

Examples:
  scorectl scan
  scorectl scan --duration 30s --all
  scorectl scan --json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanDuration, "duration", 5*time.Second, "Scan duration")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Show every advertising device")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print results as JSON")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanDuration <= 0 {
		return fmt.Errorf("invalid duration %s: must be positive", scanDuration)
	}
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &scanner.ScanOptions{
		Duration:        scanDuration,
		DuplicateFilter: true,
	}
	if !scanAll {
		opts.ServiceUUIDs = []string{cfg.Display.Service}
	}

	progress := NewProgressPrinter(os.Stderr, "Scanning for displays", "listening")
	if !scanJSON {
		opts.OnFound = func(f scanner.Found) {
			progress.SetPhase(fmt.Sprintf("found %s", f.Address))
		}
	}
	progress.Start()

	s := scanner.NewScanner(goble.NewTransport(logger, cfg.ConnectTimeout), logger)
	found, err := s.Scan(ctx, opts, progress.SetPhase)
	progress.Stop()
	if err != nil {
		return err
	}

	if scanJSON {
		return writeScanJSON(cmd.OutOrStdout(), found)
	}
	writeScanTable(cmd.OutOrStdout(), found)
	return nil
}

func writeScanJSON(out io.Writer, found []scanner.Found) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if found == nil {
		found = []scanner.Found{}
	}
	return enc.Encode(found)
}

func writeScanTable(out io.Writer, found []scanner.Found) {
	if len(found) == 0 {
		color.New(color.FgYellow).Fprintln(out, "No displays found")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tRSSI\tSERVICES")
	for _, f := range found {
		name := f.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", f.Address, name, f.RSSI, strings.Join(f.Services, ","))
	}
	_ = w.Flush()
	fmt.Fprintf(out, "\nConnect with: scorectl connect --device %s\n", found[0].Address)
}
