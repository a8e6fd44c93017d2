package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/scorectl/internal/scoreboard"
)

// runOnce connects, runs fn against the remote, waits for delivery and disconnects.
func runOnce(cmd *cobra.Command, fn func(ctx context.Context, r *scoreboard.Remote) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.resolveDevice(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	if err := a.connect(ctx, id); err != nil {
		return err
	}
	if err := fn(ctx, a.remote); err != nil {
		return err
	}
	if err := a.flush(ctx); err != nil {
		return err
	}
	if err := a.remote.Disconnect(); err != nil {
		a.logger.WithField("error", err).Debug("Disconnect after command")
	}
	return nil
}

func printDone(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(os.Stdout, "✓ ")
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}

// parseOnOff accepts on/off, true/false, yes/no and 1/0.
func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch value %q (must be on or off)", s)
}

// parseScoreArgs parses "<left> <right>" or "<left>:<right>".
func parseScoreArgs(args []string) (scoreboard.Score, error) {
	if len(args) == 1 {
		args = strings.SplitN(args[0], ":", 2)
	}
	if len(args) != 2 {
		return scoreboard.Score{}, fmt.Errorf("score requires left and right values")
	}
	var v [2]int
	for i, a := range args {
		n, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil {
			return scoreboard.Score{}, fmt.Errorf("invalid score %q: %w", a, err)
		}
		if n < scoreboard.MinScore || n > scoreboard.MaxScore {
			return scoreboard.Score{}, fmt.Errorf("score %d out of range [%d, %d]", n, scoreboard.MinScore, scoreboard.MaxScore)
		}
		v[i] = n
	}
	return scoreboard.NewScore(v[0], v[1]), nil
}

var scoreReversed bool

var scoreCmd = &cobra.Command{
	Use:   "score <left> <right>",
	Short: "Show a score on the display",
	Long: fmt.Sprintf(`Sends the score to the display.

Examples:
  scorectl score 11 9 --device %s
  scorectl score 11:9
  # Operator stands on the other side of the display
  scorectl score 11 9 --reversed`, exampleDeviceAddress),
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := parseScoreArgs(args)
		if err != nil {
			return err
		}
		return runOnce(cmd, func(_ context.Context, r *scoreboard.Remote) error {
			if err := r.SendScore(s, scoreReversed); err != nil {
				return err
			}
			printDone("Score %s sent", scoreboard.ScoreCommand(s, scoreReversed))
			return nil
		})
	},
}

var timeCmd = &cobra.Command{
	Use:   "time",
	Short: "Set the display clock to the local time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOnce(cmd, func(_ context.Context, r *scoreboard.Remote) error {
			// The connect sequence already sends the time; send again so the
			// command is explicit in the log.
			if err := r.SendTime(); err != nil {
				return err
			}
			printDone("Clock set")
			return nil
		})
	},
}

var brightnessCmd = &cobra.Command{
	Use:   "brightness <level>",
	Short: fmt.Sprintf("Set the LED brightness (%d-%d)", scoreboard.MinBrightness, scoreboard.MaxBrightness),
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid brightness %q: %w", args[0], err)
		}
		if _, err := scoreboard.BrightnessCommand(level); err != nil {
			return err
		}
		return runOnce(cmd, func(_ context.Context, r *scoreboard.Remote) error {
			if err := r.SendBrightness(level); err != nil {
				return err
			}
			printDone("Brightness set to %d", level)
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:       "show <score|date|time> <on|off>",
	Short:     "Choose which fields the display shows",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"score", "date", "time"},
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseOnOff(args[1])
		if err != nil {
			return err
		}
		var send func(*scoreboard.Remote, bool) error
		switch args[0] {
		case "score":
			send = (*scoreboard.Remote).SetShowScore
		case "date":
			send = (*scoreboard.Remote).SetShowDate
		case "time":
			send = (*scoreboard.Remote).SetShowTime
		default:
			return fmt.Errorf("unknown field %q (must be score, date or time)", args[0])
		}
		return runOnce(cmd, func(_ context.Context, r *scoreboard.Remote) error {
			if err := send(r, on); err != nil {
				return err
			}
			printDone("Show %s: %s", args[0], args[1])
			return nil
		})
	},
}

var scrollCmd = &cobra.Command{
	Use:   "scroll <on|off>",
	Short: "Scroll the fields (on) or alternate between them (off)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		return runOnce(cmd, func(_ context.Context, r *scoreboard.Remote) error {
			if err := r.SetScroll(on); err != nil {
				return err
			}
			printDone("Scroll: %s", args[0])
			return nil
		})
	},
}

var ledsCmd = &cobra.Command{
	Use:   "leds <on|off>",
	Short: "Light every LED, for checking the panel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		return runOnce(cmd, func(_ context.Context, r *scoreboard.Remote) error {
			if err := r.SetAllLedsOn(on); err != nil {
				return err
			}
			printDone("All LEDs: %s", args[0])
			return nil
		})
	},
}
