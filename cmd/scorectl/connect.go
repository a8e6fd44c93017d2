package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/scorectl/internal/device"
	"github.com/srg/scorectl/internal/gatt"
	"github.com/srg/scorectl/internal/groutine"
	"github.com/srg/scorectl/internal/scoreboard"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Stay connected to the display and edit the score interactively",
	Long: fmt.Sprintf(`Connects to the display and keeps the connection alive, reconnecting
when the link drops or Bluetooth comes back on.

Without --device the last connected display is used.

Type "help" at the prompt for the list of commands.

Examples:
  scorectl connect --device %s
  scorectl connect`, exampleDeviceAddress),
	Args: cobra.NoArgs,
	RunE: runConnect,
}

type replAction int

const (
	actNone replAction = iota
	actLeftUp
	actLeftDown
	actRightUp
	actRightDown
	actSwap
	actFlip
	actReset
	actSend
	actUndo
	actTime
	actConfig
	actStatus
	actHelp
	actQuit
)

var replCommands = map[string]replAction{
	"l+":     actLeftUp,
	"l-":     actLeftDown,
	"r+":     actRightUp,
	"r-":     actRightDown,
	"swap":   actSwap,
	"flip":   actFlip,
	"reset":  actReset,
	"ok":     actSend,
	"send":   actSend,
	"undo":   actUndo,
	"time":   actTime,
	"config": actConfig,
	"status": actStatus,
	"help":   actHelp,
	"?":      actHelp,
	"quit":   actQuit,
	"exit":   actQuit,
	"q":      actQuit,
}

const replHelp = `Commands:
  l+ / l-     change the left score
  r+ / r-     change the right score
  swap        swap left and right
  flip        toggle which side of the display you stand on
  reset       set the score to 0:0
  ok, send    send the edited score to the display
  undo        drop unsent edits
  time        set the display clock
  config      show the display configuration
  status      show connection and score state
  quit        disconnect and exit`

// parseReplCommand maps one input line to an action. Blank lines are actNone.
func parseReplCommand(line string) (replAction, error) {
	word := strings.ToLower(strings.TrimSpace(line))
	if word == "" {
		return actNone, nil
	}
	if a, ok := replCommands[word]; ok {
		return a, nil
	}
	return actNone, fmt.Errorf("unknown command %q, type help", word)
}

// applyEdit changes the keeper for score editing actions. It reports false
// for actions that are not local edits.
func applyEdit(k *scoreboard.Keeper, a replAction) bool {
	switch a {
	case actLeftUp:
		k.Update(scoreboard.Score.IncrementLeft)
	case actLeftDown:
		k.Update(scoreboard.Score.DecrementLeft)
	case actRightUp:
		k.Update(scoreboard.Score.IncrementRight)
	case actRightDown:
		k.Update(scoreboard.Score.DecrementRight)
	case actSwap:
		k.Update(scoreboard.Score.Swap)
	case actReset:
		k.Update(scoreboard.Score.Reset)
	case actFlip:
		k.ToggleOrientation()
	case actUndo:
		k.Revert()
	default:
		return false
	}
	return true
}

// describeKeeper renders the edited score, marking unsent changes.
func describeKeeper(k *scoreboard.Keeper) string {
	side := "front"
	if k.Reversed() {
		side = "back"
	}
	s := fmt.Sprintf("%s (%s)", k.Score(), side)
	if change := k.Pending(); change != scoreboard.ChangeNone {
		s += fmt.Sprintf(" * unsent %s change, last sent %s", change, k.Confirmed())
	}
	return s
}

func runConnect(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	status := &gatt.Listener{
		OnConnect: func(id string) {
			green.Fprintf(out, "\n● connected to %s\n", id)
		},
		OnDisconnect: func(id string) {
			yellow.Fprintf(out, "\n○ disconnected from %s\n", id)
		},
	}
	sub := a.manager.RegisterListener(status)
	defer sub.Unsubscribe()

	a.remote.OnConfiguration(func(c scoreboard.Configuration) {
		fmt.Fprintf(out, "\ndisplay configuration: %s\n", formatConfiguration(c))
	})

	if err := a.radio.Watch(ctx, a.remote.SetRadioEnabled); err != nil {
		a.logger.WithField("error", err).Warn("Cannot watch Bluetooth power state")
	}

	cmd.SilenceUsage = true

	if id, _ := cmd.Flags().GetString("device"); id != "" {
		if !a.radio.Enabled() {
			return device.ErrBluetoothOff
		}
		if err := a.remote.Connect(id); err != nil {
			return err
		}
	} else {
		id, err := a.remote.AutoConnect()
		if err != nil {
			return fmt.Errorf("no display address: %w", err)
		}
		fmt.Fprintf(out, "Reconnecting to %s\n", id)
	}

	err = repl(ctx, a, cmd.InOrStdin(), out)
	_ = a.remote.Disconnect()
	runtime.KeepAlive(status)
	return err
}

// repl reads commands until quit, EOF or ctx cancellation.
func repl(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	groutine.Go(ctx, "stdin", func(ctx context.Context) {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	})

	keeper := scoreboard.NewKeeper()
	red := color.New(color.FgRed)
	fmt.Fprintln(out, `Type "help" for commands.`)

	for {
		fmt.Fprintf(out, "%s> ", keeper.Score())
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = l
		}

		action, err := parseReplCommand(line)
		if err != nil {
			red.Fprintln(out, err)
			continue
		}
		if applyEdit(keeper, action) {
			fmt.Fprintln(out, describeKeeper(keeper))
			continue
		}

		switch action {
		case actNone:
		case actHelp:
			fmt.Fprintln(out, replHelp)
		case actQuit:
			return nil
		case actStatus:
			state := "not ready"
			if a.remote.Ready() {
				state = "ready"
			}
			fmt.Fprintf(out, "display %s: %s\nscore %s\n", a.remote.Display(), state, describeKeeper(keeper))
		case actSend:
			err = a.remote.CommitScore(keeper)
		case actTime:
			err = a.remote.SendTime()
		case actConfig:
			err = a.remote.RequestConfig()
		}
		if err != nil {
			red.Fprintln(out, FormatUserError(err))
			if !errors.Is(err, device.ErrNotConnected) {
				a.logger.WithField("error", err).Debug("Command failed")
			}
		}
	}
}

func formatConfiguration(c scoreboard.Configuration) string {
	onOff := func(v bool) string {
		if v {
			return "on"
		}
		return "off"
	}
	return fmt.Sprintf("brightness=%d score=%s date=%s time=%s scroll=%s",
		c.Brightness, onOff(c.UseScore), onOff(c.UseDate), onOff(c.UseTime), onOff(c.Scroll))
}
