package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// ========================================
// CLI entry point
// ========================================

var (
	flagDevice         string
	flagDuration       string
	flagLogName        string
	flagNoSessionCheck bool
	flagVerbose        bool
	flagLimit          int
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:   "stbtest",
		Short: "Endurance test driver for Android set-top boxes",
		Long: `stbtest runs long endurance tests against Android set-top boxes over adb,
surviving reboots, network drops and standby along the way. Without a
subcommand it starts an interactive menu.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				warnIfNoSession()
				outcome, err := newMenu(app).Run(ctx)
				return exitWith(outcome, err)
			})
		},
	}
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	runCmd := &cobra.Command{
		Use:   "run <test>",
		Short: "Run an endurance test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				if !flagNoSessionCheck {
					warnIfNoSession()
				}
				budget, err := parseBudget(flagDuration)
				if err != nil {
					return err
				}
				outcome, err := app.RunTest(ctx, flagDevice, args[0], budget, flagLogName)
				return exitWith(outcome, err)
			})
		},
	}
	runCmd.Flags().StringVarP(&flagDevice, "device", "d", "", "device address (host:port or serial)")
	runCmd.Flags().StringVarP(&flagDuration, "duration", "t", "12h", "time budget (12h, 24h, or seconds)")
	runCmd.Flags().StringVarP(&flagLogName, "log-name", "l", "", "session log name (default log_<test>)")
	runCmd.Flags().BoolVar(&flagNoSessionCheck, "no-session-check", false, "skip the screen/tmux session warning")
	runCmd.MarkFlagRequired("device")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available tests and recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				printTests(app)
				printRuns(app, flagLimit)
				return nil
			})
		},
	}
	listCmd.Flags().IntVarP(&flagLimit, "limit", "n", 10, "number of recent runs to show")

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices known to adb",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				devices, err := app.ListDevices(ctx)
				if err != nil {
					return err
				}
				if len(devices) == 0 {
					fmt.Println("No devices found.")
					return nil
				}
				for _, d := range devices {
					fmt.Printf("%-28s %-12s %s\n", d.ID, d.State, d.Model)
				}
				return nil
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the event stream of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				events, err := app.Store().EventsForRun(args[0])
				if err != nil {
					return err
				}
				if len(events) == 0 {
					fmt.Println("No events recorded for", args[0])
					return nil
				}
				for _, ev := range events {
					ts := time.UnixMilli(ev.Timestamp).Format("2006-01-02 15:04:05")
					line := fmt.Sprintf("%s  %-5s %-16s %s", ts, ev.Level, ev.Type, ev.Message)
					if ev.Detail != "" {
						line += "  (" + ev.Detail + ")"
					}
					fmt.Println(line)
				}
				return nil
			})
		},
	}

	root.AddCommand(runCmd, listCmd, devicesCmd, showCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		return reportExit(os.Stderr, err)
	}
	return 0
}

// reportExit maps a command error to the process exit code. Setup errors
// (unknown test, bad device ID) have no session log, so their message must
// reach stderr; finished runs carry a nil inner error because their terminal
// line already went to the session log.
func reportExit(w io.Writer, err error) int {
	var ec *exitError
	if errors.As(err, &ec) {
		if ec.err != nil {
			fmt.Fprintln(w, "Error:", ec.err)
		}
		return ec.code
	}
	fmt.Fprintln(w, "Error:", err)
	return 1
}

// withApp builds the App, runs fn and tears the App down afterwards.
// Diagnostics go to the rotated file log as well as the console: a 24 hour
// unattended run must keep its history even when the terminal scrolls away.
func withApp(ctx context.Context, fn func(context.Context, *App) error) error {
	cfg := PersistentLogConfig(filepath.Join(configDir(), "data"))
	if flagVerbose {
		cfg.Level = LogLevelDebug
	}
	if err := InitLogger(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "WARNING: file logging unavailable:", err)
	}

	app, err := NewApp()
	if err != nil {
		return err
	}
	defer app.Shutdown()

	return fn(ctx, app)
}

// exitError smuggles a specific exit code through cobra's error path.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

// exitWith maps a run outcome to the process exit code. Setup errors keep
// their message; a run that started always exits via its outcome.
func exitWith(outcome Outcome, err error) error {
	if err != nil && outcome == OutcomeIncomplete && errors.Is(err, context.Canceled) {
		outcome = OutcomeAbortedBySignal
	}
	code := outcome.ExitCode()
	if code == 0 {
		return nil
	}
	return &exitError{code: code, err: err}
}

// parseBudget accepts Go durations ("12h", "90m") or plain seconds.
func parseBudget(raw string) (time.Duration, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		if d <= 0 {
			return 0, errors.New("duration must be positive")
		}
		if d > maxRunSeconds*time.Second {
			return 0, fmt.Errorf("duration exceeds the maximum of %ds", maxRunSeconds)
		}
		return d, nil
	}
	return parseCustomDuration(raw)
}

// warnIfNoSession nags when the run isn't under screen or tmux. A 24 hour
// run dies with the SSH session otherwise.
func warnIfNoSession() {
	if os.Getenv("STY") == "" && os.Getenv("TMUX") == "" {
		fmt.Fprintln(os.Stderr, "WARNING: not running inside screen or tmux; a dropped SSH session will abort the test")
	}
}

func printTests(app *App) {
	fmt.Println("Available tests:")
	for _, t := range app.Catalog().List() {
		fmt.Printf("  %-18s %s\n", t.Name, t.Title)
	}
}

func printRuns(app *App, limit int) {
	runs, err := app.Store().ListRuns(limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to list runs:", err)
		return
	}
	if len(runs) == 0 {
		return
	}

	fmt.Println("\nRecent runs:")
	for _, r := range runs {
		start := time.UnixMilli(r.StartTime).Format("2006-01-02 15:04")
		dur := "-"
		if r.EndTime > 0 {
			dur = (time.Duration(r.EndTime-r.StartTime) * time.Millisecond).Round(time.Second).String()
		}
		fmt.Printf("  %s  %-18s %-22s %-10s loops=%-5d reconnects=%d  %s\n",
			start, r.Test, r.Device, r.Outcome, r.Loops, r.Reconnections, dur)
	}
}
