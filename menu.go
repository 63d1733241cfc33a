package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// ========================================
// Interactive menu - guided run setup
// ========================================
//
// Lab operators start most runs by hand. The menu walks through device,
// test, duration and log name, then hands off to the same RunTest path the
// CLI uses.

// maxRunSeconds caps custom durations at five days.
const maxRunSeconds = 432000

type menu struct {
	app *App
	in  *bufio.Reader
	out io.Writer
}

func newMenu(app *App) *menu {
	return &menu{app: app, in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

func (m *menu) printf(format string, args ...interface{}) {
	fmt.Fprintf(m.out, format, args...)
}

func (m *menu) readLine(prompt string) (string, error) {
	m.printf("%s", prompt)
	line, err := m.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Run drives the full interactive flow and returns the run outcome.
func (m *menu) Run(ctx context.Context) (Outcome, error) {
	device, err := m.chooseDevice(ctx)
	if err != nil {
		return OutcomeIncomplete, err
	}

	test, err := m.chooseTest()
	if err != nil {
		return OutcomeIncomplete, err
	}

	budget, err := m.chooseDuration()
	if err != nil {
		return OutcomeIncomplete, err
	}

	logName, err := m.readLine("Log name (empty for default): ")
	if err != nil {
		return OutcomeIncomplete, err
	}

	m.printf("\nStarting '%s' on %s for %s\n\n", test, device, budget)
	return m.app.RunTest(ctx, device, test, budget, logName)
}

func (m *menu) chooseDevice(ctx context.Context) (string, error) {
	devices, err := m.app.ListDevices(ctx)
	if err != nil {
		LogWarn("menu").Err(err).Msg("device enumeration failed")
	}

	m.printf("\n=== Device selection ===\n")
	for i, d := range devices {
		m.printf("  %d) %s  [%s] %s\n", i+1, d.ID, d.State, d.Model)
	}
	m.printf("  0) Enter an IP address manually\n")

	choice, err := m.readLine("Device: ")
	if err != nil {
		return "", err
	}

	if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(devices) {
		return devices[n-1].ID, nil
	}

	var def string
	if m.app.settings.LastDevice != "" {
		def = m.app.settings.LastDevice
		m.printf("Last used: %s\n", def)
	}
	addr, err := m.readLine("Device IP (host or host:port): ")
	if err != nil {
		return "", err
	}
	if addr == "" {
		addr = def
	}
	if addr != "" && !strings.Contains(addr, ":") {
		addr += ":5555"
	}
	if err := ValidateDeviceID(addr); err != nil {
		return "", err
	}
	return addr, nil
}

func (m *menu) chooseTest() (string, error) {
	m.printf("\n=== Test selection ===\n")
	tests := m.app.Catalog().List()
	for i, t := range tests {
		m.printf("  %d) %-18s %s\n", i+1, t.Name, t.Title)
	}

	choice, err := m.readLine("Test: ")
	if err != nil {
		return "", err
	}
	if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(tests) {
		return tests[n-1].Name, nil
	}
	if _, err := m.app.Catalog().Get(choice); err != nil {
		return "", err
	}
	return choice, nil
}

func (m *menu) chooseDuration() (time.Duration, error) {
	m.printf("\n=== Duration ===\n")
	m.printf("  1) 12 hours\n")
	m.printf("  2) 24 hours\n")
	m.printf("  3) Custom (seconds, max %d)\n", maxRunSeconds)

	choice, err := m.readLine("Duration: ")
	if err != nil {
		return 0, err
	}

	switch choice {
	case "1":
		return 12 * time.Hour, nil
	case "2":
		return 24 * time.Hour, nil
	case "3":
		raw, err := m.readLine("Seconds: ")
		if err != nil {
			return 0, err
		}
		return parseCustomDuration(raw)
	default:
		return 0, fmt.Errorf("invalid duration choice '%s'", choice)
	}
}

func parseCustomDuration(raw string) (time.Duration, error) {
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration '%s'", raw)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	if secs > maxRunSeconds {
		return 0, fmt.Errorf("duration %ds exceeds the maximum of %ds", secs, maxRunSeconds)
	}
	return time.Duration(secs) * time.Second, nil
}
