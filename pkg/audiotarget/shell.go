package audiotarget

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"go.uber.org/zap"
)

const shellCommandTimeout = 5 * time.Second

// errShellQuit is returned by Execute for the quit command
var errShellQuit = errors.New("quit")

// Shell drives a running Controller from an interactive prompt, standing in for hotkeys
type Shell struct {
	logger     *zap.SugaredLogger
	controller *Controller
	out        io.Writer
}

func NewShell(logger *zap.SugaredLogger, controller *Controller, out io.Writer) *Shell {
	return &Shell{
		logger:     logger.Named("shell"),
		controller: controller,
		out:        out,
	}
}

// Run reads commands until EOF, quit or ctx is done. The controller's Run loop must be running.
func (s *Shell) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "audiotarget> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    s.completer(),
	})
	if err != nil {
		return fmt.Errorf("create readline: %w", err)
	}
	defer rl.Close()

	s.out = rl.Stdout()
	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			// EOF or interrupt
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}

			return nil
		}

		if err := s.Execute(ctx, line); err != nil {
			if errors.Is(err, errShellQuit) {
				return nil
			}

			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

func (s *Shell) completer() *readline.PrefixCompleter {
	targets := readline.PcItemDynamic(func(string) []string {
		var entries []string
		_ = s.invoke(context.Background(), func(c *Controller) { entries = c.AutocompleteSource() })

		return entries
	})

	devices := readline.PcItemDynamic(func(string) []string {
		var ids []string
		_ = s.invoke(context.Background(), func(c *Controller) {
			for _, device := range c.Devices() {
				ids = append(ids, device.ID())
			}
		})

		return ids
	})

	return readline.NewPrefixCompleter(
		readline.PcItem("target", targets),
		readline.PcItem("enable", devices),
		readline.PcItem("disable", devices),
		readline.PcItem("device", devices),
		readline.PcItem("reload"),
		readline.PcItem("devices"),
		readline.PcItem("sessions"),
		readline.PcItem("next"),
		readline.PcItem("prev"),
		readline.PcItem("next-device"),
		readline.PcItem("prev-device"),
		readline.PcItem("up"),
		readline.PcItem("down"),
		readline.PcItem("set"),
		readline.PcItem("mute"),
		readline.PcItem("lock", readline.PcItem("device"), readline.PcItem("session")),
		readline.PcItem("unlock", readline.PcItem("device"), readline.PcItem("session")),
		readline.PcItem("all-devices", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("foreground"),
		readline.PcItem("status"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

func (s *Shell) invoke(ctx context.Context, fn func(c *Controller)) error {
	ctx, cancel := context.WithTimeout(ctx, shellCommandTimeout)
	defer cancel()

	return s.controller.Invoke(ctx, func() { fn(s.controller) })
}

// Execute runs a single command line on the controller goroutine
func (s *Shell) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	if cmd == "quit" || cmd == "exit" || cmd == "q" {
		fmt.Fprintln(s.out, "Exiting...")
		return errShellQuit
	}

	if cmd == "help" || cmd == "?" {
		s.printHelp()
		return nil
	}

	var cmdErr error

	err := s.invoke(ctx, func(c *Controller) {
		cmdErr = s.dispatch(c, cmd, args)
	})
	if err != nil {
		return fmt.Errorf("run %s: %w", cmd, err)
	}

	return cmdErr
}

func (s *Shell) dispatch(c *Controller, cmd string, args []string) error {
	switch cmd {
	case "reload":
		if err := c.Reload(); err != nil {
			return err
		}

		fmt.Fprintf(s.out, "Reloaded: %d device(s), %d session(s)\n", len(c.Devices()), len(c.Sessions()))

	case "devices", "ls":
		s.printDevices(c)

	case "sessions":
		s.printSessions(c)

	case "target", "t":
		if err := c.SetTarget(strings.Join(args, " ")); err != nil {
			return err
		}

		s.printSelection(c)

	case "device":
		if len(args) != 1 {
			return fmt.Errorf("usage: device <id>")
		}

		if err := c.SelectDevice(args[0]); err != nil {
			return err
		}

		s.printSelection(c)

	case "next", "n":
		c.SelectNextSession()
		s.printSelection(c)

	case "prev", "p":
		c.SelectPreviousSession()
		s.printSelection(c)

	case "next-device":
		c.SelectNextDevice()
		s.printSelection(c)

	case "prev-device":
		c.SelectPreviousDevice()
		s.printSelection(c)

	case "up":
		return s.onTarget(args, c.IncrementSessionVolume, c.IncrementDeviceVolume)

	case "down":
		return s.onTarget(args, c.DecrementSessionVolume, c.DecrementDeviceVolume)

	case "mute":
		return s.onTarget(args, c.ToggleSessionMute, c.ToggleDeviceMute)

	case "set":
		if len(args) == 0 {
			return fmt.Errorf("usage: set <percent> [device]")
		}

		percent, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("parse volume %q: %w", args[0], err)
		}

		return s.onTarget(args[1:],
			func() error { return c.SetSessionVolume(percent) },
			func() error { return c.SetDeviceVolume(percent) })

	case "lock", "unlock":
		locked := cmd == "lock"

		what := "session"
		if len(args) > 0 {
			what = strings.ToLower(args[0])
		}

		switch what {
		case "session":
			c.LockSession(locked)
		case "device":
			c.LockDevice(locked)
		default:
			return fmt.Errorf("usage: %s [device|session]", cmd)
		}

		s.printSelection(c)

	case "enable", "disable":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <device id>", cmd)
		}

		return c.SetDeviceEnabled(args[0], cmd == "enable")

	case "all-devices":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return fmt.Errorf("usage: all-devices on|off")
		}

		c.SetCheckAllDevices(args[0] == "on")
		fmt.Fprintf(s.out, "Sessions of all enabled devices: %t\n", c.CheckAllDevices())

	case "foreground", "fg":
		matched, err := c.TargetForegroundProcess()
		if err != nil {
			return err
		}

		if !matched {
			fmt.Fprintln(s.out, "Foreground app isn't playing audio")
		}

		s.printSelection(c)

	case "status":
		s.printStatus(c)

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}

	return nil
}

// onTarget runs the session variant of a command, or the device one when the first argument is "device"
func (s *Shell) onTarget(args []string, session, device func() error) error {
	if len(args) > 0 && strings.EqualFold(args[0], "device") {
		return device()
	}

	return session()
}

func (s *Shell) printDevices(c *Controller) {
	devices := c.Devices()
	if len(devices) == 0 {
		fmt.Fprintln(s.out, "No devices")
		return
	}

	def := c.DefaultDevice()
	selected := c.SelectedDevice()

	for _, device := range devices {
		var flags []string
		if device == def {
			flags = append(flags, "default")
		}

		if device == selected {
			flags = append(flags, "selected")
		}

		if device.Enabled() {
			flags = append(flags, "enabled")
		}

		volume, err := device.Volume()
		if err != nil {
			volume = -1
		}

		fmt.Fprintf(s.out, "  %-40s %3d%%  %s  [%s]\n", device.Name(), volume, device.ID(), strings.Join(flags, ","))
	}
}

func (s *Shell) printSessions(c *Controller) {
	sessions := c.Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(s.out, "No sessions")
		return
	}

	selected := c.SelectedSession()

	for _, session := range sessions {
		marker := " "
		if session == selected {
			marker = "*"
		}

		volume, err := session.Volume()
		if err != nil {
			volume = -1
		}

		fmt.Fprintf(s.out, "%s %-30s %3d%%  %s\n", marker, session.ProcessIdentifier(), volume, session.Name())
	}
}

func (s *Shell) printSelection(c *Controller) {
	device := "-"
	if d := c.SelectedDevice(); d != nil {
		device = d.String()
	}

	session := "-"
	if sess := c.SelectedSession(); sess != nil {
		session = sess.ProcessIdentifier()
	}

	fmt.Fprintf(s.out, "device: %s  session: %s  target: %q\n", device, session, c.Target())
}

func (s *Shell) printStatus(c *Controller) {
	st := c.State()

	def := "-"
	if d := c.DefaultDevice(); d != nil {
		def = d.String()
	}

	s.printSelection(c)
	fmt.Fprintf(s.out, "default device: %s\n", def)
	fmt.Fprintf(s.out, "locks: device=%t session=%t  all devices: %t\n", st.LockDevice, st.LockSession, c.CheckAllDevices())
	fmt.Fprintf(s.out, "%d device(s), %d session(s)\n", len(c.Devices()), len(c.Sessions()))
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
audiotarget commands:
  Selection:
    target <text>             - Target a session by pid, name or pid:name
    next | prev               - Select the next/previous session
    next-device | prev-device - Select the next/previous device
    device <id>               - Select a device
    foreground                - Target the foreground app
    lock | unlock [device]    - Lock the selected session (or device)

  Volume:
    up | down [device]        - Step the volume of the session (or device)
    set <percent> [device]    - Set the volume
    mute [device]             - Toggle mute

  Devices:
    devices | sessions        - List entities
    enable | disable <id>     - Opt a device in or out of all-devices mode
    all-devices on|off        - Aggregate sessions of every enabled device
    reload                    - Reload devices and sessions

  General:
    status                    - Show the selection and locks
    help                      - Show this help
    quit                      - Exit`)
}
