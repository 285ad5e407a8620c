package audiotarget

import (
	"fmt"
	"strings"

	"github.com/mitchellh/go-ps"
)

const (
	// the synthetic session that plays system sounds has no process behind it
	systemSoundsPID  = 0
	systemSoundsName = "system"
)

// ProcessProbe reports whether a process with the given pid is still running
type ProcessProbe func(pid int64) bool

func processRunning(pid int64) bool {
	if pid == systemSoundsPID {
		return true
	}

	process, err := ps.FindProcess(int(pid))

	return err == nil && process != nil
}

// lookupProcessName returns the executable name of pid without its extension
func lookupProcessName(pid uint32) (string, error) {
	process, err := ps.FindProcess(int(pid))
	if err != nil {
		return "", fmt.Errorf("find process name by pid: %w", err)
	}

	if process == nil {
		return "", errNoSuchProcess
	}

	return trimExecutableExtension(process.Executable()), nil
}

func trimExecutableExtension(name string) string {
	if len(name) > 4 && strings.EqualFold(name[len(name)-4:], ".exe") {
		return name[:len(name)-4]
	}

	return name
}
