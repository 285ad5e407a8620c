package util

import (
	"fmt"
	"syscall"
	"time"

	"github.com/lxn/win"
	"github.com/mitchellh/go-ps"
	"golang.org/x/sys/windows"
)

const (
	getCurrentWindowInternalCooldown = time.Millisecond * 350
)

var (
	lastGetCurrentWindowResult []string
	lastGetCurrentWindowCall   = time.Now()

	// windows caps the number of callbacks a process can create, so there's exactly one
	enumChildWindowsCallback = syscall.NewCallback(enumChildWindow)
	childProcessNames        []string
)

// enumChildWindow adds the process of every child window not owned by the parent's pid (lParam)
func enumChildWindow(childHWND win.HWND, lParam uintptr) uintptr {
	var childPID uint32
	win.GetWindowThreadProcessId(childHWND, &childPID)

	if uintptr(childPID) != lParam {
		// FIXME: this can silently fail, needs to be tested more thoroughly and possibly reverted in the future
		if actualProcess, err := ps.FindProcess(int(childPID)); err == nil && actualProcess != nil {
			childProcessNames = append(childProcessNames, actualProcess.Executable())
		}
	}

	// indicates to the system to keep iterating
	return 1
}

func getCurrentWindowProcessNames() ([]string, error) {
	// apply an internal cooldown on this function to avoid calling windows API functions too frequently.
	// return a cached value during that cooldown
	now := time.Now()
	if lastGetCurrentWindowCall.Add(getCurrentWindowInternalCooldown).After(now) {
		return lastGetCurrentWindowResult, nil
	}

	lastGetCurrentWindowCall = now

	// UWP apps are rendered inside ApplicationFrameHost.exe, and other container processes (steam, game
	// launchers) hide their audio-playing child the same way. GetForegroundWindow returns the container's
	// window, so child windows with a different pid are reported as candidates too.
	result := []string{}

	hwnd := win.GetForegroundWindow()

	var ownerPID uint32
	win.GetWindowThreadProcessId(hwnd, &ownerPID)

	// check for system PID (0)
	if ownerPID == 0 {
		return nil, nil
	}

	process, err := ps.FindProcess(int(ownerPID))
	if err != nil {
		return nil, fmt.Errorf("get parent process for pid %d: %w", ownerPID, err)
	}

	if process != nil {
		result = append(result, process.Executable())
	}

	// iterate its child windows, adding their names too
	childProcessNames = result
	win.EnumChildWindows(hwnd, enumChildWindowsCallback, uintptr(ownerPID))
	result = childProcessNames

	// cache & return whichever executable names we ended up with
	lastGetCurrentWindowResult = result

	return result, nil
}

// CreateMutex fails when another instance already holds the named mutex.
// The OS releases it on program exit.
func CreateMutex(name string) error {
	mutexName, err := windows.UTF16PtrFromString("Global\\" + name)
	if err != nil {
		return fmt.Errorf("encode mutex name: %w", err)
	}

	if _, err := windows.CreateMutex(nil, false, mutexName); err != nil {
		if err == windows.ERROR_ALREADY_EXISTS {
			return fmt.Errorf("another instance of %s is running", name)
		}

		return fmt.Errorf("create mutex: %w", err)
	}

	return nil
}
