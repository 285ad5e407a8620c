package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

var errForegroundUnsupported = errors.New("foreground window lookup is only implemented on Windows")

func getCurrentWindowProcessNames() ([]string, error) {
	return nil, errForegroundUnsupported
}

// CreateMutex emulates a named mutex with a pid lock file in the temp directory
func CreateMutex(name string) error {
	lockFile := filepath.Join(os.TempDir(), name+".lock")
	currentPid := os.Getpid()

	lockContent, err := os.ReadFile(lockFile)
	if err == nil {
		content := strings.TrimSpace(string(lockContent))

		if content != "" && content != strconv.Itoa(currentPid) {
			lockProcessID, _ := strconv.Atoi(content)

			process, err := os.FindProcess(lockProcessID)
			if err == nil && lockProcessID > 0 && process.Signal(syscall.Signal(0)) == nil {
				return fmt.Errorf("another instance of %s is running", name)
			}
		}
	}

	if err := os.WriteFile(lockFile, []byte(strconv.Itoa(currentPid)), 0o644); err != nil {
		return fmt.Errorf("write mutex lock file: %w", err)
	}

	return nil
}
