package audiotarget

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/MixyLabs/audiotarget/pkg/audiotarget/util"
)

const (
	crashlogFilename        = "audiotarget-crash-%s.log"
	crashlogTimestampFormat = "2006.01.02-15.04.05"

	crashMessage = `-----------------------------------------------------------------
                     audiotarget crashlog
-----------------------------------------------------------------
Unfortunately, audiotarget has crashed.
To help diagnose the issue, a crashlog has been generated.
Please consider attaching this file when opening an issue at:
https://github.com/MixyLabs/audiotarget/issues/new
-----------------------------------------------------------------
Time: %s
Panic occurred: %s
Stack trace:
%s
-----------------------------------------------------------------
`
)

func (a *AudioTarget) recoverFromPanic() {
	r := recover()

	if r == nil {
		return
	}

	crashlogPath, err := writeCrashlog(logDirectory, time.Now(), r, debug.Stack())
	if err != nil {
		panic(err)
	}

	a.logger.Errorw("Encountered and logged panic, crashing",
		"crashlogPath", crashlogPath,
		"error", r)

	a.notifier.Notify("Unexpected crash occurred...",
		fmt.Sprintf("More details in %s", crashlogPath))

	a.logger.Errorw("Quitting", "exitCode", 1)
	_ = a.logger.Sync()
	os.Exit(1)
}

// writeCrashlog stores the panic value and stack trace under dir, returning the file path
func writeCrashlog(dir string, now time.Time, r any, stack []byte) (string, error) {
	if err := util.EnsureDirExists(dir); err != nil {
		return "", fmt.Errorf("ensure crashlog dir exists: %w", err)
	}

	crashlogBytes := bytes.NewBufferString(fmt.Sprintf(crashMessage, now.Format(crashlogTimestampFormat), r, stack))
	crashlogPath := filepath.Join(dir, fmt.Sprintf(crashlogFilename, now.Format(crashlogTimestampFormat)))

	if err := os.WriteFile(crashlogPath, crashlogBytes.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("can't even write the crashlog file contents: %w", err)
	}

	return crashlogPath, nil
}
