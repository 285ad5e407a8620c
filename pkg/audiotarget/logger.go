package audiotarget

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MixyLabs/audiotarget/pkg/audiotarget/util"
)

const (
	buildTypeRelease = "release"

	logDirectory = "logs"
	logFilename  = "audiotarget-latest-run.log"
)

// NewLogger provides a logger instance for the whole program.
// verbose lowers a release build's level to debug.
func NewLogger(buildType string, verbose bool) (*zap.SugaredLogger, error) {
	if buildType == buildTypeRelease {
		if err := util.EnsureDirExists(logDirectory); err != nil {
			return nil, fmt.Errorf("ensure log directory exists: %w", err)
		}
	}

	logger, err := newLoggerConfig(buildType, verbose).Build()
	if err != nil {
		return nil, fmt.Errorf("create zap logger: %w", err)
	}

	// no reason not to use the sugared logger - it's fast enough for anything we're gonna do
	sugar := logger.Sugar()

	return sugar, nil
}

func newLoggerConfig(buildType string, verbose bool) zap.Config {
	var loggerConfig zap.Config

	// release: info and above, written to a file for users to send along with bug reports
	if buildType == buildTypeRelease {
		loggerConfig = zap.NewProductionConfig()

		loggerConfig.OutputPaths = []string{filepath.Join(logDirectory, logFilename)}
		loggerConfig.Encoding = "console"

		if verbose {
			loggerConfig.Level.SetLevel(zapcore.DebugLevel)
		}
	} else {
		loggerConfig = zap.NewDevelopmentConfig()

		// make it colorful
		loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	loggerConfig.EncoderConfig.EncodeCaller = nil
	loggerConfig.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
	}

	loggerConfig.EncoderConfig.EncodeName = func(s string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(fmt.Sprintf("%-27s", s))
	}

	return loggerConfig
}
