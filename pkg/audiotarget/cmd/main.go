package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MixyLabs/audiotarget/pkg/audiotarget"
	"github.com/MixyLabs/audiotarget/pkg/audiotarget/util"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose     bool
	metricsAddr string
)

// rootCmd runs audiotarget in the background with its tray icon
var rootCmd = &cobra.Command{
	Use:   "audiotarget",
	Short: "Keep a volume target on an audio session while devices and apps come and go",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}

		named := logger.Named("main")

		if err := util.CreateMutex("audiotarget"); err != nil {
			named.Errorw("Failed to acquire single instance lock", "error", err)
			return fmt.Errorf("acquire single instance lock: %w", err)
		}

		serveMetrics(named)

		d, err := audiotarget.NewAudioTarget(logger)
		if err != nil {
			named.Fatalw("Failed to create audiotarget object", "error", err)
		}

		if buildType != "" && (versionTag != "" || gitCommit != "") {
			identifier := gitCommit
			if versionTag != "" {
				identifier = versionTag
			}

			versionString := fmt.Sprintf("Version %s-%s", buildType, identifier)
			d.SetVersion(versionString)
		}

		if err = d.Initialize(); err != nil {
			named.Fatalw("Failed to initialize audiotarget", "error", err)
		}

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show verbose logs (useful for debugging audio notifications)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. localhost:9310")

	rootCmd.AddCommand(listCmd, shellCmd)
}

func newLogger() (*zap.SugaredLogger, error) {
	logger, err := audiotarget.NewLogger(buildType, verbose)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	named.Infow("Version info",
		"gitCommit", gitCommit,
		"versionTag", versionTag,
		"buildType", buildType)

	if verbose {
		named.Debug("Verbose flag provided, all log messages will be shown")
	}

	return logger, nil
}

func serveMetrics(logger *zap.SugaredLogger) {
	if metricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		logger.Infow("Serving metrics", "addr", metricsAddr)

		if err := http.ListenAndServe(metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warnw("Metrics server stopped", "error", err)
		}
	}()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
