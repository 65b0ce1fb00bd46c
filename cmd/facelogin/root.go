package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facelogin/pkg/app"
	"github.com/MrCodeEU/facelogin/pkg/config"
	"github.com/MrCodeEU/facelogin/pkg/logging"
	"github.com/MrCodeEU/facelogin/pkg/session"
)

var (
	configFile string
	debug      bool
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "facelogin",
	Short: "Face recognition login",
	Long: `FaceLogin registers users with a password and a face, and lets them
sign in with either. Faces are enrolled from a V4L2 camera and recognized
locally with an LBPH model; nothing leaves the machine.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env file is optional, don't fail if not found
		_ = godotenv.Load()

		var err error
		cfg, err = app.LoadConfig(configFile)
		if err != nil {
			return err
		}

		level := cfg.Logging.Level
		if debug {
			level = "debug"
		}
		if err := logging.Init(logging.Options{Level: level, Format: cfg.Logging.Format, File: cfg.Logging.File}); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
		}

		logging.Debugf("FaceLogin %s starting, data dir: %s", Version, cfg.Storage.DataDir)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func openApp(ctx context.Context) (*app.App, error) {
	return app.Open(ctx, cfg)
}

// startMachine runs m until the returned stop function is called. stop
// waits for the loop to exit so the camera is released before returning.
func startMachine(ctx context.Context, m *session.Machine) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}
