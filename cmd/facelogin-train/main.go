// Command facelogin-train retrains the face recognition model from every
// enrolled user's samples. It is launched by facelogin when training.mode
// is "subprocess".
//
// Exit codes:
//
//	0 = model trained and saved
//	1 = training failed, the reason is written to stderr
//
// stderr carries nothing but the failure reason, so logs go to the
// configured log file only.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrCodeEU/facelogin/pkg/app"
	"github.com/MrCodeEU/facelogin/pkg/logging"
	"github.com/MrCodeEU/facelogin/pkg/training"
)

// trainer is the part of training.Job used here.
type trainer interface {
	Run(ctx context.Context) (training.Result, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Getenv(app.ConfigEnv), os.Stderr))
}

func run(ctx context.Context, configPath string, stderr io.Writer) int {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if err := logging.Init(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
		Quiet:  true,
	}); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	a, err := app.Open(ctx, cfg)
	if err != nil {
		logging.Errorf("Failed to initialize: %v", err)
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer a.Close()

	return runTraining(ctx, a.TrainingJob(), stderr, time.Now())
}

func runTraining(ctx context.Context, job trainer, stderr io.Writer, start time.Time) int {
	res, err := job.Run(ctx)
	if err != nil {
		logging.Warnf("Training failed after %v: %v", time.Since(start), err)
		fmt.Fprintln(stderr, err)
		return 1
	}

	logging.Infof("Training finished in %v (%d images, %d users)", time.Since(start), res.Images, res.Users)
	return 0
}
