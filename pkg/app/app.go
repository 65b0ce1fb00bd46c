// Package app wires the FaceLogin components from a configuration. Both
// the interactive CLI and the facelogin-train job build on it.
package app

import (
	"context"
	"fmt"

	"github.com/MrCodeEU/facelogin/pkg/camera"
	"github.com/MrCodeEU/facelogin/pkg/config"
	"github.com/MrCodeEU/facelogin/pkg/credentials"
	"github.com/MrCodeEU/facelogin/pkg/detect"
	"github.com/MrCodeEU/facelogin/pkg/engine"
	"github.com/MrCodeEU/facelogin/pkg/logging"
	"github.com/MrCodeEU/facelogin/pkg/recognition"
	"github.com/MrCodeEU/facelogin/pkg/session"
	"github.com/MrCodeEU/facelogin/pkg/storage"
	"github.com/MrCodeEU/facelogin/pkg/training"
)

// ConfigEnv names the config file for processes started without flags,
// such as facelogin-train.
const ConfigEnv = "FACELOGIN_CONFIG"

// LoadConfig reads path, or the default locations when path is empty, then
// applies environment overrides, expands paths and validates the result.
func LoadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}
	cfg.ExpandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// App holds the components shared by every command.
type App struct {
	Config    *config.Config
	Store     *credentials.Store
	Gallery   *storage.Gallery
	Artifacts *storage.ArtifactStore
	Model     *recognition.Model
}

// Open creates the directories, opens the credential store and loads the
// recognition model if one was trained before.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := credentials.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	artifacts, err := storage.NewArtifactStore(cfg.Recognition.ModelPath, cfg.Storage.EncryptionEnabled)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize model storage: %w", err)
	}

	a := &App{
		Config:    cfg,
		Store:     store,
		Gallery:   storage.NewGallery(cfg.Storage.DataDir),
		Artifacts: artifacts,
		Model:     recognition.New(RecognitionParams(cfg), artifacts),
	}

	logging.Component("app").WithFields(logging.Fields{
		"data_dir": cfg.Storage.DataDir,
		"model":    cfg.Recognition.ModelPath,
		"loaded":   a.Model.IsLoaded(),
	}).Debug("Application initialized")
	return a, nil
}

// Close releases the credential store.
func (a *App) Close() error {
	return a.Store.Close()
}

// RecognitionParams returns the LBPH parameters from cfg.
func RecognitionParams(cfg *config.Config) recognition.Params {
	return recognition.Params{
		Radius:    cfg.Recognition.Radius,
		Neighbors: cfg.Recognition.Neighbors,
		GridX:     cfg.Recognition.GridX,
		GridY:     cfg.Recognition.GridY,
	}
}

func detectorParams(p config.DetectorParams) detect.Params {
	return detect.Params{ScaleFactor: p.ScaleFactor, MinNeighbors: p.MinNeighbors, MinSize: p.MinSize}
}

// Locator opens the configured face detector backend.
func (a *App) Locator() (detect.Detector, error) {
	d := a.Config.Detection
	return detect.Open(detect.Options{
		Backend:          d.Backend,
		CascadePath:      d.CascadePath,
		DlibModelPath:    d.DlibModelPath,
		QualityThreshold: d.QualityThreshold,
	})
}

// Engine creates the recognition engine on top of the app's model.
func (a *App) Engine(locator detect.Detector) *engine.Engine {
	return engine.New(locator, a.Model,
		engine.WithThreshold(a.Config.Recognition.Threshold),
		engine.WithParams(detectorParams(a.Config.Detection.Login)),
	)
}

// Cameras creates the camera manager. A nil opener uses V4L2.
func (a *App) Cameras(open camera.Opener) *camera.Manager {
	c := a.Config.Camera
	return camera.NewManager(camera.Config{
		DevicePattern: c.DevicePattern,
		MaxProbes:     c.MaxProbes,
		Width:         c.Width,
		Height:        c.Height,
	}, open)
}

// TrainingJob creates a job that retrains the app's model.
func (a *App) TrainingJob() *training.Job {
	return training.NewJob(a.Store, a.Gallery, a.Model)
}

// Runner returns the training runner selected by training.mode.
func (a *App) Runner() training.Runner {
	t := a.Config.Training
	if t.Mode == config.TrainingSubprocess {
		cmd := training.NewCommand(t.Command, t.Args...)
		if a.Config.Source != "" {
			cmd.Env = []string{ConfigEnv + "=" + a.Config.Source}
		}
		return cmd
	}
	return training.InProcess{Job: a.TrainingJob()}
}

// SessionOptions returns the state machine settings from the config.
func (a *App) SessionOptions() session.Options {
	opts := session.DefaultOptions()
	opts.Samples = a.Config.Enrollment.Samples
	opts.MinRegion = a.Config.Enrollment.MinRegion
	opts.EnrollmentParams = detectorParams(a.Config.Detection.Enrollment)
	opts.RefreshInterval = a.Config.RefreshInterval()
	opts.CompletionDelay = a.Config.Enrollment.CompletionDelay
	return opts
}

// Machine assembles the screen state machine for ui.
func (a *App) Machine(ui session.UI, locator detect.Detector, cameras session.Cameras) *session.Machine {
	return session.New(session.Deps{
		Credentials: a.Store,
		Cameras:     cameras,
		Engine:      a.Engine(locator),
		Model:       a.Model,
		Locator:     locator,
		Gallery:     a.Gallery,
		Trainer:     a.Runner(),
		UI:          ui,
	}, a.SessionOptions(), nil)
}
