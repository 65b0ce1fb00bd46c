// Package training rebuilds the recognition model from every enrolled
// user's sample gallery. Jobs run in the background, either in-process or
// as the facelogin-train command, and report back through a Task.
package training

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/MrCodeEU/facelogin/pkg/logging"
	"github.com/MrCodeEU/facelogin/pkg/recognition"
)

// ErrJobFailed is matched by every training failure reported by a Runner.
var ErrJobFailed = errors.New("training job failed")

// JobError describes a failed training job. Output holds the diagnostic
// text surfaced to the user.
type JobError struct {
	JobID    string
	ExitCode int
	Output   string
	Err      error
}

func (e *JobError) Error() string {
	if e.Output != "" {
		return e.Output
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("training job exited with code %d", e.ExitCode)
}

// Is makes errors.Is(err, ErrJobFailed) true for every JobError.
func (e *JobError) Is(target error) bool {
	return target == ErrJobFailed
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// UserLister enumerates user ids. credentials.Store implements it.
type UserLister interface {
	ListIDs(ctx context.Context) ([]int64, error)
}

// SampleLoader loads one user's gallery. storage.Gallery implements it.
type SampleLoader interface {
	Load(owner int64) ([]*image.Gray, error)
}

// Trainer fits and persists the model. recognition.Model implements it.
type Trainer interface {
	Train(samples []recognition.Sample) error
}

// Result summarizes a training run.
type Result struct {
	Images int
	Users  int
}

// Job trains the model on the samples of every known user.
type Job struct {
	users   UserLister
	samples SampleLoader
	model   Trainer
}

// NewJob creates a training job.
func NewJob(users UserLister, samples SampleLoader, model Trainer) *Job {
	return &Job{users: users, samples: samples, model: model}
}

// Run builds the corpus, labeling every sample with its owner's id, then
// trains and persists the model. Any unreadable sample fails the run.
func (j *Job) Run(ctx context.Context) (Result, error) {
	log := logging.Component("training")

	ids, err := j.users.ListIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to enumerate users: %w", err)
	}

	var corpus []recognition.Sample
	var res Result
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		images, err := j.samples.Load(id)
		if err != nil {
			return Result{}, fmt.Errorf("failed to load samples of user %d: %w", id, err)
		}
		if len(images) == 0 {
			continue
		}
		for _, img := range images {
			corpus = append(corpus, recognition.Sample{Image: img, Label: id})
		}
		res.Users++
	}
	res.Images = len(corpus)

	if err := j.model.Train(corpus); err != nil {
		return Result{}, fmt.Errorf("training failed: %w", err)
	}

	log.Infof("Model trained with %d images from %d users", res.Images, res.Users)
	return res, nil
}
