package training

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/google/uuid"

	"github.com/MrCodeEU/facelogin/pkg/logging"
)

// Runner executes one training job. A failure is a *JobError.
type Runner interface {
	Run(ctx context.Context) error
}

// InProcess runs the job on the calling goroutine.
type InProcess struct {
	Job *Job
}

// Run implements Runner.
func (r InProcess) Run(ctx context.Context) error {
	if _, err := r.Job.Run(ctx); err != nil {
		return &JobError{ExitCode: 1, Output: err.Error(), Err: err}
	}
	return nil
}

// Command runs the training binary as a child process. Success is exit
// status 0; otherwise the child's stderr becomes the error text.
type Command struct {
	Path string
	Args []string
	// Env is added to the parent's environment, e.g. FACELOGIN_CONFIG so
	// the child trains against the same store and artifact.
	Env []string

	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewCommand creates a subprocess runner for path.
func NewCommand(path string, args ...string) *Command {
	return &Command{Path: path, Args: args, execCommand: exec.CommandContext}
}

// Run implements Runner.
func (c *Command) Run(ctx context.Context) error {
	execCommand := c.execCommand
	if execCommand == nil {
		execCommand = exec.CommandContext
	}

	cmd := execCommand(ctx, c.Path, c.Args...)
	if len(c.Env) > 0 {
		env := cmd.Env
		if env == nil {
			env = os.Environ()
		}
		cmd.Env = append(env, c.Env...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	jobErr := &JobError{ExitCode: -1, Output: strings.TrimSpace(stderr.String()), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		jobErr.ExitCode = exitErr.ExitCode()
	}
	return jobErr
}

// Task is a one-shot background training run. It is not tied to any
// screen: leaving the screen that launched it does not cancel it.
type Task struct {
	id   string
	done chan struct{}
	err  error
}

// Launch starts r in a new goroutine. onDone, if set, is called from that
// goroutine after the task finished.
func Launch(ctx context.Context, r Runner, onDone func(*Task)) *Task {
	t := &Task{id: uuid.NewString(), done: make(chan struct{})}
	log := logging.Component("training").WithField("job", t.id)

	go func() {
		log.Info("Training job started")
		err := r.Run(ctx)

		var jobErr *JobError
		if errors.As(err, &jobErr) {
			jobErr.JobID = t.id
		} else if err != nil {
			err = &JobError{JobID: t.id, ExitCode: -1, Output: err.Error(), Err: err}
		}
		t.err = err

		if err != nil {
			log.WithError(err).Warn("Training job failed")
		} else {
			log.Info("Training job finished")
		}

		close(t.done)
		if onDone != nil {
			onDone(t)
		}
	}()
	return t
}

// ID returns the job id used in logs.
func (t *Task) ID() string {
	return t.id
}

// Done is closed when the task finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task result. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finished or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
