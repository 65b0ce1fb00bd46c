package training

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrCodeEU/facelogin/pkg/recognition"
	"github.com/MrCodeEU/facelogin/pkg/storage"
)

func fakeExecCommand(ctx context.Context, command string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--", command}
	cs = append(cs, args...)
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
	return cmd
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	// os.Args: [test_binary, -test.run=TestHelperProcess, --, command, args...]
	if len(os.Args) < 4 {
		os.Exit(1)
	}

	switch os.Args[3] {
	case "train-ok":
		os.Exit(0)
	case "train-fail":
		fmt.Fprintln(os.Stderr, "no training samples available")
		os.Exit(1)
	case "train-crash":
		os.Exit(3)
	case "train-env":
		if got := os.Getenv("FACELOGIN_CONFIG"); got != os.Args[4] {
			fmt.Fprintf(os.Stderr, "FACELOGIN_CONFIG = %q\n", got)
			os.Exit(1)
		}
		os.Exit(0)
	default:
		os.Exit(2)
	}
}

type fakeUsers struct {
	ids []int64
	err error
}

func (f fakeUsers) ListIDs(ctx context.Context) ([]int64, error) {
	return f.ids, f.err
}

type fakeSamples struct {
	byOwner map[int64][]*image.Gray
	failFor int64
}

func (f fakeSamples) Load(owner int64) ([]*image.Gray, error) {
	if owner == f.failFor {
		return nil, errors.New("corrupt sample")
	}
	return f.byOwner[owner], nil
}

type recordingTrainer struct {
	got []recognition.Sample
	err error
}

func (r *recordingTrainer) Train(samples []recognition.Sample) error {
	r.got = samples
	return r.err
}

func stripes(w, h, period int, shift uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(40)
			if (x/period)%2 == 0 {
				v = 200
			}
			img.SetGray(x, y, color.Gray{Y: v + shift%20})
		}
	}
	return img
}

func TestJobRun_LabelsByOwner(t *testing.T) {
	samples := fakeSamples{byOwner: map[int64][]*image.Gray{
		1: {stripes(32, 32, 2, 0), stripes(32, 32, 2, 5)},
		2: {stripes(32, 32, 4, 0)},
	}}
	trainer := &recordingTrainer{}

	res, err := NewJob(fakeUsers{ids: []int64{1, 2, 3}}, samples, trainer).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Images != 3 || res.Users != 2 {
		t.Errorf("Run() = %+v, want 3 images from 2 users", res)
	}
	if len(trainer.got) != 3 {
		t.Fatalf("trained on %d samples, want 3", len(trainer.got))
	}
	wantLabels := []int64{1, 1, 2}
	for i, s := range trainer.got {
		if s.Label != wantLabels[i] {
			t.Errorf("sample %d label = %d, want %d", i, s.Label, wantLabels[i])
		}
	}
}

func TestJobRun_UnreadableSampleFails(t *testing.T) {
	samples := fakeSamples{byOwner: map[int64][]*image.Gray{1: {stripes(16, 16, 2, 0)}}, failFor: 2}
	trainer := &recordingTrainer{}

	_, err := NewJob(fakeUsers{ids: []int64{1, 2}}, samples, trainer).Run(context.Background())
	if err == nil {
		t.Fatal("Run() should fail on an unreadable sample")
	}
	if trainer.got != nil {
		t.Error("Train must not be called when loading fails")
	}
}

func TestJobRun_ListError(t *testing.T) {
	_, err := NewJob(fakeUsers{err: errors.New("locked")}, fakeSamples{}, &recordingTrainer{}).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "enumerate users") {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestJobRun_EmptyCorpus(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewArtifactStore(dir+"/model.yml", false)
	if err != nil {
		t.Fatal(err)
	}
	model := recognition.New(recognition.DefaultParams(), store)

	_, err = NewJob(fakeUsers{ids: []int64{1}}, storage.NewGallery(dir+"/faces"), model).Run(context.Background())
	if !errors.Is(err, recognition.ErrEmptyCorpus) {
		t.Fatalf("Run() error = %v, want ErrEmptyCorpus", err)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("empty corpus must not write an artifact")
	}
}

func TestJobRun_WithGalleryAndModel(t *testing.T) {
	dir := t.TempDir()
	gallery := storage.NewGallery(dir + "/faces")
	for i := 0; i < 3; i++ {
		if _, err := gallery.Save(7, i, stripes(40, 40, 2, uint8(i))); err != nil {
			t.Fatal(err)
		}
		if _, err := gallery.Save(9, i, stripes(40, 40, 5, uint8(i))); err != nil {
			t.Fatal(err)
		}
	}

	store, err := storage.NewArtifactStore(dir+"/model.yml", false)
	if err != nil {
		t.Fatal(err)
	}
	model := recognition.New(recognition.DefaultParams(), store)

	res, err := NewJob(fakeUsers{ids: []int64{7, 9}}, gallery, model).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Images != 6 {
		t.Errorf("Images = %d, want 6", res.Images)
	}

	reloaded := recognition.New(recognition.DefaultParams(), store)
	if !reloaded.IsLoaded() {
		t.Fatal("persisted model should load")
	}
	label, _, err := reloaded.Predict(stripes(40, 40, 5, 1))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if label != 9 {
		t.Errorf("Predict() label = %d, want 9", label)
	}
}

func TestInProcess_WrapsFailure(t *testing.T) {
	r := InProcess{Job: NewJob(fakeUsers{ids: []int64{1}}, fakeSamples{}, &recordingTrainer{err: recognition.ErrEmptyCorpus})}

	err := r.Run(context.Background())
	if !errors.Is(err, ErrJobFailed) {
		t.Fatalf("Run() error = %v, want ErrJobFailed", err)
	}
	if !errors.Is(err, recognition.ErrEmptyCorpus) {
		t.Errorf("Run() error should unwrap to ErrEmptyCorpus: %v", err)
	}
}

func TestCommand_Success(t *testing.T) {
	c := &Command{Path: "train-ok", execCommand: fakeExecCommand}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestCommand_FailureCarriesStderr(t *testing.T) {
	c := &Command{Path: "train-fail", execCommand: fakeExecCommand}

	err := c.Run(context.Background())
	if !errors.Is(err, ErrJobFailed) {
		t.Fatalf("Run() error = %v, want ErrJobFailed", err)
	}
	var jobErr *JobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("Run() error type = %T", err)
	}
	if jobErr.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", jobErr.ExitCode)
	}
	if jobErr.Error() != "no training samples available" {
		t.Errorf("Error() = %q", jobErr.Error())
	}
}

func TestCommand_SilentFailure(t *testing.T) {
	c := &Command{Path: "train-crash", execCommand: fakeExecCommand}

	err := c.Run(context.Background())
	var jobErr *JobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("Run() error = %v", err)
	}
	if jobErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", jobErr.ExitCode)
	}
	if jobErr.Error() == "" {
		t.Error("Error() should not be empty")
	}
}

func TestCommand_ForwardsEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facelogin.yaml")

	c := &Command{
		Path:        "train-env",
		Args:        []string{path},
		Env:         []string{"FACELOGIN_CONFIG=" + path},
		execCommand: fakeExecCommand,
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v, the child did not see the config path", err)
	}

	c.Env = nil
	if err := c.Run(context.Background()); !errors.Is(err, ErrJobFailed) {
		t.Errorf("Run() without Env error = %v, want ErrJobFailed", err)
	}
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func TestLaunch(t *testing.T) {
	release := make(chan struct{})
	called := make(chan *Task, 1)

	task := Launch(context.Background(), runnerFunc(func(ctx context.Context) error {
		<-release
		return nil
	}), func(t *Task) { called <- t })

	if task.ID() == "" {
		t.Error("task should have an id")
	}
	select {
	case <-task.Done():
		t.Fatal("task finished before the runner returned")
	default:
	}
	if task.Err() != nil {
		t.Error("Err() before completion should be nil")
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := task.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	select {
	case got := <-called:
		if got != task {
			t.Error("onDone received a different task")
		}
	case <-ctx.Done():
		t.Fatal("onDone was not called")
	}
}

func TestLaunch_WrapsPlainError(t *testing.T) {
	task := Launch(context.Background(), runnerFunc(func(ctx context.Context) error {
		return errors.New("boom")
	}), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := task.Wait(ctx)
	if !errors.Is(err, ErrJobFailed) {
		t.Fatalf("Wait() error = %v, want ErrJobFailed", err)
	}
	var jobErr *JobError
	if errors.As(err, &jobErr) && jobErr.JobID != task.ID() {
		t.Errorf("JobID = %q, want %q", jobErr.JobID, task.ID())
	}
	if task.Err() == nil {
		t.Error("Err() after completion should report the failure")
	}
}
