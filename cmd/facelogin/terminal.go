package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/MrCodeEU/facelogin/pkg/logging"
	"github.com/MrCodeEU/facelogin/pkg/session"
)

const previewInterval = 500 * time.Millisecond

// terminalUI renders the screens on a terminal. Frames are only written
// to disk when a preview path is set.
type terminalUI struct {
	out     io.Writer
	preview string

	mu        sync.Mutex
	bar       *progressbar.ProgressBar
	lastFrame time.Time

	states chan session.State
	errs   chan string
}

func newTerminalUI(out io.Writer, preview string) *terminalUI {
	return &terminalUI{
		out:     out,
		preview: preview,
		states:  make(chan session.State, 16),
		errs:    make(chan string, 16),
	}
}

func (u *terminalUI) StateChanged(s session.State) {
	logging.Component("cli").Debugf("Screen %s", s)
	select {
	case u.states <- s:
	default:
	}
}

func (u *terminalUI) ShowFrame(frame image.Image) {
	if u.preview == "" {
		return
	}

	u.mu.Lock()
	if time.Since(u.lastFrame) < previewInterval {
		u.mu.Unlock()
		return
	}
	u.lastFrame = time.Now()
	u.mu.Unlock()

	if err := writePNG(u.preview, frame); err != nil {
		logging.Component("cli").WithError(err).Warn("Failed to write preview frame")
	}
}

func (u *terminalUI) SetStatus(text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.finishBar()
	fmt.Fprintln(u.out, text)
}

func (u *terminalUI) SetProgress(text string, count, total int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if total <= 0 {
		u.finishBar()
		fmt.Fprintln(u.out, text)
		return
	}

	if u.bar == nil || u.bar.GetMax() != total {
		u.finishBar()
		u.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(u.out),
			progressbar.OptionSetDescription("Muestras"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(false),
		)
	}
	_ = u.bar.Set(count)
}

func (u *terminalUI) SetControlEnabled(c session.Control, enabled bool) {
	logging.Component("cli").Debugf("Control %s enabled=%t", c, enabled)
}

func (u *terminalUI) ShowError(text string) {
	u.mu.Lock()
	u.finishBar()
	fmt.Fprintln(u.out, "Error: "+text)
	u.mu.Unlock()

	select {
	case u.errs <- text:
	default:
	}
}

// finishBar closes the current progress bar. Callers hold mu.
func (u *terminalUI) finishBar() {
	if u.bar == nil {
		return
	}
	_ = u.bar.Finish()
	fmt.Fprintln(u.out)
	u.bar = nil
}

// await blocks until the machine enters want. An error shown on the way
// is returned as the failure.
func (u *terminalUI) await(ctx context.Context, want session.State) error {
	for {
		select {
		case s := <-u.states:
			if s == want {
				return nil
			}
		case msg := <-u.errs:
			return errors.New(msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// writePNG replaces path with frame.
func writePNG(path string, frame image.Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".preview-*.png")
	if err != nil {
		return err
	}
	if err := png.Encode(tmp, frame); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
