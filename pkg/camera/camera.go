// Package camera provides exclusive, probed access to the capture device.
// A Manager hands out at most one Session at a time; the Session owns the
// device handle and an optional periodic refresh task until it is closed.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrCodeEU/facelogin/pkg/logging"
)

// ErrDeviceUnavailable is returned when no probed device could be opened.
var ErrDeviceUnavailable = errors.New("no camera device available")

// ErrCameraBusy is returned when another session already holds the camera.
var ErrCameraBusy = errors.New("camera is held by another capture session")

// ErrSessionClosed is returned when reading from a closed session.
var ErrSessionClosed = errors.New("capture session closed")

// ErrNoFrame is returned when the device produced no frame in time.
var ErrNoFrame = errors.New("failed to capture frame")

// Device is an open capture device.
type Device interface {
	Read() (*image.RGBA, error)
	Close() error
}

// Opener opens the device at path with the requested resolution.
type Opener func(path string, width, height int) (Device, error)

// Config describes how devices are probed.
type Config struct {
	// DevicePattern is formatted with the probe index, e.g. /dev/video%d.
	DevicePattern string
	MaxProbes     int
	Width         int
	Height        int
}

// Manager enforces a single active capture session.
type Manager struct {
	mu   sync.Mutex
	cfg  Config
	open Opener
	held int
}

// NewManager creates a manager. A nil opener uses OpenV4L2.
func NewManager(cfg Config, open Opener) *Manager {
	if open == nil {
		open = OpenV4L2
	}
	return &Manager{cfg: cfg, open: open}
}

// Held returns the number of device handles currently held (0 or 1).
func (m *Manager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// Acquire probes device indices 0..MaxProbes-1 and returns a session on the
// first one that opens.
func (m *Manager) Acquire() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held > 0 {
		return nil, ErrCameraBusy
	}

	log := logging.Component("camera")
	var errs []error
	for i := 0; i < m.cfg.MaxProbes; i++ {
		path := fmt.Sprintf(m.cfg.DevicePattern, i)
		dev, err := m.open(path, m.cfg.Width, m.cfg.Height)
		if err != nil {
			log.WithError(err).Debugf("Camera probe %s failed", path)
			errs = append(errs, err)
			continue
		}

		m.held++
		s := &Session{
			id:      uuid.NewString(),
			path:    path,
			dev:     dev,
			release: m.release,
		}
		log.WithField("session", s.id).Infof("Opened camera %s", path)
		return s, nil
	}

	return nil, fmt.Errorf("%w after %d probes: %v", ErrDeviceUnavailable, m.cfg.MaxProbes, errors.Join(errs...))
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held > 0 {
		m.held--
	}
}

// Session is the exclusive handle to one open device.
type Session struct {
	id      string
	path    string
	release func()

	mu     sync.Mutex
	dev    Device
	closed bool

	refreshMu sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// Path returns the opened device path.
func (s *Session) Path() string {
	return s.path
}

// Read pulls one frame. Reads are serialized.
func (s *Session) Read() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.dev.Read()
}

// StartRefresh calls fn every interval until the session is closed or ctx
// is done. fn must not block. Starting a second refresh task replaces the
// first.
func (s *Session) StartRefresh(ctx context.Context, interval time.Duration, fn func()) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

func (s *Session) stopRefresh() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
}

// Close stops the refresh task, releases the device and returns the camera
// to the manager. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.stopRefresh()

		s.mu.Lock()
		s.closed = true
		s.closeErr = s.dev.Close()
		s.mu.Unlock()

		s.release()
		logging.Component("camera").WithField("session", s.id).Infof("Released camera %s", s.path)
	})
	return s.closeErr
}
