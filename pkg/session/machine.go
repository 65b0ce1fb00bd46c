package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facelogin/pkg/camera"
	"github.com/MrCodeEU/facelogin/pkg/detect"
	"github.com/MrCodeEU/facelogin/pkg/enroll"
	"github.com/MrCodeEU/facelogin/pkg/logging"
	"github.com/MrCodeEU/facelogin/pkg/training"
)

const eventBuffer = 64

// Deps are the collaborators of the state machine.
type Deps struct {
	Credentials Credentials
	Cameras     Cameras
	Engine      Recognizer
	Model       ModelLoader
	Locator     detect.Detector
	Gallery     enroll.SampleStore
	Trainer     training.Runner
	UI          UI
}

// Options tune the enrollment and refresh behaviour.
type Options struct {
	Samples          int
	MinRegion        int
	EnrollmentParams detect.Params
	RefreshInterval  time.Duration
	CompletionDelay  time.Duration
}

// DefaultOptions returns the stock enrollment settings.
func DefaultOptions() Options {
	return Options{
		Samples:          5,
		MinRegion:        enroll.DefaultMinRegion,
		EnrollmentParams: detect.EnrollmentParams(),
		RefreshInterval:  time.Second / 30,
		CompletionDelay:  2 * time.Second,
	}
}

// handler is one row of the state table.
type handler struct {
	enter  func()
	exit   func()
	handle func(ev Event)
}

// Machine is the screen state machine. All state is owned by the goroutine
// running Run; other goroutines talk to it through Post.
type Machine struct {
	deps     Deps
	opts     Options
	sess     *Context
	handlers map[State]handler
	log      *logrus.Entry

	mu     sync.RWMutex
	state  State
	enroll EnrollState

	// epoch increases on every state entry. Task events carry the epoch
	// they were started in so results for a screen that was left are
	// recognised as stale.
	epoch       uint64
	events      chan Event
	done        chan struct{}
	runCtx      context.Context
	cam         *camera.Session
	stopCapture context.CancelFunc
}

// New creates a machine in the Login state. sess may be nil.
func New(deps Deps, opts Options, sess *Context) *Machine {
	if sess == nil {
		sess = &Context{}
	}
	if opts.Samples < 1 {
		opts.Samples = DefaultOptions().Samples
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultOptions().RefreshInterval
	}

	m := &Machine{
		deps:   deps,
		opts:   opts,
		sess:   sess,
		log:    logging.Component("session"),
		state:  StateLogin,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		runCtx: context.Background(),
	}
	m.handlers = m.stateTable()
	return m
}

func (m *Machine) stateTable() map[State]handler {
	return map[State]handler{
		StateLogin: {
			handle: m.handleLogin,
		},
		StateRegister: {
			handle: m.handleRegister,
		},
		StateFaceLogin: {
			enter:  m.enterFaceLogin,
			exit:   m.releaseCamera,
			handle: m.handleFaceLogin,
		},
		StateFaceEnrollment: {
			enter:  m.enterFaceEnrollment,
			exit:   m.exitFaceEnrollment,
			handle: m.handleFaceEnrollment,
		},
		StateMain: {
			enter:  m.enterMain,
			handle: m.handleMain,
		},
	}
}

// Session returns the shared login context. Only read it from the event
// loop or after Run returned.
func (m *Machine) Session() *Context {
	return m.sess
}

// State returns the current screen.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Enrollment returns the enrollment sub-state.
func (m *Machine) Enrollment() EnrollState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enroll
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Machine) setEnroll(s EnrollState) {
	m.mu.Lock()
	m.enroll = s
	m.mu.Unlock()
}

// Run enters the current state and processes events until ctx is done.
// On return the active screen has been exited and its camera released.
func (m *Machine) Run(ctx context.Context) error {
	m.runCtx = ctx
	defer close(m.done)

	m.enterCurrent()
	for {
		select {
		case <-ctx.Done():
			if h := m.handlers[m.State()].exit; h != nil {
				h()
			}
			m.log.Debug("Event loop stopped")
			return ctx.Err()
		case ev := <-m.events:
			m.dispatch(ev)
		}
	}
}

// Post queues ev for the event loop. It reports false once the loop has
// stopped.
func (m *Machine) Post(ev Event) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// tryPost queues ev unless the queue is full.
func (m *Machine) tryPost(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	default:
		return false
	}
}

func (m *Machine) dispatch(ev Event) {
	// Training outlives the screen that started it.
	if e, ok := ev.(trainingDone); ok {
		m.finishTraining(e)
		return
	}
	if h := m.handlers[m.State()].handle; h != nil {
		h(ev)
	}
}

func (m *Machine) enterCurrent() {
	m.epoch++
	s := m.State()
	m.deps.UI.StateChanged(s)
	if h := m.handlers[s].enter; h != nil {
		h()
	}
}

func (m *Machine) transition(to State) {
	from := m.State()
	if h := m.handlers[from].exit; h != nil {
		h()
	}
	m.setState(to)
	m.log.WithFields(logging.Fields{"from": from, "to": to}).Info("State changed")
	m.enterCurrent()
}

// acquireCamera opens a capture session and starts the refresh task.
func (m *Machine) acquireCamera() error {
	cam, err := m.deps.Cameras.Acquire()
	if err != nil {
		return err
	}
	m.cam = cam

	epoch := m.epoch
	cam.StartRefresh(m.runCtx, m.opts.RefreshInterval, func() {
		m.tryPost(refreshTick{epoch: epoch})
	})
	return nil
}

// releaseCamera stops refreshing and releases the camera, if held.
func (m *Machine) releaseCamera() {
	if m.cam == nil {
		return
	}
	if err := m.cam.Close(); err != nil {
		m.log.WithError(err).Warn("Failed to close camera")
	}
	m.cam = nil
}
