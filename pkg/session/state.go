// Package session drives the login and enrollment screens. A single event
// loop goroutine owns all screen state; camera refresh, sample acquisition
// and model training run as tasks that post their results back to it.
package session

import (
	"context"
	"image"

	"golang.org/x/image/draw"

	"github.com/MrCodeEU/facelogin/pkg/camera"
	"github.com/MrCodeEU/facelogin/pkg/credentials"
)

// State is one screen of the application.
type State int

const (
	StateLogin State = iota
	StateRegister
	StateFaceLogin
	StateFaceEnrollment
	StateMain
)

func (s State) String() string {
	switch s {
	case StateLogin:
		return "login"
	case StateRegister:
		return "register"
	case StateFaceLogin:
		return "face_login"
	case StateFaceEnrollment:
		return "face_enrollment"
	case StateMain:
		return "main"
	default:
		return "unknown"
	}
}

// EnrollState is the sub-state of the enrollment screen.
type EnrollState int

const (
	EnrollIdle EnrollState = iota
	EnrollCapturing
	EnrollTraining
	EnrollCompleted
)

func (s EnrollState) String() string {
	switch s {
	case EnrollIdle:
		return "idle"
	case EnrollCapturing:
		return "capturing"
	case EnrollTraining:
		return "training"
	case EnrollCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Control names an interactive control the UI may enable or disable.
type Control string

const ControlStartCapture Control = "start_capture"

// UI receives everything the screens render. Calls are made from the
// event loop goroutine only.
type UI interface {
	StateChanged(s State)
	ShowFrame(frame image.Image)
	SetStatus(text string)
	// SetProgress reports capture progress. total is 0 for phases without
	// a count, such as training.
	SetProgress(text string, count, total int)
	SetControlEnabled(c Control, enabled bool)
	ShowError(text string)
}

// Context is the login session shared by reference among all states.
type Context struct {
	// User is the signed-in user, nil until a login succeeds.
	User *credentials.User
	// Pending is the freshly registered user awaiting face enrollment.
	Pending *credentials.User
}

// Credentials is the credential store as used by the screens.
type Credentials interface {
	Create(ctx context.Context, username, password string) (credentials.User, error)
	Authenticate(ctx context.Context, username, password string) (credentials.User, error)
	LookupByFaceLabel(ctx context.Context, label int64) (credentials.User, error)
	BindFaceLabel(ctx context.Context, id, label int64) error
}

// Cameras hands out exclusive capture sessions. camera.Manager implements
// it.
type Cameras interface {
	Acquire() (*camera.Session, error)
}

// Recognizer is the runtime recognition engine. engine.Engine implements
// it.
type Recognizer interface {
	Recognize(frame draw.Image) (int64, bool)
	Reset()
}

// ModelLoader reloads the persisted model. recognition.Model implements it.
type ModelLoader interface {
	Load() bool
}

// Event is an input to the state machine.
type Event interface {
	event()
}

// LoginSubmitted carries the login form.
type LoginSubmitted struct {
	Username string
	Password string
}

// RegisterSubmitted carries the registration form.
type RegisterSubmitted struct {
	Username string
	Password string
	Confirm  string
}

// ChooseFaceLogin opens the face login screen.
type ChooseFaceLogin struct{}

// ChooseRegister opens the registration screen.
type ChooseRegister struct{}

// StartCapture starts sample acquisition on the enrollment screen.
type StartCapture struct{}

// Cancel leaves the current screen for its parent.
type Cancel struct{}

// Logout ends the session from the main screen.
type Logout struct{}

// Events posted by tasks. epoch ties each one to the state entry that
// started it.
type (
	refreshTick struct {
		epoch uint64
	}
	captureProgress struct {
		epoch  uint64
		count  int
		target int
		frame  image.Image
		err    error
	}
	captureDone struct {
		epoch uint64
		owner int64
		ok    bool
		err   error
	}
	trainingDone struct {
		epoch uint64
		owner int64
		err   error
	}
	completionElapsed struct {
		epoch uint64
	}
)

func (LoginSubmitted) event()    {}
func (RegisterSubmitted) event() {}
func (ChooseFaceLogin) event()   {}
func (ChooseRegister) event()    {}
func (StartCapture) event()      {}
func (Cancel) event()            {}
func (Logout) event()            {}
func (refreshTick) event()       {}
func (captureProgress) event()   {}
func (captureDone) event()       {}
func (trainingDone) event()      {}
func (completionElapsed) event() {}
