package session

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/MrCodeEU/facelogin/pkg/credentials"
	"github.com/MrCodeEU/facelogin/pkg/enroll"
	"github.com/MrCodeEU/facelogin/pkg/logging"
	"github.com/MrCodeEU/facelogin/pkg/training"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 6

const (
	msgInvalidLogin      = "Usuario o contraseña incorrectos"
	msgPasswordMismatch  = "Las contraseñas no coinciden"
	msgPasswordTooShort  = "La contraseña debe tener al menos 6 caracteres"
	msgUserExists        = "El usuario ya existe"
	msgLookAtCamera      = "Mire a la cámara para reconocimiento facial"
	msgPositionFace      = "Posicione su rostro frente a la cámara"
	msgWaiting           = "Esperando para comenzar..."
	msgCapturing         = "Capturando muestras de su rostro..."
	msgTraining          = "Entrenando modelo..."
	msgEnrolled          = "¡Registro completado con éxito!"
	msgModelUpdated      = "Modelo actualizado correctamente"
	msgNotEnoughSamples  = "No se pudieron capturar suficientes muestras"
	msgSaveFailed        = "No se pudo guardar la muestra: "
	msgTrainingFailed    = "Error en entrenamiento: "
	msgTrainingUnknown   = "Error desconocido durante el entrenamiento"
	msgNoPendingUser     = "No se ha especificado un nombre de usuario"
	msgCameraUnavailable = "No se pudo iniciar la cámara: "
	msgCameraError       = "Error de cámara"
	msgWelcome           = "Bienvenido a la aplicación!"
)

func (m *Machine) handleLogin(ev Event) {
	switch e := ev.(type) {
	case LoginSubmitted:
		user, err := m.deps.Credentials.Authenticate(m.runCtx, e.Username, e.Password)
		if err != nil {
			if !errors.Is(err, credentials.ErrInvalidCredentials) {
				m.log.WithError(err).Error("Login failed")
			}
			m.deps.UI.ShowError(msgInvalidLogin)
			return
		}
		m.sess.User = &user
		m.transition(StateMain)
	case ChooseFaceLogin:
		m.transition(StateFaceLogin)
	case ChooseRegister:
		m.transition(StateRegister)
	}
}

func (m *Machine) handleRegister(ev Event) {
	switch e := ev.(type) {
	case RegisterSubmitted:
		if e.Password != e.Confirm {
			m.deps.UI.ShowError(msgPasswordMismatch)
			return
		}
		if utf8.RuneCountInString(e.Password) < MinPasswordLength {
			m.deps.UI.ShowError(msgPasswordTooShort)
			return
		}

		user, err := m.deps.Credentials.Create(m.runCtx, e.Username, e.Password)
		if err != nil {
			if errors.Is(err, credentials.ErrUserExists) {
				m.deps.UI.ShowError(msgUserExists)
			} else {
				m.log.WithError(err).Error("Registration failed")
				m.deps.UI.ShowError(err.Error())
			}
			return
		}
		m.sess.Pending = &user
		m.transition(StateFaceEnrollment)
	case Cancel:
		m.transition(StateLogin)
	}
}

func (m *Machine) enterFaceLogin() {
	if m.deps.Model != nil && !m.deps.Model.Load() {
		m.log.Warn("No trained model available, faces will not be recognized")
	}
	m.deps.Engine.Reset()

	if err := m.acquireCamera(); err != nil {
		m.log.WithError(err).Error("Failed to start camera")
		m.deps.UI.SetStatus("Error: " + err.Error())
		return
	}
	m.deps.UI.SetStatus(msgLookAtCamera)
}

func (m *Machine) handleFaceLogin(ev Event) {
	switch e := ev.(type) {
	case refreshTick:
		if e.epoch != m.epoch || m.cam == nil {
			return
		}
		m.recognizeFrame()
	case Cancel:
		m.transition(StateLogin)
	}
}

func (m *Machine) recognizeFrame() {
	frame, err := m.cam.Read()
	if err != nil {
		m.log.WithError(err).Debug("Frame read failed")
		return
	}

	if label, ok := m.deps.Engine.Recognize(frame); ok {
		user, err := m.deps.Credentials.LookupByFaceLabel(m.runCtx, label)
		switch {
		case err == nil:
			m.log.WithField("user_id", user.ID).Info("Face login succeeded")
			m.sess.User = &user
			m.transition(StateMain)
			return
		case errors.Is(err, credentials.ErrNotFound):
			m.log.Warnf("Recognized label %d is not bound to any user", label)
		default:
			m.log.WithError(err).Error("Failed to look up recognized user")
		}
	}

	m.deps.UI.ShowFrame(frame)
}

func (m *Machine) enterFaceEnrollment() {
	m.setEnroll(EnrollIdle)
	m.deps.UI.SetStatus(msgPositionFace)
	m.deps.UI.SetProgress(msgWaiting, 0, 0)

	if err := m.acquireCamera(); err != nil {
		m.log.WithError(err).Error("Failed to start camera")
		m.deps.UI.ShowError(msgCameraUnavailable + err.Error())
		m.deps.UI.SetStatus(msgCameraError)
		m.deps.UI.SetControlEnabled(ControlStartCapture, false)
		return
	}
	m.deps.UI.SetControlEnabled(ControlStartCapture, true)
}

func (m *Machine) exitFaceEnrollment() {
	if m.stopCapture != nil {
		m.stopCapture()
		m.stopCapture = nil
	}
	m.releaseCamera()
	m.setEnroll(EnrollIdle)
}

func (m *Machine) handleFaceEnrollment(ev Event) {
	switch e := ev.(type) {
	case refreshTick:
		// The acquirer owns the camera while capturing and reports its
		// own frames.
		if e.epoch != m.epoch || m.cam == nil || m.Enrollment() == EnrollCapturing {
			return
		}
		frame, err := m.cam.Read()
		if err != nil {
			m.log.WithError(err).Debug("Frame read failed")
			return
		}
		m.deps.UI.ShowFrame(frame)
	case StartCapture:
		m.startCapture()
	case captureProgress:
		if e.epoch != m.epoch {
			return
		}
		if e.err != nil {
			m.deps.UI.SetStatus(msgSaveFailed + e.err.Error())
			return
		}
		m.deps.UI.SetProgress(fmt.Sprintf("Progreso: %d/%d", e.count, e.target), e.count, e.target)
		if e.frame != nil {
			m.deps.UI.ShowFrame(e.frame)
		}
	case captureDone:
		if e.epoch != m.epoch {
			return
		}
		m.finishCapture(e)
	case completionElapsed:
		if e.epoch == m.epoch && m.Enrollment() == EnrollCompleted {
			m.transition(StateMain)
		}
	case Cancel:
		m.transition(StateRegister)
	}
}

// startCapture runs the sample acquirer as a cancellable task. Only one
// attempt runs at a time: the request is ignored unless the screen is idle.
func (m *Machine) startCapture() {
	if m.Enrollment() != EnrollIdle {
		return
	}
	if m.sess.Pending == nil {
		m.deps.UI.ShowError(msgNoPendingUser)
		return
	}
	if m.cam == nil {
		m.deps.UI.ShowError(msgCameraError)
		return
	}

	owner := m.sess.Pending.ID
	target := m.opts.Samples
	epoch := m.epoch

	m.setEnroll(EnrollCapturing)
	m.deps.UI.SetControlEnabled(ControlStartCapture, false)
	m.deps.UI.SetStatus(msgCapturing)
	m.deps.UI.SetProgress(fmt.Sprintf("Progreso: 0/%d", target), 0, target)

	ctx, cancel := context.WithCancel(m.runCtx)
	m.stopCapture = cancel

	acquirer := enroll.NewAcquirer(m.cam, m.deps.Locator, m.deps.Gallery,
		enroll.WithParams(m.opts.EnrollmentParams),
		enroll.WithMinRegion(m.opts.MinRegion),
		enroll.WithProgress(func(p enroll.Progress) {
			ev := captureProgress{epoch: epoch, count: p.Count, target: p.Target, err: p.Err}
			if p.Frame != nil {
				ev.frame = p.Frame
			}
			m.Post(ev)
		}),
	)

	m.log.WithField("user_id", owner).Info("Starting face capture")
	go func() {
		ok, err := acquirer.Acquire(ctx, owner, target)
		m.Post(captureDone{epoch: epoch, owner: owner, ok: ok, err: err})
	}()
}

// finishCapture hands a completed capture to a background training job.
func (m *Machine) finishCapture(e captureDone) {
	if m.stopCapture != nil {
		m.stopCapture()
		m.stopCapture = nil
	}

	if !e.ok || e.err != nil {
		if e.err != nil {
			m.log.WithError(e.err).Warn("Face capture failed")
		}
		m.deps.UI.ShowError(msgNotEnoughSamples)
		m.resetCapture()
		return
	}

	m.setEnroll(EnrollTraining)
	m.deps.UI.SetProgress(msgTraining, 0, 0)

	epoch, owner := m.epoch, e.owner
	task := training.Launch(m.runCtx, m.deps.Trainer, func(t *training.Task) {
		m.Post(trainingDone{epoch: epoch, owner: owner, err: t.Err()})
	})
	m.log.WithFields(logging.Fields{"user_id": owner, "job": task.ID()}).Info("Launched model training")
}

// finishTraining binds the face label once a job succeeded. Results for a
// screen that was already left still bind the label but drive no UI.
func (m *Machine) finishTraining(e trainingDone) {
	current := e.epoch == m.epoch && m.State() == StateFaceEnrollment
	log := m.log.WithField("user_id", e.owner)

	if e.err != nil {
		log.WithError(e.err).Warn("Model training failed")
		if !current {
			return
		}
		msg := e.err.Error()
		if msg == "" {
			msg = msgTrainingUnknown
		}
		m.deps.UI.ShowError(msgTrainingFailed + msg)
		m.resetCapture()
		return
	}

	if err := m.deps.Credentials.BindFaceLabel(m.runCtx, e.owner, e.owner); err != nil {
		log.WithError(err).Error("Failed to bind face label")
		if current {
			m.deps.UI.ShowError(msgTrainingFailed + err.Error())
			m.resetCapture()
		}
		return
	}

	if !current {
		log.Info("Training finished after leaving enrollment")
		return
	}

	if p := m.sess.Pending; p != nil && p.ID == e.owner {
		user := *p
		label := e.owner
		user.FaceLabel = &label
		m.sess.User = &user
		m.sess.Pending = nil
	}

	m.setEnroll(EnrollCompleted)
	m.deps.UI.SetStatus(msgEnrolled)
	m.deps.UI.SetProgress(msgModelUpdated, 0, 0)

	epoch := m.epoch
	time.AfterFunc(m.opts.CompletionDelay, func() {
		m.Post(completionElapsed{epoch: epoch})
	})
}

func (m *Machine) resetCapture() {
	m.setEnroll(EnrollIdle)
	m.deps.UI.SetControlEnabled(ControlStartCapture, true)
	m.deps.UI.SetStatus(msgPositionFace)
	m.deps.UI.SetProgress(msgWaiting, 0, 0)
}

func (m *Machine) enterMain() {
	m.deps.UI.SetStatus(msgWelcome)
}

func (m *Machine) handleMain(ev Event) {
	if _, ok := ev.(Logout); ok {
		m.sess.User = nil
		m.transition(StateLogin)
	}
}
