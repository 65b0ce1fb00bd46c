package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facelogin/pkg/enroll"
	"github.com/MrCodeEU/facelogin/pkg/logging"
	"github.com/MrCodeEU/facelogin/pkg/training"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Capture more face samples for an existing user",
	Long: `Enroll signs the user in with their password, captures another set of
face samples, retrains the model and binds the face label. Use it to retry
an enrollment whose training failed; earlier samples are kept.`,
	RunE: runEnroll,
}

func init() {
	enrollCmd.Flags().StringP("user", "u", "", "Username (prompted when empty)")
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	username, err := promptUsername(stdin, out, mustGetString(cmd, "user"))
	if err != nil {
		return err
	}
	password, err := promptPassword(stdin, out, "Contraseña: ")
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.Store.Authenticate(ctx, username, password)
	if err != nil {
		return err
	}

	locator, err := a.Locator()
	if err != nil {
		return err
	}

	cam, err := a.Cameras(nil).Acquire()
	if err != nil {
		return err
	}
	defer cam.Close()

	opts := a.SessionOptions()
	bar := progressbar.NewOptions(opts.Samples,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("Muestras"),
		progressbar.OptionShowCount(),
	)

	acquirer := enroll.NewAcquirer(cam, locator, a.Gallery,
		enroll.WithParams(opts.EnrollmentParams),
		enroll.WithMinRegion(opts.MinRegion),
		enroll.WithProgress(func(p enroll.Progress) {
			if p.Err != nil {
				logging.Component("cli").WithError(p.Err).Warn("Failed to save sample")
				return
			}
			_ = bar.Set(p.Count)
		}),
	)

	fmt.Fprintln(out, "Posicione su rostro frente a la cámara")
	ok, err := acquirer.Acquire(ctx, user.ID, opts.Samples)
	_ = bar.Finish()
	fmt.Fprintln(out)
	if err != nil || !ok {
		return errors.Join(errors.New("could not capture enough samples"), err)
	}
	_ = cam.Close()

	fmt.Fprintln(out, "Entrenando modelo...")
	task := training.Launch(ctx, a.Runner(), nil)
	if err := task.Wait(ctx); err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	if err := a.Store.BindFaceLabel(ctx, user.ID, user.ID); err != nil {
		return err
	}

	logging.Component("cli").WithField("user_id", user.ID).Info("Enrollment completed")
	fmt.Fprintln(out, "¡Registro completado con éxito!")
	return nil
}
