package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facelogin/pkg/session"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new user and enroll their face",
	Long: `Register creates a user with a password, then captures face samples
from the camera and retrains the recognition model. The face label is
bound to the user only after training succeeded.`,
	RunE: runRegister,
}

func init() {
	registerCmd.Flags().StringP("user", "u", "", "Username (prompted when empty)")
	registerCmd.Flags().String("preview", "", "Write the latest camera frame to this PNG file")
	rootCmd.AddCommand(registerCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	username, err := promptUsername(stdin, out, mustGetString(cmd, "user"))
	if err != nil {
		return err
	}
	password, err := promptPassword(stdin, out, "Contraseña: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword(stdin, out, "Confirmar contraseña: ")
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

	locator, err := a.Locator()
	if err != nil {
		return err
	}

	ui := newTerminalUI(out, mustGetString(cmd, "preview"))
	m := a.Machine(ui, locator, a.Cameras(nil))
	stop := startMachine(ctx, m)
	defer stop()

	m.Post(session.ChooseRegister{})
	m.Post(session.RegisterSubmitted{Username: username, Password: password, Confirm: confirm})
	if err := ui.await(ctx, session.StateFaceEnrollment); err != nil {
		return err
	}

	if _, err := promptLine(stdin, out, "Pulse Enter para comenzar la captura..."); err != nil {
		return err
	}
	m.Post(session.StartCapture{})

	if err := ui.await(ctx, session.StateMain); err != nil {
		return fmt.Errorf("enrollment failed, retry with 'facelogin enroll -u %s': %w", username, err)
	}

	fmt.Fprintf(out, "User %s registered with face login.\n", username)
	return nil
}
