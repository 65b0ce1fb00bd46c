package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facelogin/pkg/session"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with username and password",
	RunE:  runLogin,
}

var faceLoginCmd = &cobra.Command{
	Use:   "face-login",
	Short: "Sign in by looking at the camera",
	RunE:  runFaceLogin,
}

func init() {
	loginCmd.Flags().StringP("user", "u", "", "Username (prompted when empty)")
	faceLoginCmd.Flags().Duration("timeout", 30*time.Second, "Give up after this long without a recognized face")
	faceLoginCmd.Flags().String("preview", "", "Write the latest annotated camera frame to this PNG file")
	rootCmd.AddCommand(loginCmd, faceLoginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
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

	// Password login never reaches a camera screen.
	ui := newTerminalUI(out, "")
	m := a.Machine(ui, nil, a.Cameras(nil))
	stop := startMachine(ctx, m)
	defer stop()

	m.Post(session.LoginSubmitted{Username: username, Password: password})
	if err := ui.await(ctx, session.StateMain); err != nil {
		return err
	}

	fmt.Fprintf(out, "Signed in as %s.\n", username)
	return nil
}

func runFaceLogin(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

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

	m.Post(session.ChooseFaceLogin{})

	waitCtx, cancelWait := context.WithTimeout(ctx, mustGetDuration(cmd, "timeout"))
	defer cancelWait()

	if err := ui.await(waitCtx, session.StateMain); err != nil {
		m.Post(session.Cancel{})
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.New("no enrolled face recognized before the timeout")
		}
		return err
	}

	stop()
	if u := m.Session().User; u != nil {
		fmt.Fprintf(out, "Signed in as %s.\n", u.Username)
	}
	return nil
}
