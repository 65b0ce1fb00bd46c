package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// isTerminal is a test seam for term.IsTerminal.
var isTerminal = term.IsTerminal

var stdin = bufio.NewReader(os.Stdin)

// promptLine prints label and reads one trimmed line from r.
func promptLine(r *bufio.Reader, w io.Writer, label string) (string, error) {
	if _, err := fmt.Fprint(w, label); err != nil {
		return "", err
	}
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads a password without echo. When stdin is not a
// terminal the password is read as a plain line, for scripted use.
func promptPassword(r *bufio.Reader, w io.Writer, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		return promptLine(r, w, label)
	}

	if _, err := fmt.Fprint(w, label); err != nil {
		return "", err
	}
	pw, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// promptUsername returns flagValue or asks for a username.
func promptUsername(r *bufio.Reader, w io.Writer, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	name, err := promptLine(r, w, "Usuario: ")
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", errors.New("username required")
	}
	return name, nil
}
