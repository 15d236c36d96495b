// Copyright 2021 The age Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package termutil reads secrets from the controlling terminal.
package termutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/term"
)

// ErrNoTerminal is returned when neither stdin nor the controlling terminal
// can be used to prompt.
var ErrNoTerminal = errors.New("standard input is not a terminal and no controlling terminal is available")

// readPassword is replaced in tests.
var readPassword = term.ReadPassword

// clearLine erases the prompt, or starts a new line if escape codes are not
// supported.
func clearLine(out io.Writer) {
	const (
		csi = "\033["
		cpl = csi + "F" // cursor previous line
		el  = csi + "K" // erase in line
	)
	// CRLF rather than LF for CONOUT$ under WSL2.
	fmt.Fprint(out, "\r\n"+cpl+el)
}

// openTerminal returns the input and output of the controlling terminal.
// Stdin is used when it is a terminal and no other is available.
func openTerminal() (in, out *os.File, closeFn func(), err error) {
	if runtime.GOOS == "windows" {
		in, err := os.OpenFile("CONIN$", os.O_RDWR, 0)
		if err != nil {
			return nil, nil, nil, err
		}
		out, err := os.OpenFile("CONOUT$", os.O_WRONLY, 0)
		if err != nil {
			in.Close()
			return nil, nil, nil, err
		}
		return in, out, func() { in.Close(); out.Close() }, nil
	}

	if tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0); err == nil {
		return tty, tty, func() { tty.Close() }, nil
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return os.Stdin, os.Stderr, func() {}, nil
	}
	return nil, nil, nil, ErrNoTerminal
}

// ReadPassword prompts for a value on the terminal and reads it without
// echo. The prompt is erased once the value is read.
func ReadPassword(prompt string) ([]byte, error) {
	in, out, closeFn, err := openTerminal()
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return prompter{in: in, out: out}.read(prompt)
}

type prompter struct {
	in  interface{ Fd() uintptr }
	out io.Writer
}

func (p prompter) read(prompt string) ([]byte, error) {
	fmt.Fprintf(p.out, "%s ", prompt)
	defer clearLine(p.out)
	return readPassword(int(p.in.Fd()))
}
