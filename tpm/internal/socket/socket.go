// Package socket connects to TPM emulators listening on a UNIX socket.
package socket

import (
	"errors"
	"io"
)

// ErrNotSocket is returned when the path exists but is not a socket.
var ErrNotSocket = errors.New("not a socket")

// New connects to the emulator listening on path.
func New(path string) (io.ReadWriteCloser, error) {
	return newSocket(path)
}

// IsNotSocket reports whether err means the path is not a socket, including
// when it does not exist.
func IsNotSocket(err error) bool {
	return errors.Is(err, ErrNotSocket) || isNotExist(err)
}
