//go:build windows

package socket

import (
	"io"
)

func newSocket(string) (io.ReadWriteCloser, error) {
	return nil, ErrNotSocket
}

func isNotExist(error) bool {
	return false
}
