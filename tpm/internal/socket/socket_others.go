//go:build !windows

package socket

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/google/go-tpm/tpmutil"
)

func newSocket(path string) (io.ReadWriteCloser, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNotSocket)
	}
	return tpmutil.NewEmulatorReadWriteCloser(path), nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
