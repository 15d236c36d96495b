package object

import (
	"fmt"
	"io"
	"os"
)

// MaxFileSize is the largest identifier file that is read. Context files and
// TSS2 keys are a few kilobytes.
const MaxFileSize = 1 << 20

// readFile reads an identifier file. Only regular files are opened, so
// devices and named pipes are never read.
func readFile(name string) ([]byte, error) {
	fi, err := os.Stat(name)
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", name)
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(b) > MaxFileSize {
		return nil, fmt.Errorf("%s is larger than %d bytes", name, MaxFileSize)
	}
	return b, nil
}
