//go:build linux || darwin

package fiberun

import (
	"golang.org/x/sys/unix"
)

// closeFD closes a file descriptor, treating EINTR as success without
// retrying, per close(2)'s Linux semantics (the fd is always released on
// the first call even if it returns EINTR, so a retry would close an
// unrelated, possibly-reused fd).
func closeFD(fd int) error {
	err := unix.Close(fd)
	if err == unix.EINTR {
		return nil
	}
	return err
}

// readFD reads from fd, retrying on EINTR.
func readFD(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// writeFD writes to fd, retrying on EINTR.
func writeFD(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Write(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}
