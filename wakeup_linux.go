//go:build linux

package fiberun

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates an eventfd used to bridge a non-fiber goroutine
// (a ThreadPool worker) back to the loop goroutine's epoll wait.
func createWakeFd(initval uint, flags int) (int, error) {
	return unix.Eventfd(initval, flags)
}
