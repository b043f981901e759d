package fiberun

import "os"

// ReadFile off-loads a synchronous whole-file read onto the async bridge's
// thread pool — supplemented per SPEC_FULL.md §9, grounded on
// original_source/src/async.cc's file read off-load path. Use [Loop.Open]
// plus [Loop.Read] instead when the fd should participate in the poller
// (a FIFO or device file); ReadFile is for regular files, whose
// O_NONBLOCK flag the kernel simply ignores.
func (l *Loop) ReadFile(f *Fiber, name string) ([]byte, error) {
	res, err := l.async.Execute(f, func() (any, error) {
		return os.ReadFile(name)
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

// WriteFile off-loads a synchronous whole-file write onto the async
// bridge's thread pool.
func (l *Loop) WriteFile(f *Fiber, name string, data []byte, perm os.FileMode) error {
	_, err := l.async.Execute(f, func() (any, error) {
		return nil, os.WriteFile(name, data, perm)
	})
	return err
}
