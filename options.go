// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiberun

import "runtime"

// loopOptions holds configuration resolved from LoopOption values passed
// to NewLoop.
type loopOptions struct {
	poolSize     int
	debugAsserts bool
	logger       Logger
	fatal        func(error)
}

// LoopOption configures a Loop at construction.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithPoolSize sets the number of worker goroutines backing the Loop's
// ThreadPool (C7). n ≤ 0 uses runtime.GOMAXPROCS(0).
func WithPoolSize(n int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.poolSize = n
		return nil
	}}
}

// WithLogger installs the Logger the Loop uses for its own diagnostics
// (poll errors, timer panics, pool worker faults). The default is
// NewDefaultLogger(LevelWarn), writing to os.Stdout.
func WithLogger(l Logger) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = l
		return nil
	}}
}

// WithFatalHook overrides the function called when the runtime hits an
// unrecoverable internal error (see SPEC_FULL.md §7 — eventfd write
// failure, setsockopt restore failure). The default panics.
func WithFatalHook(fn func(error)) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.fatal = fn
		return nil
	}}
}

func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		poolSize: defaultPoolSize(),
		logger:   NewDefaultLogger(LevelWarn),
		fatal:    defaultFatal,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func defaultPoolSize() int {
	if n := runtime.GOMAXPROCS(0); n > 0 {
		return n
	}
	return 1
}

func defaultFatal(err error) {
	panic(err)
}
