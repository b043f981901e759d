// Command fiberuncli is a smoke test for the fiberun runtime: it starts a
// TCP echo listener and a client fiber that dials it, exchanges one
// message, and shuts the loop down — exercising spawn, accept, connect,
// read, write and shutdown end to end.
package main

import (
	"fmt"
	"log"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/aldersgate-run/fiberun"
	"github.com/aldersgate-run/fiberun/netfiber"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fiberuncli:", err)
		os.Exit(1)
	}
}

func run() error {
	loop, err := fiberun.NewLoop(fiberun.WithLogger(fiberun.NewWriterLogger(fiberun.LevelWarn, os.Stderr)))
	if err != nil {
		return err
	}
	defer loop.Shutdown()

	var g errgroup.Group

	ln, err := netfiber.Listen(loop, "tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	defer ln.Close()

	loop.Spawn(func(f *fiberun.Fiber) error {
		conn, err := ln.Accept(f)
		if err != nil {
			return err
		}
		defer conn.Close()

		buf := make([]byte, 64)
		n, err := conn.Read(f, buf)
		if err != nil {
			return err
		}
		if _, err := conn.Write(f, buf[:n]); err != nil {
			return err
		}
		return nil
	}, true)

	loop.Spawn(func(f *fiberun.Fiber) error {
		conn, err := netfiber.Dial(f, loop, "tcp", ln.Addr().String())
		if err != nil {
			return err
		}
		defer conn.Close()

		msg := []byte("ping")
		if _, err := conn.Write(f, msg); err != nil {
			return err
		}

		buf := make([]byte, len(msg))
		n, err := conn.Read(f, buf)
		if err != nil {
			return err
		}
		log.Printf("fiberuncli: echoed %q", buf[:n])
		return nil
	}, true)

	g.Go(loop.Run)
	return g.Wait()
}
