package fiberun

import (
	"context"
	"net"
)

// LookupHost off-loads DNS resolution onto the async bridge's thread pool,
// since getaddrinfo has no non-blocking kernel equivalent — spec.md §4.6's
// motivating example, supplemented per SPEC_FULL.md §9. Grounded on
// original_source/src/async.cc's getaddrinfo off-load path.
func (l *Loop) LookupHost(f *Fiber, ctx context.Context, host string) ([]string, error) {
	res, err := l.async.Execute(f, func() (any, error) {
		return net.DefaultResolver.LookupHost(ctx, host)
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}
