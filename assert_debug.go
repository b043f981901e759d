//go:build fiberun_debug

package fiberun

import "fmt"

func assertFail(format string, args ...any) {
	panic("fiberun: assertion failed: " + fmt.Sprintf(format, args...))
}
