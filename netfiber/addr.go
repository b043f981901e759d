// Package netfiber is a thin TCP/UDP façade over [fiberun.Loop] — explicitly
// out-of-core per the runtime's scope (see DESIGN.md), provided because a
// usable Go library needs callable socket entry points; it adds no
// scheduling semantics of its own, only net.Addr-shaped convenience over
// the Loop's raw Socket/Connect/Accept/Recv*/Send* operations.
package netfiber

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

func sockaddrFromIPPort(ip net.IP, port int) (unix.Sockaddr, error) {
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	ip16 := ip.To16()
	if ip16 == nil {
		return nil, fmt.Errorf("netfiber: invalid IP %v", ip)
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip16)
	return sa, nil
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP(nil), s.Addr[:]...), Port: s.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append(net.IP(nil), s.Addr[:]...), Port: s.Port}
	default:
		return nil
	}
}

func sockaddrToUDPAddr(sa unix.Sockaddr) *net.UDPAddr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: append(net.IP(nil), s.Addr[:]...), Port: s.Port}
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: append(net.IP(nil), s.Addr[:]...), Port: s.Port}
	default:
		return nil
	}
}

func domainFor(ip net.IP) int {
	if ip.To4() != nil {
		return unix.AF_INET
	}
	return unix.AF_INET6
}
