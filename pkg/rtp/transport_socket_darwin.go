//go:build darwin

package rtp

import (
	"golang.org/x/sys/unix"
)

func setSockOptBuffers(fd uintptr, recv, send int) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, recv); err != nil {
		return err
	}
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, send)
}

// setSockOptReusePort на macOS включает SO_REUSEADDR и, если доступен, SO_REUSEPORT
func setSockOptReusePort(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	return nil
}

// setSockOptBindToDevice на macOS не поддерживается: интерфейс выбирается
// локальным адресом сокета
func setSockOptBindToDevice(fd uintptr, device string) error {
	return nil
}

func setSockOptPriority(fd uintptr) {}

func setSockOptDSCP(fd uintptr, dscp int) error {
	tos := dscp << 2
	if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
		return err
	}
	_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	return nil
}
