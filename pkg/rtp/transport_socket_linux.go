//go:build linux

package rtp

import (
	"golang.org/x/sys/unix"
)

// mediaSocketPriority приоритет SO_PRIORITY для интерактивного медиа трафика
const mediaSocketPriority = 6

func setSockOptBuffers(fd uintptr, recv, send int) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, recv); err != nil {
		return err
	}
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, send)
}

// setSockOptReusePort включает SO_REUSEPORT: несколько сокетов на одном порту
// с распределением нагрузки ядром
func setSockOptReusePort(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// setSockOptBindToDevice привязывает сокет к сетевому интерфейсу
func setSockOptBindToDevice(fd uintptr, device string) error {
	return unix.SetsockoptString(int(fd), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, device)
}

// setSockOptPriority выставляет SO_PRIORITY. В контейнерах без CAP_NET_ADMIN
// может не сработать, ошибка игнорируется.
func setSockOptPriority(fd uintptr) {
	_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PRIORITY, mediaSocketPriority)
}

// setSockOptDSCP устанавливает DSCP (старшие 6 бит TOS) для IPv4 и IPv6
func setSockOptDSCP(fd uintptr, dscp int) error {
	tos := dscp << 2
	if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
		return err
	}
	// Для IPv4-only сокета IPV6_TCLASS вернет ошибку
	_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	return nil
}
