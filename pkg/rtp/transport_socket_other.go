//go:build !linux && !darwin

package rtp

// На остальных платформах параметры сокета остаются системными

func setSockOptBuffers(fd uintptr, recv, send int) error { return nil }

func setSockOptReusePort(fd uintptr) error { return nil }

func setSockOptBindToDevice(fd uintptr, device string) error { return nil }

func setSockOptPriority(fd uintptr) {}

func setSockOptDSCP(fd uintptr, dscp int) error { return nil }
