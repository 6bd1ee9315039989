package rtp

import (
	"net"
)

// Transport датаграммный транспорт RTP/RTCP.
// RTP и RTCP мультиплексируются в одном транспорте (RFC 5761),
// поэтому интерфейс оперирует сырыми датаграммами.
type Transport interface {
	// ReadFrom блокируется до получения датаграммы или закрытия транспорта
	ReadFrom(p []byte) (int, net.Addr, error)
	// WriteTo отправляет датаграмму; nil addr означает удаленный адрес по умолчанию
	WriteTo(p []byte, addr net.Addr) (int, error)
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Close() error
	IsActive() bool
}

// TransportConfig базовая конфигурация транспорта
type TransportConfig struct {
	LocalAddr  string // Локальный адрес для прослушивания (например, ":5004")
	RemoteAddr string // Удаленный адрес (может быть пустым, тогда узнается по первому пакету)
	BufferSize int    // Размер буфера чтения
}

// DefaultTransportConfig возвращает конфигурацию по умолчанию
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		LocalAddr:  "127.0.0.1:0",
		BufferSize: DefaultBufferSize,
	}
}
