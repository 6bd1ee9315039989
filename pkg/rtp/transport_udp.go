package rtp

import (
	"fmt"
	"net"
	"sync"
)

// UDPTransport реализует Transport поверх неподключенного UDP сокета.
// Чтение не использует таймаутов: блокирующий ReadFrom снимается только
// закрытием транспорта.
type UDPTransport struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	config     ExtendedTransportConfig

	active bool
	mutex  sync.RWMutex
}

// NewUDPTransport создает UDP транспорт и привязывает его к LocalAddr
func NewUDPTransport(config ExtendedTransportConfig) (*UDPTransport, error) {
	config.ApplyDefaults()

	conn, err := listenUDPExtended(config)
	if err != nil {
		return nil, err
	}

	transport := &UDPTransport{
		conn:   conn,
		config: config,
		active: true,
	}

	if config.RemoteAddr != "" {
		remoteAddr, err := createUDPAddr(config.RemoteAddr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("ошибка удаленного адреса: %w", err)
		}
		transport.remoteAddr = remoteAddr
	}

	return transport, nil
}

// ReadFrom читает одну датаграмму. Если удаленный адрес не задан,
// он запоминается по первому пакету (симметричный RTP).
func (t *UDPTransport) ReadFrom(p []byte) (int, net.Addr, error) {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	t.mutex.RUnlock()

	if !active {
		return 0, nil, ErrTransportClosed
	}

	n, addr, err := conn.ReadFromUDP(p)
	if err != nil {
		return 0, nil, classifyNetworkError("UDP read", err)
	}

	t.mutex.Lock()
	if t.remoteAddr == nil {
		t.remoteAddr = addr
	}
	t.mutex.Unlock()

	return n, addr, nil
}

// WriteTo отправляет датаграмму на addr или на удаленный адрес по умолчанию
func (t *UDPTransport) WriteTo(p []byte, addr net.Addr) (int, error) {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	remoteAddr := t.remoteAddr
	t.mutex.RUnlock()

	if !active {
		return 0, ErrTransportClosed
	}

	target := remoteAddr
	if addr != nil {
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			resolved, err := createUDPAddr(addr.String())
			if err != nil {
				return 0, err
			}
			udpAddr = resolved
		}
		target = udpAddr
	}
	if target == nil {
		return 0, ErrNoRemoteAddr
	}

	n, err := conn.WriteToUDP(p, target)
	if err != nil {
		return n, classifyNetworkError("UDP write", err)
	}
	return n, nil
}

// LocalAddr возвращает локальный адрес
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// RemoteAddr возвращает удаленный адрес
func (t *UDPTransport) RemoteAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.remoteAddr == nil {
		return nil
	}
	return t.remoteAddr
}

// SetRemoteAddr устанавливает удаленный адрес
func (t *UDPTransport) SetRemoteAddr(addr string) error {
	remoteAddr, err := createUDPAddr(addr)
	if err != nil {
		return err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.remoteAddr = remoteAddr
	return nil
}

// Close закрывает транспорт; ожидающий ReadFrom возвращает ошибку
func (t *UDPTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.active {
		return nil
	}
	t.active = false

	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

// IsActive проверяет активность транспорта
func (t *UDPTransport) IsActive() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.active
}
