// Общие утилиты транспортов RTP пакета: настройка сокетов для
// медиа трафика, создание UDP соединений и классификация сетевых ошибок.
package rtp

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

const (
	// DefaultBufferSize размер буфера чтения (MTU Ethernet)
	DefaultBufferSize = 1500

	// MediaRecvBuffer размер буфера получения сокета
	MediaRecvBuffer = 256 * 1024
	// MediaSendBuffer размер буфера отправки сокета
	MediaSendBuffer = 128 * 1024

	// DSCP значения для QoS согласно RFC 4594
	DSCPExpeditedForwarding = 46 // EF для интерактивного аудио
	DSCPAssuredForwarding   = 34 // AF41 для видео
	DSCPBestEffort          = 0
)

// ExtendedTransportConfig конфигурация транспорта с параметрами сокета
type ExtendedTransportConfig struct {
	TransportConfig
	ReusePort    bool   // SO_REUSEPORT
	DSCP         int    // DSCP маркировка (0 = не устанавливать)
	BindToDevice string // Привязка к сетевому интерфейсу (только Linux)
}

// ApplyDefaults применяет значения по умолчанию
func (etc *ExtendedTransportConfig) ApplyDefaults() {
	if etc.BufferSize == 0 {
		etc.BufferSize = DefaultBufferSize
	}
}

// Validate проверяет корректность конфигурации
func (etc *ExtendedTransportConfig) Validate() error {
	if etc.LocalAddr == "" {
		return fmt.Errorf("локальный адрес обязателен")
	}
	if etc.BufferSize < 0 {
		return fmt.Errorf("размер буфера не может быть отрицательным")
	}
	if etc.DSCP < 0 || etc.DSCP > 63 {
		return fmt.Errorf("DSCP должен быть в диапазоне 0-63")
	}
	return nil
}

// setSockOptForMedia применяет параметры сокета через SyscallConn
func setSockOptForMedia(conn *net.UDPConn, config ExtendedTransportConfig) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("не удалось получить системный сокет: %w", err)
	}

	var sockOptErr error
	err = rawConn.Control(func(fd uintptr) {
		sockOptErr = applySockOpt(fd, config)
	})
	if err != nil {
		return fmt.Errorf("ошибка управления сокетом: %w", err)
	}
	return sockOptErr
}

func applySockOpt(fd uintptr, config ExtendedTransportConfig) error {
	if err := setSockOptBuffers(fd, MediaRecvBuffer, MediaSendBuffer); err != nil {
		return fmt.Errorf("ошибка установки буферов: %w", err)
	}

	if config.DSCP > 0 {
		if err := setSockOptDSCP(fd, config.DSCP); err != nil {
			return fmt.Errorf("ошибка установки DSCP: %w", err)
		}
	}

	if config.ReusePort {
		if err := setSockOptReusePort(fd); err != nil {
			return fmt.Errorf("ошибка установки SO_REUSEPORT: %w", err)
		}
	}

	if config.BindToDevice != "" {
		if err := setSockOptBindToDevice(fd, config.BindToDevice); err != nil {
			return fmt.Errorf("ошибка привязки к устройству %s: %w", config.BindToDevice, err)
		}
	}

	setSockOptPriority(fd)
	return nil
}

// createUDPAddr создает *net.UDPAddr из строкового адреса
func createUDPAddr(addr string) (*net.UDPAddr, error) {
	if addr == "" {
		return nil, fmt.Errorf("адрес не может быть пустым")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения UDP адреса '%s': %w", addr, err)
	}
	return udpAddr, nil
}

// listenUDPExtended открывает неподключенный UDP сокет с параметрами для медиа.
// Сокет не подключается к удаленной стороне: через него же может идти
// симметричная отправка.
func listenUDPExtended(config ExtendedTransportConfig) (*net.UDPConn, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("неверная конфигурация: %w", err)
	}

	localUDPAddr, err := createUDPAddr(config.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка локального адреса: %w", err)
	}

	conn, err := net.ListenUDP("udp", localUDPAddr)
	if err != nil {
		return nil, classifyNetworkError("UDP bind", err)
	}

	if err := setSockOptForMedia(conn, config); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка настройки сокета: %w", err)
	}

	return conn, nil
}

// NetworkErrorType тип сетевой ошибки
type NetworkErrorType int

const (
	ErrorTypeTemporary  NetworkErrorType = iota // Временная ошибка
	ErrorTypePermanent                          // Постоянная ошибка
	ErrorTypeTimeout                            // Таймаут
	ErrorTypeConnection                         // Проблемы соединения
	ErrorTypeClosed                             // Сокет закрыт
	ErrorTypeUnknown                            // Неклассифицированная ошибка
)

func (t NetworkErrorType) String() string {
	switch t {
	case ErrorTypeTemporary:
		return "temporary"
	case ErrorTypePermanent:
		return "permanent"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeConnection:
		return "connection"
	case ErrorTypeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClassifiedError сетевая ошибка с классификацией
type ClassifiedError struct {
	Type      NetworkErrorType
	Operation string
	Err       error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s (type: %s)", e.Operation, e.Err.Error(), e.Type)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// classifyNetworkError анализирует сетевую ошибку
func classifyNetworkError(operation string, err error) error {
	if err == nil {
		return nil
	}

	classified := &ClassifiedError{
		Operation: operation,
		Err:       err,
		Type:      ErrorTypeUnknown,
	}

	var netErr net.Error
	switch {
	case errors.Is(err, net.ErrClosed):
		classified.Type = ErrorTypeClosed
	case errors.As(err, &netErr) && netErr.Timeout():
		classified.Type = ErrorTypeTimeout
	case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		classified.Type = ErrorTypeTemporary
	case errors.Is(err, syscall.EADDRINUSE), errors.Is(err, syscall.EACCES):
		classified.Type = ErrorTypePermanent
	case isConnectionError(err):
		classified.Type = ErrorTypeConnection
	}

	return classified
}

func isConnectionError(err error) bool {
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"host is unreachable",
		"no route to host",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsClosedError проверяет, вызвана ли ошибка закрытием транспорта
func IsClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, ErrTransportClosed) {
		return true
	}
	var classified *ClassifiedError
	return errors.As(err, &classified) && classified.Type == ErrorTypeClosed
}
