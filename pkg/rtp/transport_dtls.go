package rtp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v2"
)

// IdentityProvider источник текущего TLS сертификата клиента.
// Хранилище ключей находится вне ядра, транспорт запрашивает
// сертификат при каждом рукопожатии.
type IdentityProvider interface {
	CurrentIdentity() (tls.Certificate, error)
}

// StaticIdentity IdentityProvider с фиксированным сертификатом
type StaticIdentity tls.Certificate

// CurrentIdentity возвращает сертификат
func (s StaticIdentity) CurrentIdentity() (tls.Certificate, error) {
	return tls.Certificate(s), nil
}

// FileIdentity читает сертификат и ключ из PEM файлов при каждом
// рукопожатии: обновленные файлы подхватываются без перезапуска
type FileIdentity struct {
	CertFile string
	KeyFile  string
}

// CurrentIdentity загружает пару сертификат/ключ
func (f FileIdentity) CurrentIdentity() (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("загрузка TLS идентичности %s: %w", f.CertFile, err)
	}
	return cert, nil
}

// DTLSTransportConfig конфигурация DTLS транспорта
type DTLSTransportConfig struct {
	TransportConfig

	Identity           IdentityProvider
	RootCAs            *x509.CertPool
	ClientCAs          *x509.CertPool
	ServerName         string
	InsecureSkipVerify bool
	CipherSuites       []dtls.CipherSuiteID

	HandshakeTimeout       time.Duration
	MTU                    int
	ReplayProtectionWindow int
}

// DefaultDTLSTransportConfig возвращает конфигурацию DTLS по умолчанию
func DefaultDTLSTransportConfig() DTLSTransportConfig {
	return DTLSTransportConfig{
		TransportConfig:        DefaultTransportConfig(),
		HandshakeTimeout:       30 * time.Second,
		MTU:                    1200,
		ReplayProtectionWindow: 64,
		CipherSuites: []dtls.CipherSuiteID{
			dtls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			dtls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			dtls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			dtls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
	}
}

func (c *DTLSTransportConfig) applyDefaults() {
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.MTU == 0 {
		c.MTU = 1200
	}
}

// DTLSTransport реализует Transport поверх установленного DTLS соединения.
// Соединение точка-точка: адрес в WriteTo игнорируется.
type DTLSTransport struct {
	conn     *dtls.Conn
	listener net.Listener

	active bool
	mutex  sync.RWMutex
}

// DialDTLSTransport устанавливает DTLS соединение как клиент
func DialDTLSTransport(ctx context.Context, config DTLSTransportConfig) (*DTLSTransport, error) {
	config.applyDefaults()
	if config.RemoteAddr == "" {
		return nil, fmt.Errorf("удаленный адрес обязателен для клиента")
	}

	remoteAddr, err := createUDPAddr(config.RemoteAddr)
	if err != nil {
		return nil, err
	}
	var localAddr *net.UDPAddr
	if config.LocalAddr != "" {
		if localAddr, err = createUDPAddr(config.LocalAddr); err != nil {
			return nil, err
		}
	}

	udpConn, err := net.DialUDP("udp", localAddr, remoteAddr)
	if err != nil {
		return nil, classifyNetworkError("UDP dial", err)
	}

	ctx, cancel := context.WithTimeout(ctx, config.HandshakeTimeout)
	defer cancel()

	dtlsConn, err := dtls.ClientWithContext(ctx, udpConn, buildDTLSConfig(config))
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("ошибка DTLS клиента: %w", err)
	}

	return &DTLSTransport{conn: dtlsConn, active: true}, nil
}

// DTLSListener принимает входящие DTLS соединения на локальном адресе
type DTLSListener struct {
	listener net.Listener
}

// ListenDTLS открывает DTLS listener на LocalAddr
func ListenDTLS(config DTLSTransportConfig) (*DTLSListener, error) {
	config.applyDefaults()

	localAddr, err := createUDPAddr(config.LocalAddr)
	if err != nil {
		return nil, err
	}

	listener, err := dtls.Listen("udp", localAddr, buildDTLSConfig(config))
	if err != nil {
		return nil, classifyNetworkError("DTLS listen", err)
	}
	return &DTLSListener{listener: listener}, nil
}

// Addr локальный адрес listener'а
func (l *DTLSListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Accept ожидает входящее соединение и завершает рукопожатие.
// Listener закрывается вместе с возвращенным транспортом.
func (l *DTLSListener) Accept() (*DTLSTransport, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("ошибка DTLS сервера: %w", err)
	}

	dtlsConn, ok := conn.(*dtls.Conn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("неожиданный тип соединения %T", conn)
	}

	return &DTLSTransport{conn: dtlsConn, listener: l.listener, active: true}, nil
}

// Close закрывает listener
func (l *DTLSListener) Close() error {
	return l.listener.Close()
}

// buildDTLSConfig создает конфигурацию pion/dtls. Сертификат берется
// из IdentityProvider в момент рукопожатия.
func buildDTLSConfig(config DTLSTransportConfig) *dtls.Config {
	dtlsConfig := &dtls.Config{
		RootCAs:                config.RootCAs,
		ClientCAs:              config.ClientCAs,
		ServerName:             config.ServerName,
		CipherSuites:           config.CipherSuites,
		InsecureSkipVerify:     config.InsecureSkipVerify,
		MTU:                    config.MTU,
		ReplayProtectionWindow: config.ReplayProtectionWindow,
		ExtendedMasterSecret:   dtls.RequireExtendedMasterSecret,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), config.HandshakeTimeout)
		},
	}

	if config.Identity != nil {
		identity := config.Identity
		dtlsConfig.GetCertificate = func(*dtls.ClientHelloInfo) (*tls.Certificate, error) {
			cert, err := identity.CurrentIdentity()
			if err != nil {
				return nil, fmt.Errorf("ошибка получения TLS идентичности: %w", err)
			}
			return &cert, nil
		}
		dtlsConfig.GetClientCertificate = func(*dtls.CertificateRequestInfo) (*tls.Certificate, error) {
			cert, err := identity.CurrentIdentity()
			if err != nil {
				return nil, fmt.Errorf("ошибка получения TLS идентичности: %w", err)
			}
			return &cert, nil
		}
	}

	return dtlsConfig
}

// ReadFrom читает одну расшифрованную датаграмму
func (t *DTLSTransport) ReadFrom(p []byte) (int, net.Addr, error) {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	t.mutex.RUnlock()

	if !active {
		return 0, nil, ErrTransportClosed
	}

	n, err := conn.Read(p)
	if err != nil {
		return 0, nil, classifyNetworkError("DTLS read", err)
	}
	return n, conn.RemoteAddr(), nil
}

// WriteTo шифрует и отправляет датаграмму удаленной стороне
func (t *DTLSTransport) WriteTo(p []byte, _ net.Addr) (int, error) {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	t.mutex.RUnlock()

	if !active {
		return 0, ErrTransportClosed
	}

	n, err := conn.Write(p)
	if err != nil {
		return n, classifyNetworkError("DTLS write", err)
	}
	return n, nil
}

// LocalAddr возвращает локальный адрес
func (t *DTLSTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// RemoteAddr возвращает адрес удаленной стороны
func (t *DTLSTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// ConnectionState возвращает состояние DTLS соединения
func (t *DTLSTransport) ConnectionState() dtls.State {
	return t.conn.ConnectionState()
}

// ExportKeyingMaterial экспортирует ключевой материал (например, для SRTP)
func (t *DTLSTransport) ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error) {
	state := t.conn.ConnectionState()
	return state.ExportKeyingMaterial(label, context, length)
}

// Close закрывает DTLS соединение и listener, если транспорт принят сервером
func (t *DTLSTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.active {
		return nil
	}
	t.active = false

	var errs []error
	if err := t.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ошибка закрытия DTLS соединения: %w", err))
	}
	if t.listener != nil {
		if err := t.listener.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ошибка закрытия DTLS listener: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("ошибки при закрытии: %v", errs)
	}
	return nil
}

// IsActive проверяет активность транспорта
func (t *DTLSTransport) IsActive() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.active
}

// DTLSRole роль стороны в DTLS рукопожатии (a=setup, RFC 4145)
type DTLSRole int

const (
	DTLSRoleClient DTLSRole = iota // Инициирует рукопожатие (setup:active)
	DTLSRoleServer                 // Ожидает рукопожатие (setup:passive)
)

func (r DTLSRole) String() string {
	if r == DTLSRoleServer {
		return "server"
	}
	return "client"
}

// PendingDTLSTransport серверный DTLS транспорт, который привязан к порту
// сразу, а рукопожатие с первым клиентом завершает в фоне. Чтение и
// запись ждут окончания рукопожатия; Close прерывает ожидание.
type PendingDTLSTransport struct {
	listener *DTLSListener
	ready    chan struct{}
	closed   chan struct{}

	mutex     sync.Mutex
	transport *DTLSTransport
	err       error
	isClosed  bool
}

// AcceptDTLSTransport открывает listener на LocalAddr и начинает ждать
// клиента
func AcceptDTLSTransport(config DTLSTransportConfig) (*PendingDTLSTransport, error) {
	listener, err := ListenDTLS(config)
	if err != nil {
		return nil, err
	}

	p := &PendingDTLSTransport{
		listener: listener,
		ready:    make(chan struct{}),
		closed:   make(chan struct{}),
	}
	go p.accept()
	return p, nil
}

func (p *PendingDTLSTransport) accept() {
	transport, err := p.listener.Accept()

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.isClosed {
		if transport != nil {
			transport.Close()
		}
		return
	}
	p.transport, p.err = transport, err
	close(p.ready)
}

// Ready закрывается по окончании рукопожатия, успешном или нет
func (p *PendingDTLSTransport) Ready() <-chan struct{} {
	return p.ready
}

// Wait ждет рукопожатия и возвращает установленный транспорт
func (p *PendingDTLSTransport) Wait(ctx context.Context) (*DTLSTransport, error) {
	select {
	case <-p.ready:
		p.mutex.Lock()
		defer p.mutex.Unlock()
		return p.transport, p.err
	case <-p.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PendingDTLSTransport) ReadFrom(b []byte) (int, net.Addr, error) {
	transport, err := p.Wait(context.Background())
	if err != nil {
		return 0, nil, err
	}
	return transport.ReadFrom(b)
}

// WriteTo не ждет рукопожатия: до подключения клиента адрес
// собеседника неизвестен и возвращается ErrNoRemoteAddr
func (p *PendingDTLSTransport) WriteTo(b []byte, addr net.Addr) (int, error) {
	select {
	case <-p.closed:
		return 0, ErrTransportClosed
	case <-p.ready:
	default:
		return 0, ErrNoRemoteAddr
	}

	p.mutex.Lock()
	transport, err := p.transport, p.err
	p.mutex.Unlock()
	if err != nil {
		return 0, err
	}
	return transport.WriteTo(b, addr)
}

func (p *PendingDTLSTransport) LocalAddr() net.Addr {
	return p.listener.Addr()
}

// RemoteAddr адрес клиента; nil до окончания рукопожатия
func (p *PendingDTLSTransport) RemoteAddr() net.Addr {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.transport == nil {
		return nil
	}
	return p.transport.RemoteAddr()
}

// ExportKeyingMaterial ждет рукопожатия и экспортирует ключевой материал
func (p *PendingDTLSTransport) ExportKeyingMaterial(label string, keyContext []byte, length int) ([]byte, error) {
	transport, err := p.Wait(context.Background())
	if err != nil {
		return nil, err
	}
	return transport.ExportKeyingMaterial(label, keyContext, length)
}

// Close закрывает listener и установленное соединение
func (p *PendingDTLSTransport) Close() error {
	p.mutex.Lock()
	if p.isClosed {
		p.mutex.Unlock()
		return nil
	}
	p.isClosed = true
	close(p.closed)
	transport := p.transport
	p.mutex.Unlock()

	if transport != nil {
		return transport.Close()
	}
	return p.listener.Close()
}

func (p *PendingDTLSTransport) IsActive() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.isClosed || p.err != nil {
		return false
	}
	return p.transport == nil || p.transport.IsActive()
}
