package media

import (
	"context"
	"crypto/x509"
	"errors"
	"time"

	"github.com/arzzra/rcs_media/pkg/rtp"
)

// DefaultHandshakeTimeout время на DTLS рукопожатие клиента
const DefaultHandshakeTimeout = 10 * time.Second

// SecureTransport параметры DTLS для RTP сокета получателя.
// Клиент подключается к RemoteAddr при подготовке сессии; сервер
// привязывается к локальному адресу сразу и ждет клиента в фоне.
type SecureTransport struct {
	// Identity источник текущего TLS сертификата; обязателен
	Identity rtp.IdentityProvider

	Role       rtp.DTLSRole
	RemoteAddr string // Адрес сервера, только для клиента

	RootCAs            *x509.CertPool
	InsecureSkipVerify bool
	HandshakeTimeout   time.Duration
}

// ErrNoIdentity DTLS запрошен без TLS идентичности
var ErrNoIdentity = errors.New("не задана TLS идентичность для DTLS")

func (s *SecureTransport) open(localAddr string) (rtp.Transport, error) {
	if s.Identity == nil {
		return nil, ErrNoIdentity
	}

	config := rtp.DefaultDTLSTransportConfig()
	config.LocalAddr = localAddr
	config.Identity = s.Identity
	config.RootCAs = s.RootCAs
	config.InsecureSkipVerify = s.InsecureSkipVerify
	config.HandshakeTimeout = s.HandshakeTimeout
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}

	if s.Role == rtp.DTLSRoleServer {
		return rtp.AcceptDTLSTransport(config)
	}

	if s.RemoteAddr == "" {
		return nil, errors.New("не задан адрес DTLS сервера")
	}
	config.RemoteAddr = s.RemoteAddr
	return rtp.DialDTLSTransport(context.Background(), config)
}
