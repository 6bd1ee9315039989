package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arzzra/rcs_media/pkg/rtp"
)

// ManagerConfig параметры менеджера звонков
type ManagerConfig struct {
	LocalHost              string                 // Адрес привязки RTP сокетов
	MinPort                uint16                 // Минимальный RTP порт (четный)
	MaxPort                uint16                 // Максимальный RTP порт (четный)
	PortStep               int                    // Шаг между портами
	PortAllocationStrategy PortAllocationStrategy // Стратегия выделения портов
	MaxConcurrentCalls     int                    // Максимум одновременных звонков

	ReusePort    bool   // SO_REUSEPORT для RTP сокетов
	BindToDevice string // Привязка к интерфейсу (только Linux)
	DisableQoS   bool   // Не выставлять DSCP (EF для аудио, AF41 для видео)

	RTCPInterval time.Duration // Период RTCP отчетов отправителей; 0 - без отчетов
	CNAME        string        // CNAME в SDES; по умолчанию по SSRC

	// Identity сертификат для DTLS приема (PrepareSecureReceiver)
	Identity               rtp.IdentityProvider
	DTLSInsecureSkipVerify bool
	DTLSHandshakeTimeout   time.Duration
}

// DefaultManagerConfig конфигурация по умолчанию
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		LocalHost:              "0.0.0.0",
		MinPort:                10000,
		MaxPort:                20000,
		PortStep:               2,
		PortAllocationStrategy: PortAllocationSequential,
		MaxConcurrentCalls:     100,
		RTCPInterval:           DefaultRTCPInterval,
		DTLSHandshakeTimeout:   DefaultHandshakeTimeout,
	}
}

// DefaultRTCPInterval период отчетов по умолчанию (RFC 3550, 6.2)
const DefaultRTCPInterval = 5 * time.Second

// Validate проверяет конфигурацию
func (c ManagerConfig) Validate() error {
	if c.LocalHost == "" {
		return fmt.Errorf("LocalHost не может быть пустым")
	}
	if c.MinPort >= c.MaxPort {
		return fmt.Errorf("MinPort должен быть меньше MaxPort")
	}
	if c.MinPort%2 != 0 || c.MaxPort%2 != 0 {
		return fmt.Errorf("границы диапазона портов должны быть четными")
	}
	if c.PortStep <= 0 {
		return fmt.Errorf("PortStep должен быть больше 0")
	}
	if c.MaxConcurrentCalls <= 0 {
		return fmt.Errorf("MaxConcurrentCalls должен быть больше 0")
	}
	if c.RTCPInterval < 0 {
		return fmt.Errorf("RTCPInterval не может быть отрицательным")
	}

	// Звонку нужно до двух портов приема: аудио и видео
	ports := int(c.MaxPort-c.MinPort)/c.PortStep + 1
	if ports < 2*c.MaxConcurrentCalls {
		return fmt.Errorf("диапазон портов мал для %d звонков", c.MaxConcurrentCalls)
	}
	return nil
}

// ErrTooManyCalls превышен MaxConcurrentCalls
var ErrTooManyCalls = errors.New("превышено число одновременных звонков")

// ErrCallNotFound звонок с указанным ID не найден
var ErrCallNotFound = errors.New("звонок не найден")

// ErrManagerClosed менеджер остановлен
var ErrManagerClosed = errors.New("менеджер остановлен")

// Manager создает звонки и распределяет между ними RTP порты
type Manager struct {
	config   ManagerConfig
	registry *MediaRegistry
	ports    *PortPool
	metrics  *rtp.Metrics
	logger   *slog.Logger

	mu     sync.Mutex
	calls  map[string]*CallSession
	closed bool
}

// NewManager создает менеджер. registry, metrics и logger могут быть nil.
func NewManager(config ManagerConfig, registry *MediaRegistry, metrics *rtp.Metrics, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("невалидная конфигурация: %w", err)
	}
	if registry == nil {
		registry = DefaultMediaRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		config:   config,
		registry: registry,
		ports:    NewPortPool(config.MinPort, config.MaxPort, config.PortStep, config.PortAllocationStrategy),
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "media_manager")),
		calls:    make(map[string]*CallSession),
	}, nil
}

// Registry реестр кодеков менеджера
func (m *Manager) Registry() *MediaRegistry { return m.registry }

// AvailablePorts число свободных RTP портов
func (m *Manager) AvailablePorts() int { return m.ports.Available() }

// CreateCall создает пустой звонок
func (m *Manager) CreateCall() (*CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if len(m.calls) >= m.config.MaxConcurrentCalls {
		return nil, fmt.Errorf("%w: %d", ErrTooManyCalls, m.config.MaxConcurrentCalls)
	}

	call := newCallSession(m)
	m.calls[call.ID()] = call
	m.logger.Info("звонок создан", slog.String("call_id", call.ID()), slog.Int("active_calls", len(m.calls)))
	return call, nil
}

// Call возвращает звонок по ID
func (m *Manager) Call(id string) (*CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[id]
	return call, ok
}

// ActiveCalls число активных звонков
func (m *Manager) ActiveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// ReleaseCall останавливает звонок и возвращает его порты в пул
func (m *Manager) ReleaseCall(ctx context.Context, id string) error {
	m.mu.Lock()
	call, ok := m.calls[id]
	if ok {
		delete(m.calls, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}

	err := call.Stop(ctx)
	for _, port := range call.takePorts() {
		m.releasePort(port)
	}

	m.logger.Info("звонок завершен", slog.String("call_id", id))
	return err
}

// Shutdown завершает все звонки параллельно; новые звонки не создаются
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.calls))
	for id := range m.calls {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error { return m.ReleaseCall(ctx, id) })
	}
	return g.Wait()
}

func (m *Manager) allocatePort() (uint16, error) {
	return m.ports.Allocate()
}

func (m *Manager) releasePort(port uint16) {
	if err := m.ports.Release(port); err != nil {
		m.logger.Warn("ошибка освобождения порта", slog.Int("port", int(port)), slog.String("error", err.Error()))
	}
}

// transportConfig параметры сокета для потока медиа типа mediaType
func (m *Manager) transportConfig(mediaType rtp.MediaType, port uint16) rtp.ExtendedTransportConfig {
	cfg := rtp.ExtendedTransportConfig{
		TransportConfig: rtp.TransportConfig{
			LocalAddr: net.JoinHostPort(m.config.LocalHost, strconv.Itoa(int(port))),
		},
		ReusePort:    m.config.ReusePort,
		BindToDevice: m.config.BindToDevice,
	}
	if !m.config.DisableQoS {
		cfg.DSCP = rtp.DSCPExpeditedForwarding
		if mediaType == rtp.MediaTypeVideo {
			cfg.DSCP = rtp.DSCPAssuredForwarding
		}
	}
	return cfg
}
