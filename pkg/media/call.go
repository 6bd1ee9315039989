package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/rcs_media/pkg/rtp"
)

// CallSession набор RTP потоков одного звонка: не больше одного
// получателя и одного отправителя на каждый тип медиа (аудио, видео)
type CallSession struct {
	id      string
	manager *Manager
	logger  *slog.Logger

	mu        sync.Mutex
	receivers map[rtp.MediaType]*MediaRtpReceiver
	senders   map[rtp.MediaType]*MediaRtpSender
	ports     []uint16
	stopped   bool
}

func newCallSession(m *Manager) *CallSession {
	id := uuid.NewString()
	return &CallSession{
		id:        id,
		manager:   m,
		logger:    m.logger.With(slog.String("call_id", id)),
		receivers: make(map[rtp.MediaType]*MediaRtpReceiver),
		senders:   make(map[rtp.MediaType]*MediaRtpSender),
	}
}

// ID идентификатор звонка
func (c *CallSession) ID() string { return c.id }

func streamName(mediaType rtp.MediaType, direction string) string {
	return mediaType.String() + "-" + direction
}

// PrepareReceiver выделяет порт из пула и готовит прием потока format
func (c *CallSession) PrepareReceiver(renderer Renderer, format *rtp.Format) (*MediaRtpReceiver, error) {
	return c.prepareReceiver(renderer, format, nil)
}

// PrepareSecureReceiver готовит прием через DTLS с сертификатом
// ManagerConfig.Identity. В роли сервера сокет привязывается сразу,
// а рукопожатие завершается, когда подключится remote сторона.
// В роли клиента remoteAddr адрес DTLS сервера собеседника.
func (c *CallSession) PrepareSecureReceiver(renderer Renderer, format *rtp.Format, role rtp.DTLSRole, remoteAddr string) (*MediaRtpReceiver, error) {
	if c.manager.config.Identity == nil {
		return nil, newPrepareError(ErrorCodeBind, c.id, ErrNoIdentity, formatContext(format, remoteAddr))
	}
	return c.prepareReceiver(renderer, format, &SecureTransport{
		Identity:           c.manager.config.Identity,
		Role:               role,
		RemoteAddr:         remoteAddr,
		InsecureSkipVerify: c.manager.config.DTLSInsecureSkipVerify,
		HandshakeTimeout:   c.manager.config.DTLSHandshakeTimeout,
	})
}

func (c *CallSession) prepareReceiver(renderer Renderer, format *rtp.Format, secure *SecureTransport) (*MediaRtpReceiver, error) {
	if format == nil {
		return nil, newPrepareError(ErrorCodeCodecChain, c.id, errors.New("формат не задан"), nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, newSessionError(ErrorCodeSessionPrepared, c.id, "звонок завершен", nil)
	}
	if _, exists := c.receivers[format.MediaType]; exists {
		return nil, newSessionError(ErrorCodeSessionPrepared, c.id,
			fmt.Sprintf("прием %s уже подготовлен", format.MediaType), nil)
	}

	port, err := c.manager.allocatePort()
	if err != nil {
		return nil, newPrepareError(ErrorCodeBind, c.id, err, formatContext(format, ""))
	}

	transport := c.manager.transportConfig(format.MediaType, port)
	receiver := NewMediaRtpReceiver(ReceiverConfig{
		Registry:  c.manager.registry,
		Transport: transport,
		Secure:    secure,
		Name:      streamName(format.MediaType, "in"),
		Logger:    c.logger,
		Metrics:   c.manager.metrics,
	})
	if err := receiver.PrepareSession(transport.LocalAddr, renderer, format); err != nil {
		c.manager.releasePort(port)
		return nil, err
	}

	c.receivers[format.MediaType] = receiver
	c.ports = append(c.ports, port)
	return receiver, nil
}

// PrepareSender готовит отправку потока format на remoteAddr.
// Если для этого типа медиа уже подготовлен прием, отправка идет
// с того же сокета (симметричный RTP), иначе открывается свой сокет.
func (c *CallSession) PrepareSender(device CaptureDevice, remoteAddr string, format *rtp.Format) (*MediaRtpSender, error) {
	if format == nil {
		return nil, newPrepareError(ErrorCodeCodecChain, c.id, errors.New("формат не задан"), nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, newSessionError(ErrorCodeSessionPrepared, c.id, "звонок завершен", nil)
	}
	if _, exists := c.senders[format.MediaType]; exists {
		return nil, newSessionError(ErrorCodeSessionPrepared, c.id,
			fmt.Sprintf("отправка %s уже подготовлена", format.MediaType), nil)
	}

	transport := c.manager.transportConfig(format.MediaType, 0)
	sender := NewMediaRtpSender(SenderConfig{
		Registry:       c.manager.registry,
		Transport:      transport,
		ReportInterval: c.manager.config.RTCPInterval,
		CNAME:          c.manager.config.CNAME,
		Name:           streamName(format.MediaType, "out"),
		Logger:         c.logger,
		Metrics:        c.manager.metrics,
	})

	var err error
	if receiver, ok := c.receivers[format.MediaType]; ok {
		err = sender.PrepareSessionShared(device, receiver.InputStream(), remoteAddr, format)
	} else {
		err = sender.PrepareSession(device, remoteAddr, format)
	}
	if err != nil {
		return nil, err
	}

	c.senders[format.MediaType] = sender
	return sender, nil
}

// LocalAddr адрес приема для типа медиа; используется в SDP ответе
func (c *CallSession) LocalAddr(mediaType rtp.MediaType) (net.Addr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	receiver, ok := c.receivers[mediaType]
	if !ok {
		return nil, false
	}
	return receiver.LocalAddr(), true
}

// Receiver подготовленный получатель типа медиа
func (c *CallSession) Receiver(mediaType rtp.MediaType) (*MediaRtpReceiver, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receivers[mediaType]
	return r, ok
}

// Sender подготовленный отправитель типа медиа
func (c *CallSession) Sender(mediaType rtp.MediaType) (*MediaRtpSender, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.senders[mediaType]
	return s, ok
}

type mediaSession interface {
	ID() string
	StartSession() error
	StopSession() error
}

func (c *CallSession) sessions() (receivers, senders []mediaSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.receivers {
		receivers = append(receivers, r)
	}
	for _, s := range c.senders {
		senders = append(senders, s)
	}
	return receivers, senders
}

// Start запускает все подготовленные потоки: сначала прием, затем отправку.
// При ошибке запущенные потоки останавливаются.
func (c *CallSession) Start() error {
	receivers, senders := c.sessions()

	var started []mediaSession
	for _, s := range append(receivers, senders...) {
		if err := s.StartSession(); err != nil {
			for _, st := range started {
				st.StopSession()
			}
			return err
		}
		started = append(started, s)
	}

	c.logger.Info("звонок запущен", slog.Int("receivers", len(receivers)), slog.Int("senders", len(senders)))
	return nil
}

// Stop останавливает все потоки звонка. Отправители останавливаются
// раньше получателей: отправитель с общим сокетом шлет RTCP BYE через
// сокет получателя.
func (c *CallSession) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	receivers, senders := c.sessions()
	return errors.Join(
		stopConcurrently(ctx, senders),
		stopConcurrently(ctx, receivers),
	)
}

func stopConcurrently(ctx context.Context, sessions []mediaSession) error {
	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			if err := s.StopSession(); err != nil {
				return fmt.Errorf("остановка сессии %s: %w", s.ID(), err)
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// takePorts передает выделенные порты вызывающему для освобождения
func (c *CallSession) takePorts() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ports := c.ports
	c.ports = nil
	return ports
}
