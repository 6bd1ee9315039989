package media

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/arzzra/rcs_media/pkg/rtp"
)

// rtpSession общее состояние отправителя и получателя: подготовленный
// Processor и формат сессии
type rtpSession struct {
	id      string
	name    string
	logger  *slog.Logger
	metrics *rtp.Metrics

	mu        sync.Mutex
	processor *rtp.Processor
	format    *rtp.Format
}

func newRTPSession(component string, logger *slog.Logger, metrics *rtp.Metrics) rtpSession {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return rtpSession{
		id:      id,
		logger:  logger.With(slog.String("component", component), slog.String("session_id", id)),
		metrics: metrics,
	}
}

// ID идентификатор сессии
func (s *rtpSession) ID() string { return s.id }

// Format формат подготовленной сессии, nil до PrepareSession
func (s *rtpSession) Format() *rtp.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Processor рабочий цикл сессии, nil до PrepareSession
func (s *rtpSession) Processor() *rtp.Processor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processor
}

// checkNotPrepared вызывается под s.mu
func (s *rtpSession) checkNotPrepared() error {
	if s.processor != nil {
		return newSessionError(ErrorCodeSessionPrepared, s.id, "сессия уже подготовлена", nil)
	}
	return nil
}

func (s *rtpSession) newProcessor(input rtp.ProcessorInputStream, output rtp.ProcessorOutputStream, chain *rtp.CodecChain, format *rtp.Format) error {
	processor, err := rtp.NewProcessor(rtp.ProcessorConfig{
		Input:        input,
		Output:       output,
		Chain:        chain,
		Name:         s.name,
		LockOSThread: true,
		Logger:       s.logger,
		Metrics:      s.metrics,
	})
	if err != nil {
		return err
	}
	s.processor = processor
	s.format = format
	return nil
}

// StartSession запускает Processor подготовленной сессии
func (s *rtpSession) StartSession() error {
	s.mu.Lock()
	processor, format := s.processor, s.format
	s.mu.Unlock()

	if processor == nil {
		return newSessionError(ErrorCodeSessionNotPrepared, s.id, "сессия не подготовлена", nil)
	}
	if err := processor.Start(); err != nil {
		return newSessionError(ErrorCodeSessionStart, s.id, "не удалось запустить процессор", err)
	}

	s.logger.Info("сессия запущена", slog.String("format", format.String()))
	return nil
}

// stopProcessor останавливает Processor; безопасно без PrepareSession
func (s *rtpSession) stopProcessor() error {
	s.mu.Lock()
	processor := s.processor
	s.mu.Unlock()

	if processor == nil {
		return nil
	}
	return processor.Stop()
}

func formatContext(format *rtp.Format, addr string) map[string]interface{} {
	ctx := map[string]interface{}{"addr": addr}
	if format != nil {
		ctx["codec"] = format.Encoding
		ctx["payload_type"] = format.PayloadType
	}
	return ctx
}
