package media

import (
	"errors"
	"log/slog"
	"time"

	"github.com/arzzra/rcs_media/pkg/rtp"
)

// SenderConfig параметры MediaRtpSender
type SenderConfig struct {
	// Registry источник цепочек кодеков; по умолчанию DefaultMediaRegistry
	Registry *MediaRegistry

	// Transport параметры собственного сокета для PrepareSession.
	// RemoteAddr берется из аргумента PrepareSession.
	Transport rtp.ExtendedTransportConfig

	// SSRC исходящего потока; 0 - случайный
	SSRC uint32

	// ReportInterval период RTCP SR/RR с SDES; 0 - только BYE при остановке
	ReportInterval time.Duration
	CNAME          string

	// Name метка потока в логах и метриках
	Name string

	Logger  *slog.Logger
	Metrics *rtp.Metrics
}

// MediaRtpSender исходящий RTP поток: устройство захвата -> цепочка
// кодирования -> RTP сокет
type MediaRtpSender struct {
	rtpSession
	config SenderConfig
	output *rtp.RtpOutputStream
}

// NewMediaRtpSender создает отправителя; ресурсы выделяются в PrepareSession
func NewMediaRtpSender(config SenderConfig) *MediaRtpSender {
	if config.Registry == nil {
		config.Registry = DefaultMediaRegistry()
	}
	if config.Name == "" {
		config.Name = "media-out"
	}
	s := &MediaRtpSender{
		rtpSession: newRTPSession("media_rtp_sender", config.Logger, config.Metrics),
		config:     config,
	}
	s.name = config.Name
	return s
}

// PrepareSession готовит отправку через собственный сокет на remoteAddr.
// Ошибка имеет тип *RtpError с сообщением PrepareResourcesMessage.
func (s *MediaRtpSender) PrepareSession(device CaptureDevice, remoteAddr string, format *rtp.Format) error {
	transport := s.config.Transport
	transport.RemoteAddr = remoteAddr

	output := rtp.NewRtpOutputStream(s.outputConfig(transport, format))
	return s.prepare(device, output, remoteAddr, format)
}

// PrepareSessionShared готовит отправку через сокет входного потока
// получателя (симметричный RTP). Входной поток должен быть открыт.
// Пустой remoteAddr означает отправку на адрес, с которого пришел
// первый входящий пакет.
func (s *MediaRtpSender) PrepareSessionShared(device CaptureDevice, input *rtp.RtpInputStream, remoteAddr string, format *rtp.Format) error {
	if input == nil {
		return newPrepareError(ErrorCodeBind, s.id, errors.New("входной поток не задан"), formatContext(format, remoteAddr))
	}

	transport := s.config.Transport
	transport.RemoteAddr = remoteAddr

	output := rtp.NewSharedRtpOutputStream(input, s.outputConfig(transport, format))
	return s.prepare(device, output, remoteAddr, format)
}

func (s *MediaRtpSender) outputConfig(transport rtp.ExtendedTransportConfig, format *rtp.Format) rtp.RtpOutputStreamConfig {
	return rtp.RtpOutputStreamConfig{
		Transport: transport,
		Format:    format,
		SSRC:           s.config.SSRC,
		ReportInterval: s.config.ReportInterval,
		CNAME:          s.config.CNAME,
		Logger:         s.logger,
		Metrics:        s.metrics,
	}
}

// prepare открывает вход, затем выход, строит цепочку и Processor.
// При сбое любого шага уже открытые ресурсы закрываются.
func (s *MediaRtpSender) prepare(device CaptureDevice, output *rtp.RtpOutputStream, remoteAddr string, format *rtp.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNotPrepared(); err != nil {
		return err
	}

	ctx := formatContext(format, remoteAddr)
	if format == nil {
		return newPrepareError(ErrorCodeCodecChain, s.id, errors.New("формат не задан"), ctx)
	}
	if device == nil {
		return newPrepareError(ErrorCodeDevice, s.id, errors.New("устройство захвата не задано"), ctx)
	}

	input := newCaptureStream(device, format)
	if err := input.Open(); err != nil {
		s.logger.Error("не удалось открыть устройство захвата", slog.String("error", err.Error()))
		return newPrepareError(ErrorCodeDevice, s.id, err, ctx)
	}

	if err := output.Open(); err != nil {
		input.Close()
		s.logger.Error("не удалось открыть RTP сокет", slog.String("remote", remoteAddr), slog.String("error", err.Error()))
		return newPrepareError(ErrorCodeBind, s.id, err, ctx)
	}

	chain, err := s.config.Registry.GenerateEncodingCodecChain(format.Encoding)
	if err != nil {
		input.Close()
		output.Close()
		s.logger.Error("не удалось построить цепочку кодирования", slog.String("codec", format.Encoding), slog.String("error", err.Error()))
		return newPrepareError(ErrorCodeCodecChain, s.id, err, ctx)
	}

	if err := s.newProcessor(input, output, chain, format); err != nil {
		input.Close()
		output.Close()
		chain.Close()
		return newPrepareError(ErrorCodeDevice, s.id, err, ctx)
	}
	s.output = output

	s.logger.Debug("сессия подготовлена",
		slog.String("codec", format.Encoding),
		slog.String("remote", remoteAddr),
		slog.Any("chain", chain.Names()))
	return nil
}

// OutputStream выходной RTP поток, nil до PrepareSession
func (s *MediaRtpSender) OutputStream() *rtp.RtpOutputStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

// StopSession останавливает Processor и закрывает выходной поток.
// Повторный вызов безопасен.
func (s *MediaRtpSender) StopSession() error {
	err := s.stopProcessor()

	s.mu.Lock()
	output := s.output
	s.mu.Unlock()

	if output != nil {
		err = errors.Join(err, output.Close())
	}
	return err
}
