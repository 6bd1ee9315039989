package media

import (
	"errors"
	"log/slog"
	"net"

	"github.com/pion/rtcp"

	"github.com/arzzra/rcs_media/pkg/rtp"
)

// ReceiverConfig параметры MediaRtpReceiver
type ReceiverConfig struct {
	Registry *MediaRegistry

	// Transport параметры сокета; LocalAddr берется из аргумента PrepareSession
	Transport rtp.ExtendedTransportConfig

	// FilteredPayloadTypes payload types, отбрасываемые до декодера.
	// nil - rtp.DefaultFilteredPayloadTypes.
	FilteredPayloadTypes []uint8

	// OnRTCP получает RTCP пакеты, пришедшие на RTP порт
	OnRTCP func(packets []rtcp.Packet, from net.Addr)

	// Secure включает DTLS на сокете приема; nil - обычный UDP
	Secure *SecureTransport

	Name string

	Logger  *slog.Logger
	Metrics *rtp.Metrics
}

// MediaRtpReceiver входящий RTP поток: RTP сокет -> цепочка
// декодирования -> рендерер
type MediaRtpReceiver struct {
	rtpSession
	config ReceiverConfig
	input  *rtp.RtpInputStream
}

// NewMediaRtpReceiver создает получателя; сокет открывается в PrepareSession
func NewMediaRtpReceiver(config ReceiverConfig) *MediaRtpReceiver {
	if config.Registry == nil {
		config.Registry = DefaultMediaRegistry()
	}
	if config.Name == "" {
		config.Name = "media-in"
	}
	r := &MediaRtpReceiver{
		rtpSession: newRTPSession("media_rtp_receiver", config.Logger, config.Metrics),
		config:     config,
	}
	r.name = config.Name
	return r
}

// PrepareSession привязывает сокет к localAddr, открывает рендерер и
// строит цепочку декодирования для format
func (r *MediaRtpReceiver) PrepareSession(localAddr string, renderer Renderer, format *rtp.Format) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkNotPrepared(); err != nil {
		return err
	}

	ctx := formatContext(format, localAddr)
	if format == nil {
		return newPrepareError(ErrorCodeCodecChain, r.id, errors.New("формат не задан"), ctx)
	}
	if renderer == nil {
		return newPrepareError(ErrorCodeDevice, r.id, errors.New("рендерер не задан"), ctx)
	}

	transport := r.config.Transport
	transport.LocalAddr = localAddr

	streamConfig := rtp.RtpInputStreamConfig{
		Transport:            transport,
		Format:               format,
		FilteredPayloadTypes: r.config.FilteredPayloadTypes,
		OnRTCP:               r.config.OnRTCP,
		Logger:               r.logger,
		Metrics:              r.metrics,
	}

	var input *rtp.RtpInputStream
	if secure := r.config.Secure; secure != nil {
		dtlsTransport, err := secure.open(localAddr)
		if err != nil {
			r.logger.Error("не удалось открыть DTLS сокет",
				slog.String("local", localAddr),
				slog.String("role", secure.Role.String()),
				slog.String("error", err.Error()))
			return newPrepareError(ErrorCodeBind, r.id, err, ctx)
		}
		input = rtp.NewRtpInputStreamWithTransport(dtlsTransport, streamConfig)
	} else {
		input = rtp.NewRtpInputStream(streamConfig)
	}
	if err := input.Open(); err != nil {
		r.logger.Error("не удалось привязать RTP сокет", slog.String("local", localAddr), slog.String("error", err.Error()))
		return newPrepareError(ErrorCodeBind, r.id, err, ctx)
	}

	output := &rendererStream{renderer: renderer}
	if err := output.Open(); err != nil {
		input.Close()
		r.logger.Error("не удалось открыть рендерер", slog.String("error", err.Error()))
		return newPrepareError(ErrorCodeDevice, r.id, err, ctx)
	}

	chain, err := r.config.Registry.GenerateDecodingCodecChain(format.Encoding)
	if err != nil {
		input.Close()
		output.Close()
		r.logger.Error("не удалось построить цепочку декодирования", slog.String("codec", format.Encoding), slog.String("error", err.Error()))
		return newPrepareError(ErrorCodeCodecChain, r.id, err, ctx)
	}

	if err := r.newProcessor(input, output, chain, format); err != nil {
		input.Close()
		output.Close()
		chain.Close()
		return newPrepareError(ErrorCodeDevice, r.id, err, ctx)
	}
	r.input = input

	r.logger.Debug("сессия подготовлена",
		slog.String("codec", format.Encoding),
		slog.String("local", input.LocalAddr().String()),
		slog.Any("chain", chain.Names()))
	return nil
}

// InputStream входной RTP поток; передается в
// MediaRtpSender.PrepareSessionShared для симметричного RTP
func (r *MediaRtpReceiver) InputStream() *rtp.RtpInputStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.input
}

// LocalAddr фактический адрес привязки, nil до PrepareSession
func (r *MediaRtpReceiver) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.input == nil {
		return nil
	}
	return r.input.LocalAddr()
}

// StopSession останавливает Processor; входной поток и рендерер
// закрываются им же
func (r *MediaRtpReceiver) StopSession() error {
	return r.stopProcessor()
}
