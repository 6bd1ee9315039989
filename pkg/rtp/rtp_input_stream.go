package rtp

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// Ограничения входящих пакетов согласно RFC 3550
const (
	MinRTPPacketSize   = 12 // Минимальный размер RTP заголовка
	ExpectedRTPVersion = 2  // RFC 3550: версия RTP
)

// DefaultFilteredPayloadTypes payload types, отбрасываемые входным потоком
var DefaultFilteredPayloadTypes = []uint8{20}

// RtpInputStreamConfig конфигурация входного RTP потока
type RtpInputStreamConfig struct {
	Transport ExtendedTransportConfig

	// Format ожидаемый формат, проставляется в буферы
	Format *Format

	// FilteredPayloadTypes payload types, которые отбрасываются
	FilteredPayloadTypes []uint8

	// OnRTCP вызывается для каждого RTCP пакета, мультиплексированного с RTP
	OnRTCP func(packets []rtcp.Packet, from net.Addr)

	Logger  *slog.Logger
	Metrics *Metrics
}

// RtpInputStream входной поток Processor из RTP сокета.
// Read блокируется на чтении датаграммы; Close закрывает сокет и тем
// самым прерывает ожидание.
type RtpInputStream struct {
	config    RtpInputStreamConfig
	transport Transport
	filtered  map[uint8]struct{}
	logger    *slog.Logger
	metrics   *Metrics

	readBuf    []byte
	stats      *receptionStats
	remoteSSRC atomic.Uint32

	mu     sync.Mutex
	opened bool
	closed atomic.Bool
}

// NewRtpInputStream создает поток; сокет открывается в Open
func NewRtpInputStream(config RtpInputStreamConfig) *RtpInputStream {
	return newRtpInputStream(config, nil)
}

// NewRtpInputStreamWithTransport создает поток поверх готового транспорта,
// например DTLS. Поток становится владельцем транспорта.
func NewRtpInputStreamWithTransport(transport Transport, config RtpInputStreamConfig) *RtpInputStream {
	return newRtpInputStream(config, transport)
}

func newRtpInputStream(config RtpInputStreamConfig, transport Transport) *RtpInputStream {
	config.Transport.ApplyDefaults()
	if config.FilteredPayloadTypes == nil {
		config.FilteredPayloadTypes = DefaultFilteredPayloadTypes
	}

	filtered := make(map[uint8]struct{}, len(config.FilteredPayloadTypes))
	for _, pt := range config.FilteredPayloadTypes {
		filtered[pt] = struct{}{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var clockRate uint32
	if config.Format != nil {
		clockRate = config.Format.ClockRate
	}

	return &RtpInputStream{
		config:    config,
		stats:     newReceptionStats(clockRate),
		transport: transport,
		filtered:  filtered,
		logger:    logger.With(slog.String("component", "rtp_input_stream")),
		metrics:   config.Metrics,
		readBuf:   make([]byte, config.Transport.BufferSize),
	}
}

// Open привязывает UDP сокет, если транспорт не был передан
func (s *RtpInputStream) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrStreamClosed
	}
	if s.opened {
		return nil
	}

	if s.transport == nil {
		transport, err := NewUDPTransport(s.config.Transport)
		if err != nil {
			return fmt.Errorf("ошибка открытия RTP сокета %s: %w", s.config.Transport.LocalAddr, err)
		}
		s.transport = transport
	}

	s.opened = true
	s.logger.Debug("входной RTP поток открыт", slog.String("local_addr", s.transport.LocalAddr().String()))
	return nil
}

// Transport возвращает транспорт открытого потока (nil до Open).
// Используется выходным потоком для симметричной отправки с того же порта.
func (s *RtpInputStream) Transport() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// LocalAddr локальный адрес сокета (nil до Open)
func (s *RtpInputStream) LocalAddr() net.Addr {
	t := s.Transport()
	if t == nil {
		return nil
	}
	return t.LocalAddr()
}

// RemoteSSRC SSRC удаленного источника (0 до первого пакета)
func (s *RtpInputStream) RemoteSSRC() uint32 {
	return s.remoteSSRC.Load()
}

// Stats снимок статистики приема текущего удаленного источника
func (s *RtpInputStream) Stats() ReceptionStats {
	return s.stats.snapshot()
}

// ReceptionReport блок для RTCP SR/RR о текущем удаленном источнике.
// Каждый вызов начинает новый интервал подсчета fraction lost.
func (s *RtpInputStream) ReceptionReport() (rtcp.ReceptionReport, bool) {
	return s.stats.report(time.Now())
}

// Read блокируется до получения следующего RTP пакета.
// RTCP пакеты, отфильтрованные payload types, повторы и пакеты, отставшие
// больше чем на ReorderWindow, пропускаются. Пакет с новым SSRC означает
// перезапуск источника, учет последовательности начинается заново.
func (s *RtpInputStream) Read() (*Buffer, error) {
	s.mu.Lock()
	opened := s.opened
	transport := s.transport
	s.mu.Unlock()

	if !opened {
		return nil, ErrStreamNotOpened
	}

	for {
		if s.closed.Load() {
			return nil, ErrStreamClosed
		}

		n, from, err := transport.ReadFrom(s.readBuf)
		if err != nil {
			if s.closed.Load() || IsClosedError(err) {
				return nil, ErrStreamClosed
			}
			return nil, err
		}

		data := s.readBuf[:n]
		if isRTCPPacket(data) {
			s.handleRTCP(data, from)
			continue
		}

		buf, ok := s.parseRTP(data)
		if !ok {
			continue
		}
		return buf, nil
	}
}

func (s *RtpInputStream) parseRTP(data []byte) (*Buffer, bool) {
	if len(data) < MinRTPPacketSize {
		s.metrics.packetDropped(dropReasonMalformed)
		return nil, false
	}

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(data); err != nil {
		s.metrics.packetDropped(dropReasonMalformed)
		s.logger.Debug("ошибка демаршалинга RTP пакета", slog.String("error", err.Error()))
		return nil, false
	}
	if packet.Version != ExpectedRTPVersion {
		s.metrics.packetDropped(dropReasonMalformed)
		return nil, false
	}

	if _, drop := s.filtered[packet.PayloadType]; drop {
		s.metrics.packetDropped(dropReasonPayload)
		return nil, false
	}

	verdict, restarted := s.stats.update(packet, time.Now())
	switch verdict {
	case seqDuplicate:
		s.metrics.packetDropped(dropReasonDuplicate)
		return nil, false
	case seqStale:
		s.metrics.packetDropped(dropReasonStale)
		return nil, false
	}
	if restarted {
		s.logger.Debug("удаленный источник сменил SSRC",
			slog.Uint64("old_ssrc", uint64(s.remoteSSRC.Load())),
			slog.Uint64("ssrc", uint64(packet.SSRC)))
	}
	s.remoteSSRC.Store(packet.SSRC)

	s.metrics.packetReceived(len(packet.Payload))

	payload := make([]byte, len(packet.Payload))
	copy(payload, packet.Payload)

	return &Buffer{
		Data:           payload,
		Timestamp:      packet.Timestamp,
		SequenceNumber: packet.SequenceNumber,
		PayloadType:    packet.PayloadType,
		Marker:         packet.Marker,
		Format:         s.config.Format,
	}, true
}

func (s *RtpInputStream) handleRTCP(data []byte, from net.Addr) {
	packets, err := rtcp.Unmarshal(data)
	if err != nil {
		s.metrics.packetDropped(dropReasonMalformed)
		s.logger.Debug("ошибка демаршалинга RTCP пакета", slog.String("error", err.Error()))
		return
	}

	s.metrics.rtcpPacket("in")
	now := time.Now()
	for _, p := range packets {
		switch pkt := p.(type) {
		case *rtcp.SenderReport:
			s.stats.senderReport(pkt, now)
		case *rtcp.Goodbye:
			s.logger.Debug("получен RTCP BYE", slog.Any("sources", pkt.Sources), slog.String("reason", pkt.Reason))
		}
	}

	if s.config.OnRTCP != nil {
		s.config.OnRTCP(packets, from)
	}
}

// Close закрывает сокет; ожидающий Read возвращает ErrStreamClosed
func (s *RtpInputStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()

	if transport != nil {
		if err := transport.Close(); err != nil {
			return fmt.Errorf("ошибка закрытия RTP сокета: %w", err)
		}
	}
	return nil
}

// isRTCPPacket различает RTP и RTCP в мультиплексированном потоке (RFC 5761):
// RTCP packet type лежит в диапазоне 192-223
func isRTCPPacket(data []byte) bool {
	return len(data) >= 2 && data[1] >= 192 && data[1] <= 223
}
