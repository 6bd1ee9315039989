package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// RtpOutputStreamConfig конфигурация выходного RTP потока
type RtpOutputStreamConfig struct {
	// Transport параметры собственного сокета. RemoteAddr обязателен.
	Transport ExtendedTransportConfig

	// Format формат исходящих пакетов; задает payload type
	Format *Format

	// SSRC источника; 0 означает случайное значение
	SSRC uint32

	// ReportInterval период RTCP отчетов SR/RR с SDES; 0 отключает отчеты
	ReportInterval time.Duration

	// CNAME для SDES; по умолчанию строится из SSRC
	CNAME string

	// Reception входной поток, чья статистика приема попадает в отчеты.
	// Для общего сокета по умолчанию используется входной поток сокета.
	Reception *RtpInputStream

	Logger  *slog.Logger
	Metrics *Metrics
}

// RtpOutputStream выходной поток Processor в RTP сокет.
//
// Два режима:
//   - собственный сокет (NewRtpOutputStream);
//   - сокет входного потока (NewSharedRtpOutputStream) для симметричного
//     RTP: отправка идет с того же порта, на котором ведется прием,
//     что нужно для прохождения NAT.
type RtpOutputStream struct {
	config RtpOutputStreamConfig
	shared *RtpInputStream
	logger *slog.Logger

	mu              sync.Mutex
	transport       Transport
	ownsTransport   bool
	remote          net.Addr
	sequencer       rtp.Sequencer
	ssrc            uint32
	timestampOffset uint32
	lastTimestamp   uint32
	packetCount     uint32
	octetCount      uint32
	opened          bool
	closed          bool

	stopReports chan struct{}
	reportsDone chan struct{}
}

// NewRtpOutputStream создает поток с собственным сокетом
func NewRtpOutputStream(config RtpOutputStreamConfig) *RtpOutputStream {
	return newRtpOutputStream(config, nil)
}

// NewSharedRtpOutputStream создает поток, отправляющий через сокет
// входного потока input. Входной поток должен быть открыт до Open.
// Закрытие выходного потока не закрывает общий сокет.
func NewSharedRtpOutputStream(input *RtpInputStream, config RtpOutputStreamConfig) *RtpOutputStream {
	return newRtpOutputStream(config, input)
}

func newRtpOutputStream(config RtpOutputStreamConfig, shared *RtpInputStream) *RtpOutputStream {
	config.Transport.ApplyDefaults()

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mode := "own_socket"
	if shared != nil {
		mode = "shared_socket"
	}

	return &RtpOutputStream{
		config: config,
		shared: shared,
		logger: logger.With(slog.String("component", "rtp_output_stream"), slog.String("mode", mode)),
	}
}

// Open открывает собственный сокет или подключается к сокету входного потока
func (s *RtpOutputStream) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	if s.opened {
		return nil
	}

	// Для общего сокета удаленный адрес можно не задавать: он будет
	// взят из первого принятого пакета
	if s.config.Transport.RemoteAddr != "" {
		remote, err := createUDPAddr(s.config.Transport.RemoteAddr)
		if err != nil {
			return err
		}
		s.remote = remote
	} else if s.shared == nil {
		return ErrNoRemoteAddr
	}

	if s.shared != nil {
		transport := s.shared.Transport()
		if transport == nil {
			return fmt.Errorf("входной поток для общего сокета: %w", ErrStreamNotOpened)
		}
		s.transport = transport
	} else {
		transport, err := NewUDPTransport(s.config.Transport)
		if err != nil {
			return fmt.Errorf("ошибка открытия RTP сокета %s: %w", s.config.Transport.LocalAddr, err)
		}
		s.transport = transport
		s.ownsTransport = true
	}

	s.ssrc = s.config.SSRC
	if s.ssrc == 0 {
		s.ssrc = randomUint32()
	}
	s.timestampOffset = randomUint32()
	s.sequencer = rtp.NewRandomSequencer()
	s.opened = true

	if s.config.ReportInterval > 0 {
		s.stopReports = make(chan struct{})
		s.reportsDone = make(chan struct{})
		go s.reportLoop(s.config.ReportInterval, s.stopReports, s.reportsDone)
	}

	s.logger.Debug("выходной RTP поток открыт",
		slog.String("local_addr", s.transport.LocalAddr().String()),
		slog.Any("remote_addr", s.remote),
		slog.Uint64("ssrc", uint64(s.ssrc)))
	return nil
}

// SSRC источника (0 до Open)
func (s *RtpOutputStream) SSRC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ssrc
}

// LocalAddr локальный адрес сокета отправки (nil до Open)
func (s *RtpOutputStream) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return nil
	}
	return s.transport.LocalAddr()
}

// Write отправляет буфер. Пакетизированный буфер уходит по одному
// RTP пакету на фрагмент, marker выставляется на последнем фрагменте.
func (s *RtpOutputStream) Write(buf *Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	if !s.opened {
		return ErrStreamNotOpened
	}

	payloadType := buf.PayloadType
	if s.config.Format != nil {
		payloadType = s.config.Format.PayloadType
	}
	timestamp := buf.Timestamp + s.timestampOffset

	payloads := buf.Fragments
	fragmented := len(payloads) > 0
	if !fragmented {
		payloads = [][]byte{buf.Data}
	}

	for i, payload := range payloads {
		last := i == len(payloads)-1
		packet := &rtp.Packet{
			Header: rtp.Header{
				Version:        ExpectedRTPVersion,
				PayloadType:    payloadType,
				SequenceNumber: s.sequencer.NextSequenceNumber(),
				Timestamp:      timestamp,
				SSRC:           s.ssrc,
				Marker:         last && (fragmented || buf.Marker),
			},
			Payload: payload,
		}

		data, err := packet.Marshal()
		if err != nil {
			return fmt.Errorf("ошибка маршалинга RTP пакета: %w", err)
		}
		if _, err := s.transport.WriteTo(data, s.remote); err != nil {
			if errors.Is(err, ErrNoRemoteAddr) && s.shared != nil {
				// Собеседник общего сокета еще не известен
				s.logger.Debug("пакет отброшен до первого входящего", slog.Uint64("seq", uint64(packet.SequenceNumber)))
				continue
			}
			return err
		}

		s.packetCount++
		s.octetCount += uint32(len(payload))
		s.config.Metrics.packetSent(len(payload))
	}
	s.lastTimestamp = timestamp

	return nil
}

// Close останавливает периодические отчеты, отправляет RTCP Sender Report
// и BYE, если что-то было отправлено, и закрывает собственный сокет.
// Повторный вызов безопасен.
func (s *RtpOutputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop, done := s.stopReports, s.reportsDone
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return nil
	}

	if s.packetCount > 0 {
		if err := s.sendGoodbye(); err != nil {
			s.logger.Debug("не удалось отправить RTCP BYE", slog.String("error", err.Error()))
		}
	}

	if s.ownsTransport {
		if err := s.transport.Close(); err != nil {
			return fmt.Errorf("ошибка закрытия RTP сокета: %w", err)
		}
	}
	return nil
}

// reportLoop периодически отправляет RTCP отчеты до закрытия потока
func (s *RtpOutputStream) reportLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.sendReport(); err != nil {
				// Удаленный адрес общего сокета может быть еще неизвестен
				s.logger.Debug("не удалось отправить RTCP отчет", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *RtpOutputStream) sendReport() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	return s.writeRTCP([]rtcp.Packet{s.report(), s.sourceDescription()})
}

// report SR, если поток уже отправлял данные, иначе RR
func (s *RtpOutputStream) report() rtcp.Packet {
	var reports []rtcp.ReceptionReport
	if reception := s.receptionSource(); reception != nil {
		if rr, ok := reception.ReceptionReport(); ok {
			reports = append(reports, rr)
		}
	}

	if s.packetCount == 0 {
		return &rtcp.ReceiverReport{SSRC: s.ssrc, Reports: reports}
	}
	return &rtcp.SenderReport{
		SSRC:        s.ssrc,
		NTPTime:     toNTPTime(time.Now()),
		RTPTime:     s.lastTimestamp,
		PacketCount: s.packetCount,
		OctetCount:  s.octetCount,
		Reports:     reports,
	}
}

func (s *RtpOutputStream) sourceDescription() rtcp.Packet {
	cname := s.config.CNAME
	if cname == "" {
		cname = fmt.Sprintf("rcs_media-%08x", s.ssrc)
	}
	return rtcp.NewCNAMESourceDescription(s.ssrc, cname)
}

func (s *RtpOutputStream) receptionSource() *RtpInputStream {
	if s.config.Reception != nil {
		return s.config.Reception
	}
	return s.shared
}

func (s *RtpOutputStream) sendGoodbye() error {
	return s.writeRTCP([]rtcp.Packet{
		s.report(),
		&rtcp.Goodbye{
			Sources: []uint32{s.ssrc},
		},
	})
}

func (s *RtpOutputStream) writeRTCP(packets []rtcp.Packet) error {
	data, err := rtcp.Marshal(packets)
	if err != nil {
		return err
	}

	if _, err := s.transport.WriteTo(data, s.remote); err != nil {
		return err
	}
	s.config.Metrics.rtcpPacket("out")
	return nil
}

// toNTPTime переводит время в 64-битный NTP формат (RFC 3550, раздел 4)
func toNTPTime(t time.Time) uint64 {
	const ntpEpochOffset = 2208988800
	seconds := uint64(t.Unix()) + ntpEpochOffset
	fraction := uint64(t.Nanosecond()) << 32 / uint64(time.Second)
	return seconds<<32 | fraction
}

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(b[:])
}
