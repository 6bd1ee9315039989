package codec

import (
	"github.com/pion/rtp/codecs"

	mediartp "github.com/arzzra/rcs_media/pkg/rtp"
)

const (
	// H264ClockRate частота RTP часов H.264
	H264ClockRate = 90000
	// H264MaxPacketSize максимальный размер RTP payload при пакетизации
	H264MaxPacketSize = 1300
	// H264MaxFragments максимальное число RTP пакетов на один кадр
	H264MaxFragments = 32
)

// H264Packetizer разбивает кадр H.264 (Annex-B или одиночный NAL) на
// RTP payload'ы. Крупные NAL фрагментируются в FU-A.
type H264Packetizer struct {
	payloader codecs.H264Payloader
	mtu       uint16
}

// NewH264Packetizer создает пакетизатор с размером пакета H264MaxPacketSize
func NewH264Packetizer() *H264Packetizer {
	return &H264Packetizer{mtu: H264MaxPacketSize}
}

func (p *H264Packetizer) Name() string { return "h264-packetizer" }

// Process пакетизирует кадр. Кадр, которому нужно больше
// H264MaxFragments пакетов, отбрасывается целиком.
func (p *H264Packetizer) Process(in, out *mediartp.Buffer) mediartp.Result {
	if len(in.Data) == 0 {
		return mediartp.ResultOutputNotFilled
	}

	fragments := p.payloader.Payload(p.mtu, in.Data)
	// SPS/PPS запоминаются пакетизатором и уходят вместе со следующим кадром
	if len(fragments) == 0 || len(fragments) > H264MaxFragments {
		return mediartp.ResultOutputNotFilled
	}

	out.CopyHeader(in)
	out.Fragments = fragments
	out.Marker = true
	return mediartp.ResultProcessedOK
}

// H264Depacketizer собирает кадр H.264 из RTP пакетов (single NAL,
// STAP-A, FU-A). Кадр отдается по marker биту в формате Annex-B.
type H264Depacketizer struct {
	packet    codecs.H264Packet
	frame     []byte
	timestamp uint32
	inFrame   bool
}

// NewH264Depacketizer создает депакетизатор
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

func (d *H264Depacketizer) Name() string { return "h264-depacketizer" }

// Process добавляет payload к собираемому кадру. Пакет с новым timestamp
// при незавершенном кадре означает потерю конца кадра: начатый кадр
// отбрасывается. Нераспознанные пакеты пропускаются.
func (d *H264Depacketizer) Process(in, out *mediartp.Buffer) mediartp.Result {
	if d.inFrame && in.Timestamp != d.timestamp {
		d.reset()
	}
	d.timestamp = in.Timestamp
	d.inFrame = true

	nal, err := d.packet.Unmarshal(in.Data)
	if err != nil {
		d.reset()
		return mediartp.ResultOutputNotFilled
	}
	d.frame = append(d.frame, nal...)

	if !in.Marker || len(d.frame) == 0 {
		return mediartp.ResultOutputNotFilled
	}

	out.CopyHeader(in)
	out.Data = d.frame
	d.frame = nil
	d.inFrame = false
	return mediartp.ResultProcessedOK
}

func (d *H264Depacketizer) reset() {
	d.frame = nil
	d.inFrame = false
	d.packet = codecs.H264Packet{}
}
