package codec

import (
	"github.com/pion/opus"

	mediartp "github.com/arzzra/rcs_media/pkg/rtp"
)

const (
	// OpusClockRate частота RTP часов Opus (RFC 7587)
	OpusClockRate = 48000
	// OpusFrameBytes размер PCM одного декодированного пакета:
	// 20 мс моно 48 кГц, 16 бит. Декодер всегда выдает ровно столько.
	OpusFrameBytes = 960 * 2
)

// OpusDecoder декодирует Opus пакеты в 16-битный PCM.
// Кодер Opus в pion/opus отсутствует, поэтому исходящий Opus
// не поддерживается.
type OpusDecoder struct {
	decoder opus.Decoder
	pcm     []byte
}

// NewOpusDecoder создает декодер
func NewOpusDecoder() *OpusDecoder {
	return &OpusDecoder{
		decoder: opus.NewDecoder(),
		pcm:     make([]byte, OpusFrameBytes),
	}
}

func (d *OpusDecoder) Name() string { return "opus-decoder" }

// Process декодирует один пакет. Ошибка декодирования фатальна для потока.
func (d *OpusDecoder) Process(in, out *mediartp.Buffer) mediartp.Result {
	if len(in.Data) == 0 {
		return mediartp.ResultOutputNotFilled
	}

	if _, _, err := d.decoder.Decode(in.Data, d.pcm); err != nil {
		return mediartp.ResultFailed
	}

	out.CopyHeader(in)
	out.Data = append(out.Data[:0], d.pcm[:OpusFrameBytes]...)
	return mediartp.ResultProcessedOK
}
