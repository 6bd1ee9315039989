package media

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arzzra/rcs_media/pkg/codec"
	"github.com/arzzra/rcs_media/pkg/rtp"
)

// FormatFactory создает новый экземпляр формата кодека
type FormatFactory func() *rtp.Format

// ChainFactory создает цепочку кодеков для формата.
// Каждый вызов возвращает новую цепочку: состояние кодеков не разделяется
// между сессиями.
type ChainFactory func(format *rtp.Format) (*rtp.CodecChain, error)

// CodecRegistration запись таблицы кодеков.
// Nil фабрика цепочки означает, что кодек реализован вне конвейера
// (аппаратно или нативной библиотекой), и цепочка пустая.
type CodecRegistration struct {
	Name          string
	NewFormat     FormatFactory
	EncodingChain ChainFactory
	DecodingChain ChainFactory
}

// MediaRegistry неизменяемая таблица поддерживаемых кодеков, ключ -
// имя кодека в нижнем регистре. Создается один раз при старте и
// передается компонентам явно; после создания безопасна для
// одновременного чтения без блокировок.
type MediaRegistry struct {
	codecs map[string]CodecRegistration
	names  []string
}

// NewMediaRegistry строит реестр из записей. Имена не должны повторяться
// без учета регистра.
func NewMediaRegistry(registrations ...CodecRegistration) (*MediaRegistry, error) {
	r := &MediaRegistry{codecs: make(map[string]CodecRegistration, len(registrations))}

	for _, reg := range registrations {
		key := strings.ToLower(strings.TrimSpace(reg.Name))
		if key == "" {
			return nil, fmt.Errorf("пустое имя кодека")
		}
		if reg.NewFormat == nil {
			return nil, fmt.Errorf("кодек %s: не задана фабрика формата", reg.Name)
		}
		if _, exists := r.codecs[key]; exists {
			return nil, fmt.Errorf("кодек %s зарегистрирован повторно", reg.Name)
		}
		r.codecs[key] = reg
		r.names = append(r.names, reg.NewFormat().Encoding)
	}
	sort.Strings(r.names)

	return r, nil
}

// DefaultMediaRegistry реестр со стандартным набором кодеков RCS клиента
func DefaultMediaRegistry() *MediaRegistry {
	r, err := NewMediaRegistry(DefaultCodecRegistrations()...)
	if err != nil {
		panic(fmt.Sprintf("некорректный стандартный реестр кодеков: %v", err))
	}
	return r
}

// DefaultCodecRegistrations стандартные записи реестра
func DefaultCodecRegistrations() []CodecRegistration {
	return []CodecRegistration{
		{
			Name: "H264",
			NewFormat: func() *rtp.Format {
				return &rtp.Format{
					Encoding:    "H264",
					MediaType:   rtp.MediaTypeVideo,
					PayloadType: rtp.PayloadTypeDynamic,
					ClockRate:   codec.H264ClockRate,
					Width:       rtp.QCIFWidth,
					Height:      rtp.QCIFHeight,
				}
			},
			EncodingChain: func(*rtp.Format) (*rtp.CodecChain, error) {
				return rtp.NewCodecChain(codec.NewH264Packetizer()), nil
			},
			DecodingChain: func(*rtp.Format) (*rtp.CodecChain, error) {
				return rtp.NewCodecChain(codec.NewH264Depacketizer()), nil
			},
		},
		{
			Name: "H263-2000",
			NewFormat: func() *rtp.Format {
				return &rtp.Format{
					Encoding:    "H263-2000",
					MediaType:   rtp.MediaTypeVideo,
					PayloadType: rtp.PayloadTypeDynamic + 1,
					ClockRate:   90000,
					Width:       rtp.QCIFWidth,
					Height:      rtp.QCIFHeight,
				}
			},
		},
		{
			Name: "PCMU",
			NewFormat: func() *rtp.Format {
				return &rtp.Format{Encoding: "PCMU", MediaType: rtp.MediaTypeAudio, PayloadType: 0, ClockRate: 8000, Channels: 1}
			},
			EncodingChain: func(*rtp.Format) (*rtp.CodecChain, error) {
				return rtp.NewCodecChain(codec.NewG711Encoder(codec.G711Ulaw)), nil
			},
			DecodingChain: func(*rtp.Format) (*rtp.CodecChain, error) {
				return rtp.NewCodecChain(codec.NewG711Decoder(codec.G711Ulaw)), nil
			},
		},
		{
			Name: "PCMA",
			NewFormat: func() *rtp.Format {
				return &rtp.Format{Encoding: "PCMA", MediaType: rtp.MediaTypeAudio, PayloadType: 8, ClockRate: 8000, Channels: 1}
			},
			EncodingChain: func(*rtp.Format) (*rtp.CodecChain, error) {
				return rtp.NewCodecChain(codec.NewG711Encoder(codec.G711Alaw)), nil
			},
			DecodingChain: func(*rtp.Format) (*rtp.CodecChain, error) {
				return rtp.NewCodecChain(codec.NewG711Decoder(codec.G711Alaw)), nil
			},
		},
		{
			Name: "OPUS",
			NewFormat: func() *rtp.Format {
				return &rtp.Format{Encoding: "OPUS", MediaType: rtp.MediaTypeAudio, PayloadType: 111, ClockRate: codec.OpusClockRate, Channels: 2}
			},
			EncodingChain: func(*rtp.Format) (*rtp.CodecChain, error) {
				return nil, fmt.Errorf("OPUS: %w", ErrEncoderUnavailable)
			},
			DecodingChain: func(*rtp.Format) (*rtp.CodecChain, error) {
				return rtp.NewCodecChain(codec.NewOpusDecoder()), nil
			},
		},
		{
			Name: "AMR",
			NewFormat: func() *rtp.Format {
				return &rtp.Format{Encoding: "AMR", MediaType: rtp.MediaTypeAudio, PayloadType: rtp.PayloadTypeDynamic + 2, ClockRate: 8000, Channels: 1}
			},
		},
	}
}

func (r *MediaRegistry) lookup(codecName string) (CodecRegistration, bool) {
	reg, ok := r.codecs[strings.ToLower(strings.TrimSpace(codecName))]
	return reg, ok
}

// IsCodecSupported проверяет наличие кодека без учета регистра
func (r *MediaRegistry) IsCodecSupported(codecName string) bool {
	_, ok := r.lookup(codecName)
	return ok
}

// SupportedCodecs имена зарегистрированных кодеков в алфавитном порядке
func (r *MediaRegistry) SupportedCodecs() []string {
	return append([]string(nil), r.names...)
}

// GenerateFormat создает формат для кодека
func (r *MediaRegistry) GenerateFormat(codecName string) (*rtp.Format, error) {
	reg, ok := r.lookup(codecName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCodecNotSupported, codecName)
	}
	return reg.NewFormat(), nil
}

// GenerateEncodingCodecChain создает цепочку для исходящего потока
// (кадр устройства захвата -> RTP payload)
func (r *MediaRegistry) GenerateEncodingCodecChain(codecName string) (*rtp.CodecChain, error) {
	reg, ok := r.lookup(codecName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCodecNotSupported, codecName)
	}
	if reg.EncodingChain == nil {
		return rtp.NewCodecChain(), nil
	}
	return reg.EncodingChain(reg.NewFormat())
}

// GenerateDecodingCodecChain создает цепочку для входящего потока
// (RTP payload -> кадр рендерера)
func (r *MediaRegistry) GenerateDecodingCodecChain(codecName string) (*rtp.CodecChain, error) {
	reg, ok := r.lookup(codecName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCodecNotSupported, codecName)
	}
	if reg.DecodingChain == nil {
		return rtp.NewCodecChain(), nil
	}
	return reg.DecodingChain(reg.NewFormat())
}

// FormatForPayloadType разрешает статический payload type (RFC 3551).
// Если кодек зарегистрирован, возвращается формат из реестра.
func (r *MediaRegistry) FormatForPayloadType(pt uint8) (*rtp.Format, bool) {
	static, ok := staticPayloadTypes[pt]
	if !ok {
		return nil, false
	}

	if reg, ok := r.lookup(static.Encoding); ok {
		return reg.NewFormat().WithPayloadType(pt), true
	}

	format := static
	return &format, true
}

// NegotiatedMedia описание live потока, согласованного в SDP:
// кодек и payload type (отрицательный - не согласован)
type NegotiatedMedia interface {
	Codec() string
	PayloadType() int
}

// frameSized видео описание с размером кадра
type frameSized interface {
	Width() int
	Height() int
}

// FormatForContent формат RTP сессии для согласованного потока:
// формат кодека из реестра с payload type и размером кадра из SDP
func (r *MediaRegistry) FormatForContent(desc NegotiatedMedia) (*rtp.Format, error) {
	if desc == nil {
		return nil, fmt.Errorf("%w: описание потока не задано", ErrCodecNotSupported)
	}

	format, err := r.GenerateFormat(desc.Codec())
	if err != nil {
		return nil, err
	}

	if pt := desc.PayloadType(); pt >= 0 {
		if pt > 127 {
			return nil, fmt.Errorf("некорректный payload type %d", pt)
		}
		format = format.WithPayloadType(uint8(pt))
	}
	if sized, ok := desc.(frameSized); ok && format.MediaType == rtp.MediaTypeVideo &&
		sized.Width() > 0 && sized.Height() > 0 {
		format = format.WithSize(sized.Width(), sized.Height())
	}
	return format, nil
}

// staticPayloadTypes статические payload types RFC 3551, таблица 4 и 5
var staticPayloadTypes = map[uint8]rtp.Format{
	0:  {Encoding: "PCMU", MediaType: rtp.MediaTypeAudio, PayloadType: 0, ClockRate: 8000, Channels: 1},
	3:  {Encoding: "GSM", MediaType: rtp.MediaTypeAudio, PayloadType: 3, ClockRate: 8000, Channels: 1},
	4:  {Encoding: "G723", MediaType: rtp.MediaTypeAudio, PayloadType: 4, ClockRate: 8000, Channels: 1},
	5:  {Encoding: "DVI4", MediaType: rtp.MediaTypeAudio, PayloadType: 5, ClockRate: 8000, Channels: 1},
	6:  {Encoding: "DVI4", MediaType: rtp.MediaTypeAudio, PayloadType: 6, ClockRate: 16000, Channels: 1},
	7:  {Encoding: "LPC", MediaType: rtp.MediaTypeAudio, PayloadType: 7, ClockRate: 8000, Channels: 1},
	8:  {Encoding: "PCMA", MediaType: rtp.MediaTypeAudio, PayloadType: 8, ClockRate: 8000, Channels: 1},
	9:  {Encoding: "G722", MediaType: rtp.MediaTypeAudio, PayloadType: 9, ClockRate: 8000, Channels: 1},
	10: {Encoding: "L16", MediaType: rtp.MediaTypeAudio, PayloadType: 10, ClockRate: 44100, Channels: 2},
	11: {Encoding: "L16", MediaType: rtp.MediaTypeAudio, PayloadType: 11, ClockRate: 44100, Channels: 1},
	12: {Encoding: "QCELP", MediaType: rtp.MediaTypeAudio, PayloadType: 12, ClockRate: 8000, Channels: 1},
	13: {Encoding: "CN", MediaType: rtp.MediaTypeAudio, PayloadType: 13, ClockRate: 8000, Channels: 1},
	14: {Encoding: "MPA", MediaType: rtp.MediaTypeAudio, PayloadType: 14, ClockRate: 90000},
	15: {Encoding: "G728", MediaType: rtp.MediaTypeAudio, PayloadType: 15, ClockRate: 8000, Channels: 1},
	18: {Encoding: "G729", MediaType: rtp.MediaTypeAudio, PayloadType: 18, ClockRate: 8000, Channels: 1},
	25: {Encoding: "CelB", MediaType: rtp.MediaTypeVideo, PayloadType: 25, ClockRate: 90000},
	26: {Encoding: "JPEG", MediaType: rtp.MediaTypeVideo, PayloadType: 26, ClockRate: 90000},
	28: {Encoding: "nv", MediaType: rtp.MediaTypeVideo, PayloadType: 28, ClockRate: 90000},
	31: {Encoding: "H261", MediaType: rtp.MediaTypeVideo, PayloadType: 31, ClockRate: 90000},
	32: {Encoding: "MPV", MediaType: rtp.MediaTypeVideo, PayloadType: 32, ClockRate: 90000},
	33: {Encoding: "MP2T", MediaType: rtp.MediaTypeVideo, PayloadType: 33, ClockRate: 90000},
	34: {Encoding: "H263", MediaType: rtp.MediaTypeVideo, PayloadType: 34, ClockRate: 90000},
}
