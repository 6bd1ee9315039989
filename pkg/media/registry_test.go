package media

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_media/pkg/rtp"
)

func TestMediaRegistry_CaseInsensitiveLookup(t *testing.T) {
	registry := DefaultMediaRegistry()

	for _, name := range []string{"H264", "h264", "H264 ", "pcmu", "Pcma", "opus", "h263-2000", "amr"} {
		assert.True(t, registry.IsCodecSupported(name), name)
	}
	assert.False(t, registry.IsCodecSupported("VP8"))
	assert.False(t, registry.IsCodecSupported(""))

	upper, err := registry.GenerateFormat("H264")
	require.NoError(t, err)
	lower, err := registry.GenerateFormat("h264")
	require.NoError(t, err)

	assert.Equal(t, upper, lower)
	assert.NotSame(t, upper, lower, "каждый вызов возвращает новый формат")
	assert.Equal(t, "H264", lower.Encoding, "регистр имени сохраняется")
	assert.Equal(t, rtp.MediaTypeVideo, lower.MediaType)
	assert.Equal(t, uint32(90000), lower.ClockRate)
}

func TestMediaRegistry_UnsupportedCodec(t *testing.T) {
	registry := DefaultMediaRegistry()

	_, err := registry.GenerateFormat("VP8")
	assert.ErrorIs(t, err, ErrCodecNotSupported)

	_, err = registry.GenerateEncodingCodecChain("VP8")
	assert.ErrorIs(t, err, ErrCodecNotSupported)

	_, err = registry.GenerateDecodingCodecChain("VP8")
	assert.ErrorIs(t, err, ErrCodecNotSupported)
}

func TestMediaRegistry_Chains(t *testing.T) {
	registry := DefaultMediaRegistry()

	tests := []struct {
		codec  string
		encode []string
		decode []string
	}{
		{"H264", []string{"h264-packetizer"}, []string{"h264-depacketizer"}},
		{"PCMU", []string{"pcmu-encoder"}, []string{"pcmu-decoder"}},
		{"PCMA", []string{"pcma-encoder"}, []string{"pcma-decoder"}},
		{"H263-2000", []string{}, []string{}},
		{"AMR", []string{}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.codec, func(t *testing.T) {
			enc, err := registry.GenerateEncodingCodecChain(tt.codec)
			require.NoError(t, err)
			assert.Equal(t, tt.encode, enc.Names())

			dec, err := registry.GenerateDecodingCodecChain(tt.codec)
			require.NoError(t, err)
			assert.Equal(t, tt.decode, dec.Names())
		})
	}

	first, err := registry.GenerateDecodingCodecChain("H264")
	require.NoError(t, err)
	second, err := registry.GenerateDecodingCodecChain("H264")
	require.NoError(t, err)
	assert.NotSame(t, first, second, "цепочки не разделяются между сессиями")
}

func TestMediaRegistry_OpusIsDecodeOnly(t *testing.T) {
	registry := DefaultMediaRegistry()

	dec, err := registry.GenerateDecodingCodecChain("OPUS")
	require.NoError(t, err)
	assert.Equal(t, []string{"opus-decoder"}, dec.Names())

	_, err = registry.GenerateEncodingCodecChain("opus")
	assert.ErrorIs(t, err, ErrEncoderUnavailable)
}

func TestMediaRegistry_FormatForPayloadType(t *testing.T) {
	registry := DefaultMediaRegistry()

	pcmu, ok := registry.FormatForPayloadType(0)
	require.True(t, ok)
	assert.Equal(t, "PCMU", pcmu.Encoding)
	assert.Equal(t, uint8(0), pcmu.PayloadType)

	g729, ok := registry.FormatForPayloadType(18)
	require.True(t, ok)
	assert.Equal(t, "G729", g729.Encoding)
	assert.False(t, registry.IsCodecSupported(g729.Encoding), "статическая таблица шире реестра")

	h263, ok := registry.FormatForPayloadType(34)
	require.True(t, ok)
	assert.Equal(t, rtp.MediaTypeVideo, h263.MediaType)

	_, ok = registry.FormatForPayloadType(96)
	assert.False(t, ok, "динамические payload types не разрешаются без rtpmap")
}

func TestNewMediaRegistry_Validation(t *testing.T) {
	format := func() *rtp.Format { return &rtp.Format{Encoding: "X"} }

	_, err := NewMediaRegistry(CodecRegistration{Name: "", NewFormat: format})
	assert.Error(t, err)

	_, err = NewMediaRegistry(CodecRegistration{Name: "X"})
	assert.Error(t, err)

	_, err = NewMediaRegistry(
		CodecRegistration{Name: "x", NewFormat: format},
		CodecRegistration{Name: "X", NewFormat: format},
	)
	assert.Error(t, err, "дубликат без учета регистра")

	failing := errors.New("нет драйвера")
	registry, err := NewMediaRegistry(CodecRegistration{
		Name:      "X",
		NewFormat: format,
		DecodingChain: func(*rtp.Format) (*rtp.CodecChain, error) {
			return nil, failing
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, registry.SupportedCodecs())

	_, err = registry.GenerateDecodingCodecChain("x")
	assert.ErrorIs(t, err, failing)
}

func TestDefaultMediaRegistry_SupportedCodecs(t *testing.T) {
	assert.Equal(t,
		[]string{"AMR", "H263-2000", "H264", "OPUS", "PCMA", "PCMU"},
		DefaultMediaRegistry().SupportedCodecs())
}

type negotiated struct {
	codec         string
	pt            int
	width, height int
}

func (n negotiated) Codec() string    { return n.codec }
func (n negotiated) PayloadType() int { return n.pt }

type negotiatedVideo struct{ negotiated }

func (n negotiatedVideo) Width() int  { return n.width }
func (n negotiatedVideo) Height() int { return n.height }

func TestMediaRegistry_FormatForContent(t *testing.T) {
	registry := DefaultMediaRegistry()

	tests := []struct {
		name   string
		desc   NegotiatedMedia
		pt     uint8
		width  int
		height int
	}{
		{"dynamic video pt", negotiatedVideo{negotiated{"h264", 109, 352, 288}}, 109, 352, 288},
		{"video without framesize", negotiatedVideo{negotiated{"H264", 97, 0, 0}}, 97, rtp.QCIFWidth, rtp.QCIFHeight},
		{"audio keeps static pt", negotiated{codec: "PCMA", pt: 8}, 8, 0, 0},
		{"pt not negotiated", negotiated{codec: "PCMU", pt: -1}, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, err := registry.FormatForContent(tt.desc)
			require.NoError(t, err)
			assert.Equal(t, tt.pt, format.PayloadType)
			assert.Equal(t, tt.width, format.Width)
			assert.Equal(t, tt.height, format.Height)
		})
	}

	// Реестр не изменяется
	h264, err := registry.GenerateFormat("H264")
	require.NoError(t, err)
	assert.Equal(t, rtp.PayloadTypeDynamic, h264.PayloadType)

	_, err = registry.FormatForContent(negotiated{codec: "VP8", pt: 100})
	assert.ErrorIs(t, err, ErrCodecNotSupported)
	_, err = registry.FormatForContent(negotiated{codec: "PCMU", pt: 200})
	assert.Error(t, err)
	_, err = registry.FormatForContent(nil)
	assert.Error(t, err)
}
