package codec

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mediartp "github.com/arzzra/rcs_media/pkg/rtp"
)

func annexB(nal []byte) []byte {
	return append([]byte{0x00, 0x00, 0x00, 0x01}, nal...)
}

func idrNAL(size int) []byte {
	nal := make([]byte, size)
	nal[0] = 0x65
	for i := 1; i < size; i++ {
		nal[i] = byte(i)
	}
	return nal
}

func TestH264_PacketizeDepacketizeRoundTrip(t *testing.T) {
	nal := idrNAL(5000)

	packetizer := NewH264Packetizer()
	out := &mediartp.Buffer{}
	require.Equal(t, mediartp.ResultProcessedOK, packetizer.Process(&mediartp.Buffer{Data: annexB(nal), Timestamp: 9000}, out))

	require.Greater(t, len(out.Fragments), 1, "кадр больше MTU должен фрагментироваться")
	for _, f := range out.Fragments {
		assert.LessOrEqual(t, len(f), H264MaxPacketSize)
	}
	assert.Equal(t, uint32(9000), out.Timestamp)

	depacketizer := NewH264Depacketizer()
	var frame *mediartp.Buffer
	for i, f := range out.Fragments {
		in := &mediartp.Buffer{Data: f, Timestamp: 9000, Marker: i == len(out.Fragments)-1}
		res := &mediartp.Buffer{}
		result := depacketizer.Process(in, res)
		if i < len(out.Fragments)-1 {
			require.Equal(t, mediartp.ResultOutputNotFilled, result, "фрагмент %d", i)
			continue
		}
		require.Equal(t, mediartp.ResultProcessedOK, result)
		frame = res
	}

	require.NotNil(t, frame)
	assert.True(t, bytes.Equal(annexB(nal), frame.Data))
}

func TestH264_SmallFrameIsSingleNAL(t *testing.T) {
	nal := idrNAL(200)
	out := &mediartp.Buffer{}
	require.Equal(t, mediartp.ResultProcessedOK, NewH264Packetizer().Process(&mediartp.Buffer{Data: nal}, out))
	require.Len(t, out.Fragments, 1)
	assert.Equal(t, nal, out.Fragments[0])
	assert.True(t, out.Marker)
}

func TestH264_FrameTooLargeIsDropped(t *testing.T) {
	nal := idrNAL(H264MaxPacketSize * (H264MaxFragments + 2))
	out := &mediartp.Buffer{}
	assert.Equal(t, mediartp.ResultOutputNotFilled, NewH264Packetizer().Process(&mediartp.Buffer{Data: nal}, out))
	assert.Empty(t, out.Fragments)
}

func TestH264Depacketizer_DropsIncompleteFrame(t *testing.T) {
	packetizer := NewH264Packetizer()
	first := &mediartp.Buffer{}
	require.Equal(t, mediartp.ResultProcessedOK, packetizer.Process(&mediartp.Buffer{Data: idrNAL(3000)}, first))
	require.Greater(t, len(first.Fragments), 1)

	d := NewH264Depacketizer()
	// Только первый фрагмент кадра с timestamp 1000
	assert.Equal(t, mediartp.ResultOutputNotFilled, d.Process(&mediartp.Buffer{Data: first.Fragments[0], Timestamp: 1000}, &mediartp.Buffer{}))

	// Следующий кадр целиком в одном пакете
	small := idrNAL(100)
	res := &mediartp.Buffer{}
	require.Equal(t, mediartp.ResultProcessedOK, d.Process(&mediartp.Buffer{Data: small, Timestamp: 2000, Marker: true}, res))
	assert.Equal(t, annexB(small), res.Data)
	assert.Equal(t, uint32(2000), res.Timestamp)
}

func pcmSamples(samples ...int16) []byte {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return buf
}

func TestG711_RoundTrip(t *testing.T) {
	samples := []int16{0, 1000, -1000, 8000, -8000, 30000}

	for _, law := range []G711Law{G711Ulaw, G711Alaw} {
		t.Run(law.String(), func(t *testing.T) {
			encoded := &mediartp.Buffer{}
			require.Equal(t, mediartp.ResultProcessedOK,
				NewG711Encoder(law).Process(&mediartp.Buffer{Data: pcmSamples(samples...), Timestamp: 160}, encoded))
			assert.Len(t, encoded.Data, len(samples), "один байт на отсчет")
			assert.Equal(t, uint32(160), encoded.Timestamp)

			decoded := &mediartp.Buffer{}
			require.Equal(t, mediartp.ResultProcessedOK, NewG711Decoder(law).Process(encoded, decoded))
			require.Len(t, decoded.Data, 2*len(samples))

			for i, want := range samples {
				got := int16(binary.LittleEndian.Uint16(decoded.Data[2*i:]))
				// Логарифмическое квантование: погрешность растет с амплитудой
				assert.InDelta(t, want, got, float64(absInt16(want))/16+16, "отсчет %d", i)
			}
		})
	}
}

func TestG711_EmptyInput(t *testing.T) {
	assert.Equal(t, mediartp.ResultOutputNotFilled, NewG711Encoder(G711Ulaw).Process(&mediartp.Buffer{}, &mediartp.Buffer{}))
	assert.Equal(t, mediartp.ResultOutputNotFilled, NewG711Decoder(G711Alaw).Process(&mediartp.Buffer{}, &mediartp.Buffer{}))
	assert.Equal(t, "pcma-decoder", NewG711Decoder(G711Alaw).Name())
}

func TestOpusDecoder_EmptyInput(t *testing.T) {
	d := NewOpusDecoder()
	assert.Equal(t, "opus-decoder", d.Name())
	assert.Equal(t, mediartp.ResultOutputNotFilled, d.Process(&mediartp.Buffer{}, &mediartp.Buffer{}))
}

// SILK WB 20 мс, один кадр (TOC 0x48)
var silkPacket = []byte{
	0x48, 0x83, 0xca, 0xde, 0x8a, 0xe5, 0x67, 0xd5,
	0x1c, 0xac, 0xa2, 0x54, 0xfa, 0xff, 0xbf,
}

func TestOpusDecoder_SilkFrameLength(t *testing.T) {
	d := NewOpusDecoder()

	// стартовое содержимое out должно быть заменено, а не дополнено
	out := &mediartp.Buffer{Data: make([]byte, 100)}
	in := &mediartp.Buffer{Data: silkPacket, Timestamp: 960, SequenceNumber: 7}
	require.Equal(t, mediartp.ResultProcessedOK, d.Process(in, out))

	// 20 мс моно 48 кГц, без хвоста от буфера декодера
	assert.Len(t, out.Data, OpusFrameBytes)
	assert.Equal(t, uint32(960), out.Timestamp)
	assert.Equal(t, uint16(7), out.SequenceNumber)
}

func TestOpusDecoder_UnsupportedFrameCode(t *testing.T) {
	d := NewOpusDecoder()
	// код кадра 1 (два кадра равного размера) декодером не поддерживается
	in := &mediartp.Buffer{Data: []byte{0x49, 0x00, 0x00}}
	assert.Equal(t, mediartp.ResultFailed, d.Process(in, &mediartp.Buffer{}))
}

func absInt16(v int16) int {
	if v < 0 {
		return -int(v)
	}
	return int(v)
}
