package media

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_media/pkg/rtp"
)

// writePCMFile пишет frames кадров по 160 отсчетов 16-bit PCM
func writePCMFile(t *testing.T, frames int) string {
	t.Helper()
	data := make([]byte, frames*320)
	for i := 0; i < len(data)/2; i++ {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(int16((i%64)*256-8192)))
	}
	path := filepath.Join(t.TempDir(), "capture.pcm")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

type failingDevice struct {
	err error
}

func (d *failingDevice) Open() error                     { return d.err }
func (d *failingDevice) ReadFrame() (*rtp.Buffer, error) { return nil, nil }
func (d *failingDevice) Close() error                    { return nil }

type trackingRenderer struct {
	*FrameCollector
	opened bool
}

func (r *trackingRenderer) Open() error {
	r.opened = true
	return r.FrameCollector.Open()
}

func pcmuFormat(t *testing.T) *rtp.Format {
	t.Helper()
	format, err := DefaultMediaRegistry().GenerateFormat("PCMU")
	require.NoError(t, err)
	return format
}

func loopbackTransport() rtp.ExtendedTransportConfig {
	return rtp.ExtendedTransportConfig{TransportConfig: rtp.TransportConfig{LocalAddr: "127.0.0.1:0"}}
}

func TestSenderReceiver_PCMULoopback(t *testing.T) {
	format := pcmuFormat(t)
	const frames = 10

	collector := NewFrameCollector(0)
	receiver := NewMediaRtpReceiver(ReceiverConfig{})
	require.NoError(t, receiver.PrepareSession("127.0.0.1:0", collector, format))
	require.NoError(t, receiver.StartSession())
	defer receiver.StopSession()

	device := NewFileCaptureDevice(FileCaptureConfig{Path: writePCMFile(t, frames), Interval: 2 * time.Millisecond})
	sender := NewMediaRtpSender(SenderConfig{Transport: loopbackTransport()})
	require.NoError(t, sender.PrepareSession(device, receiver.LocalAddr().String(), format))
	require.NoError(t, sender.StartSession())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, collector.WaitFrames(ctx, frames))

	got := collector.Frames()
	for i, frame := range got {
		assert.Len(t, frame.Data, 320, "кадр %d декодирован в 16-bit PCM", i)
	}
	assert.Equal(t, got[0].Timestamp+160, got[1].Timestamp)

	// Устройство исчерпано: рабочий цикл отправителя завершается сам
	select {
	case <-sender.Processor().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("отправитель не завершился по концу данных")
	}
	assert.NoError(t, sender.Processor().Err())

	require.NoError(t, sender.StopSession())
	assert.NoError(t, sender.StopSession(), "повторная остановка безопасна")
}

func TestSenderShared_SendsFromReceiverPort(t *testing.T) {
	format := pcmuFormat(t)

	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()

	receiver := NewMediaRtpReceiver(ReceiverConfig{})
	require.NoError(t, receiver.PrepareSession("127.0.0.1:0", NewFrameCollector(0), format))
	defer receiver.StopSession()

	sender := NewMediaRtpSender(SenderConfig{})
	device := NewFileCaptureDevice(FileCaptureConfig{Path: writePCMFile(t, 1)})
	require.NoError(t, sender.PrepareSessionShared(device, receiver.InputStream(), peer.LocalAddr().String(), format))
	require.NoError(t, sender.StartSession())
	defer sender.StopSession()

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1500)
	n, from, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)

	assert.Equal(t, receiver.LocalAddr().String(), from.String())
	assert.Equal(t, 12+160, n, "заголовок RTP и 160 байт µ-law")
}

func TestSender_PrepareErrors(t *testing.T) {
	t.Run("device", func(t *testing.T) {
		cause := errors.New("камера занята")
		sender := NewMediaRtpSender(SenderConfig{Transport: loopbackTransport()})

		err := sender.PrepareSession(&failingDevice{err: cause}, "127.0.0.1:9", pcmuFormat(t))
		require.Error(t, err)

		var rtpErr *RtpError
		require.ErrorAs(t, err, &rtpErr)
		assert.Equal(t, ErrorCodeDevice, rtpErr.Code)
		assert.Equal(t, PrepareResourcesMessage, rtpErr.Message)
		assert.Contains(t, err.Error(), "Can't prepare resources")
		assert.ErrorIs(t, err, cause, "причина сохраняется")
		assert.ErrorIs(t, err, ErrDevice)
		assert.Nil(t, sender.Processor())
	})

	t.Run("codec chain", func(t *testing.T) {
		registry := DefaultMediaRegistry()
		opus, err := registry.GenerateFormat("OPUS")
		require.NoError(t, err)

		sender := NewMediaRtpSender(SenderConfig{Registry: registry, Transport: loopbackTransport()})
		device := NewFileCaptureDevice(FileCaptureConfig{Path: writePCMFile(t, 1)})

		err = sender.PrepareSession(device, "127.0.0.1:9", opus)
		assert.True(t, HasErrorCode(err, ErrorCodeCodecChain))
		assert.ErrorIs(t, err, ErrEncoderUnavailable)

		// Устройство закрыто при откате подготовки
		_, readErr := device.ReadFrame()
		assert.ErrorIs(t, readErr, rtp.ErrStreamClosed)
	})

	t.Run("bind", func(t *testing.T) {
		sender := NewMediaRtpSender(SenderConfig{Transport: loopbackTransport()})
		device := NewFileCaptureDevice(FileCaptureConfig{Path: writePCMFile(t, 1)})

		err := sender.PrepareSession(device, "", pcmuFormat(t))
		assert.True(t, HasErrorCode(err, ErrorCodeBind))
		assert.ErrorIs(t, err, ErrBind)
	})

	t.Run("shared without input", func(t *testing.T) {
		sender := NewMediaRtpSender(SenderConfig{})
		err := sender.PrepareSessionShared(NewFileCaptureDevice(FileCaptureConfig{}), nil, "127.0.0.1:9", pcmuFormat(t))
		assert.True(t, HasErrorCode(err, ErrorCodeBind))
	})
}

func TestReceiver_PrepareErrors(t *testing.T) {
	t.Run("bind", func(t *testing.T) {
		busy, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		require.NoError(t, err)
		defer busy.Close()

		renderer := &trackingRenderer{FrameCollector: NewFrameCollector(0)}
		receiver := NewMediaRtpReceiver(ReceiverConfig{})

		err = receiver.PrepareSession(busy.LocalAddr().String(), renderer, pcmuFormat(t))
		require.Error(t, err)
		assert.True(t, HasErrorCode(err, ErrorCodeBind))
		assert.Contains(t, err.Error(), PrepareResourcesMessage)
		assert.False(t, renderer.opened, "рендерер не открывается, если сокет не привязан")
	})

	t.Run("codec chain releases socket", func(t *testing.T) {
		spare, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		require.NoError(t, err)
		addr := spare.LocalAddr().String()
		require.NoError(t, spare.Close())

		receiver := NewMediaRtpReceiver(ReceiverConfig{})
		vp8 := &rtp.Format{Encoding: "VP8", MediaType: rtp.MediaTypeVideo, PayloadType: 100, ClockRate: 90000}

		err = receiver.PrepareSession(addr, NewFrameCollector(0), vp8)
		assert.True(t, HasErrorCode(err, ErrorCodeCodecChain))
		assert.ErrorIs(t, err, ErrCodecNotSupported)

		// Порт освобожден откатом
		again, err := net.ListenUDP("udp", spare.LocalAddr().(*net.UDPAddr))
		require.NoError(t, err)
		again.Close()
	})
}

func TestSession_Lifecycle(t *testing.T) {
	receiver := NewMediaRtpReceiver(ReceiverConfig{})

	err := receiver.StartSession()
	assert.True(t, HasErrorCode(err, ErrorCodeSessionNotPrepared))
	assert.NoError(t, receiver.StopSession(), "остановка без подготовки безопасна")

	require.NoError(t, receiver.PrepareSession("127.0.0.1:0", NewFrameCollector(0), pcmuFormat(t)))
	err = receiver.PrepareSession("127.0.0.1:0", NewFrameCollector(0), pcmuFormat(t))
	assert.True(t, HasErrorCode(err, ErrorCodeSessionPrepared))

	require.NoError(t, receiver.StartSession())
	err = receiver.StartSession()
	assert.True(t, HasErrorCode(err, ErrorCodeSessionStart))
	assert.ErrorIs(t, err, rtp.ErrProcessorAlreadyStarted)

	require.NoError(t, receiver.StopSession())
	assert.Equal(t, rtp.ProcessorStateStopped, receiver.Processor().State())
}
