package media

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/dtls/v2/pkg/crypto/selfsign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_media/pkg/rtp"
)

func TestPortPool(t *testing.T) {
	t.Run("sequential allocation", func(t *testing.T) {
		pool := NewPortPool(10000, 10010, 2, PortAllocationSequential)

		port1, err := pool.Allocate()
		require.NoError(t, err)
		assert.Equal(t, uint16(10000), port1)

		port2, err := pool.Allocate()
		require.NoError(t, err)
		assert.Equal(t, uint16(10002), port2)

		assert.Equal(t, 4, pool.Available())

		require.NoError(t, pool.Release(port2))
		assert.Equal(t, 5, pool.Available())

		// Освобожденный порт выдается снова первым
		port3, err := pool.Allocate()
		require.NoError(t, err)
		assert.Equal(t, uint16(10002), port3)
	})

	t.Run("random allocation", func(t *testing.T) {
		pool := NewPortPool(10000, 10020, 2, PortAllocationRandom)

		allocated := make(map[uint16]bool)
		for i := 0; i < 11; i++ {
			port, err := pool.Allocate()
			require.NoError(t, err)
			assert.False(t, allocated[port], "порт %d выдан дважды", port)
			allocated[port] = true
			assert.Zero(t, port%2)
		}
		_, err := pool.Allocate()
		assert.ErrorIs(t, err, ErrNoPortsAvailable)
	})

	t.Run("release errors", func(t *testing.T) {
		pool := NewPortPool(10000, 10004, 2, PortAllocationSequential)
		assert.Error(t, pool.Release(9000), "вне диапазона")
		assert.Error(t, pool.Release(10002), "не выделен")
	})
}

func TestPortAllocationStrategyString(t *testing.T) {
	assert.Equal(t, "sequential", PortAllocationSequential.String())
	assert.Equal(t, "random", PortAllocationRandom.String())
	assert.Equal(t, "unknown", PortAllocationStrategy(7).String())
}

func TestManagerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*ManagerConfig)
		wantErr bool
	}{
		{"default", func(*ManagerConfig) {}, false},
		{"empty host", func(c *ManagerConfig) { c.LocalHost = "" }, true},
		{"inverted range", func(c *ManagerConfig) { c.MinPort, c.MaxPort = 20000, 10000 }, true},
		{"odd port", func(c *ManagerConfig) { c.MinPort = 10001 }, true},
		{"zero step", func(c *ManagerConfig) { c.PortStep = 0 }, true},
		{"zero calls", func(c *ManagerConfig) { c.MaxConcurrentCalls = 0 }, true},
		{"range too small", func(c *ManagerConfig) { c.MinPort, c.MaxPort = 10000, 10010 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultManagerConfig()
			tt.modify(&cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func newTestManager(t *testing.T, maxCalls int) *Manager {
	t.Helper()
	cfg := DefaultManagerConfig()
	cfg.LocalHost = "127.0.0.1"
	cfg.MinPort = 42000
	cfg.MaxPort = 42400
	cfg.MaxConcurrentCalls = maxCalls
	cfg.DisableQoS = true

	m, err := NewManager(cfg, nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m
}

func TestManager_CallLimit(t *testing.T) {
	m := newTestManager(t, 1)

	call, err := m.CreateCall()
	require.NoError(t, err)

	_, err = m.CreateCall()
	assert.ErrorIs(t, err, ErrTooManyCalls)

	got, ok := m.Call(call.ID())
	require.True(t, ok)
	assert.Same(t, call, got)

	require.NoError(t, m.ReleaseCall(context.Background(), call.ID()))
	assert.Zero(t, m.ActiveCalls())
	assert.ErrorIs(t, m.ReleaseCall(context.Background(), call.ID()), ErrCallNotFound)

	_, err = m.CreateCall()
	assert.NoError(t, err)
}

func TestCallSession_SymmetricAudioLoopback(t *testing.T) {
	m := newTestManager(t, 4)
	format := pcmuFormat(t)
	portsBefore := m.AvailablePorts()

	// Сторона A принимает и отправляет с одного порта
	callA, err := m.CreateCall()
	require.NoError(t, err)
	collectorA := NewFrameCollector(0)
	_, err = callA.PrepareReceiver(collectorA, format)
	require.NoError(t, err)
	addrA, ok := callA.LocalAddr(rtp.MediaTypeAudio)
	require.True(t, ok)

	// Сторона B
	callB, err := m.CreateCall()
	require.NoError(t, err)
	collectorB := NewFrameCollector(0)
	_, err = callB.PrepareReceiver(collectorB, format)
	require.NoError(t, err)
	addrB, _ := callB.LocalAddr(rtp.MediaTypeAudio)

	assert.Equal(t, portsBefore-2, m.AvailablePorts())

	deviceA := NewFileCaptureDevice(FileCaptureConfig{Path: writePCMFile(t, 5), Interval: 2 * time.Millisecond})
	_, err = callA.PrepareSender(deviceA, addrB.String(), format)
	require.NoError(t, err)

	deviceB := NewFileCaptureDevice(FileCaptureConfig{Path: writePCMFile(t, 5), Interval: 2 * time.Millisecond})
	_, err = callB.PrepareSender(deviceB, addrA.String(), format)
	require.NoError(t, err)

	_, err = callA.PrepareSender(deviceA, addrB.String(), format)
	assert.True(t, HasErrorCode(err, ErrorCodeSessionPrepared))

	require.NoError(t, callA.Start())
	require.NoError(t, callB.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, collectorA.WaitFrames(ctx, 5))
	require.NoError(t, collectorB.WaitFrames(ctx, 5))

	// Симметричный RTP: входящий поток B видит SSRC отправителя A
	senderA, _ := callA.Sender(rtp.MediaTypeAudio)
	receiverB, _ := callB.Receiver(rtp.MediaTypeAudio)
	assert.Equal(t, senderA.OutputStream().SSRC(), receiverB.InputStream().RemoteSSRC())

	require.NoError(t, m.ReleaseCall(context.Background(), callA.ID()))
	require.NoError(t, m.ReleaseCall(context.Background(), callB.ID()))
	assert.Equal(t, portsBefore, m.AvailablePorts())

	_, err = callA.PrepareReceiver(NewFrameCollector(0), format)
	assert.True(t, HasErrorCode(err, ErrorCodeSessionPrepared), "завершенный звонок не принимает потоки")
}

func TestCallSession_ReceiverBindFailureReleasesPort(t *testing.T) {
	m := newTestManager(t, 1)

	// Занимаем первый порт пула
	busy, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 42000})
	require.NoError(t, err)
	defer busy.Close()

	call, err := m.CreateCall()
	require.NoError(t, err)

	before := m.AvailablePorts()
	_, err = call.PrepareReceiver(NewFrameCollector(0), pcmuFormat(t))
	assert.True(t, HasErrorCode(err, ErrorCodeBind))
	assert.Equal(t, before, m.AvailablePorts())
}

func TestManager_ShutdownRejectsNewCalls(t *testing.T) {
	m := newTestManager(t, 2)
	_, err := m.CreateCall()
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Zero(t, m.ActiveCalls())

	_, err = m.CreateCall()
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestCallSession_SecureAudioCall(t *testing.T) {
	cert, err := selfsign.GenerateSelfSigned()
	require.NoError(t, err)

	cfg := DefaultManagerConfig()
	cfg.LocalHost = "127.0.0.1"
	cfg.MinPort = 42600
	cfg.MaxPort = 42700
	cfg.MaxConcurrentCalls = 2
	cfg.DisableQoS = true
	cfg.Identity = rtp.StaticIdentity(cert)
	cfg.DTLSInsecureSkipVerify = true
	cfg.DTLSHandshakeTimeout = 5 * time.Second

	m, err := NewManager(cfg, nil, nil, nil)
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	format := pcmuFormat(t)

	// Вызываемый ждет DTLS клиента на своем порту
	callee, err := m.CreateCall()
	require.NoError(t, err)
	calleeFrames := NewFrameCollector(0)
	_, err = callee.PrepareSecureReceiver(calleeFrames, format, rtp.DTLSRoleServer, "")
	require.NoError(t, err)
	calleeAddr, ok := callee.LocalAddr(rtp.MediaTypeAudio)
	require.True(t, ok)

	// Вызывающий подключается к нему
	caller, err := m.CreateCall()
	require.NoError(t, err)
	callerFrames := NewFrameCollector(0)
	_, err = caller.PrepareSecureReceiver(callerFrames, format, rtp.DTLSRoleClient, calleeAddr.String())
	require.NoError(t, err)

	// Отправка через те же DTLS соединения
	_, err = caller.PrepareSender(NewFileCaptureDevice(FileCaptureConfig{Path: writePCMFile(t, 5), Interval: 2 * time.Millisecond}), "", format)
	require.NoError(t, err)
	_, err = callee.PrepareSender(NewFileCaptureDevice(FileCaptureConfig{Path: writePCMFile(t, 20), Interval: 2 * time.Millisecond}), "", format)
	require.NoError(t, err)

	require.NoError(t, callee.Start())
	require.NoError(t, caller.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, calleeFrames.WaitFrames(ctx, 5))
	require.NoError(t, callerFrames.WaitFrames(ctx, 5))

	callerSender, _ := caller.Sender(rtp.MediaTypeAudio)
	calleeReceiver, _ := callee.Receiver(rtp.MediaTypeAudio)
	assert.Equal(t, callerSender.OutputStream().SSRC(), calleeReceiver.InputStream().RemoteSSRC())
	assert.EqualValues(t, 5, calleeReceiver.InputStream().Stats().PacketsReceived)

	require.NoError(t, m.ReleaseCall(context.Background(), caller.ID()))
	require.NoError(t, m.ReleaseCall(context.Background(), callee.ID()))
}

func TestCallSession_SecureReceiverRequiresIdentity(t *testing.T) {
	m := newTestManager(t, 1)
	call, err := m.CreateCall()
	require.NoError(t, err)

	_, err = call.PrepareSecureReceiver(NewFrameCollector(0), pcmuFormat(t), rtp.DTLSRoleServer, "")
	assert.True(t, HasErrorCode(err, ErrorCodeBind))
	assert.ErrorIs(t, err, ErrNoIdentity)
}
