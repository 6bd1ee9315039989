package media

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_media/pkg/rtp"
)

func TestFileCaptureDevice_ReadsFixedFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.raw")
	require.NoError(t, os.WriteFile(path, []byte("aaaabbbbcc"), 0o644))

	device := NewFileCaptureDevice(FileCaptureConfig{Path: path, FrameSize: 4, TimestampStep: 90})
	require.NoError(t, device.Open())
	defer device.Close()

	var frames []*rtp.Buffer
	for {
		frame, err := device.ReadFrame()
		require.NoError(t, err)
		if frame == nil {
			break
		}
		frames = append(frames, frame)
	}

	require.Len(t, frames, 3)
	assert.Equal(t, []byte("aaaa"), frames[0].Data)
	assert.Equal(t, []byte("cc"), frames[2].Data, "последний неполный кадр")
	assert.Equal(t, uint32(0), frames[0].Timestamp)
	assert.Equal(t, uint32(180), frames[2].Timestamp)
}

func TestFileCaptureDevice_Loop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.raw")
	require.NoError(t, os.WriteFile(path, []byte("ab"), 0o644))

	device := NewFileCaptureDevice(FileCaptureConfig{Path: path, FrameSize: 2, Loop: true})
	require.NoError(t, device.Open())
	defer device.Close()

	for i := 0; i < 3; i++ {
		frame, err := device.ReadFrame()
		require.NoError(t, err)
		require.NotNil(t, frame)
		assert.Equal(t, []byte("ab"), frame.Data)
	}
}

func TestFileCaptureDevice_CloseInterruptsPacing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.raw")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{1}, 64), 0o644))

	device := NewFileCaptureDevice(FileCaptureConfig{Path: path, FrameSize: 8, Interval: time.Hour})
	require.NoError(t, device.Open())

	_, err := device.ReadFrame()
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := device.ReadFrame()
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, device.Close())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, rtp.ErrStreamClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrame не прерван закрытием")
	}
	assert.NoError(t, device.Close())
}

func TestFileCaptureDevice_MissingFile(t *testing.T) {
	device := NewFileCaptureDevice(FileCaptureConfig{Path: filepath.Join(t.TempDir(), "absent")})
	assert.ErrorIs(t, device.Open(), os.ErrNotExist)
}

func TestFrameCollector(t *testing.T) {
	collector := NewFrameCollector(2)
	require.NoError(t, collector.Open())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		for i := 0; i < 3; i++ {
			collector.RenderFrame(&rtp.Buffer{Data: []byte{byte(i)}, Timestamp: uint32(i)})
		}
	}()
	require.NoError(t, collector.WaitFrames(ctx, 2))

	// Дожидаемся третьего кадра: лимит вытесняет первый
	require.Eventually(t, func() bool {
		frames := collector.Frames()
		return len(frames) == 2 && frames[1].Timestamp == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, collector.Close())
	assert.ErrorIs(t, collector.RenderFrame(&rtp.Buffer{}), rtp.ErrStreamClosed)
	assert.Equal(t, 2, collector.Count())

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	assert.ErrorIs(t, collector.WaitFrames(short, 5), context.DeadlineExceeded)
}

func TestWriterRenderer(t *testing.T) {
	var out bytes.Buffer
	renderer := NewWriterRenderer(&out)
	require.NoError(t, renderer.Open())
	require.NoError(t, renderer.RenderFrame(&rtp.Buffer{Data: []byte("ab")}))
	require.NoError(t, renderer.RenderFrame(&rtp.Buffer{Data: []byte("cd")}))
	require.NoError(t, renderer.Close())
	assert.Equal(t, "abcd", out.String())
}

type countingCloser struct {
	bytes.Buffer
	closes int
}

func (c *countingCloser) Close() error {
	c.closes++
	return nil
}

func TestWriterRenderer_CloseIsIdempotent(t *testing.T) {
	w := &countingCloser{}
	renderer := NewWriterRenderer(w)
	require.NoError(t, renderer.Open())
	require.NoError(t, renderer.RenderFrame(&rtp.Buffer{Data: []byte("x")}))

	require.NoError(t, renderer.Close())
	require.NoError(t, renderer.Close())
	assert.Equal(t, 1, w.closes)

	assert.ErrorIs(t, renderer.RenderFrame(&rtp.Buffer{Data: []byte("y")}), rtp.ErrStreamClosed)
	assert.Equal(t, "x", w.String())
}
